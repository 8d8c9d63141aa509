// Package engine defines the adapter contracts around the external
// generative services. Adapters report failure as a classified value so
// the orchestrator can branch on kind instead of matching messages.
package engine

import (
	"context"

	"p2v/server/internal/model"
)

type ErrorKind string

const (
	KindTransient      ErrorKind = "transient"
	KindAuthentication ErrorKind = "authentication"
	KindContentPolicy  ErrorKind = "content_policy"
	KindUnknown        ErrorKind = "unknown"
)

type Error struct {
	Kind            ErrorKind
	Code            string
	Retryable       bool
	UserMessage     string
	InternalMessage string
}

func (e *Error) Error() string {
	if e.InternalMessage != "" {
		return e.Code + ": " + e.InternalMessage
	}
	return e.Code
}

// IsRetryable satisfies the retry policy's eligibility check.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// Transient builds a retryable error.
func Transient(code, msg string) *Error {
	return &Error{Kind: KindTransient, Code: code, Retryable: true, UserMessage: "Service temporarily unavailable", InternalMessage: msg}
}

// Terminal builds a non-retryable error of the given kind.
func Terminal(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Retryable: false, UserMessage: "Generation failed", InternalMessage: msg}
}

type EnhanceInput struct {
	Prompt    string
	Title     string
	MaxScenes int
}

type EnhanceOutput struct {
	Story string
	Title string
	Notes []string
}

type SegmentInput struct {
	Story     string
	Title     string
	MaxScenes int
}

type ImageInput struct {
	Prompt      string
	SceneNumber int
	Size        string
	Style       string
}

type NarrationInput struct {
	Text    string
	VoiceID string
}

type NarrationOutput struct {
	Locator          string
	VoiceID          string
	EstimatedSeconds float64
}

type MusicInput struct {
	Title       string
	Story       string
	Scenes      []model.Scene
	Mood        string
	DurationSec int
	Style       string
}

type AssemblyInput struct {
	WorkflowID       string
	ImageLocators    []string
	NarrationLocator string
	MusicLocator     string
	SecondsPerImage  int
}

// TextEngine covers the two language-model operations of the pipeline.
type TextEngine interface {
	EnhanceStory(ctx context.Context, in EnhanceInput) (EnhanceOutput, *Error)
	// SegmentScenes must tolerate free-text model output; parse failures
	// degrade to a deterministic fallback segmentation, never an error.
	SegmentScenes(ctx context.Context, in SegmentInput) ([]model.Scene, *Error)
}

type ImageEngine interface {
	SynthesizeImage(ctx context.Context, in ImageInput) (string, *Error)
}

type SpeechEngine interface {
	SynthesizeNarration(ctx context.Context, in NarrationInput) (NarrationOutput, *Error)
}

type MusicEngine interface {
	SynthesizeMusic(ctx context.Context, in MusicInput) (string, *Error)
}

type AssemblyEngine interface {
	AssembleVideo(ctx context.Context, in AssemblyInput) (string, *Error)
}
