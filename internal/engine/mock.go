package engine

import (
	"context"
	"fmt"

	"p2v/server/internal/model"
)

// Mock engines are scriptable test doubles. Each function field overrides
// the default canned response; leaving it nil keeps the engine succeeding
// deterministically without touching the filesystem.

type MockTextEngine struct {
	EnhanceFn func(ctx context.Context, in EnhanceInput) (EnhanceOutput, *Error)
	SegmentFn func(ctx context.Context, in SegmentInput) ([]model.Scene, *Error)
}

func (m *MockTextEngine) EnhanceStory(ctx context.Context, in EnhanceInput) (EnhanceOutput, *Error) {
	if m.EnhanceFn != nil {
		return m.EnhanceFn(ctx, in)
	}
	return EnhanceOutput{
		Story: "Once upon a time. " + in.Prompt + " Things happened. The end.",
		Title: "Mock Story",
	}, nil
}

func (m *MockTextEngine) SegmentScenes(ctx context.Context, in SegmentInput) ([]model.Scene, *Error) {
	if m.SegmentFn != nil {
		return m.SegmentFn(ctx, in)
	}
	scenes := make([]model.Scene, in.MaxScenes)
	for i := range scenes {
		scenes[i] = model.Scene{
			Number:          i + 1,
			Description:     fmt.Sprintf("Mock scene %d", i+1),
			ImagePrompt:     fmt.Sprintf("Scene %d: mock", i+1),
			DurationSeconds: 5,
		}
	}
	return scenes, nil
}

type MockImageEngine struct {
	SynthesizeFn func(ctx context.Context, in ImageInput) (string, *Error)
	Calls        int
}

func (m *MockImageEngine) SynthesizeImage(ctx context.Context, in ImageInput) (string, *Error) {
	m.Calls++
	if m.SynthesizeFn != nil {
		return m.SynthesizeFn(ctx, in)
	}
	return fmt.Sprintf("/files/images/mock_scene%d.png", in.SceneNumber), nil
}

type MockSpeechEngine struct {
	SynthesizeFn func(ctx context.Context, in NarrationInput) (NarrationOutput, *Error)
}

func (m *MockSpeechEngine) SynthesizeNarration(ctx context.Context, in NarrationInput) (NarrationOutput, *Error) {
	if m.SynthesizeFn != nil {
		return m.SynthesizeFn(ctx, in)
	}
	return NarrationOutput{
		Locator:          "/files/audio/mock_voice.mp3",
		VoiceID:          in.VoiceID,
		EstimatedSeconds: 12,
	}, nil
}

type MockMusicEngine struct {
	SynthesizeFn func(ctx context.Context, in MusicInput) (string, *Error)
}

func (m *MockMusicEngine) SynthesizeMusic(ctx context.Context, in MusicInput) (string, *Error) {
	if m.SynthesizeFn != nil {
		return m.SynthesizeFn(ctx, in)
	}
	return "/files/music/mock_music.mp3", nil
}

type MockAssemblyEngine struct {
	AssembleFn func(ctx context.Context, in AssemblyInput) (string, *Error)
}

func (m *MockAssemblyEngine) AssembleVideo(ctx context.Context, in AssemblyInput) (string, *Error) {
	if m.AssembleFn != nil {
		return m.AssembleFn(ctx, in)
	}
	return fmt.Sprintf("/files/videos/mock_%s.mp4", in.WorkflowID), nil
}
