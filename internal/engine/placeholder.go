package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"p2v/server/internal/model"
	"p2v/server/internal/storage"
	"p2v/server/internal/story"

	"github.com/google/uuid"
)

// Placeholder engines stand in when an external service has no credentials
// configured. They produce deterministic content and write real bytes
// through the artifact store, so every locator in a result stays
// byte-readable regardless of environment.

type PlaceholderTextEngine struct{}

func (PlaceholderTextEngine) EnhanceStory(_ context.Context, in EnhanceInput) (EnhanceOutput, *Error) {
	title := in.Title
	if title == "" {
		title = "An Unexpected Tale"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s. ", strings.TrimRight(in.Prompt, ". "))
	fmt.Fprintf(&b, "What began as an ordinary day soon turned into something remarkable. ")
	fmt.Fprintf(&b, "Obstacles appeared and were overcome one by one, each teaching a small lesson. ")
	fmt.Fprintf(&b, "In the end everything came together, and the journey changed everyone it touched.")
	return EnhanceOutput{
		Story: b.String(),
		Title: title,
		Notes: []string{
			"Expanded the prompt into a story arc",
			"Added a beginning, middle, and end",
		},
	}, nil
}

func (PlaceholderTextEngine) SegmentScenes(_ context.Context, in SegmentInput) ([]model.Scene, *Error) {
	return story.FallbackScenes(in.Story, in.MaxScenes), nil
}

type PlaceholderImageEngine struct {
	Files *storage.Store
}

func (e PlaceholderImageEngine) SynthesizeImage(_ context.Context, in ImageInput) (string, *Error) {
	name := fmt.Sprintf("image_scene%d_%s.png", in.SceneNumber, uuid.NewString()[:8])
	content := fmt.Sprintf("placeholder image\nscene: %d\nstyle: %s\nsize: %s\nprompt: %s\n",
		in.SceneNumber, in.Style, in.Size, in.Prompt)
	locator, err := e.Files.SaveFile("images", name, []byte(content))
	if err != nil {
		return "", Terminal(KindUnknown, "IMAGE_WRITE", err.Error())
	}
	return locator, nil
}

type PlaceholderSpeechEngine struct {
	Files *storage.Store
}

func (e PlaceholderSpeechEngine) SynthesizeNarration(_ context.Context, in NarrationInput) (NarrationOutput, *Error) {
	name := fmt.Sprintf("voice_%s_%d.mp3", in.VoiceID, time.Now().Unix())
	locator, err := e.Files.SaveFile("audio", name, []byte("placeholder_audio_data"))
	if err != nil {
		return NarrationOutput{}, Terminal(KindUnknown, "AUDIO_WRITE", err.Error())
	}
	return NarrationOutput{
		Locator:          locator,
		VoiceID:          in.VoiceID,
		EstimatedSeconds: story.EstimateNarrationSeconds(in.Text),
	}, nil
}

type PlaceholderMusicEngine struct {
	Files *storage.Store
}

func (e PlaceholderMusicEngine) SynthesizeMusic(_ context.Context, in MusicInput) (string, *Error) {
	name := fmt.Sprintf("music_%d.mp3", time.Now().Unix())
	prompt := story.BuildMusicPrompt(in.Title, in.Story, in.Scenes, in.Mood, in.Style)
	content := fmt.Sprintf("placeholder music\nduration: %ds\nprompt: %s\n", in.DurationSec, prompt)
	locator, err := e.Files.SaveFile("music", name, []byte(content))
	if err != nil {
		return "", Terminal(KindUnknown, "MUSIC_WRITE", err.Error())
	}
	return locator, nil
}

// PlaceholderAssemblyEngine writes a minimal container file in place of a
// real encode. The result contract is unchanged: the locator resolves to
// readable bytes whether or not an encoder was available.
type PlaceholderAssemblyEngine struct {
	Files *storage.Store
}

func (e PlaceholderAssemblyEngine) AssembleVideo(_ context.Context, in AssemblyInput) (string, *Error) {
	name := fmt.Sprintf("video_%s_%d.mp4", in.WorkflowID, time.Now().Unix())

	videoSeconds := len(in.ImageLocators) * in.SecondsPerImage
	if videoSeconds == 0 {
		// No images survived generation; keep a single blank slide.
		videoSeconds = in.SecondsPerImage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "placeholder video for workflow %s\n", in.WorkflowID)
	fmt.Fprintf(&b, "duration: %ds (%d images x %ds)\n", videoSeconds, len(in.ImageLocators), in.SecondsPerImage)
	for _, img := range in.ImageLocators {
		fmt.Fprintf(&b, "image: %s\n", img)
	}
	fmt.Fprintf(&b, "narration: %s (trimmed to %ds)\n", in.NarrationLocator, videoSeconds)
	fmt.Fprintf(&b, "music: %s\n", in.MusicLocator)

	locator, err := e.Files.SaveFile("videos", name, []byte(b.String()))
	if err != nil {
		return "", Terminal(KindUnknown, "VIDEO_WRITE", err.Error())
	}
	return locator, nil
}
