package workflow_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"p2v/server/internal/engine"
	"p2v/server/internal/events"
	"p2v/server/internal/model"
	"p2v/server/internal/retry"
	"p2v/server/internal/storage"
	"p2v/server/internal/store"
	"p2v/server/internal/workflow"
)

func newTestService(t *testing.T, eng workflow.Engines) (*workflow.Service, *events.Hub) {
	t.Helper()
	files, err := storage.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if eng.Text == nil {
		eng.Text = &engine.MockTextEngine{}
	}
	if eng.Images == nil {
		eng.Images = &engine.MockImageEngine{}
	}
	if eng.Speech == nil {
		eng.Speech = &engine.MockSpeechEngine{}
	}
	if eng.Music == nil {
		eng.Music = &engine.MockMusicEngine{}
	}
	if eng.Assembly == nil {
		eng.Assembly = &engine.MockAssemblyEngine{}
	}
	hub := events.NewHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
	svc := workflow.NewService(store.NewRegistry(), hub, eng, files, logger, policy, workflow.Options{
		DefaultVoiceID:    "test-voice",
		DefaultImageSize:  "1024x1024",
		DefaultImageStyle: "realistic",
		DefaultMusicStyle: "orchestral",
	})
	return svc, hub
}

func runToConfirmation(t *testing.T, svc *workflow.Service, maxScenes int) string {
	t.Helper()
	w := svc.Create()
	_, err := svc.Enhance(context.Background(), w.ID, workflow.EnhanceRequest{
		Prompt:    "a brave robot explores an abandoned city",
		MaxScenes: maxScenes,
	})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	return w.ID
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		w := svc.Create()
		if seen[w.ID] {
			t.Fatalf("duplicate workflow id %q", w.ID)
		}
		seen[w.ID] = true
		if w.Phase != model.PhasePromptEnhancement {
			t.Fatalf("new workflow phase = %q, want %q", w.Phase, model.PhasePromptEnhancement)
		}
	}
}

func TestEnhanceValidation(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	w := svc.Create()

	_, err := svc.Enhance(context.Background(), w.ID, workflow.EnhanceRequest{Prompt: "too short"})
	if !strings.Contains(err.Error(), "at least") {
		t.Fatalf("short prompt error = %v", err)
	}

	_, err = svc.Enhance(context.Background(), w.ID, workflow.EnhanceRequest{
		Prompt:    "a perfectly reasonable prompt",
		MaxScenes: 7,
	})
	if err == nil {
		t.Fatal("max_scenes=7 accepted, want validation error")
	}

	// Validation failures must not advance the phase.
	got, _ := svc.Status(w.ID)
	if got.Phase != model.PhasePromptEnhancement {
		t.Fatalf("phase after validation failure = %q", got.Phase)
	}
}

func TestEnhanceMovesToConfirmation(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	id := runToConfirmation(t, svc, 3)

	w, err := svc.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if w.Phase != model.PhaseUserConfirmation {
		t.Fatalf("phase = %q, want %q", w.Phase, model.PhaseUserConfirmation)
	}
	if w.Status != model.StatusActive {
		t.Fatalf("status = %q, want active", w.Status)
	}
}

func TestEnhanceTerminalErrorFailsWorkflow(t *testing.T) {
	text := &engine.MockTextEngine{
		EnhanceFn: func(context.Context, engine.EnhanceInput) (engine.EnhanceOutput, *engine.Error) {
			return engine.EnhanceOutput{}, engine.Terminal(engine.KindContentPolicy, "BLOCKED", "safety filter")
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Text: text})
	w := svc.Create()

	_, err := svc.Enhance(context.Background(), w.ID, workflow.EnhanceRequest{
		Prompt: "a story the upstream model refuses to write",
	})
	if err == nil {
		t.Fatal("Enhance succeeded, want error")
	}

	got, _ := svc.Status(w.ID)
	if got.Phase != model.PhaseFailed {
		t.Fatalf("phase = %q, want failed", got.Phase)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestEnhanceRetriesTransientErrors(t *testing.T) {
	calls := 0
	text := &engine.MockTextEngine{
		EnhanceFn: func(_ context.Context, in engine.EnhanceInput) (engine.EnhanceOutput, *engine.Error) {
			calls++
			if calls == 1 {
				return engine.EnhanceOutput{}, engine.Transient("RATE_LIMITED", "429")
			}
			return engine.EnhanceOutput{Story: "recovered story with enough text", Title: "Recovered"}, nil
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Text: text})
	w := svc.Create()

	out, err := svc.Enhance(context.Background(), w.ID, workflow.EnhanceRequest{
		Prompt: "a prompt that succeeds on the second try",
	})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if calls != 2 {
		t.Fatalf("engine calls = %d, want 2", calls)
	}
	if out.StoryTitle != "Recovered" {
		t.Fatalf("title = %q", out.StoryTitle)
	}
}

func TestConfirmDeclineCancels(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	id := runToConfirmation(t, svc, 3)

	w, err := svc.Confirm(id, false)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if w.Phase != model.PhaseCancelled || w.Status != model.StatusCancelled {
		t.Fatalf("decline left phase=%q status=%q", w.Phase, w.Status)
	}

	// Terminal phases reject everything afterwards.
	if _, err := svc.Confirm(id, true); err != store.ErrInvalidPhase {
		t.Fatalf("confirm after cancel = %v, want ErrInvalidPhase", err)
	}
	if _, err := svc.RunGeneration(context.Background(), id); err != store.ErrInvalidPhase {
		t.Fatalf("generate after cancel = %v, want ErrInvalidPhase", err)
	}
}

func TestGenerateRequiresGenerationPhase(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	w := svc.Create()

	if _, err := svc.RunGeneration(context.Background(), w.ID); err != store.ErrInvalidPhase {
		t.Fatalf("generate in prompt_enhancement = %v, want ErrInvalidPhase", err)
	}

	id := runToConfirmation(t, svc, 3)
	if _, err := svc.RunGeneration(context.Background(), id); err != store.ErrInvalidPhase {
		t.Fatalf("generate before confirm = %v, want ErrInvalidPhase", err)
	}
}

func TestPipelineCompletes(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	id := runToConfirmation(t, svc, 4)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := svc.RunGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}
	if len(result.StoryScript.Scenes) != 4 {
		t.Fatalf("scenes = %d, want 4", len(result.StoryScript.Scenes))
	}
	if result.VideoFile == "" || result.AudioFile == "" || result.MusicFile == "" {
		t.Fatalf("missing artifact locators: %+v", result)
	}
	if len(result.ImageFiles) != 4 {
		t.Fatalf("images = %d, want 4", len(result.ImageFiles))
	}
	if result.StoryScript.TotalDuration != 20 {
		t.Fatalf("total duration = %v, want 20", result.StoryScript.TotalDuration)
	}

	w, _ := svc.Status(id)
	if w.Phase != model.PhaseCompleted {
		t.Fatalf("phase = %q, want completed", w.Phase)
	}
	if w.Progress == nil || w.Progress.Percentage != 100 || w.Progress.Status != model.ProgressCompleted {
		t.Fatalf("final progress = %+v", w.Progress)
	}

	got, err := svc.Result(id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got.VideoFile != result.VideoFile {
		t.Fatalf("stored result video = %q, want %q", got.VideoFile, result.VideoFile)
	}
}

func TestImageFailureSkipsScene(t *testing.T) {
	images := &engine.MockImageEngine{
		SynthesizeFn: func(_ context.Context, in engine.ImageInput) (string, *engine.Error) {
			if in.SceneNumber == 2 {
				return "", engine.Terminal(engine.KindContentPolicy, "IMAGE_BLOCKED", "scene 2 rejected")
			}
			return fmt.Sprintf("/files/images/scene%d.png", in.SceneNumber), nil
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Images: images})
	id := runToConfirmation(t, svc, 3)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := svc.RunGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}
	if len(result.ImageFiles) != 2 {
		t.Fatalf("images = %d, want 2 after one scene failure", len(result.ImageFiles))
	}
	// Surviving images keep scene order.
	if result.ImageFiles[0] != "/files/images/scene1.png" || result.ImageFiles[1] != "/files/images/scene3.png" {
		t.Fatalf("image order = %v", result.ImageFiles)
	}
	w, _ := svc.Status(id)
	if w.Phase != model.PhaseCompleted {
		t.Fatalf("phase = %q, want completed despite scene failure", w.Phase)
	}
}

func TestMusicFailureFailsRun(t *testing.T) {
	music := &engine.MockMusicEngine{
		SynthesizeFn: func(context.Context, engine.MusicInput) (string, *engine.Error) {
			return "", engine.Terminal(engine.KindAuthentication, "BAD_KEY", "invalid api key")
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Music: music})
	id := runToConfirmation(t, svc, 2)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if _, err := svc.RunGeneration(context.Background(), id); err == nil {
		t.Fatal("RunGeneration succeeded, want failure")
	}

	w, _ := svc.Status(id)
	if w.Phase != model.PhaseFailed {
		t.Fatalf("phase = %q, want failed", w.Phase)
	}
	if w.Progress == nil || w.Progress.Status != model.ProgressFailed {
		t.Fatalf("progress after failure = %+v", w.Progress)
	}
	if _, err := svc.Result(id); err != workflow.ErrNotCompleted {
		t.Fatalf("Result on failed workflow = %v, want ErrNotCompleted", err)
	}
}

func TestScenePadding(t *testing.T) {
	text := &engine.MockTextEngine{
		SegmentFn: func(context.Context, engine.SegmentInput) ([]model.Scene, *engine.Error) {
			return []model.Scene{
				{Number: 1, Description: "Only scene", ImagePrompt: "Scene 1", DurationSeconds: 5},
			}, nil
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Text: text})
	id := runToConfirmation(t, svc, 5)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := svc.RunGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}
	scenes := result.StoryScript.Scenes
	if len(scenes) != 5 {
		t.Fatalf("scenes = %d, want padded to 5", len(scenes))
	}
	for i, sc := range scenes {
		if sc.Number != i+1 {
			t.Fatalf("scene %d numbered %d", i, sc.Number)
		}
	}
	if !strings.Contains(scenes[4].Description, "Additional scene") {
		t.Fatalf("padded scene description = %q", scenes[4].Description)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	svc, hub := newTestService(t, workflow.Engines{})
	id := runToConfirmation(t, svc, 4)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	ch, cancel := hub.Subscribe(id, 128)
	defer cancel()

	if _, err := svc.RunGeneration(context.Background(), id); err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}

	last := -1.0
	count := 0
	for {
		select {
		case evt := <-ch:
			count++
			if evt.Progress == nil {
				t.Fatalf("event without progress: %+v", evt)
			}
			if evt.Progress.Percentage < last {
				t.Fatalf("progress regressed from %v to %v", last, evt.Progress.Percentage)
			}
			last = evt.Progress.Percentage
		default:
			if count == 0 {
				t.Fatal("no progress events published")
			}
			if last != 100 {
				t.Fatalf("final published percentage = %v, want 100", last)
			}
			return
		}
	}
}

func TestCompletionPreservesPublishedSnapshots(t *testing.T) {
	svc, hub := newTestService(t, workflow.Engines{})
	id := runToConfirmation(t, svc, 3)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	ch, cancel := hub.Subscribe(id, 128)
	defer cancel()

	if _, err := svc.RunGeneration(context.Background(), id); err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}

	// The 100% checkpoint was published while still processing. Completion
	// must replace the registry's snapshot, not rewrite the one already
	// handed to subscribers.
	found := false
	for len(ch) > 0 {
		evt := <-ch
		if evt.Progress == nil {
			continue
		}
		if evt.Progress.CurrentStep == "Generation completed" && evt.Progress.Percentage == 100 {
			found = true
			if evt.Progress.Status != model.ProgressProcessing {
				t.Fatalf("published checkpoint status = %q, want processing", evt.Progress.Status)
			}
		}
	}
	if !found {
		t.Fatal("no 100%% checkpoint event observed")
	}

	w, _ := svc.Status(id)
	if w.Progress == nil || w.Progress.Status != model.ProgressCompleted {
		t.Fatalf("registry snapshot after completion = %+v", w.Progress)
	}
}

func TestProgressReadersDuringCompletion(t *testing.T) {
	svc, hub := newTestService(t, workflow.Engines{})
	id := runToConfirmation(t, svc, 4)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	ch, cancel := hub.Subscribe(id, 128)
	defer cancel()

	// Read snapshot fields concurrently with the completing run; the race
	// detector flags any in-place snapshot mutation.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			if evt.Progress != nil {
				_ = evt.Progress.Status
				_ = evt.Progress.CurrentStep
			}
			if evt.Phase.IsTerminal() {
				return
			}
		}
	}()

	if _, err := svc.RunGeneration(context.Background(), id); err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never saw a terminal event")
	}
}

func TestSceneScriptSavedWithHostileTitle(t *testing.T) {
	root := t.TempDir()
	files, err := storage.NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	text := &engine.MockTextEngine{
		EnhanceFn: func(context.Context, engine.EnhanceInput) (engine.EnhanceOutput, *engine.Error) {
			return engine.EnhanceOutput{
				Story: "A tale told in full. With more than one sentence.",
				Title: "Tales/of: the ../Sea",
			}, nil
		},
	}
	hub := events.NewHub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := workflow.NewService(store.NewRegistry(), hub, workflow.Engines{
		Text:     text,
		Images:   &engine.MockImageEngine{},
		Speech:   &engine.MockSpeechEngine{},
		Music:    &engine.MockMusicEngine{},
		Assembly: &engine.MockAssemblyEngine{},
	}, files, logger, retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}, workflow.Options{})

	w := svc.Create()
	if _, err := svc.Enhance(context.Background(), w.ID, workflow.EnhanceRequest{
		Prompt: "a story with a path-hostile title",
	}); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if _, err := svc.Confirm(w.ID, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := svc.RunGeneration(context.Background(), w.ID); err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "scenes"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("scene scripts saved = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if strings.ContainsAny(name, "/:") || strings.Contains(name, "..") {
		t.Fatalf("unsafe script filename %q", name)
	}
}

func TestNarrationTruncation(t *testing.T) {
	long := strings.Repeat("This sentence pads the story toward the narration limit. ", 80)
	text := &engine.MockTextEngine{
		EnhanceFn: func(context.Context, engine.EnhanceInput) (engine.EnhanceOutput, *engine.Error) {
			return engine.EnhanceOutput{Story: long, Title: "Long Story"}, nil
		},
	}
	var spoken string
	speech := &engine.MockSpeechEngine{
		SynthesizeFn: func(_ context.Context, in engine.NarrationInput) (engine.NarrationOutput, *engine.Error) {
			spoken = in.Text
			return engine.NarrationOutput{Locator: "/files/audio/long.mp3", VoiceID: in.VoiceID}, nil
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Text: text, Speech: speech})
	id := runToConfirmation(t, svc, 2)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	result, err := svc.RunGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("RunGeneration: %v", err)
	}
	if !result.NarrationTruncated {
		t.Fatal("NarrationTruncated = false for story beyond the chunk limit")
	}
	if len(spoken) > 2600 {
		t.Fatalf("synthesized text length = %d, want first chunk only", len(spoken))
	}
}

func TestConcurrentGenerationRejected(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	images := &engine.MockImageEngine{
		SynthesizeFn: func(_ context.Context, in engine.ImageInput) (string, *engine.Error) {
			if in.SceneNumber == 1 {
				close(started)
				<-block
			}
			return "/files/images/slow.png", nil
		},
	}
	svc, _ := newTestService(t, workflow.Engines{Images: images})
	id := runToConfirmation(t, svc, 2)
	if _, err := svc.Confirm(id, true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunGeneration(context.Background(), id)
		done <- err
	}()

	<-started
	if _, err := svc.RunGeneration(context.Background(), id); err != workflow.ErrGenerationActive {
		close(block)
		t.Fatalf("second run = %v, want ErrGenerationActive", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestCleanupRemovesWorkflow(t *testing.T) {
	svc, _ := newTestService(t, workflow.Engines{})
	w := svc.Create()
	svc.Cleanup(w.ID)
	if _, err := svc.Status(w.ID); err != store.ErrNotFound {
		t.Fatalf("Status after cleanup = %v, want ErrNotFound", err)
	}
	// Unknown ids are a no-op.
	svc.Cleanup("nonexistent")
}
