package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"p2v/server/internal/engine"
	"p2v/server/internal/events"
	"p2v/server/internal/model"
	"p2v/server/internal/retry"
	"p2v/server/internal/storage"
	"p2v/server/internal/store"
	"p2v/server/internal/story"
)

var (
	ErrValidation       = errors.New("invalid request")
	ErrGenerationActive = errors.New("generation already running for workflow")
	ErrNotCompleted     = errors.New("workflow not completed")
)

const (
	minPromptChars = 10
	minScenes      = 2
	maxScenes      = 6
	defaultScenes  = 4

	initialEstimateSeconds = 300.0
)

// Options carries the generation defaults resolved from configuration.
type Options struct {
	DefaultVoiceID      string
	DefaultImageSize    string
	DefaultImageStyle   string
	DefaultMusicStyle   string
	MusicDurationSec    int
	NarrationChunkChars int
}

// Service owns workflow lifecycles: phase transitions, the generation
// pipeline, progress reporting, and the final composite result.
type Service struct {
	reg      *store.Registry
	hub      *events.Hub
	text     engine.TextEngine
	images   engine.ImageEngine
	speech   engine.SpeechEngine
	music    engine.MusicEngine
	assembly engine.AssemblyEngine
	files    *storage.Store
	log      *slog.Logger
	retry    retry.Policy
	opts     Options

	mu         sync.Mutex
	activeRuns map[string]bool
}

type Engines struct {
	Text     engine.TextEngine
	Images   engine.ImageEngine
	Speech   engine.SpeechEngine
	Music    engine.MusicEngine
	Assembly engine.AssemblyEngine
}

func NewService(reg *store.Registry, hub *events.Hub, eng Engines, files *storage.Store, logger *slog.Logger, policy retry.Policy, opts Options) *Service {
	if opts.MusicDurationSec <= 0 {
		opts.MusicDurationSec = 120
	}
	if opts.NarrationChunkChars <= 0 {
		opts.NarrationChunkChars = 2500
	}
	return &Service{
		reg:        reg,
		hub:        hub,
		text:       eng.Text,
		images:     eng.Images,
		speech:     eng.Speech,
		music:      eng.Music,
		assembly:   eng.Assembly,
		files:      files,
		log:        logger,
		retry:      policy,
		opts:       opts,
		activeRuns: map[string]bool{},
	}
}

// Create registers a new workflow in the prompt-enhancement phase.
func (s *Service) Create() model.Workflow {
	w := s.reg.Create()
	s.log.Info("workflow_created", "workflow_id", w.ID)
	return w
}

type EnhanceRequest struct {
	Prompt    string
	Title     string
	MaxScenes int
}

// Enhance runs phase one: expand the user prompt into a full story and
// move the workflow to user confirmation. Exhausted retries fail the
// workflow.
func (s *Service) Enhance(ctx context.Context, id string, req EnhanceRequest) (model.EnhancedPrompt, error) {
	if req.MaxScenes == 0 {
		req.MaxScenes = defaultScenes
	}
	if len(strings.TrimSpace(req.Prompt)) < minPromptChars {
		return model.EnhancedPrompt{}, fmt.Errorf("%w: prompt must be at least %d characters", ErrValidation, minPromptChars)
	}
	if req.MaxScenes < minScenes || req.MaxScenes > maxScenes {
		return model.EnhancedPrompt{}, fmt.Errorf("%w: max_scenes must be between %d and %d", ErrValidation, minScenes, maxScenes)
	}

	if _, err := s.reg.Update(id, func(w *model.Workflow) error {
		if w.Phase != model.PhasePromptEnhancement {
			return store.ErrInvalidPhase
		}
		w.OriginalPrompt = req.Prompt
		w.MaxScenes = req.MaxScenes
		return nil
	}); err != nil {
		return model.EnhancedPrompt{}, err
	}

	start := time.Now()
	var out engine.EnhanceOutput
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var eErr *engine.Error
		out, eErr = s.text.EnhanceStory(ctx, engine.EnhanceInput{
			Prompt:    req.Prompt,
			Title:     req.Title,
			MaxScenes: req.MaxScenes,
		})
		if eErr != nil {
			return eErr
		}
		return nil
	})
	if err != nil {
		s.log.Error("enhance_failed", "workflow_id", id, "error", err)
		s.failWorkflow(id, "Prompt enhancement failed: "+err.Error())
		return model.EnhancedPrompt{}, err
	}

	if _, err := s.reg.Update(id, func(w *model.Workflow) error {
		if !model.CanTransition(w.Phase, model.PhaseUserConfirmation) {
			return store.ErrInvalidPhase
		}
		w.EnhancedStory = out.Story
		w.StoryTitle = out.Title
		w.Phase = model.PhaseUserConfirmation
		w.Status = model.StatusForPhase(model.PhaseUserConfirmation)
		return nil
	}); err != nil {
		return model.EnhancedPrompt{}, err
	}

	s.log.Info("enhance_completed", "workflow_id", id, "title", out.Title)
	return model.EnhancedPrompt{
		OriginalPrompt:    req.Prompt,
		EnhancedStory:     out.Story,
		StoryTitle:        out.Title,
		EstimatedScenes:   req.MaxScenes,
		ProcessingSeconds: time.Since(start).Seconds(),
		EnhancementNotes:  out.Notes,
	}, nil
}

// Confirm records the user's decision. proceed=false is terminal.
func (s *Service) Confirm(id string, proceed bool) (model.Workflow, error) {
	to := model.PhaseGeneration
	if !proceed {
		to = model.PhaseCancelled
	}
	w, err := s.reg.Transition(id, to)
	if err != nil {
		return model.Workflow{}, err
	}
	s.log.Info("confirm_processed", "workflow_id", id, "proceed", proceed, "phase", w.Phase)
	return w, nil
}

// RunGeneration executes the full pipeline for a confirmed workflow.
// Exactly one run may be active per id; every exit path leaves the
// workflow in completed or failed.
func (s *Service) RunGeneration(ctx context.Context, id string) (model.FinalResult, error) {
	w, err := s.reg.Get(id)
	if err != nil {
		return model.FinalResult{}, err
	}
	if w.Phase != model.PhaseGeneration {
		return model.FinalResult{}, store.ErrInvalidPhase
	}
	if strings.TrimSpace(w.EnhancedStory) == "" {
		return model.FinalResult{}, fmt.Errorf("%w: no enhanced story available for generation", ErrValidation)
	}

	s.mu.Lock()
	if s.activeRuns[id] {
		s.mu.Unlock()
		return model.FinalResult{}, ErrGenerationActive
	}
	s.activeRuns[id] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.activeRuns, id)
		s.mu.Unlock()
	}()

	result, runErr := s.runPipeline(ctx, w)
	if runErr != nil {
		s.log.Error("generation_failed", "workflow_id", id, "error", runErr)
		s.failWorkflow(id, "Error: "+runErr.Error())
		return model.FinalResult{}, runErr
	}
	return result, nil
}

func (s *Service) runPipeline(ctx context.Context, w model.Workflow) (model.FinalResult, error) {
	start := time.Now()
	id := w.ID

	s.setProgress(id, 0, "Starting generation", start)

	// Scene breakdown.
	s.setProgress(id, 10, "Breaking story into scenes", start)
	scenes, err := s.breakdownScenes(ctx, w)
	if err != nil {
		return model.FinalResult{}, err
	}
	s.saveSceneScript(w, scenes)

	// Per-scene images; individual failures are tolerated and skipped.
	s.setProgress(id, 30, "Generating images for scenes", start)
	imageFiles := s.generateImages(ctx, id, scenes, start)

	// Narration over the full story, first chunk only beyond the limit.
	s.setProgress(id, 70, "Generating voice narration", start)
	narration, truncated, err := s.generateNarration(ctx, w)
	if err != nil {
		return model.FinalResult{}, err
	}

	// Background music.
	s.setProgress(id, 85, "Generating background music", start)
	mood := story.ClassifyMood(w.EnhancedStory, w.StoryTitle)
	musicFile, err := s.generateMusic(ctx, w, scenes, mood)
	if err != nil {
		return model.FinalResult{}, err
	}

	// Final assembly.
	s.setProgress(id, 95, "Assembling final video", start)
	videoFile, err := s.assembleVideo(ctx, id, imageFiles, narration.Locator, musicFile)
	if err != nil {
		return model.FinalResult{}, err
	}

	s.setProgress(id, 100, "Generation completed", start)

	result := model.FinalResult{
		StoryScript: model.StoryScript{
			StoryTitle:       w.StoryTitle,
			Scenes:           scenes,
			TotalDuration:    float64(len(scenes) * story.DefaultSceneDuration),
			NarrationText:    w.EnhancedStory,
			MusicDescription: fmt.Sprintf("%s background music, %ds duration", s.opts.DefaultMusicStyle, s.opts.MusicDurationSec),
			Metadata: map[string]any{
				"workflow_id":  id,
				"total_scenes": len(scenes),
				"image_style":  s.opts.DefaultImageStyle,
				"voice_id":     narration.VoiceID,
				"music_style":  s.opts.DefaultMusicStyle,
				"music_mood":   mood,
			},
		},
		VideoFile:              videoFile,
		AudioFile:              narration.Locator,
		MusicFile:              musicFile,
		ImageFiles:             imageFiles,
		NarrationTruncated:     truncated,
		TotalProcessingSeconds: time.Since(start).Seconds(),
		FileSizes: map[string]int64{
			"video": s.files.Size(videoFile),
			"audio": s.files.Size(narration.Locator),
			"music": s.files.Size(musicFile),
		},
	}

	if _, err := s.reg.Update(id, func(w *model.Workflow) error {
		if !model.CanTransition(w.Phase, model.PhaseCompleted) {
			return store.ErrInvalidPhase
		}
		w.Phase = model.PhaseCompleted
		w.Status = model.StatusCompleted
		w.Result = &result
		if w.Progress != nil {
			// Replace rather than mutate: the old snapshot pointer is already
			// shared with registry readers and SSE subscribers.
			p := *w.Progress
			p.Status = model.ProgressCompleted
			w.Progress = &p
		}
		return nil
	}); err != nil {
		return model.FinalResult{}, err
	}

	s.publish(id)
	s.log.Info("generation_completed",
		"workflow_id", id,
		"scenes", len(scenes),
		"images", len(imageFiles),
		"elapsed_sec", time.Since(start).Seconds(),
	)
	return result, nil
}

func (s *Service) breakdownScenes(ctx context.Context, w model.Workflow) ([]model.Scene, error) {
	var scenes []model.Scene
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var eErr *engine.Error
		scenes, eErr = s.text.SegmentScenes(ctx, engine.SegmentInput{
			Story:     w.EnhancedStory,
			Title:     w.StoryTitle,
			MaxScenes: w.MaxScenes,
		})
		if eErr != nil {
			return eErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(scenes) < w.MaxScenes {
		s.log.Warn("scene_shortfall", "workflow_id", w.ID, "got", len(scenes), "requested", w.MaxScenes)
		scenes = story.PadScenes(scenes, w.MaxScenes)
	}
	return scenes, nil
}

func (s *Service) saveSceneScript(w model.Workflow, scenes []model.Scene) {
	title := sanitizeFilename(w.StoryTitle)
	if title == "" {
		title = "untitled"
	}
	name := fmt.Sprintf("scenes_%d_%s.json", time.Now().Unix(), title)
	if _, err := s.files.SaveJSON("scenes", name, map[string]any{
		"story_title":  w.StoryTitle,
		"scenes":       scenes,
		"total_scenes": len(scenes),
	}); err != nil {
		s.log.Warn("scene_script_save_failed", "workflow_id", w.ID, "error", err)
	}
}

func (s *Service) generateImages(ctx context.Context, id string, scenes []model.Scene, start time.Time) []string {
	imageFiles := make([]string, 0, len(scenes))
	for _, scene := range scenes {
		var locator string
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var eErr *engine.Error
			locator, eErr = s.images.SynthesizeImage(ctx, engine.ImageInput{
				Prompt:      scene.ImagePrompt,
				SceneNumber: scene.Number,
				Size:        s.opts.DefaultImageSize,
				Style:       s.opts.DefaultImageStyle,
			})
			if eErr != nil {
				return eErr
			}
			return nil
		})
		if err != nil {
			// Partial-failure policy: one bad scene never aborts the run.
			s.log.Warn("image_generation_skipped", "workflow_id", id, "scene", scene.Number, "error", err)
			continue
		}
		imageFiles = append(imageFiles, locator)
		pct := 30 + float64(scene.Number)/float64(len(scenes))*30
		s.setProgress(id, pct, fmt.Sprintf("Generating images for scenes (%d/%d)", scene.Number, len(scenes)), start)
	}
	return imageFiles
}

func (s *Service) generateNarration(ctx context.Context, w model.Workflow) (engine.NarrationOutput, bool, error) {
	chunks := story.SplitChunks(w.EnhancedStory, s.opts.NarrationChunkChars)
	truncated := len(chunks) > 1
	if truncated {
		s.log.Warn("narration_truncated", "workflow_id", w.ID, "chunks", len(chunks))
	}

	var out engine.NarrationOutput
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var eErr *engine.Error
		out, eErr = s.speech.SynthesizeNarration(ctx, engine.NarrationInput{
			Text:    story.OptimizeForSpeech(chunks[0]),
			VoiceID: s.opts.DefaultVoiceID,
		})
		if eErr != nil {
			return eErr
		}
		return nil
	})
	if err != nil {
		return engine.NarrationOutput{}, false, err
	}
	return out, truncated, nil
}

func (s *Service) generateMusic(ctx context.Context, w model.Workflow, scenes []model.Scene, mood string) (string, error) {
	var locator string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var eErr *engine.Error
		locator, eErr = s.music.SynthesizeMusic(ctx, engine.MusicInput{
			Title:       w.StoryTitle,
			Story:       w.EnhancedStory,
			Scenes:      scenes,
			Mood:        mood,
			DurationSec: s.opts.MusicDurationSec,
			Style:       s.opts.DefaultMusicStyle,
		})
		if eErr != nil {
			return eErr
		}
		return nil
	})
	return locator, err
}

func (s *Service) assembleVideo(ctx context.Context, id string, imageFiles []string, narration, music string) (string, error) {
	var locator string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var eErr *engine.Error
		locator, eErr = s.assembly.AssembleVideo(ctx, engine.AssemblyInput{
			WorkflowID:       id,
			ImageLocators:    imageFiles,
			NarrationLocator: narration,
			MusicLocator:     music,
			SecondsPerImage:  story.DefaultSceneDuration,
		})
		if eErr != nil {
			return eErr
		}
		return nil
	})
	return locator, err
}

// setProgress writes a checkpoint to the workflow's snapshot. Percentage
// never regresses within a run; a checkpoint below the recorded percentage
// is dropped whole, so the step label always matches the percentage.
func (s *Service) setProgress(id string, pct float64, step string, start time.Time) {
	stale := false
	_, err := s.reg.Update(id, func(w *model.Workflow) error {
		if w.Progress != nil && w.Progress.Percentage > pct {
			stale = true
			return nil
		}
		remaining := estimateRemaining(pct, time.Since(start))
		w.Progress = &model.ProgressSnapshot{
			Status:                    model.ProgressProcessing,
			Percentage:                pct,
			CurrentStep:               step,
			EstimatedSecondsRemaining: &remaining,
			Timestamp:                 time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		s.log.Warn("progress_update_failed", "workflow_id", id, "error", err)
		return
	}
	if stale {
		return
	}
	s.publish(id)
}

// sanitizeFilename reduces a story title to a safe flat filename fragment.
func sanitizeFilename(title string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, title)
	return strings.Trim(out, "_")
}

func estimateRemaining(pct float64, elapsed time.Duration) float64 {
	if pct <= 0 {
		return initialEstimateSeconds
	}
	return elapsed.Seconds() / pct * (100 - pct)
}

// failWorkflow moves a workflow to the failed terminal phase, keeping the
// last progress percentage for diagnostics.
func (s *Service) failWorkflow(id, step string) {
	if _, err := s.reg.Update(id, func(w *model.Workflow) error {
		if !model.CanTransition(w.Phase, model.PhaseFailed) {
			return store.ErrInvalidPhase
		}
		w.Phase = model.PhaseFailed
		w.Status = model.StatusFailed
		pct := 0.0
		if w.Progress != nil {
			pct = w.Progress.Percentage
		}
		w.Progress = &model.ProgressSnapshot{
			Status:      model.ProgressFailed,
			Percentage:  pct,
			CurrentStep: step,
			Timestamp:   time.Now().UTC(),
		}
		return nil
	}); err != nil {
		s.log.Error("fail_transition_rejected", "workflow_id", id, "error", err)
		return
	}
	s.publish(id)
}

func (s *Service) publish(id string) {
	w, err := s.reg.Get(id)
	if err != nil {
		return
	}
	s.hub.Publish(events.Event{
		WorkflowID: id,
		Phase:      w.Phase,
		Progress:   w.Progress,
		TS:         time.Now().UTC(),
	})
}

func (s *Service) Status(id string) (model.Workflow, error) {
	return s.reg.Get(id)
}

// Progress returns the generation snapshot. Outside the generation phase
// the snapshot may be absent.
func (s *Service) Progress(id string) (model.Workflow, *model.ProgressSnapshot, error) {
	w, err := s.reg.Get(id)
	if err != nil {
		return model.Workflow{}, nil, err
	}
	return w, w.Progress, nil
}

func (s *Service) Result(id string) (model.FinalResult, error) {
	w, err := s.reg.Get(id)
	if err != nil {
		return model.FinalResult{}, err
	}
	if w.Phase != model.PhaseCompleted || w.Result == nil {
		return model.FinalResult{}, ErrNotCompleted
	}
	return *w.Result, nil
}

func (s *Service) List() []model.Workflow {
	return s.reg.List()
}

// Cleanup removes a workflow; unknown ids are a no-op.
func (s *Service) Cleanup(id string) {
	s.reg.Remove(id)
	s.log.Info("workflow_cleaned_up", "workflow_id", id)
}

// ActiveCount reports live registry entries, for health reporting.
func (s *Service) ActiveCount() int {
	return len(s.reg.List())
}
