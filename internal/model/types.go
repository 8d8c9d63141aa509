package model

import "time"

type Phase string

const (
	PhasePromptEnhancement Phase = "prompt_enhancement"
	PhaseUserConfirmation  Phase = "user_confirmation"
	PhaseGeneration        Phase = "generation"
	PhaseCompleted         Phase = "completed"
	PhaseCancelled         Phase = "cancelled"
	PhaseFailed            Phase = "failed"
)

// IsTerminal reports whether no further phase transitions are permitted.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

type WorkflowStatus string

const (
	StatusActive    WorkflowStatus = "active"
	StatusCompleted WorkflowStatus = "completed"
	StatusCancelled WorkflowStatus = "cancelled"
	StatusFailed    WorkflowStatus = "failed"
)

// Workflow is one user-initiated run of the prompt-to-video pipeline.
// Working data (prompt, story, title, scene count) is owned by the
// orchestrator for this id and never shared across workflows.
type Workflow struct {
	ID        string         `json:"workflow_id"`
	Phase     Phase          `json:"current_phase"`
	Status    WorkflowStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	Progress *ProgressSnapshot `json:"progress,omitempty"`
	Result   *FinalResult      `json:"result,omitempty"`

	OriginalPrompt string `json:"-"`
	EnhancedStory  string `json:"-"`
	StoryTitle     string `json:"-"`
	MaxScenes      int    `json:"-"`
}

type ProgressStatus string

const (
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

type ProgressSnapshot struct {
	Status                    ProgressStatus `json:"status"`
	Percentage                float64        `json:"progress_percentage"`
	CurrentStep               string         `json:"current_step"`
	EstimatedSecondsRemaining *float64       `json:"estimated_time_remaining,omitempty"`
	Timestamp                 time.Time      `json:"timestamp"`
}

// Scene is one narrative unit of the story, bound to one generated image
// and a fixed display duration. Numbers are 1-based and sequential within
// a workflow.
type Scene struct {
	Number          int    `json:"scene_number"`
	Description     string `json:"description"`
	ImagePrompt     string `json:"prompt"`
	DurationSeconds int    `json:"duration"`
}

type StoryScript struct {
	StoryTitle       string         `json:"story_title"`
	Scenes           []Scene        `json:"scenes"`
	TotalDuration    float64        `json:"total_duration"`
	NarrationText    string         `json:"narration_text"`
	MusicDescription string         `json:"music_description"`
	Metadata         map[string]any `json:"generation_metadata"`
}

// FinalResult aggregates every artifact of a completed generation run.
// All file fields are locators resolvable through the artifact store.
type FinalResult struct {
	StoryScript            StoryScript      `json:"story_script"`
	VideoFile              string           `json:"video_file"`
	AudioFile              string           `json:"audio_file"`
	MusicFile              string           `json:"music_file"`
	ImageFiles             []string         `json:"image_files"`
	NarrationTruncated     bool             `json:"narration_truncated"`
	TotalProcessingSeconds float64          `json:"total_processing_time"`
	FileSizes              map[string]int64 `json:"file_sizes"`
}

// EnhancedPrompt is the phase-one output returned to the caller for review.
type EnhancedPrompt struct {
	OriginalPrompt    string   `json:"original_prompt"`
	EnhancedStory     string   `json:"enhanced_story"`
	StoryTitle        string   `json:"story_title"`
	EstimatedScenes   int      `json:"estimated_scenes"`
	ProcessingSeconds float64  `json:"processing_time"`
	EnhancementNotes  []string `json:"enhancement_notes"`
}

var transitions = map[Phase][]Phase{
	PhasePromptEnhancement: {PhaseUserConfirmation, PhaseFailed},
	PhaseUserConfirmation:  {PhaseGeneration, PhaseCancelled, PhaseFailed},
	PhaseGeneration:        {PhaseCompleted, PhaseFailed},
}

// CanTransition reports whether the phase change is permitted by the
// workflow state machine. Terminal phases permit nothing.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusForPhase derives the audit status coupled with a phase.
func StatusForPhase(p Phase) WorkflowStatus {
	switch p {
	case PhaseCompleted:
		return StatusCompleted
	case PhaseCancelled:
		return StatusCancelled
	case PhaseFailed:
		return StatusFailed
	default:
		return StatusActive
	}
}
