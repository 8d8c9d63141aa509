package store

import (
	"errors"
	"sync"
	"time"

	"p2v/server/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("workflow not found")
	ErrInvalidPhase = errors.New("invalid workflow phase")
)

// Registry is the in-memory map of live workflows. Contents do not
// survive a process restart; cleanup is explicit, never timed.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*model.Workflow
}

func NewRegistry() *Registry {
	return &Registry{
		workflows: map[string]*model.Workflow{},
	}
}

// Create registers a fresh workflow in the initial phase and returns a
// copy of the record. Ids are uuids and never reused.
func (r *Registry) Create() model.Workflow {
	now := time.Now().UTC()
	w := &model.Workflow{
		ID:        uuid.NewString(),
		Phase:     model.PhasePromptEnhancement,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.workflows[w.ID] = w
	r.mu.Unlock()
	return *w
}

func (r *Registry) Get(id string) (model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[id]
	if !ok {
		return model.Workflow{}, ErrNotFound
	}
	return *w, nil
}

func (r *Registry) List() []model.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		out = append(out, *w)
	}
	return out
}

// Remove deletes a workflow. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.workflows, id)
	r.mu.Unlock()
}

// Update mutates a workflow under the registry lock, giving the
// single-writer-per-id discipline long-running generation relies on.
// UpdatedAt is refreshed whenever fn succeeds.
func (r *Registry) Update(id string, fn func(*model.Workflow) error) (model.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return model.Workflow{}, ErrNotFound
	}
	if err := fn(w); err != nil {
		return model.Workflow{}, err
	}
	w.UpdatedAt = time.Now().UTC()
	return *w, nil
}

// Transition moves a workflow to the next phase, enforcing the state
// machine. The phase's coupled status is applied as well.
func (r *Registry) Transition(id string, to model.Phase) (model.Workflow, error) {
	return r.Update(id, func(w *model.Workflow) error {
		if !model.CanTransition(w.Phase, to) {
			return ErrInvalidPhase
		}
		w.Phase = to
		w.Status = model.StatusForPhase(to)
		return nil
	})
}
