package events

import (
	"sync"
	"time"

	"p2v/server/internal/model"

	"github.com/google/uuid"
)

// Event is one progress broadcast for a workflow.
type Event struct {
	WorkflowID string                  `json:"workflow_id"`
	Phase      model.Phase             `json:"phase"`
	Progress   *model.ProgressSnapshot `json:"progress,omitempty"`
	TS         time.Time               `json:"ts"`
}

// Hub fans workflow progress out to SSE subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan Event
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan Event{},
	}
}

func (h *Hub) Subscribe(workflowID string, buf int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subID := uuid.NewString()
	if _, ok := h.subs[workflowID]; !ok {
		h.subs[workflowID] = map[string]chan Event{}
	}
	ch := make(chan Event, buf)
	h.subs[workflowID][subID] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		wfSubs, ok := h.subs[workflowID]
		if !ok {
			return
		}
		c, ok := wfSubs[subID]
		if !ok {
			return
		}
		delete(wfSubs, subID)
		close(c)
		if len(wfSubs) == 0 {
			delete(h.subs, workflowID)
		}
	}
	return ch, unsubscribe
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.WorkflowID] {
		select {
		case ch <- evt:
		default:
			// Drop stale subscribers to keep the pipeline non-blocking.
		}
	}
}
