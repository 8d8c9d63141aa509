package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"p2v/server/internal/engine"
	"p2v/server/internal/events"
	"p2v/server/internal/model"
	"p2v/server/internal/store"
	"p2v/server/internal/workflow"

	"github.com/gin-gonic/gin"
)

func (s *Server) createWorkflow(c *gin.Context) {
	w := s.workflows.Create()
	writeData(c, http.StatusOK, gin.H{
		"workflow_id":   w.ID,
		"current_phase": w.Phase,
		"status":        w.Status,
		"next_step":     "enhance",
		"created_at":    w.CreatedAt,
	})
}

type enhanceRequest struct {
	UserPrompt string `json:"user_prompt" binding:"required"`
	Title      string `json:"title"`
	MaxScenes  int    `json:"max_scenes" binding:"omitempty,gte=2,lte=6"`
}

func (s *Server) enhancePrompt(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req enhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid enhance request", false, map[string]any{"reason": err.Error()})
		return
	}
	out, err := s.workflows.Enhance(c.Request.Context(), c.Param("workflow_id"), workflow.EnhanceRequest{
		Prompt:    req.UserPrompt,
		Title:     req.Title,
		MaxScenes: req.MaxScenes,
	})
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusBadRequest)
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"enhanced_prompt": out,
		"next_step":       "confirm",
	})
}

type confirmRequest struct {
	Proceed *bool `json:"proceed" binding:"required"`
}

func (s *Server) confirmWorkflow(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "proceed is required", false, nil)
		return
	}
	w, err := s.workflows.Confirm(c.Param("workflow_id"), *req.Proceed)
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusConflict)
		return
	}
	next := "generate"
	if w.Phase == model.PhaseCancelled {
		next = "none"
	}
	writeData(c, http.StatusOK, gin.H{
		"workflow_id":   w.ID,
		"current_phase": w.Phase,
		"status":        w.Status,
		"next_step":     next,
	})
}

func (s *Server) generateVideo(c *gin.Context) {
	result, err := s.workflows.RunGeneration(c.Request.Context(), c.Param("workflow_id"))
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusBadRequest)
		return
	}
	writeData(c, http.StatusOK, result)
}

func (s *Server) getStatus(c *gin.Context) {
	w, err := s.workflows.Status(c.Param("workflow_id"))
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusBadRequest)
		return
	}
	writeData(c, http.StatusOK, w)
}

func (s *Server) getProgress(c *gin.Context) {
	w, snapshot, err := s.workflows.Progress(c.Param("workflow_id"))
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusBadRequest)
		return
	}
	if snapshot == nil {
		writeData(c, http.StatusOK, gin.H{
			"workflow_id":   w.ID,
			"current_phase": w.Phase,
			"status":        w.Status,
			"message":       "No generation in progress",
		})
		return
	}
	writeData(c, http.StatusOK, gin.H{
		"workflow_id":   w.ID,
		"current_phase": w.Phase,
		"progress":      snapshot,
	})
}

func (s *Server) getResult(c *gin.Context) {
	result, err := s.workflows.Result(c.Param("workflow_id"))
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusBadRequest)
		return
	}
	writeData(c, http.StatusOK, result)
}

func (s *Server) listWorkflows(c *gin.Context) {
	list := s.workflows.List()
	writeData(c, http.StatusOK, gin.H{
		"total":     len(list),
		"workflows": list,
	})
}

func (s *Server) cleanupWorkflow(c *gin.Context) {
	id := c.Param("workflow_id")
	s.workflows.Cleanup(id)
	writeData(c, http.StatusOK, gin.H{
		"workflow_id": id,
		"message":     "Workflow cleaned up",
	})
}

func (s *Server) streamWorkflowEvents(c *gin.Context) {
	id := c.Param("workflow_id")
	w, err := s.workflows.Status(id)
	if err != nil {
		s.writeWorkflowError(c, err, http.StatusBadRequest)
		return
	}

	sub, unsubscribe := s.hub.Subscribe(id, 128)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "SSE_UNSUPPORTED", "Streaming unsupported", false, nil)
		return
	}

	// Snapshot first so late subscribers see the current state immediately.
	writeSSE(c, events.Event{WorkflowID: id, Phase: w.Phase, Progress: w.Progress, TS: time.Now().UTC()})
	flusher.Flush()
	if w.Phase.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(c, evt)
			flusher.Flush()
			if evt.Phase.IsTerminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, evt events.Event) {
	payload, _ := json.Marshal(evt)
	fmt.Fprintf(c.Writer, "event: progress\n")
	fmt.Fprintf(c.Writer, "data: %s\n\n", string(payload))
}

// writeWorkflowError maps service errors onto the wire taxonomy.
// invalidPhaseStatus distinguishes confirm conflicts (409) from calling an
// operation in the wrong phase (400).
func (s *Server) writeWorkflowError(c *gin.Context, err error, invalidPhaseStatus int) {
	var engErr *engine.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "Workflow not found", false, nil)
	case errors.Is(err, workflow.ErrValidation):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), false, nil)
	case errors.Is(err, store.ErrInvalidPhase):
		writeError(c, invalidPhaseStatus, "INVALID_PHASE", "Operation not allowed in the current workflow phase", false, nil)
	case errors.Is(err, workflow.ErrGenerationActive):
		writeError(c, http.StatusConflict, "GENERATION_ACTIVE", "Generation already running for this workflow", false, nil)
	case errors.Is(err, workflow.ErrNotCompleted):
		writeError(c, http.StatusBadRequest, "NOT_COMPLETED", "Workflow has not completed generation", false, nil)
	case errors.As(err, &engErr):
		writeError(c, http.StatusInternalServerError, engErr.Code, engErr.UserMessage, engErr.Retryable, nil)
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", true, nil)
	}
}
