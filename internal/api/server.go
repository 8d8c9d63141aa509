package api

import (
	"log/slog"
	"net/http"

	"p2v/server/internal/events"
	"p2v/server/internal/storage"
	"p2v/server/internal/workflow"

	"github.com/gin-gonic/gin"
)

type Server struct {
	workflows *workflow.Service
	files     *storage.Store
	hub       *events.Hub
	log       *slog.Logger
}

func NewServer(workflows *workflow.Service, files *storage.Store, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		workflows: workflows,
		files:     files,
		hub:       hub,
		log:       logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogMiddleware(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		writeData(c, http.StatusOK, gin.H{
			"status":           "ok",
			"active_workflows": s.workflows.ActiveCount(),
		})
	})

	wf := r.Group("/api/workflow")
	{
		wf.POST("/create", s.createWorkflow)
		wf.GET("/list", s.listWorkflows)
		wf.POST("/:workflow_id/enhance", s.enhancePrompt)
		wf.POST("/:workflow_id/confirm", s.confirmWorkflow)
		wf.POST("/:workflow_id/generate", s.generateVideo)
		wf.GET("/:workflow_id/status", s.getStatus)
		wf.GET("/:workflow_id/progress", s.getProgress)
		wf.GET("/:workflow_id/result", s.getResult)
		wf.GET("/:workflow_id/events", s.streamWorkflowEvents)
		wf.DELETE("/:workflow_id/cleanup", s.cleanupWorkflow)
	}

	r.GET("/files/:category/:name", s.downloadFile)

	return r
}
