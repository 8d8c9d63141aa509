package main

import (
	"context"
	"log/slog"
	"os"

	"p2v/server/internal/api"
	"p2v/server/internal/config"
	"p2v/server/internal/engine"
	"p2v/server/internal/events"
	"p2v/server/internal/retry"
	"p2v/server/internal/storage"
	"p2v/server/internal/store"
	"p2v/server/internal/telemetry"
	"p2v/server/internal/workflow"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger()

	files, err := storage.NewStore(cfg.OutputDir)
	if err != nil {
		logger.Error("output directory setup failed", "dir", cfg.OutputDir, "error", err)
		os.Exit(1)
	}

	reg := store.NewRegistry()
	hub := events.NewHub()

	eng := workflow.Engines{
		Images:   engine.PlaceholderImageEngine{Files: files},
		Speech:   engine.PlaceholderSpeechEngine{Files: files},
		Music:    engine.PlaceholderMusicEngine{Files: files},
		Assembly: engine.PlaceholderAssemblyEngine{Files: files},
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := engine.NewGeminiEngine(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("gemini client setup failed", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		eng.Text = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set, using placeholder text engine")
		eng.Text = engine.PlaceholderTextEngine{}
	}

	policy := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay}
	svc := workflow.NewService(reg, hub, eng, files, logger, policy, workflow.Options{
		DefaultVoiceID:      cfg.DefaultVoiceID,
		DefaultImageSize:    cfg.DefaultImageSize,
		DefaultImageStyle:   cfg.DefaultImageStyle,
		DefaultMusicStyle:   cfg.DefaultMusicStyle,
		MusicDurationSec:    cfg.MusicDurationSec,
		NarrationChunkChars: cfg.NarrationChunkChars,
	})

	srv := api.NewServer(svc, files, hub, logger)
	router := srv.Router()

	logger.Info("server_start",
		"addr", cfg.Addr,
		"output_dir", cfg.OutputDir,
		"gemini_model", cfg.GeminiModel,
		"max_retries", cfg.MaxRetries,
	)
	if err := router.Run(cfg.Addr); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
