package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"scriba/internal/analysis"
	"scriba/internal/audio"
	"scriba/internal/config"
	"scriba/internal/document"
	"scriba/internal/handlers"
	"scriba/internal/logger"
	"scriba/internal/media"
	"scriba/internal/messaging"
	"scriba/internal/pipeline"
	"scriba/internal/recovery"
	"scriba/internal/session"
	"scriba/internal/storage"
	"scriba/internal/transcribe"
	"scriba/internal/worker"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.WithError(err).Fatal("Failed to create data directory")
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	jobs := storage.NewJobRepository(db)

	provider, err := messaging.New(cfg.Messaging.DefaultProvider, cfg.Messaging, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build messaging provider")
	}

	converter := audio.NewConverter(cfg.Audio, log)
	whisper := transcribe.NewWhisperClient(cfg.Whisper, log)
	orchestrator := transcribe.NewOrchestrator(whisper, log)
	gemini := analysis.NewGeminiClient(cfg.Analysis, log)
	documents := document.NewMarkdownGenerator(log)
	youtube := media.NewYouTubeDownloader(log)

	pipe := pipeline.New(jobs, provider, converter, orchestrator, gemini, documents, youtube, cfg, log)
	w := worker.New(jobs, pipe, cfg.Worker.PollInterval, log)
	scheduler := recovery.NewScheduler(jobs, provider, w, cfg.Recovery, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	sessions := session.NewManager(cfg.SessionTTL)
	recordings := handlers.NewRecordingHandler(jobs, w, sessions, youtube, log)
	jobAPI := handlers.NewJobHandler(jobs)
	recoveryAPI := handlers.NewRecoveryHandler(scheduler, log)

	e.POST("/api/recordings", recordings.Create)
	e.GET("/api/jobs", jobAPI.List)
	e.GET("/api/jobs/stats", jobAPI.Stats)
	e.GET("/api/jobs/:id", jobAPI.Get)
	e.DELETE("/api/jobs/:id", jobAPI.Delete)
	e.POST("/api/recovery/run", recoveryAPI.Run)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		w.Start(ctx)
		<-ctx.Done()
		w.Stop()
		return nil
	})

	g.Go(func() error {
		err := scheduler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
	log.Info("Server stopped")
}
