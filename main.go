package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SunilSharmaNP/ssm/api"
	"github.com/SunilSharmaNP/ssm/config"
	"github.com/SunilSharmaNP/ssm/exceptions"
	"github.com/SunilSharmaNP/ssm/fetch"
	"github.com/SunilSharmaNP/ssm/ffmpeg"
	"github.com/SunilSharmaNP/ssm/pipeline"
	"github.com/SunilSharmaNP/ssm/probe"
	"github.com/SunilSharmaNP/ssm/progress"
	"github.com/SunilSharmaNP/ssm/session"
	"github.com/SunilSharmaNP/ssm/store"
	"github.com/SunilSharmaNP/ssm/upload"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	// 2. Exception reporting
	var reporter exceptions.Reporter = &exceptions.NoopReporter{}
	if cfg.SentryDSN != "" {
		sr, err := exceptions.NewSentryReporter(cfg.SentryDSN, cfg.Environment)
		if err != nil {
			log.WithError(err).Warn("sentry init failed, continuing without it")
		} else {
			reporter = sr
		}
	}

	// 3. Core services
	registry := session.NewRegistry(log, cfg.CancelGrace)
	progressReporter := progress.NewReporter(log, cfg.EditThrottle)
	prober := probe.NewProber(cfg.FFprobeBin)
	executor := ffmpeg.NewExecutor(cfg.FFmpegBin, log)

	gofile := upload.NewGofileClient(cfg.GofileAPIURL, cfg.GofileToken, cfg.UploadRetries, log, progressReporter)
	fetcher := fetch.NewFetcher(cfg, log, progressReporter, gofile)

	var settings store.Store
	if cfg.RedisAddr != "" {
		settings, err = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
	} else {
		settings = store.NewMemoryStore()
	}

	// 4. Pipeline orchestrator
	orch := pipeline.NewOrchestrator(cfg, log, pipeline.Deps{
		Registry:   registry,
		Reporter:   progressReporter,
		Prober:     prober,
		Runner:     executor,
		Fetcher:    fetcher,
		Settings:   settings,
		Gofile:     gofile,
		Exceptions: reporter,
	})

	// 5. HTTP server
	router := api.SetupRouter(orch, settings, cfg, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s", err)
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	<-ctx.Done()
	stop()
	log.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exiting")
}
