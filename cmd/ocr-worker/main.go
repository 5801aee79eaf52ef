package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coldaine/recall-pipeline/internal/frames"
	"github.com/coldaine/recall-pipeline/internal/imageio"
	"github.com/coldaine/recall-pipeline/internal/ocr"
	"github.com/coldaine/recall-pipeline/pkg/common"
	"github.com/coldaine/recall-pipeline/pkg/config"
	"github.com/coldaine/recall-pipeline/pkg/database"
	"github.com/coldaine/recall-pipeline/pkg/errors"
	"github.com/coldaine/recall-pipeline/pkg/logger"
)

const (
	serviceName = "ocr-worker"
	version     = "1.0.0"
)

func main() {
	batchSize := flag.Int("batch-size", 0, "number of frames to process per batch (default 10)")
	pollInterval := flag.Float64("poll-interval", 0, "seconds to wait between polling cycles (default 5.0)")
	lang := flag.String("lang", "", "OCR language code, e.g. eng or eng+spa (default eng)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment, *verbose); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	// Flags override environment configuration
	if *batchSize > 0 {
		cfg.Worker.BatchSize = *batchSize
	}
	if *pollInterval > 0 {
		cfg.Worker.PollInterval = time.Duration(*pollInterval * float64(time.Second))
	}
	if *lang != "" {
		cfg.OCR.Language = *lang
	}

	logger.Info("Starting OCR worker",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	// Initialize Sentry for error tracking
	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	db, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to database")

	repo := frames.NewRepository(db)
	engine := ocr.NewTesseractEngine(cfg.OCR.Language, cfg.OCR.EngineOptions)
	worker := ocr.NewWorker(repo, imageio.NewFileLoader(), engine, ocr.Config{
		BatchSize:     cfg.Worker.BatchSize,
		PollInterval:  cfg.Worker.PollInterval,
		MaxRetries:    cfg.Worker.MaxRetries,
		RetryDelay:    cfg.Worker.RetryDelay,
		Language:      cfg.OCR.Language,
		MinTextLength: cfg.OCR.MinTextLength,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthSrv := startHealthServer(cfg, repo)

	if err := worker.Start(ctx); err != nil {
		errors.CaptureError(err)
		logger.Fatal("OCR worker failed to start", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown failed", zap.Error(err))
	}

	logger.Info("OCR worker shut down cleanly")
}

func startHealthServer(cfg *config.Config, repo *frames.Repository) *http.Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", common.HealthCheck(serviceName, version))
	router.GET("/live", common.LivenessProbe(serviceName, version))
	router.GET("/ready", common.ReadinessProbe(serviceName, version, map[string]func() error{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return repo.Ping(ctx)
		},
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.HealthPort,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed", zap.Error(err))
		}
	}()

	return srv
}
