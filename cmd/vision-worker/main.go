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
	"github.com/coldaine/recall-pipeline/internal/vision"
	"github.com/coldaine/recall-pipeline/pkg/common"
	"github.com/coldaine/recall-pipeline/pkg/config"
	"github.com/coldaine/recall-pipeline/pkg/database"
	"github.com/coldaine/recall-pipeline/pkg/errors"
	"github.com/coldaine/recall-pipeline/pkg/logger"
)

const (
	serviceName = "vision-worker"
	version     = "1.0.0"
)

func main() {
	batchSize := flag.Int("batch-size", 0, "number of frames to process per batch (default 10)")
	pollInterval := flag.Float64("poll-interval", 0, "seconds to wait between polling cycles (default 5.0)")
	model := flag.String("model", "", "vision model name, e.g. gpt-4o (default gpt-4o)")
	modelEndpoint := flag.String("model-endpoint", "", "custom model endpoint URL (optional)")
	maxTokens := flag.Int("max-tokens", 0, "maximum tokens for the model response (default 150)")
	rateLimitDelay := flag.Float64("rate-limit-delay", 0, "seconds between model calls within a batch (default 0.5)")
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
	if *model != "" {
		cfg.Vision.Model = *model
	}
	if *modelEndpoint != "" {
		cfg.Vision.ModelEndpoint = *modelEndpoint
	}
	if *maxTokens > 0 {
		cfg.Vision.MaxTokens = *maxTokens
	}
	if *rateLimitDelay > 0 {
		cfg.Vision.RateLimitDelay = time.Duration(*rateLimitDelay * float64(time.Second))
	}

	logger.Info("Starting vision worker",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("model", cfg.Vision.Model),
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

	newClient := func() (vision.Summarizer, error) {
		return vision.NewOpenAIClient(vision.ClientConfig{
			Model:     cfg.Vision.Model,
			Endpoint:  cfg.Vision.ModelEndpoint,
			APIKey:    cfg.Vision.APIKey,
			MaxTokens: cfg.Vision.MaxTokens,
		})
	}

	worker := vision.NewWorker(repo, imageio.NewFileLoader(), newClient, vision.Config{
		BatchSize:      cfg.Worker.BatchSize,
		PollInterval:   cfg.Worker.PollInterval,
		MaxRetries:     cfg.Worker.MaxRetries,
		RetryDelay:     cfg.Worker.RetryDelay,
		PromptTemplate: cfg.Vision.PromptTemplate,
		RateLimitDelay: cfg.Vision.RateLimitDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthSrv := startHealthServer(cfg, repo)

	if err := worker.Start(ctx); err != nil {
		errors.CaptureError(err)
		logger.Fatal("Vision worker failed to start", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown failed", zap.Error(err))
	}

	logger.Info("Vision worker shut down cleanly")
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
