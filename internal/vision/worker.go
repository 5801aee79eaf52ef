package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coldaine/recall-pipeline/internal/frames"
	"github.com/coldaine/recall-pipeline/internal/imageio"
	"github.com/coldaine/recall-pipeline/internal/metrics"
	"github.com/coldaine/recall-pipeline/pkg/database"
	"github.com/coldaine/recall-pipeline/pkg/logger"
	"github.com/coldaine/recall-pipeline/pkg/resilience"
)

// ClaimStore is the slice of the frames repository the vision worker uses.
type ClaimStore interface {
	ClaimFrames(ctx context.Context, from, claimed frames.Status, limit int) ([]*frames.Frame, error)
	CompleteVisionBatch(ctx context.Context, results []frames.VisionResult) error
}

// Config holds vision worker configuration
type Config struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	PromptTemplate string
	RateLimitDelay time.Duration
}

// Worker advances frames from ocr_done to vision_done or error. Same loop
// shape as the OCR worker; the model client is built once at startup through
// the injected factory so a bad credential fails the process, not a frame.
type Worker struct {
	store      ClaimStore
	loader     imageio.Loader
	newClient  func() (Summarizer, error)
	summarizer Summarizer
	config     Config
	stopCh     chan struct{}
}

// NewWorker creates a new vision worker. newClient is called exactly once, by
// Start.
func NewWorker(store ClaimStore, loader imageio.Loader, newClient func() (Summarizer, error), config Config) *Worker {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = DefaultPromptTemplate
	}
	if config.RateLimitDelay == 0 {
		config.RateLimitDelay = 500 * time.Millisecond
	}

	return &Worker{
		store:     store,
		loader:    loader,
		newClient: newClient,
		config:    config,
		stopCh:    make(chan struct{}),
	}
}

// Start constructs the vision model client, then runs the polling loop until
// the context is cancelled or Stop is called. A client construction failure
// is a fatal startup error.
func (w *Worker) Start(ctx context.Context) error {
	client, err := w.newClient()
	if err != nil {
		return fmt.Errorf("failed to create vision model client: %w", err)
	}
	w.summarizer = client

	logger.Info("vision worker started",
		zap.Int("batch_size", w.config.BatchSize),
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("rate_limit_delay", w.config.RateLimitDelay),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("vision worker stopping: context cancelled")
			return nil
		case <-w.stopCh:
			logger.Info("vision worker stopped")
			return nil
		default:
		}

		processed, err := w.runCycleWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("vision worker stopping: context cancelled")
				return nil
			}
			metrics.CycleErrors.WithLabelValues(metrics.StageVision).Inc()
			logger.Error("vision cycle failed", zap.Error(err))
			if !w.sleep(ctx, w.config.PollInterval) {
				return nil
			}
			continue
		}

		if processed == 0 {
			// Queue drained; wait before polling again
			if !w.sleep(ctx, w.config.PollInterval) {
				return nil
			}
			continue
		}

		logger.Info("vision cycle complete", zap.Int("processed", processed))
	}
}

// Stop signals the worker to exit after the in-flight batch completes.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
}

// RunOnce performs a single poll cycle: claim, process, commit. Exposed so
// the stage can be driven step-by-step outside the polling loop.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	return w.runCycleWithRetry(ctx)
}

func (w *Worker) runCycleWithRetry(ctx context.Context) (int, error) {
	cfg := database.RetryConfig(w.config.MaxRetries, w.config.RetryDelay)

	result, err := resilience.RetryWithName(ctx, cfg, func(ctx context.Context) (interface{}, error) {
		return w.runCycle(ctx)
	}, "vision.cycle")
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// runCycle performs one claim-process-commit cycle. Frames are summarized
// sequentially in claim order with a rate-limit delay between consecutive
// model calls; the delay is skipped before the first call and after the last.
func (w *Worker) runCycle(ctx context.Context) (int, error) {
	start := time.Now()

	batch, err := w.store.ClaimFrames(ctx, frames.StatusOCRDone, frames.StatusVisionProcessing, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim frames: %w", err)
	}

	metrics.ClaimBatchSize.WithLabelValues(metrics.StageVision).Observe(float64(len(batch)))
	if len(batch) == 0 {
		return 0, nil
	}

	logger.Debug("claimed frames for vision summarization", zap.Int("count", len(batch)))

	results := make([]frames.VisionResult, 0, len(batch))
	for i, frame := range batch {
		if i > 0 {
			w.sleep(ctx, w.config.RateLimitDelay)
		}
		results = append(results, w.processFrame(ctx, frame))
	}

	if err := w.store.CompleteVisionBatch(ctx, results); err != nil {
		return 0, fmt.Errorf("failed to commit vision results: %w", err)
	}

	for _, res := range results {
		if res.Err != "" {
			metrics.FramesProcessed.WithLabelValues(metrics.StageVision, metrics.OutcomeError).Inc()
			logger.Warn("frame marked as error",
				zap.String("frame_id", res.FrameID.String()),
				zap.String("error", res.Err),
			)
		} else {
			metrics.FramesProcessed.WithLabelValues(metrics.StageVision, metrics.OutcomeDone).Inc()
			logger.Info("frame summarized",
				zap.String("frame_id", res.FrameID.String()),
				zap.Int("summary_len", len(res.Summary)),
			)
		}
	}

	metrics.CycleDuration.WithLabelValues(metrics.StageVision).Observe(time.Since(start).Seconds())
	return len(batch), nil
}

// processFrame summarizes one claimed frame. All failures, including model
// errors, are contained in the returned outcome; upstream rate limits and
// timeouts are not retried in place.
func (w *Worker) processFrame(ctx context.Context, frame *frames.Frame) frames.VisionResult {
	image, err := w.loader.Load(frame.ImageRef)
	if err != nil {
		return frames.VisionResult{
			FrameID: frame.ID,
			Err:     fmt.Sprintf("could not load image: %s", err),
		}
	}

	prompt := RenderPrompt(w.config.PromptTemplate, frame.OCRText)
	dataURI := imageio.DataURI(frame.ImageRef, image)

	summary, err := w.summarizer.Summarize(ctx, prompt, dataURI)
	if err != nil {
		return frames.VisionResult{FrameID: frame.ID, Err: err.Error()}
	}

	return frames.VisionResult{FrameID: frame.ID, Summary: summary}
}

// sleep waits for d, returning false if the worker should exit instead.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
