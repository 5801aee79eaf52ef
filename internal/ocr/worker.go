package ocr

import (
	"context"
	"errors"
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

// ClaimStore is the slice of the frames repository the OCR worker uses.
type ClaimStore interface {
	ClaimFrames(ctx context.Context, from, claimed frames.Status, limit int) ([]*frames.Frame, error)
	CompleteOCRBatch(ctx context.Context, results []frames.OCRResult, minTextLength int) error
}

// Config holds OCR worker configuration
type Config struct {
	BatchSize     int
	PollInterval  time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	Language      string
	MinTextLength int
}

// Worker advances frames from pending to ocr_done or error. It is a
// single-threaded cooperative loop: one database cycle at a time, frames
// within a batch processed sequentially in claim order.
type Worker struct {
	store  ClaimStore
	loader imageio.Loader
	engine Engine
	config Config
	stopCh chan struct{}
}

// NewWorker creates a new OCR worker with injected store, loader and engine.
func NewWorker(store ClaimStore, loader imageio.Loader, engine Engine, config Config) *Worker {
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
	if config.Language == "" {
		config.Language = "eng"
	}
	if config.MinTextLength < 1 {
		config.MinTextLength = 1
	}

	return &Worker{
		store:  store,
		loader: loader,
		engine: engine,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start verifies the OCR engine is reachable, then runs the polling loop
// until the context is cancelled or Stop is called. No frames are processed
// until the capability check passes; a failed check is a fatal startup error.
func (w *Worker) Start(ctx context.Context) error {
	version, err := w.engine.Version()
	if err != nil {
		return fmt.Errorf("OCR engine is not available: %w", err)
	}

	logger.Info("OCR worker started",
		zap.String("engine_version", version),
		zap.String("language", w.config.Language),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Duration("poll_interval", w.config.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("OCR worker stopping: context cancelled")
			return nil
		case <-w.stopCh:
			logger.Info("OCR worker stopped")
			return nil
		default:
		}

		processed, err := w.runCycleWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("OCR worker stopping: context cancelled")
				return nil
			}
			metrics.CycleErrors.WithLabelValues(metrics.StageOCR).Inc()
			logger.Error("OCR cycle failed", zap.Error(err))
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

		logger.Info("OCR cycle complete", zap.Int("processed", processed))
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

// runCycleWithRetry retries the cycle on transient database errors with
// exponential backoff. Any other error aborts the cycle immediately.
func (w *Worker) runCycleWithRetry(ctx context.Context) (int, error) {
	cfg := database.RetryConfig(w.config.MaxRetries, w.config.RetryDelay)

	result, err := resilience.RetryWithName(ctx, cfg, func(ctx context.Context) (interface{}, error) {
		return w.runCycle(ctx)
	}, "ocr.cycle")
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// runCycle performs one claim-process-commit cycle and returns the number of
// frames it handled. A failure inside a single frame never aborts the batch;
// it becomes that frame's error outcome.
func (w *Worker) runCycle(ctx context.Context) (int, error) {
	start := time.Now()

	batch, err := w.store.ClaimFrames(ctx, frames.StatusPending, frames.StatusOCRProcessing, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim frames: %w", err)
	}

	metrics.ClaimBatchSize.WithLabelValues(metrics.StageOCR).Observe(float64(len(batch)))
	if len(batch) == 0 {
		return 0, nil
	}

	logger.Debug("claimed frames for OCR", zap.Int("count", len(batch)))

	results := make([]frames.OCRResult, 0, len(batch))
	for _, frame := range batch {
		results = append(results, w.processFrame(frame))
	}

	if err := w.store.CompleteOCRBatch(ctx, results, w.config.MinTextLength); err != nil {
		return 0, fmt.Errorf("failed to commit OCR results: %w", err)
	}

	for _, res := range results {
		if res.Err != "" {
			metrics.FramesProcessed.WithLabelValues(metrics.StageOCR, metrics.OutcomeError).Inc()
			logger.Warn("frame marked as error",
				zap.String("frame_id", res.FrameID.String()),
				zap.String("error", res.Err),
			)
		} else {
			metrics.FramesProcessed.WithLabelValues(metrics.StageOCR, metrics.OutcomeDone).Inc()
			logger.Info("frame OCR complete",
				zap.String("frame_id", res.FrameID.String()),
				zap.Int("text_len", len(res.Text)),
			)
		}
	}

	metrics.CycleDuration.WithLabelValues(metrics.StageOCR).Observe(time.Since(start).Seconds())
	return len(batch), nil
}

// processFrame runs OCR for one claimed frame. All failures are contained in
// the returned outcome.
func (w *Worker) processFrame(frame *frames.Frame) frames.OCRResult {
	image, err := w.loader.Load(frame.ImageRef)
	if err != nil {
		return frames.OCRResult{
			FrameID: frame.ID,
			Err:     fmt.Sprintf("could not load image: %s", loadFailureDetail(frame.ImageRef, err)),
		}
	}

	text, confidence, err := w.engine.Recognize(image)
	if err != nil {
		return frames.OCRResult{FrameID: frame.ID, Err: err.Error()}
	}

	return frames.OCRResult{
		FrameID:    frame.ID,
		Text:       text,
		Confidence: confidence,
		Language:   w.config.Language,
	}
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

func loadFailureDetail(imageRef string, err error) string {
	if errors.Is(err, imageio.ErrNotFound) {
		return imageio.ResolvePath(imageRef)
	}
	return err.Error()
}
