package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values.
const (
	StageOCR    = "ocr"
	StageVision = "vision"
)

// Outcome label values.
const (
	OutcomeDone  = "done"
	OutcomeError = "error"
)

var (
	// FramesProcessed counts frames that reached an outcome, per stage.
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_frames_processed_total",
		Help: "Total number of frames processed by the pipeline",
	}, []string{"stage", "outcome"})

	// CycleDuration observes the wall time of one claim-process-commit cycle.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recall_cycle_duration_seconds",
		Help:    "Duration of one worker poll cycle",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	// ClaimBatchSize observes how many frames each claim returned.
	ClaimBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recall_claim_batch_size",
		Help:    "Number of frames claimed per cycle",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"stage"})

	// CycleErrors counts cycles that failed after exhausting database retries.
	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recall_cycle_errors_total",
		Help: "Total number of failed worker cycles",
	}, []string{"stage"})
)
