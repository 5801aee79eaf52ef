package frames

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the per-frame pipeline state, persisted as the integer
// vision_status column.
type Status int

const (
	// StatusError is terminal failure at any stage.
	StatusError Status = -1
	// StatusPending marks a newly captured frame awaiting OCR.
	StatusPending Status = 0
	// StatusOCRProcessing marks a frame claimed by an OCR worker.
	StatusOCRProcessing Status = 1
	// StatusOCRDone marks OCR complete, awaiting vision summarization.
	StatusOCRDone Status = 2
	// StatusVisionProcessing marks a frame claimed by a vision worker.
	StatusVisionProcessing Status = 3
	// StatusVisionDone is terminal success.
	StatusVisionDone Status = 4
)

// String returns the status name for logs.
func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusPending:
		return "pending"
	case StatusOCRProcessing:
		return "ocr_processing"
	case StatusOCRDone:
		return "ocr_done"
	case StatusVisionProcessing:
		return "vision_processing"
	case StatusVisionDone:
		return "vision_done"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusError, StatusPending, StatusOCRProcessing, StatusOCRDone,
		StatusVisionProcessing, StatusVisionDone:
		return true
	}
	return false
}

// Terminal reports whether no worker may claim frames in this state.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusVisionDone
}

// CanTransition reports whether from → to is an allowed status transition.
// The allowed set is 0→1→{2,−1} and 2→3→{4,−1}; everything else is rejected.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusOCRProcessing
	case StatusOCRProcessing:
		return to == StatusOCRDone || to == StatusError
	case StatusOCRDone:
		return to == StatusVisionProcessing
	case StatusVisionProcessing:
		return to == StatusVisionDone || to == StatusError
	}
	return false
}

// Frame is one captured screen plus pipeline state. Rows are created by the
// capture process; the pipeline only mutates ocr_text, has_text,
// vision_summary and vision_status.
type Frame struct {
	ID            uuid.UUID
	CapturedAt    time.Time
	ImageRef      string
	WindowTitle   *string
	AppName       *string
	OCRText       *string
	HasText       *bool
	VisionSummary *string
	VisionStatus  Status
}

// OCRRecord is the detailed OCR history row, one per successful extraction.
type OCRRecord struct {
	FrameID    uuid.UUID
	Text       string
	Confidence *float64
	Language   *string
}

// OCRResult is the outcome of OCR processing for a single claimed frame.
// Either Err is set (the frame moves to StatusError) or Text/Confidence
// carry the extraction (the frame moves to StatusOCRDone).
type OCRResult struct {
	FrameID    uuid.UUID
	Text       string
	Confidence *float64
	Language   string
	Err        string
}

// VisionResult is the outcome of vision summarization for a single claimed frame.
type VisionResult struct {
	FrameID uuid.UUID
	Summary string
	Err     string
}
