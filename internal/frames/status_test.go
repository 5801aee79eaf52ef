package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	valid := []Status{StatusError, StatusPending, StatusOCRProcessing, StatusOCRDone, StatusVisionProcessing, StatusVisionDone}
	for _, s := range valid {
		assert.True(t, s.Valid(), "expected %s to be valid", s)
	}

	assert.False(t, Status(5).Valid())
	assert.False(t, Status(-2).Valid())
	assert.False(t, Status(99).Valid())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusVisionDone.Terminal())

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusOCRProcessing.Terminal())
	assert.False(t, StatusOCRDone.Terminal())
	assert.False(t, StatusVisionProcessing.Terminal())
}

// The allowed set is exactly 0→1→{2,−1} and 2→3→{4,−1}; every other pair in
// the full matrix must be rejected.
func TestCanTransitionMatrix(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusOCRProcessing}:       true,
		{StatusOCRProcessing, StatusOCRDone}:       true,
		{StatusOCRProcessing, StatusError}:         true,
		{StatusOCRDone, StatusVisionProcessing}:    true,
		{StatusVisionProcessing, StatusVisionDone}: true,
		{StatusVisionProcessing, StatusError}:      true,
	}

	all := []Status{StatusError, StatusPending, StatusOCRProcessing, StatusOCRDone, StatusVisionProcessing, StatusVisionDone}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "transition %s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	all := []Status{StatusError, StatusPending, StatusOCRProcessing, StatusOCRDone, StatusVisionProcessing, StatusVisionDone}
	for _, to := range all {
		assert.False(t, CanTransition(StatusError, to))
		assert.False(t, CanTransition(StatusVisionDone, to))
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "ocr_processing", StatusOCRProcessing.String())
	assert.Equal(t, "ocr_done", StatusOCRDone.String())
	assert.Equal(t, "vision_processing", StatusVisionProcessing.String())
	assert.Equal(t, "vision_done", StatusVisionDone.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unknown(7)", Status(7).String())
}
