package ocr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/coldaine/recall-pipeline/internal/frames"
	"github.com/coldaine/recall-pipeline/internal/frames/framestest"
	"github.com/coldaine/recall-pipeline/internal/imageio"
)

// mockLoader is a mock implementation of the imageio.Loader interface.
type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) Load(imageRef string) ([]byte, error) {
	args := m.Called(imageRef)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// mockEngine is a mock implementation of the Engine interface.
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Version() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockEngine) Recognize(image []byte) (string, *float64, error) {
	args := m.Called(image)
	conf, _ := args.Get(1).(*float64)
	return args.String(0), conf, args.Error(2)
}

func pendingFrame(ref string, capturedAt time.Time) frames.Frame {
	return frames.Frame{
		ID:           uuid.New(),
		CapturedAt:   capturedAt,
		ImageRef:     ref,
		VisionStatus: frames.StatusPending,
	}
}

func newTestWorker(store ClaimStore, loader imageio.Loader, engine Engine) *Worker {
	return NewWorker(store, loader, engine, Config{
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   3,
		RetryDelay:   time.Millisecond,
		Language:     "eng",
	})
}

func TestRunCycleHappyPath(t *testing.T) {
	store := framestest.NewStore()
	frame := pendingFrame("test.png", time.Now().UTC())
	store.Add(frame)

	loader := new(mockLoader)
	loader.On("Load", "test.png").Return([]byte{0x89, 0x50}, nil)

	conf := 0.95
	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("Extracted Text", &conf, nil)

	worker := newTestWorker(store, loader, engine)

	processed, err := worker.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, ok := store.Get(frame.ID)
	require.True(t, ok)
	assert.Equal(t, frames.StatusOCRDone, got.VisionStatus)
	require.NotNil(t, got.OCRText)
	assert.Equal(t, "Extracted Text", *got.OCRText)
	require.NotNil(t, got.HasText)
	assert.True(t, *got.HasText)

	rec, ok := store.OCRRecord(frame.ID)
	require.True(t, ok)
	assert.Equal(t, "Extracted Text", rec.Text)
	require.NotNil(t, rec.Confidence)
	assert.InDelta(t, 0.95, *rec.Confidence, 1e-9)
}

func TestRunCycleMissingImage(t *testing.T) {
	store := framestest.NewStore()
	frame := pendingFrame("nope.png", time.Now().UTC())
	store.Add(frame)

	loader := new(mockLoader)
	loader.On("Load", "nope.png").Return(nil, fmt.Errorf("%w: nope.png", imageio.ErrNotFound))

	engine := new(mockEngine)
	worker := newTestWorker(store, loader, engine)

	processed, err := worker.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, _ := store.Get(frame.ID)
	assert.Equal(t, frames.StatusError, got.VisionStatus)
	assert.Nil(t, got.OCRText)

	engine.AssertNotCalled(t, "Recognize", mock.Anything)
}

func TestRunCycleEngineError(t *testing.T) {
	store := framestest.NewStore()
	frame := pendingFrame("test.png", time.Now().UTC())
	store.Add(frame)

	loader := new(mockLoader)
	loader.On("Load", "test.png").Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("", nil, fmt.Errorf("engine crashed"))

	worker := newTestWorker(store, loader, engine)

	processed, err := worker.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, _ := store.Get(frame.ID)
	assert.Equal(t, frames.StatusError, got.VisionStatus)
}

// A frame with no detected text still completes successfully: NULL text, no
// detail row, status ocr_done.
func TestRunCycleNoTextIsSuccess(t *testing.T) {
	store := framestest.NewStore()
	frame := pendingFrame("blank.png", time.Now().UTC())
	store.Add(frame)

	loader := new(mockLoader)
	loader.On("Load", "blank.png").Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("", nil, nil)

	worker := newTestWorker(store, loader, engine)

	_, err := worker.runCycle(context.Background())
	require.NoError(t, err)

	got, _ := store.Get(frame.ID)
	assert.Equal(t, frames.StatusOCRDone, got.VisionStatus)
	assert.Nil(t, got.OCRText)
	require.NotNil(t, got.HasText)
	assert.False(t, *got.HasText)

	_, ok := store.OCRRecord(frame.ID)
	assert.False(t, ok)
}

// One failing frame never aborts its siblings.
func TestRunCycleBatchIsolation(t *testing.T) {
	store := framestest.NewStore()
	base := time.Now().UTC()
	good1 := pendingFrame("a.png", base)
	bad := pendingFrame("b.png", base.Add(time.Second))
	good2 := pendingFrame("c.png", base.Add(2*time.Second))
	store.Add(good1)
	store.Add(bad)
	store.Add(good2)

	loader := new(mockLoader)
	loader.On("Load", "a.png").Return([]byte{1}, nil)
	loader.On("Load", "b.png").Return(nil, fmt.Errorf("read error: corrupt header"))
	loader.On("Load", "c.png").Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("some text", nil, nil)

	worker := newTestWorker(store, loader, engine)

	processed, err := worker.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	g1, _ := store.Get(good1.ID)
	b, _ := store.Get(bad.ID)
	g2, _ := store.Get(good2.ID)
	assert.Equal(t, frames.StatusOCRDone, g1.VisionStatus)
	assert.Equal(t, frames.StatusError, b.VisionStatus)
	assert.Equal(t, frames.StatusOCRDone, g2.VisionStatus)
}

// Frames are processed in claim order, which is captured_at ascending.
func TestRunCycleProcessesOldestFirst(t *testing.T) {
	store := framestest.NewStore()
	base := time.Now().UTC()
	newest := pendingFrame("newest.png", base.Add(2*time.Second))
	oldest := pendingFrame("oldest.png", base)
	middle := pendingFrame("middle.png", base.Add(time.Second))
	store.Add(newest)
	store.Add(oldest)
	store.Add(middle)

	var order []string
	loader := new(mockLoader)
	loader.On("Load", mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.String(0))
	}).Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("text", nil, nil)

	worker := newTestWorker(store, loader, engine)

	_, err := worker.runCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"oldest.png", "middle.png", "newest.png"}, order)
}

func TestStartFailsWhenEngineUnavailable(t *testing.T) {
	store := framestest.NewStore()
	loader := new(mockLoader)

	engine := new(mockEngine)
	engine.On("Version").Return("", fmt.Errorf("tesseract is not available"))

	worker := newTestWorker(store, loader, engine)

	err := worker.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OCR engine is not available")
}

// Transient database errors retry with backoff and succeed within the limit.
func TestRunCycleWithRetryTransientError(t *testing.T) {
	store := framestest.NewStore()
	frame := pendingFrame("test.png", time.Now().UTC())
	store.Add(frame)
	store.FailNextClaims(&pgconn.PgError{Code: "40001", Message: "serialization failure"}, 2)

	loader := new(mockLoader)
	loader.On("Load", "test.png").Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("text", nil, nil)

	worker := newTestWorker(store, loader, engine)

	processed, err := worker.runCycleWithRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

// Non-transient errors are not retried.
func TestRunCycleWithRetryPermanentError(t *testing.T) {
	store := framestest.NewStore()
	store.Add(pendingFrame("test.png", time.Now().UTC()))
	store.FailNextClaims(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, 1)

	loader := new(mockLoader)
	engine := new(mockEngine)
	worker := newTestWorker(store, loader, engine)

	_, err := worker.runCycleWithRetry(context.Background())
	require.Error(t, err)

	// The single injected failure was consumed without a second attempt
	assert.Equal(t, 1, store.CountByStatus(frames.StatusPending))
}

// Given a finite queue, the loop drains it and a stop request exits cleanly.
func TestStartConvergesAndStops(t *testing.T) {
	store := framestest.NewStore()
	base := time.Now().UTC()
	for i := 0; i < 25; i++ {
		store.Add(pendingFrame(fmt.Sprintf("frame-%02d.png", i), base.Add(time.Duration(i)*time.Millisecond)))
	}

	loader := new(mockLoader)
	loader.On("Load", mock.Anything).Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Version").Return("5.3.0", nil)
	engine.On("Recognize", mock.Anything).Return("text", nil, nil)

	worker := newTestWorker(store, loader, engine)

	done := make(chan error, 1)
	go func() {
		done <- worker.Start(context.Background())
	}()

	require.Eventually(t, func() bool {
		return store.CountByStatus(frames.StatusPending) == 0 &&
			store.CountByStatus(frames.StatusOCRProcessing) == 0
	}, 5*time.Second, 5*time.Millisecond)

	worker.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, 25, store.CountByStatus(frames.StatusOCRDone))
}

// N concurrent workers over M pending frames: every frame ends in exactly one
// terminal state and the per-worker processed counts sum to M.
func TestConcurrentWorkersProcessDisjointBatches(t *testing.T) {
	const workers = 4
	const total = 60

	store := framestest.NewStore()
	base := time.Now().UTC()
	for i := 0; i < total; i++ {
		store.Add(pendingFrame(fmt.Sprintf("frame-%03d.png", i), base.Add(time.Duration(i)*time.Millisecond)))
	}

	loader := new(mockLoader)
	loader.On("Load", mock.Anything).Return([]byte{1}, nil)

	engine := new(mockEngine)
	engine.On("Recognize", mock.Anything).Return("text", nil, nil)

	counts := make([]int, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			w := NewWorker(store, loader, engine, Config{
				BatchSize:    5,
				PollInterval: time.Millisecond,
				MaxRetries:   1,
				RetryDelay:   time.Millisecond,
			})
			for {
				processed, err := w.runCycle(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				if processed == 0 {
					return
				}
				counts[idx] += processed
			}
		}(i)
	}

	wg.Wait()

	sum := 0
	for _, c := range counts {
		sum += c
	}
	assert.Equal(t, total, sum)
	assert.Equal(t, total, store.CountByStatus(frames.StatusOCRDone))
	assert.Equal(t, 0, store.CountByStatus(frames.StatusPending))
	assert.Equal(t, 0, store.CountByStatus(frames.StatusOCRProcessing))
}
