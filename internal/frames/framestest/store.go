// Package framestest provides an in-memory stand-in for the frames
// repository, used by worker tests in place of a live PostgreSQL instance.
package framestest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/coldaine/recall-pipeline/internal/frames"
)

// Store implements the claim/complete surface of frames.Repository over a
// mutex-guarded map. Claims are atomic, so concurrent workers exercise the
// same disjointness guarantee the SKIP LOCKED transaction provides.
type Store struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*frames.Frame
	ocrRecords map[uuid.UUID]frames.OCRRecord
	claimErrs  []error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rows:       make(map[uuid.UUID]*frames.Frame),
		ocrRecords: make(map[uuid.UUID]frames.OCRRecord),
	}
}

// Add inserts a frame row as the capture process would.
func (s *Store) Add(f frames.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := f
	s.rows[f.ID] = &copied
}

// Get returns a copy of the frame row.
func (s *Store) Get(id uuid.UUID) (frames.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.rows[id]
	if !ok {
		return frames.Frame{}, false
	}
	return *f, true
}

// OCRRecord returns the detailed OCR row for a frame, if inserted.
func (s *Store) OCRRecord(id uuid.UUID) (frames.OCRRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.ocrRecords[id]
	return rec, ok
}

// CountByStatus returns the number of frames in the given status.
func (s *Store) CountByStatus(status frames.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, f := range s.rows {
		if f.VisionStatus == status {
			count++
		}
	}
	return count
}

// FailNextClaims makes the next n ClaimFrames calls return err.
func (s *Store) FailNextClaims(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.claimErrs = append(s.claimErrs, err)
	}
}

// ClaimFrames mirrors Repository.ClaimFrames: oldest-first selection with a
// deterministic (captured_at, id) tie-break, atomically moved to the claimed
// status.
func (s *Store) ClaimFrames(_ context.Context, from, claimed frames.Status, limit int) ([]*frames.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.claimErrs) > 0 {
		err := s.claimErrs[0]
		s.claimErrs = s.claimErrs[1:]
		return nil, err
	}

	if !frames.CanTransition(from, claimed) {
		return nil, fmt.Errorf("claim %s -> %s is not an allowed transition", from, claimed)
	}

	var eligible []*frames.Frame
	for _, f := range s.rows {
		if f.VisionStatus == from {
			eligible = append(eligible, f)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CapturedAt.Equal(eligible[j].CapturedAt) {
			return eligible[i].ID.String() < eligible[j].ID.String()
		}
		return eligible[i].CapturedAt.Before(eligible[j].CapturedAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	batch := make([]*frames.Frame, 0, len(eligible))
	for _, f := range eligible {
		f.VisionStatus = claimed
		copied := *f
		batch = append(batch, &copied)
	}

	return batch, nil
}

// CompleteOCRBatch mirrors Repository.CompleteOCRBatch.
func (s *Store) CompleteOCRBatch(_ context.Context, results []frames.OCRResult, minTextLength int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if minTextLength < 1 {
		minTextLength = 1
	}

	for _, res := range results {
		f, ok := s.rows[res.FrameID]
		if !ok {
			return fmt.Errorf("unknown frame %s", res.FrameID)
		}

		if res.Err != "" {
			f.VisionStatus = frames.StatusError
			continue
		}

		hasText := len(strings.TrimSpace(res.Text)) >= minTextLength
		f.HasText = &hasText
		if hasText {
			text := res.Text
			f.OCRText = &text
			if _, exists := s.ocrRecords[res.FrameID]; !exists {
				rec := frames.OCRRecord{FrameID: res.FrameID, Text: res.Text, Confidence: res.Confidence}
				if res.Language != "" {
					lang := res.Language
					rec.Language = &lang
				}
				s.ocrRecords[res.FrameID] = rec
			}
		} else {
			f.OCRText = nil
		}
		f.VisionStatus = frames.StatusOCRDone
	}

	return nil
}

// CompleteVisionBatch mirrors Repository.CompleteVisionBatch.
func (s *Store) CompleteVisionBatch(_ context.Context, results []frames.VisionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range results {
		f, ok := s.rows[res.FrameID]
		if !ok {
			return fmt.Errorf("unknown frame %s", res.FrameID)
		}

		if res.Err != "" {
			f.VisionStatus = frames.StatusError
			continue
		}

		summary := res.Summary
		f.VisionSummary = &summary
		f.VisionStatus = frames.StatusVisionDone
	}

	return nil
}
