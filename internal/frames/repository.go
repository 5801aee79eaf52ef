package frames

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles database operations for the frames pipeline
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new frames repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ClaimFrames atomically reserves up to limit frames in status from, moving
// them to status claimed. The select-lock-update runs in a single transaction
// with FOR UPDATE SKIP LOCKED so concurrent workers never claim the same row.
// After commit the returned frames are exclusively owned by the caller: no
// other worker will select them because their status is no longer from.
//
// Rows are claimed oldest-first; identical captured_at values tie-break on id
// so the order is deterministic within a query.
func (r *Repository) ClaimFrames(ctx context.Context, from, claimed Status, limit int) ([]*Frame, error) {
	if !CanTransition(from, claimed) {
		return nil, fmt.Errorf("claim %s -> %s is not an allowed transition", from, claimed)
	}
	if limit <= 0 {
		return nil, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, captured_at, image_ref, window_title, app_name,
		       ocr_text, has_text, vision_summary, vision_status
		FROM frames
		WHERE vision_status = $1
		ORDER BY captured_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, claimStatus(from), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable frames: %w", err)
	}

	claimedFrames, err := scanFrames(rows)
	if err != nil {
		return nil, err
	}

	if len(claimedFrames) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]uuid.UUID, len(claimedFrames))
	for i, f := range claimedFrames {
		ids[i] = f.ID
	}

	_, err = tx.Exec(ctx, `
		UPDATE frames
		SET vision_status = $1, claimed_at = NOW()
		WHERE id = ANY($2)
	`, claimStatus(claimed), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to mark frames as claimed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	for _, f := range claimedFrames {
		f.VisionStatus = claimed
	}

	return claimedFrames, nil
}

// CompleteOCRBatch commits the outcomes of one OCR cycle in a single
// transaction. Each result either advances its frame to StatusOCRDone (setting
// ocr_text and has_text exactly once) or records StatusError. Frames whose
// extracted text is shorter than minTextLength store NULL text and no ocr_text
// row but still advance: "no text" is a successful outcome.
func (r *Repository) CompleteOCRBatch(ctx context.Context, results []OCRResult, minTextLength int) error {
	if len(results) == 0 {
		return nil
	}
	if minTextLength < 1 {
		minTextLength = 1
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, res := range results {
			if res.Err != "" {
				if err := markError(ctx, tx, res.FrameID); err != nil {
					return err
				}
				continue
			}

			hasText := len(strings.TrimSpace(res.Text)) >= minTextLength

			var text *string
			if hasText {
				text = &res.Text
			}

			_, err := tx.Exec(ctx, `
				UPDATE frames
				SET ocr_text = $1, has_text = $2, vision_status = $3, claimed_at = NULL
				WHERE id = $4
			`, text, hasText, claimStatus(StatusOCRDone), res.FrameID)
			if err != nil {
				return fmt.Errorf("failed to store OCR result for frame %s: %w", res.FrameID, err)
			}

			if hasText {
				var lang *string
				if res.Language != "" {
					lang = &res.Language
				}
				_, err = tx.Exec(ctx, `
					INSERT INTO ocr_text (frame_id, text, confidence, language)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT DO NOTHING
				`, res.FrameID, res.Text, res.Confidence, lang)
				if err != nil {
					return fmt.Errorf("failed to insert ocr_text record for frame %s: %w", res.FrameID, err)
				}
			}
		}
		return nil
	})
}

// CompleteVisionBatch commits the outcomes of one vision cycle in a single
// transaction. Each result either advances its frame to StatusVisionDone with
// its summary or records StatusError.
func (r *Repository) CompleteVisionBatch(ctx context.Context, results []VisionResult) error {
	if len(results) == 0 {
		return nil
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, res := range results {
			if res.Err != "" {
				if err := markError(ctx, tx, res.FrameID); err != nil {
					return err
				}
				continue
			}

			_, err := tx.Exec(ctx, `
				UPDATE frames
				SET vision_summary = $1, vision_status = $2, claimed_at = NULL
				WHERE id = $3
			`, res.Summary, claimStatus(StatusVisionDone), res.FrameID)
			if err != nil {
				return fmt.Errorf("failed to store vision result for frame %s: %w", res.FrameID, err)
			}
		}
		return nil
	})
}

// RecoverStranded resets frames stuck in the given processing status back to
// that stage's input status. Only rows claimed longer than olderThan ago are
// touched, so an operator can run this while live workers hold fresh claims.
// Safe because every pipeline mutation is idempotent: a recovered frame is
// simply re-claimed and re-processed. Returns the number of rows reset.
func (r *Repository) RecoverStranded(ctx context.Context, processing Status, olderThan time.Duration) (int64, error) {
	var input Status
	switch processing {
	case StatusOCRProcessing:
		input = StatusPending
	case StatusVisionProcessing:
		input = StatusOCRDone
	default:
		return 0, fmt.Errorf("cannot recover frames in status %s: not a processing state", processing)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE frames
		SET vision_status = $1, claimed_at = NULL
		WHERE vision_status = $2
		  AND claimed_at IS NOT NULL
		  AND claimed_at < NOW() - $3::interval
	`, claimStatus(input), claimStatus(processing), fmt.Sprintf("%f seconds", olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stranded frames: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountByStatus returns the number of frames in the given status, used by the
// readiness probe and by operators inspecting queue depth.
func (r *Repository) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM frames WHERE vision_status = $1`, claimStatus(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count frames in status %s: %w", status, err)
	}
	return count, nil
}

// Ping verifies database connectivity for readiness checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func markError(ctx context.Context, tx pgx.Tx, frameID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE frames
		SET vision_status = $1, claimed_at = NULL
		WHERE id = $2
	`, claimStatus(StatusError), frameID)
	if err != nil {
		return fmt.Errorf("failed to mark frame %s as error: %w", frameID, err)
	}
	return nil
}

// claimStatus narrows a Status to the raw integer stored in vision_status.
func claimStatus(s Status) int {
	return int(s)
}

func scanFrames(rows pgx.Rows) ([]*Frame, error) {
	defer rows.Close()

	var result []*Frame
	for rows.Next() {
		f := &Frame{}
		var status int
		if err := rows.Scan(
			&f.ID, &f.CapturedAt, &f.ImageRef, &f.WindowTitle, &f.AppName,
			&f.OCRText, &f.HasText, &f.VisionSummary, &status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		f.VisionStatus = Status(status)
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimable frames: %w", err)
	}
	return result, nil
}
