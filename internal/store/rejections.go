package store

import (
	"context"
	"database/sql"
	"time"

	"music-cleanup/pkg/types"
)

// AppendRejection writes one line of the append-only rejection audit trail.
func (s *Store) AppendRejection(ctx context.Context, r *types.RejectionEntry) (int64, error) {
	res, err := s.execRetry(ctx, "append_rejection", `
		INSERT INTO rejection_entries
			(file_id, category, chosen_file_id, group_id, original_path, rejected_path,
			 reason_text, quality_score, content_hash, rejected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FileID, r.Category, nullableID(r.ChosenFileID), nullableID(r.GroupID),
		r.OriginalPath, r.RejectedPath, r.ReasonText, r.QualityScore, r.ContentHash,
		fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RejectionByID loads one rejection entry.
func (s *Store) RejectionByID(ctx context.Context, id int64) (*types.RejectionEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_id, category, chosen_file_id, group_id, original_path, rejected_path,
		       reason_text, quality_score, content_hash, rejected_at
		FROM rejection_entries WHERE id = ?`, id)
	r, err := scanRejection(row)
	if err != nil {
		return nil, classify("rejection_by_id", err)
	}
	return r, nil
}

// AllRejections returns the full audit trail ordered by id, for manifest
// export.
func (s *Store) AllRejections(ctx context.Context) ([]*types.RejectionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, category, chosen_file_id, group_id, original_path, rejected_path,
		       reason_text, quality_score, content_hash, rejected_at
		FROM rejection_entries ORDER BY id`)
	if err != nil {
		return nil, classify("all_rejections", err)
	}
	defer rows.Close()

	var entries []*types.RejectionEntry
	for rows.Next() {
		r, err := scanRejection(rows)
		if err != nil {
			return nil, classify("all_rejections", err)
		}
		entries = append(entries, r)
	}
	return entries, classify("all_rejections", rows.Err())
}

// DeleteRejection removes an audit entry after a successful restore.
func (s *Store) DeleteRejection(ctx context.Context, id int64) error {
	_, err := s.execRetry(ctx, "delete_rejection", `DELETE FROM rejection_entries WHERE id = ?`, id)
	return err
}

func scanRejection(row interface{ Scan(...interface{}) error }) (*types.RejectionEntry, error) {
	var r types.RejectionEntry
	var chosen, group sql.NullInt64
	var rejectedAt string
	err := row.Scan(&r.ID, &r.FileID, &r.Category, &chosen, &group, &r.OriginalPath, &r.RejectedPath,
		&r.ReasonText, &r.QualityScore, &r.ContentHash, &rejectedAt)
	if err != nil {
		return nil, err
	}
	if chosen.Valid {
		r.ChosenFileID = &chosen.Int64
	}
	if group.Valid {
		r.GroupID = &group.Int64
	}
	r.RejectedAt = parseTime(rejectedAt)
	return &r, nil
}

// EnqueueReview parks a file in the needs-review queue. Idempotent per file.
func (s *Store) EnqueueReview(ctx context.Context, fileID int64, reason types.ReviewReason, details string) error {
	_, err := s.execRetry(ctx, "enqueue_review", `
		INSERT INTO review_queue (file_id, reason, details, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET reason = excluded.reason, details = excluded.details`,
		fileID, reason, details, fmtTime(time.Now()))
	return err
}

// ReviewQueue lists everything waiting for the operator.
func (s *Store) ReviewQueue(ctx context.Context) ([]*types.ReviewQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, reason, details, created_at FROM review_queue ORDER BY id`)
	if err != nil {
		return nil, classify("review_queue", err)
	}
	defer rows.Close()

	var entries []*types.ReviewQueueEntry
	for rows.Next() {
		var e types.ReviewQueueEntry
		var created string
		if err := rows.Scan(&e.ID, &e.FileID, &e.Reason, &e.Details, &created); err != nil {
			return nil, classify("review_queue", err)
		}
		e.CreatedAt = parseTime(created)
		entries = append(entries, &e)
	}
	return entries, classify("review_queue", rows.Err())
}
