package store

import (
	"context"
	"database/sql"
	"time"

	"music-cleanup/pkg/types"
)

const fileColumns = `id, absolute_path, content_hash, size_bytes, modified_time,
	fingerprint_id, metadata_id, quality_score, status, error_kind, created_at, updated_at`

func scanFile(row interface{ Scan(...interface{}) error }) (*types.File, error) {
	var f types.File
	var modified, created, updated string
	var fpID, mdID sql.NullInt64
	var score sql.NullFloat64
	err := row.Scan(&f.ID, &f.AbsolutePath, &f.ContentHash, &f.SizeBytes, &modified,
		&fpID, &mdID, &score, &f.Status, &f.ErrorKind, &created, &updated)
	if err != nil {
		return nil, err
	}
	f.ModifiedTime = parseTime(modified)
	f.CreatedAt = parseTime(created)
	f.UpdatedAt = parseTime(updated)
	if fpID.Valid {
		f.FingerprintID = &fpID.Int64
	}
	if mdID.Valid {
		f.MetadataID = &mdID.Int64
	}
	if score.Valid {
		f.QualityScore = &score.Float64
	}
	return &f, nil
}

// UpsertDiscovered inserts a newly discovered file, ignoring paths that are
// already known. It returns the row id and whether a new row was created.
func (s *Store) UpsertDiscovered(ctx context.Context, path string, size int64, modified time.Time) (int64, bool, error) {
	now := fmtTime(time.Now())
	res, err := s.execRetry(ctx, "upsert_discovered", `
		INSERT INTO files (absolute_path, size_bytes, modified_time, status, created_at, updated_at)
		VALUES (?, ?, ?, 'discovered', ?, ?)
		ON CONFLICT(absolute_path) DO NOTHING`,
		path, size, fmtTime(modified), now, now)
	if err != nil {
		return 0, false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, _ := res.LastInsertId()
		return id, true, nil
	}
	f, err := s.FileByPath(ctx, path)
	if err != nil {
		return 0, false, err
	}
	return f.ID, false, nil
}

// FileByPath looks a file up by its unique absolute path.
func (s *Store) FileByPath(ctx context.Context, path string) (*types.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE absolute_path = ?`, path)
	f, err := scanFile(row)
	if err != nil {
		return nil, classify("file_by_path", err)
	}
	return f, nil
}

// FileByID looks a file up by row id.
func (s *Store) FileByID(ctx context.Context, id int64) (*types.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, classify("file_by_id", err)
	}
	return f, nil
}

// FilesByStatus returns up to limit files in the given status with id >
// afterID, ordered by id. This is the batch cursor every phase reads with.
func (s *Store) FilesByStatus(ctx context.Context, status types.FileStatus, afterID int64, limit int) ([]*types.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE status = ? AND id > ?
		ORDER BY id
		LIMIT ?`, status, afterID, limit)
	if err != nil {
		return nil, classify("files_by_status", err)
	}
	defer rows.Close()

	var files []*types.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, classify("files_by_status", err)
		}
		files = append(files, f)
	}
	return files, classify("files_by_status", rows.Err())
}

// MarkAnalyzed records the analyzer results on the file row.
func (s *Store) MarkAnalyzed(ctx context.Context, fileID int64, contentHash string, fingerprintID, metadataID *int64, score float64) error {
	_, err := s.execRetry(ctx, "mark_analyzed", `
		UPDATE files
		SET content_hash = ?, fingerprint_id = ?, metadata_id = ?, quality_score = ?, status = 'analyzed', error_kind = ''
		WHERE id = ?`,
		contentHash, nullableID(fingerprintID), nullableID(metadataID), score, fileID)
	return err
}

// SetFileStatus transitions a file to the given status.
func (s *Store) SetFileStatus(ctx context.Context, fileID int64, status types.FileStatus) error {
	_, err := s.execRetry(ctx, "set_file_status", `UPDATE files SET status = ? WHERE id = ?`, status, fileID)
	return err
}

// MarkFailed transitions a file to failed with the recorded error kind.
func (s *Store) MarkFailed(ctx context.Context, fileID int64, errorKind string) error {
	_, err := s.execRetry(ctx, "mark_failed", `
		UPDATE files SET status = 'failed', error_kind = ? WHERE id = ?`, errorKind, fileID)
	return err
}

// UpdateFilePath rewrites a file's absolute path after a committed
// relocation; the row keeps its identity. A stale row already holding the
// destination path describes the same physical file (a re-discovered source
// from an earlier run) and is merged away, its dependents cascading.
func (s *Store) UpdateFilePath(ctx context.Context, fileID int64, newPath string) error {
	return s.InTx(ctx, "update_file_path", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM files WHERE absolute_path = ? AND id != ?`, newPath, fileID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE files SET absolute_path = ? WHERE id = ?`, newPath, fileID)
		return err
	})
}

// CountByStatus tallies files per status for checkpoints and the status
// endpoint.
func (s *Store) CountByStatus(ctx context.Context) (map[types.FileStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, classify("count_by_status", err)
	}
	defer rows.Close()

	counts := make(map[types.FileStatus]int64)
	for rows.Next() {
		var status types.FileStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classify("count_by_status", err)
		}
		counts[status] = n
	}
	return counts, classify("count_by_status", rows.Err())
}

// DeleteFile removes a file row; quality analyses, targets, members and
// rejection entries cascade.
func (s *Store) DeleteFile(ctx context.Context, fileID int64) error {
	_, err := s.execRetry(ctx, "delete_file", `DELETE FROM files WHERE id = ?`, fileID)
	return err
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
