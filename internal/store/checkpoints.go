package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"music-cleanup/pkg/types"
)

// SaveCheckpoint appends a checkpoint row. Ids are monotonic; recovery
// always reads the maximum id.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) (int64, error) {
	counters, err := json.Marshal(cp.Counters)
	if err != nil {
		return 0, classify("save_checkpoint", err)
	}
	openTxns, err := json.Marshal(cp.OpenTransactionIDs)
	if err != nil {
		return 0, classify("save_checkpoint", err)
	}
	res, err := s.execRetry(ctx, "save_checkpoint", `
		INSERT INTO checkpoints (run_id, phase, last_batch_id, counters, open_transaction_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.RunID, cp.Phase, cp.LastBatchID, string(counters), string(openTxns), fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestCheckpoint returns the checkpoint with the maximum id, or nil when
// none exists yet.
func (s *Store) LatestCheckpoint(ctx context.Context) (*types.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, phase, last_batch_id, counters, open_transaction_ids, created_at
		FROM checkpoints ORDER BY id DESC LIMIT 1`)

	var cp types.Checkpoint
	var counters, openTxns, created string
	err := row.Scan(&cp.ID, &cp.RunID, &cp.Phase, &cp.LastBatchID, &counters, &openTxns, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("latest_checkpoint", err)
	}
	if err := json.Unmarshal([]byte(counters), &cp.Counters); err != nil {
		return nil, classify("latest_checkpoint", err)
	}
	if err := json.Unmarshal([]byte(openTxns), &cp.OpenTransactionIDs); err != nil {
		return nil, classify("latest_checkpoint", err)
	}
	cp.CreatedAt = parseTime(created)
	return &cp, nil
}
