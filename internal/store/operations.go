package store

import (
	"context"
	"database/sql"
	"time"

	"music-cleanup/pkg/types"
)

// Transactions and the file-operation intent log. Operation rows are
// appended before anything touches the disk; within a transaction they
// perform in insertion (seq) order.

// CreateTransaction opens a new transaction row.
func (s *Store) CreateTransaction(ctx context.Context, uuid, reason string) (int64, error) {
	res, err := s.execRetry(ctx, "create_txn", `
		INSERT INTO transactions (uuid, status, reason, created_at)
		VALUES (?, 'open', ?, ?)`,
		uuid, reason, fmtTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TransactionByID loads a transaction row.
func (s *Store) TransactionByID(ctx context.Context, id int64) (*types.Transaction, error) {
	var t types.Transaction
	var created string
	var committed sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, status, reason, created_at, committed_at
		FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.UUID, &t.Status, &t.Reason, &created, &committed)
	if err != nil {
		return nil, classify("txn_by_id", err)
	}
	t.CreatedAt = parseTime(created)
	t.CommittedAt = parseNullableTime(committed)
	return &t, nil
}

// SetTransactionStatus advances the transaction state machine.
func (s *Store) SetTransactionStatus(ctx context.Context, id int64, status types.TxnStatus) error {
	var err error
	if status == types.TxnCommitted {
		_, err = s.execRetry(ctx, "set_txn_status", `
			UPDATE transactions SET status = ?, committed_at = ? WHERE id = ?`,
			status, fmtTime(time.Now()), id)
	} else {
		_, err = s.execRetry(ctx, "set_txn_status", `
			UPDATE transactions SET status = ? WHERE id = ?`, status, id)
	}
	return err
}

// TransactionsByStatus lists transactions in any of the given states.
func (s *Store) TransactionsByStatus(ctx context.Context, statuses ...types.TxnStatus) ([]*types.Transaction, error) {
	query := `SELECT id, uuid, status, reason, created_at, committed_at FROM transactions WHERE status IN (`
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = st
	}
	query += `) ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("txns_by_status", err)
	}
	defer rows.Close()

	var txns []*types.Transaction
	for rows.Next() {
		var t types.Transaction
		var created string
		var committed sql.NullString
		if err := rows.Scan(&t.ID, &t.UUID, &t.Status, &t.Reason, &created, &committed); err != nil {
			return nil, classify("txns_by_status", err)
		}
		t.CreatedAt = parseTime(created)
		t.CommittedAt = parseNullableTime(committed)
		txns = append(txns, &t)
	}
	return txns, classify("txns_by_status", rows.Err())
}

// AppendOperation stages one file operation at the end of a transaction's
// log and returns its id.
func (s *Store) AppendOperation(ctx context.Context, op *types.FileOperation) (int64, error) {
	var id int64
	err := s.InTx(ctx, "append_operation", func(tx *sql.Tx) error {
		var seq int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(seq), 0) + 1 FROM file_operations WHERE transaction_id = ?`,
			op.TransactionID).Scan(&seq); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO file_operations
				(file_id, transaction_id, kind, source_path, destination_path, source_hash, status, seq, payload)
			VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)`,
			nullableID(op.FileID), op.TransactionID, op.Kind, op.SourcePath, op.DestinationPath, op.SourceHash, seq, op.Payload)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		op.Seq = seq
		return err
	})
	return id, err
}

// OperationsForTransaction returns the operations of a transaction in seq
// order, the order they must perform in.
func (s *Store) OperationsForTransaction(ctx context.Context, txnID int64) ([]*types.FileOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, transaction_id, kind, source_path, destination_path, source_hash,
		       status, started_at, finished_at, error, seq, payload
		FROM file_operations
		WHERE transaction_id = ?
		ORDER BY seq`, txnID)
	if err != nil {
		return nil, classify("ops_for_txn", err)
	}
	defer rows.Close()

	var ops []*types.FileOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, classify("ops_for_txn", err)
		}
		ops = append(ops, op)
	}
	return ops, classify("ops_for_txn", rows.Err())
}

// OperationsForFile returns every operation that ever referenced a file.
func (s *Store) OperationsForFile(ctx context.Context, fileID int64) ([]*types.FileOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, transaction_id, kind, source_path, destination_path, source_hash,
		       status, started_at, finished_at, error, seq, payload
		FROM file_operations
		WHERE file_id = ?
		ORDER BY id`, fileID)
	if err != nil {
		return nil, classify("ops_for_file", err)
	}
	defer rows.Close()

	var ops []*types.FileOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, classify("ops_for_file", err)
		}
		ops = append(ops, op)
	}
	return ops, classify("ops_for_file", rows.Err())
}

func scanOperation(rows interface{ Scan(...interface{}) error }) (*types.FileOperation, error) {
	var op types.FileOperation
	var fileID sql.NullInt64
	var started, finished sql.NullString
	if err := rows.Scan(&op.ID, &fileID, &op.TransactionID, &op.Kind, &op.SourcePath, &op.DestinationPath,
		&op.SourceHash, &op.Status, &started, &finished, &op.Error, &op.Seq, &op.Payload); err != nil {
		return nil, err
	}
	if fileID.Valid {
		op.FileID = &fileID.Int64
	}
	op.StartedAt = parseNullableTime(started)
	op.FinishedAt = parseNullableTime(finished)
	return &op, nil
}

// MarkOperationStarted stamps the perform start time.
func (s *Store) MarkOperationStarted(ctx context.Context, opID int64) error {
	_, err := s.execRetry(ctx, "mark_op_started", `
		UPDATE file_operations SET started_at = ? WHERE id = ?`, fmtTime(time.Now()), opID)
	return err
}

// SetOperationStatus finishes an operation state transition, stamping
// finished_at for terminal states.
func (s *Store) SetOperationStatus(ctx context.Context, opID int64, status types.OperationStatus, opErr string) error {
	switch status {
	case types.OpPerformed, types.OpCommitted, types.OpRolledBack, types.OpFailed:
		_, err := s.execRetry(ctx, "set_op_status", `
			UPDATE file_operations SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			status, opErr, fmtTime(time.Now()), opID)
		return err
	default:
		_, err := s.execRetry(ctx, "set_op_status", `
			UPDATE file_operations SET status = ?, error = ? WHERE id = ?`, status, opErr, opID)
		return err
	}
}

// MarkTransactionOperations bulk-transitions every operation of a
// transaction currently in fromStatus.
func (s *Store) MarkTransactionOperations(ctx context.Context, txnID int64, from, to types.OperationStatus) error {
	_, err := s.execRetry(ctx, "mark_txn_ops", `
		UPDATE file_operations SET status = ?, finished_at = ?
		WHERE transaction_id = ? AND status = ?`,
		to, fmtTime(time.Now()), txnID, from)
	return err
}
