package txn

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

// Rollback reverses every performed operation of the transaction in inverse
// order and marks the transaction rolled back. Pending ops are simply marked
// rolled-back; the filesystem was never touched for them.
func (t *Txn) Rollback(ctx context.Context) error {
	t.mgr.performMu.Lock()
	defer t.mgr.performMu.Unlock()
	return t.rollbackLocked(ctx)
}

func (t *Txn) rollbackLocked(ctx context.Context) error {
	m := t.mgr
	if err := m.store.SetTransactionStatus(ctx, t.ID, types.TxnRollingBack); err != nil {
		return err
	}

	ops, err := m.store.OperationsForTransaction(ctx, t.ID)
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		switch op.Status {
		case types.OpPerformed, types.OpFailed:
			if err := m.reverse(op); err != nil && firstErr == nil {
				firstErr = err
				m.logger.WithFields(logrus.Fields{
					"component": "txn",
					"txn_id":    t.ID,
					"op":        op.Kind,
				}).WithError(err).Error("reverse failed during rollback")
			}
			m.store.SetOperationStatus(ctx, op.ID, types.OpRolledBack, op.Error)
		case types.OpPending:
			m.store.SetOperationStatus(ctx, op.ID, types.OpRolledBack, "")
		}
	}

	if err := m.store.SetTransactionStatus(ctx, t.ID, types.TxnRolledBack); err != nil && firstErr == nil {
		firstErr = err
	}
	t.close()

	m.logger.WithFields(logrus.Fields{
		"component": "txn",
		"txn_id":    t.ID,
	}).Warn("transaction rolled back")

	if firstErr != nil {
		return apperrors.TxnError(apperrors.CodeTxnRolledBack, "rollback", "rollback incomplete").Wrap(firstErr)
	}
	return nil
}

// reverse undoes one performed operation using its staged source and
// destination records.
func (m *Manager) reverse(op *types.FileOperation) error {
	switch op.Kind {
	case types.OpCreateDir:
		// Directories are left in place; removing them could race other
		// transactions sharing the tree.
		return nil

	case types.OpCopy, types.OpLink:
		if _, err := os.Stat(op.DestinationPath); os.IsNotExist(err) {
			return nil
		}
		return os.Remove(op.DestinationPath)

	case types.OpRename:
		if _, err := os.Stat(op.DestinationPath); os.IsNotExist(err) {
			return nil
		}
		return os.Rename(op.DestinationPath, op.SourcePath)

	case types.OpRemoveSource:
		// The copy that preceded this op still holds the bytes at the
		// destination; put them back.
		if _, err := os.Stat(op.SourcePath); err == nil {
			return nil
		}
		return copyFileAtomic(op.DestinationPath, op.SourcePath)

	case types.OpWriteTag:
		backup := tagBackupPath(op.SourcePath)
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			return fmt.Errorf("tag backup missing for %s", op.SourcePath)
		}
		return os.Rename(backup, op.SourcePath)

	default:
		return fmt.Errorf("unreversible operation kind %q", op.Kind)
	}
}

// Recover rolls back every transaction found in a non-terminal state. It is
// called once at startup before any new work begins; a transaction still
// open or committing after a crash must not stay half-applied.
func (m *Manager) Recover(ctx context.Context) ([]int64, error) {
	txns, err := m.store.TransactionsByStatus(ctx, types.TxnOpen, types.TxnCommitting, types.TxnRollingBack)
	if err != nil {
		return nil, err
	}

	var rolledBack []int64
	for _, txn := range txns {
		t := &Txn{ID: txn.ID, mgr: m}
		if err := t.Rollback(ctx); err != nil {
			return rolledBack, err
		}
		rolledBack = append(rolledBack, txn.ID)
		// Tag-write backups of committed work are cleaned by commit; any
		// leftovers here belonged to the rolled-back transaction and were
		// consumed by reverse.
	}

	if len(rolledBack) > 0 {
		m.logger.WithFields(logrus.Fields{
			"component":    "txn",
			"transactions": rolledBack,
		}).Warn("recovered interrupted transactions")
	}
	return rolledBack, nil
}

// CleanupTagBackups removes the write-tag backups of a committed
// transaction.
func (m *Manager) CleanupTagBackups(ctx context.Context, txnID int64) error {
	ops, err := m.store.OperationsForTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Kind == types.OpWriteTag && op.Status == types.OpCommitted {
			os.Remove(tagBackupPath(op.SourcePath))
		}
	}
	return nil
}
