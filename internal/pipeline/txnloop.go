package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/txn"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

// planBookkeeping is the store follow-up for one planned file, applied only
// after its transaction commits.
type planBookkeeping struct {
	fileID      int64
	destination string
	status      types.FileStatus
	rejection   *types.RejectionEntry
	target      *types.OrganizationTarget
}

// txnHandle is passed to the planning callback; the callback stages ops on
// txn and appends its bookkeeping to after.
type txnHandle struct {
	txn   *txn.Txn
	after []planBookkeeping
}

// withTxnRetry runs plan inside a fresh transaction, committing and then
// applying bookkeeping. A failed transaction is rolled back (by Commit
// itself) and the whole batch is retried up to the configured bound; the
// retry re-plans from scratch because conflict resolution may land
// differently after a partial perform.
func (o *Orchestrator) withTxnRetry(ctx context.Context, reason string, plan func(t *txnHandle) error, onSuccess func([]planBookkeeping)) error {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.Pipeline.MaxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.New(apperrors.CodeCancelled, "pipeline", "txn_retry", "cancelled").Wrap(err)
		}

		t, err := o.txnMgr.Begin(ctx, reason)
		if err != nil {
			return err
		}
		handle := &txnHandle{txn: t}
		if err := plan(handle); err != nil {
			t.Rollback(ctx)
			return err
		}
		lastErr = nil
		if err := o.commitAndRecord(ctx, t, handle); err != nil {
			lastErr = err
			o.metrics.TxnOutcomes.WithLabelValues("rolled-back").Inc()
			o.logger.WithFields(logrus.Fields{
				"component": "pipeline",
				"attempt":   attempt + 1,
				"reason":    reason,
			}).WithError(err).Warn("transaction failed")
			continue
		}
		o.metrics.TxnOutcomes.WithLabelValues("committed").Inc()
		if !o.cfg.Pipeline.DryRun && onSuccess != nil {
			onSuccess(handle.after)
		}
		return nil
	}
	return apperrors.TxnError(apperrors.CodeTxnRolledBack, "txn_retry", "retries exhausted").Wrap(lastErr)
}

func (o *Orchestrator) commitAndRecord(ctx context.Context, t *txn.Txn, handle *txnHandle) error {
	if err := t.Commit(ctx); err != nil {
		return err
	}
	if o.cfg.Pipeline.DryRun {
		// Plans stay pending in the operation log for inspection; no store
		// bookkeeping happens.
		return nil
	}

	if ops, err := o.store.OperationsForTransaction(ctx, t.ID); err == nil {
		for _, op := range ops {
			if op.Status == types.OpCommitted {
				o.metrics.OpsPerformed.WithLabelValues(string(op.Kind)).Inc()
			}
		}
	}

	for _, p := range handle.after {
		if p.target != nil {
			if err := o.store.SaveOrganizationTarget(ctx, p.target); err != nil {
				return err
			}
		}
		if p.destination != "" {
			if err := o.store.UpdateFilePath(ctx, p.fileID, p.destination); err != nil {
				return err
			}
		}
		if err := o.store.SetFileStatus(ctx, p.fileID, p.status); err != nil {
			return err
		}
		if p.rejection != nil {
			if _, err := o.store.AppendRejection(ctx, p.rejection); err != nil {
				return err
			}
		}
	}
	return o.txnMgr.CleanupTagBackups(ctx, t.ID)
}
