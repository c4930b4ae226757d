package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/hashutil"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

// Commit runs the two-phase commit: prepare every pending op, perform them
// in seq order, then mark the transaction committed. Any failure in prepare
// aborts before a byte moves; any failure in perform or commit rolls back.
//
// In dry-run mode prepare still runs but perform is short-circuited: the
// staged rows stay pending for inspection and the transaction is left open.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return apperrors.TxnError(apperrors.CodeTxnClosed, "commit", "transaction is closed")
	}
	t.mu.Unlock()

	m := t.mgr
	ops, err := m.store.OperationsForTransaction(ctx, t.ID)
	if err != nil {
		return err
	}

	if err := m.prepare(ctx, ops); err != nil {
		// Nothing has been performed; abort cleanly.
		m.store.MarkTransactionOperations(ctx, t.ID, types.OpPending, types.OpFailed)
		m.store.SetTransactionStatus(ctx, t.ID, types.TxnRolledBack)
		t.close()
		return apperrors.TxnError(apperrors.CodeTxnPrepareFailed, "commit", "prepare failed").Wrap(err)
	}

	if m.dryRun {
		m.logger.WithFields(logrus.Fields{
			"component": "txn",
			"txn_id":    t.ID,
			"ops":       len(ops),
		}).Info("dry-run: transaction planned but not performed")
		return nil
	}

	m.performMu.Lock()
	defer m.performMu.Unlock()

	for _, op := range ops {
		if op.Status != types.OpPending {
			continue
		}
		select {
		case <-ctx.Done():
			t.rollbackLocked(ctx)
			return apperrors.New(apperrors.CodeCancelled, "txn", "commit", "cancelled mid-transaction").Wrap(ctx.Err())
		default:
		}

		m.store.MarkOperationStarted(ctx, op.ID)
		if err := m.perform(op); err != nil {
			m.store.SetOperationStatus(ctx, op.ID, types.OpFailed, err.Error())
			m.logger.WithFields(logrus.Fields{
				"component": "txn",
				"txn_id":    t.ID,
				"op":        op.Kind,
				"source":    op.SourcePath,
			}).WithError(err).Error("operation failed, rolling back transaction")
			t.rollbackLocked(ctx)
			return apperrors.TxnError(apperrors.CodeTxnPerformFailed, "commit", "perform failed").Wrap(err)
		}
		if err := m.store.SetOperationStatus(ctx, op.ID, types.OpPerformed, ""); err != nil {
			t.rollbackLocked(ctx)
			return err
		}
	}

	if err := m.store.SetTransactionStatus(ctx, t.ID, types.TxnCommitting); err != nil {
		t.rollbackLocked(ctx)
		return apperrors.TxnError(apperrors.CodeTxnCommitFailed, "commit", "enter committing").Wrap(err)
	}
	if err := m.store.MarkTransactionOperations(ctx, t.ID, types.OpPerformed, types.OpCommitted); err != nil {
		t.rollbackLocked(ctx)
		return apperrors.TxnError(apperrors.CodeTxnCommitFailed, "commit", "mark ops committed").Wrap(err)
	}
	if err := m.store.SetTransactionStatus(ctx, t.ID, types.TxnCommitted); err != nil {
		return apperrors.TxnError(apperrors.CodeTxnCommitFailed, "commit", "mark committed").Wrap(err)
	}

	t.close()
	m.logger.WithFields(logrus.Fields{
		"component": "txn",
		"txn_id":    t.ID,
		"ops":       len(ops),
	}).Info("transaction committed")
	return nil
}

func (t *Txn) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// prepare verifies every pending op is still performable: sources exist and
// still hash to their staged value, destinations are creatable, and an
// existing destination is only tolerated when it already carries the same
// content (the idempotent skip case).
func (m *Manager) prepare(ctx context.Context, ops []*types.FileOperation) error {
	// Paths an earlier op of this transaction will have created by the time
	// a later op performs.
	producedEarlier := make(map[string]bool)
	for _, op := range ops {
		if op.Status != types.OpPending {
			continue
		}
		switch op.Kind {
		case types.OpCreateDir:
			// Nothing to verify; MkdirAll is idempotent.
		case types.OpCopy, types.OpLink, types.OpRename:
			info, err := os.Stat(op.SourcePath)
			if err != nil {
				return fmt.Errorf("source missing: %s: %w", op.SourcePath, err)
			}
			if info.IsDir() {
				return fmt.Errorf("source is a directory: %s", op.SourcePath)
			}
			if err := m.verifySourceHash(op); err != nil {
				return err
			}
			if _, err := os.Stat(op.DestinationPath); err == nil {
				same, herr := m.sameContent(op.DestinationPath, op.SourceHash)
				if herr != nil {
					return herr
				}
				if !same {
					return fmt.Errorf("destination exists with different content: %s", op.DestinationPath)
				}
			}
		case types.OpRemoveSource:
			if _, err := os.Stat(op.SourcePath); err != nil {
				return fmt.Errorf("remove-source: source missing: %s: %w", op.SourcePath, err)
			}
		case types.OpWriteTag:
			if _, err := os.Stat(op.SourcePath); err != nil && !producedEarlier[op.SourcePath] {
				return fmt.Errorf("write-tag: file missing: %s: %w", op.SourcePath, err)
			}
		}
		if op.DestinationPath != "" {
			producedEarlier[op.DestinationPath] = true
		}
	}
	return nil
}

// verifySourceHash re-hashes the source when the integrity level demands it.
func (m *Manager) verifySourceHash(op *types.FileOperation) error {
	if op.SourceHash == "" || m.integrity == types.IntegrityBasic {
		return nil
	}
	got, err := hashutil.File(op.SourcePath, m.hashAlgorithm)
	if err != nil {
		return fmt.Errorf("hash source %s: %w", op.SourcePath, err)
	}
	if got != op.SourceHash {
		return apperrors.New(apperrors.CodeIntegrityMismatch, "txn", "prepare",
			fmt.Sprintf("source %s changed since staging", op.SourcePath))
	}
	return nil
}

func (m *Manager) sameContent(path, wantHash string) (bool, error) {
	if wantHash == "" {
		return false, nil
	}
	got, err := hashutil.File(path, m.hashAlgorithm)
	if err != nil {
		return false, err
	}
	return got == wantHash, nil
}

// perform executes one operation against the filesystem.
func (m *Manager) perform(op *types.FileOperation) error {
	switch op.Kind {
	case types.OpCreateDir:
		return os.MkdirAll(op.DestinationPath, 0o755)

	case types.OpCopy:
		if _, err := os.Stat(op.DestinationPath); err == nil {
			same, herr := m.sameContent(op.DestinationPath, op.SourceHash)
			if herr != nil {
				return herr
			}
			if same {
				// Idempotent: the destination already holds this content.
				return nil
			}
			return fmt.Errorf("destination exists with different content: %s", op.DestinationPath)
		}
		if err := copyFileAtomic(op.SourcePath, op.DestinationPath); err != nil {
			return err
		}
		if m.integrity == types.IntegrityChecksum || m.integrity == types.IntegrityDeep || m.integrity == types.IntegrityParanoid {
			same, err := m.sameContent(op.DestinationPath, op.SourceHash)
			if err != nil {
				return err
			}
			if op.SourceHash != "" && !same {
				os.Remove(op.DestinationPath)
				return apperrors.New(apperrors.CodeIntegrityMismatch, "txn", "perform",
					fmt.Sprintf("hash mismatch after copy to %s", op.DestinationPath))
			}
		}
		return nil

	case types.OpRemoveSource:
		// Only remove the source after the copied destination verifies.
		same, err := m.sameContent(op.DestinationPath, op.SourceHash)
		if err != nil {
			return err
		}
		if op.SourceHash != "" && !same {
			return apperrors.New(apperrors.CodeIntegrityMismatch, "txn", "perform",
				fmt.Sprintf("refusing to remove %s: destination does not verify", op.SourcePath))
		}
		return os.Remove(op.SourcePath)

	case types.OpRename:
		return os.Rename(op.SourcePath, op.DestinationPath)

	case types.OpLink:
		return os.Link(op.SourcePath, op.DestinationPath)

	case types.OpWriteTag:
		return m.performTagWrite(op)

	default:
		return fmt.Errorf("unperformable operation kind %q", op.Kind)
	}
}

// performTagWrite backs the file up next to itself, then lets the metadata
// writer do its temp-plus-rename write. The backup makes the op reversible;
// it is removed when the enclosing transaction commits.
func (m *Manager) performTagWrite(op *types.FileOperation) error {
	if m.tagWriter == nil {
		return fmt.Errorf("no metadata writer configured")
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(op.Payload), &tags); err != nil {
		return fmt.Errorf("decode tag payload: %w", err)
	}
	if err := copyFileAtomic(op.SourcePath, tagBackupPath(op.SourcePath)); err != nil {
		return fmt.Errorf("backup before tag write: %w", err)
	}
	if err := m.tagWriter.Write(context.Background(), op.SourcePath, tags); err != nil {
		os.Remove(tagBackupPath(op.SourcePath))
		return err
	}
	return nil
}

func tagBackupPath(path string) string {
	return path + ".tagbak"
}

// copyFileAtomic copies src to a sibling temp path on the destination
// filesystem, fsyncs it, then renames it into place.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	// Best effort: sync the directory so the rename survives a crash.
	if dir, err := os.Open(filepath.Dir(dst)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
