// Package txn implements the atomic transaction manager. A transaction is a
// group of staged filesystem operations that either all reach their target
// state or none do; the intent log in the unified store is written before
// any byte moves, so a crash at any point leaves enough information to roll
// back.
//
// Protocol per transaction:
//
//	Begin → Stage* → Commit (prepare, perform in seq order, mark committed)
//	                 or Rollback (reverse performed ops in inverse order)
//
// A move is never a single operation: it is staged as copy + remove-source,
// and the remove-source step only performs after the copy has been
// hash-verified. Sources are never removed by a copy.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"music-cleanup/internal/store"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

// Manager creates and drives transactions. It is the sole writer to the
// target and rejected trees.
type Manager struct {
	store     *store.Store
	logger    *logrus.Logger
	tagWriter types.MetadataWriter

	protectedRoots []string
	integrity      types.IntegrityLevel
	hashAlgorithm  string
	dryRun         bool

	// performMu serializes perform phases; the manager is the single
	// writer to the output trees.
	performMu sync.Mutex
}

// Config configures the manager.
type Config struct {
	Store          *store.Store
	Logger         *logrus.Logger
	TagWriter      types.MetadataWriter
	ProtectedRoots []string
	Integrity      types.IntegrityLevel
	HashAlgorithm  string
	DryRun         bool
}

// NewManager builds a transaction manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Integrity == "" {
		cfg.Integrity = types.IntegrityChecksum
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = "sha256"
	}
	return &Manager{
		store:          cfg.Store,
		logger:         cfg.Logger,
		tagWriter:      cfg.TagWriter,
		protectedRoots: cfg.ProtectedRoots,
		integrity:      cfg.Integrity,
		hashAlgorithm:  cfg.HashAlgorithm,
		dryRun:         cfg.DryRun,
	}
}

// Txn is an open transaction accumulating staged operations.
type Txn struct {
	ID  int64
	mgr *Manager

	mu     sync.Mutex
	closed bool
}

// Begin creates a new open transaction.
func (m *Manager) Begin(ctx context.Context, reason string) (*Txn, error) {
	id, err := m.store.CreateTransaction(ctx, uuid.NewString(), reason)
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"component": "txn",
		"txn_id":    id,
		"reason":    reason,
	}).Debug("transaction opened")
	return &Txn{ID: id, mgr: m}, nil
}

// isProtected reports whether a path lies under any protected root.
func (m *Manager) isProtected(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range m.protectedRoots {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Stage appends one operation to the intent log. Operations under protected
// roots are refused outright: a protected path may never be the source of a
// non-read operation nor any destination.
func (t *Txn) Stage(ctx context.Context, op *types.FileOperation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return apperrors.TxnError(apperrors.CodeTxnClosed, "stage", "transaction is closed")
	}

	if op.Kind == types.OpMove {
		return apperrors.TxnError(apperrors.CodeTxnPrepareFailed, "stage",
			"move must be staged as copy + remove-source")
	}
	if op.Kind != types.OpCreateDir && t.mgr.isProtected(op.SourcePath) {
		return apperrors.New(apperrors.CodeProtectedPath, "txn", "stage",
			fmt.Sprintf("source %s is under a protected root", op.SourcePath)).
			WithSeverity(apperrors.SeverityCritical)
	}
	if op.DestinationPath != "" && t.mgr.isProtected(op.DestinationPath) {
		return apperrors.New(apperrors.CodeProtectedPath, "txn", "stage",
			fmt.Sprintf("destination %s is under a protected root", op.DestinationPath)).
			WithSeverity(apperrors.SeverityCritical)
	}

	op.TransactionID = t.ID
	op.Status = types.OpPending
	_, err := t.mgr.store.AppendOperation(ctx, op)
	return err
}

// StageRelocation stages the operations that place a file at dst according
// to the configured action: copy (one op), move (copy + remove-source), or
// link. A create-dir op for the destination directory is staged first. A
// fileID of 0 stages the operations without a file link.
func (t *Txn) StageRelocation(ctx context.Context, action types.DuplicateAction, fileID int64, src, dst, srcHash string) error {
	dir := filepath.Dir(dst)
	if err := t.Stage(ctx, &types.FileOperation{
		Kind:            types.OpCreateDir,
		SourcePath:      dir,
		DestinationPath: dir,
	}); err != nil {
		return err
	}

	var fid *int64
	if fileID != 0 {
		fid = &fileID
	}
	switch action {
	case types.ActionCopy:
		return t.Stage(ctx, &types.FileOperation{
			FileID:          fid,
			Kind:            types.OpCopy,
			SourcePath:      src,
			DestinationPath: dst,
			SourceHash:      srcHash,
		})
	case types.ActionMove:
		if err := t.Stage(ctx, &types.FileOperation{
			FileID:          fid,
			Kind:            types.OpCopy,
			SourcePath:      src,
			DestinationPath: dst,
			SourceHash:      srcHash,
		}); err != nil {
			return err
		}
		return t.Stage(ctx, &types.FileOperation{
			FileID:          fid,
			Kind:            types.OpRemoveSource,
			SourcePath:      src,
			DestinationPath: dst,
			SourceHash:      srcHash,
		})
	case types.ActionLink:
		return t.Stage(ctx, &types.FileOperation{
			FileID:          fid,
			Kind:            types.OpLink,
			SourcePath:      src,
			DestinationPath: dst,
			SourceHash:      srcHash,
		})
	default:
		return apperrors.TxnError(apperrors.CodeTxnPrepareFailed, "stage_relocation",
			fmt.Sprintf("unknown action %q", action))
	}
}

// StageTagWrite stages an in-place tag update performed via temp-plus-rename.
func (t *Txn) StageTagWrite(ctx context.Context, fileID int64, path string, tags map[string]string) error {
	payload, err := json.Marshal(tags)
	if err != nil {
		return apperrors.TxnError(apperrors.CodeTxnPrepareFailed, "stage_tag_write", "encode tags").Wrap(err)
	}
	fid := fileID
	return t.Stage(ctx, &types.FileOperation{
		FileID:          &fid,
		Kind:            types.OpWriteTag,
		SourcePath:      path,
		DestinationPath: path,
		Payload:         string(payload),
	})
}
