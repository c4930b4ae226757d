package txn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/internal/hashutil"
	"music-cleanup/internal/store"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

type fixture struct {
	store *store.Store
	mgr   *Manager
	dir   string
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	s, err := store.Open(store.Options{WorkspaceDir: filepath.Join(dir, "workspace"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := Config{
		Store:         s,
		Logger:        logger,
		Integrity:     types.IntegrityChecksum,
		HashAlgorithm: "sha256",
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &fixture{store: s, mgr: NewManager(cfg), dir: dir}
}

func (f *fixture) writeFile(t *testing.T, rel, content string) (path, hash string) {
	t.Helper()
	path = filepath.Join(f.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	hash, err := hashutil.File(path, "sha256")
	require.NoError(t, err)
	return path, hash
}

func TestCopyCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "audio bytes")
	dst := filepath.Join(f.dir, "out/a.mp3")

	txn, err := f.mgr.Begin(ctx, "copy test")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionCopy, 0, src, dst, hash))
	require.NoError(t, txn.Commit(ctx))

	// Destination exists with identical content; source untouched.
	got, err := hashutil.File(dst, "sha256")
	require.NoError(t, err)
	assert.Equal(t, hash, got)
	_, err = os.Stat(src)
	assert.NoError(t, err)

	row, err := f.store.TransactionByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxnCommitted, row.Status)
	ops, err := f.store.OperationsForTransaction(ctx, txn.ID)
	require.NoError(t, err)
	for _, op := range ops {
		assert.Equal(t, types.OpCommitted, op.Status)
	}
}

func TestMoveIsCopyVerifyRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "audio bytes")
	dst := filepath.Join(f.dir, "out/a.mp3")

	txn, err := f.mgr.Begin(ctx, "move test")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionMove, 0, src, dst, hash))

	ops, err := f.store.OperationsForTransaction(ctx, txn.ID)
	require.NoError(t, err)
	kinds := []types.OperationKind{}
	for _, op := range ops {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []types.OperationKind{types.OpCreateDir, types.OpCopy, types.OpRemoveSource}, kinds)

	require.NoError(t, txn.Commit(ctx))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	got, err := hashutil.File(dst, "sha256")
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestRollbackRestoresMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "audio bytes")
	dst := filepath.Join(f.dir, "out/a.mp3")

	txn, err := f.mgr.Begin(ctx, "rollback test")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionMove, 0, src, dst, hash))
	require.NoError(t, txn.Commit(ctx))

	// Simulate a recovery-style rollback of a fresh move transaction.
	txn2, err := f.mgr.Begin(ctx, "second move")
	require.NoError(t, err)
	src2, hash2 := f.writeFile(t, "in/b.mp3", "other bytes")
	dst2 := filepath.Join(f.dir, "out/b.mp3")
	require.NoError(t, txn2.StageRelocation(ctx, types.ActionMove, 0, src2, impossibleDst(dst2), hash2))
	// Destination parent was never created: perform fails and rolls back.
	err = txn2.Commit(ctx)
	if err == nil {
		// The plan happened to be performable; roll it back explicitly to
		// exercise the reversal path.
		t.Fatalf("expected commit failure for uncreatable destination")
	}

	// Source is back in place, byte for byte.
	got, err := hashutil.File(src2, "sha256")
	require.NoError(t, err)
	assert.Equal(t, hash2, got)

	row, err := f.store.TransactionByID(ctx, txn2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxnRolledBack, row.Status)
}

// impossibleDst points the destination into a path whose parent is a regular
// file, which MkdirAll cannot create.
func impossibleDst(dst string) string {
	return filepath.Join(filepath.Dir(dst), "a.mp3", "impossible.mp3")
}

func TestProtectedPathRefused(t *testing.T) {
	protected := ""
	f := newFixture(t, func(c *Config) {
		protected = filepath.Join(os.TempDir(), "protected-root")
		c.ProtectedRoots = []string{protected}
	})
	ctx := context.Background()

	txn, err := f.mgr.Begin(ctx, "protected test")
	require.NoError(t, err)

	err = txn.Stage(ctx, &types.FileOperation{
		Kind:            types.OpCopy,
		SourcePath:      filepath.Join(protected, "song.mp3"),
		DestinationPath: filepath.Join(f.dir, "out/song.mp3"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsProtectedPath(err))

	err = txn.Stage(ctx, &types.FileOperation{
		Kind:            types.OpCopy,
		SourcePath:      filepath.Join(f.dir, "in/song.mp3"),
		DestinationPath: filepath.Join(protected, "out.mp3"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsProtectedPath(err))

	// Nothing was staged.
	ops, err := f.store.OperationsForTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestPrepareDetectsChangedSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "original bytes")
	dst := filepath.Join(f.dir, "out/a.mp3")

	txn, err := f.mgr.Begin(ctx, "integrity test")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionCopy, 0, src, dst, hash))

	// The source changes between staging and commit.
	require.NoError(t, os.WriteFile(src, []byte("tampered bytes"), 0o644))

	err = txn.Commit(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTxnPrepareFailed))

	// Prepare failed before anything performed: no destination appeared.
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCopyIsIdempotentWhenDestinationIdentical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "audio bytes")
	dst, _ := f.writeFile(t, "out/a.mp3", "audio bytes")

	txn, err := f.mgr.Begin(ctx, "idempotent test")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionCopy, 0, src, dst, hash))
	require.NoError(t, txn.Commit(ctx))
}

func TestDryRunLeavesOpsPending(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DryRun = true })
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "audio bytes")
	dst := filepath.Join(f.dir, "out/a.mp3")

	txn, err := f.mgr.Begin(ctx, "dry run")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionCopy, 0, src, dst, hash))
	require.NoError(t, txn.Commit(ctx))

	// No filesystem effect, rows remain pending for inspection.
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
	ops, err := f.store.OperationsForTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	for _, op := range ops {
		assert.Equal(t, types.OpPending, op.Status)
	}
}

func TestRecoverRollsBackInterrupted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src, hash := f.writeFile(t, "in/a.mp3", "audio bytes")
	dst := filepath.Join(f.dir, "out/a.mp3")

	// Simulate a crash after perform but before commit: perform the copy by
	// hand and leave the transaction open with a performed op.
	txn, err := f.mgr.Begin(ctx, "crash test")
	require.NoError(t, err)
	require.NoError(t, txn.StageRelocation(ctx, types.ActionCopy, 0, src, dst, hash))
	ops, err := f.store.OperationsForTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("audio bytes"), 0o644))
	for _, op := range ops {
		require.NoError(t, f.store.SetOperationStatus(ctx, op.ID, types.OpPerformed, ""))
	}

	rolledBack, err := f.mgr.Recover(ctx)
	require.NoError(t, err)
	assert.Contains(t, rolledBack, txn.ID)

	// The copied destination is gone, the source intact.
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
	got, err := hashutil.File(src, "sha256")
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	row, err := f.store.TransactionByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxnRolledBack, row.Status)
}
