package rejection

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/internal/hashutil"
	"music-cleanup/internal/store"
	"music-cleanup/internal/txn"
	"music-cleanup/pkg/types"
)

func testManifest(t *testing.T) (*Manifest, *store.Store, *txn.Manager, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	s, err := store.Open(store.Options{WorkspaceDir: filepath.Join(dir, "workspace"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rejectedRoot := filepath.Join(dir, "rejected")
	mgr := txn.NewManager(txn.Config{Store: s, Logger: logger, HashAlgorithm: "sha256"})
	return New(s, logger, rejectedRoot), s, mgr, dir
}

func TestExportWritesBothSidecars(t *testing.T) {
	m, s, _, dir := testManifest(t)
	ctx := context.Background()

	id, _, err := s.UpsertDiscovered(ctx, filepath.Join(dir, "in/a.mp3"), 100, time.Now())
	require.NoError(t, err)
	_, err = s.AppendRejection(ctx, &types.RejectionEntry{
		FileID:       id,
		Category:     types.RejectDuplicate,
		OriginalPath: filepath.Join(dir, "in/a.mp3"),
		RejectedPath: filepath.Join(dir, "rejected/duplicates/a_duplicate_2.mp3"),
		ReasonText:   "duplicate of better copy",
		QualityScore: 61.5,
		ContentHash:  "H1",
	})
	require.NoError(t, err)

	require.NoError(t, m.Export(ctx))

	// JSON sidecar round-trips.
	raw, err := os.ReadFile(filepath.Join(dir, "rejected", "rejected_manifest.json"))
	require.NoError(t, err)
	var entries []types.RejectionEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, types.RejectDuplicate, entries[0].Category)

	// CSV sidecar has a header plus one row.
	f, err := os.Open(filepath.Join(dir, "rejected", "rejection_analysis.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "category", rows[0][2])
	assert.Equal(t, "duplicate", rows[1][2])
}

func TestExportIsIdempotent(t *testing.T) {
	m, s, _, dir := testManifest(t)
	ctx := context.Background()

	id, _, err := s.UpsertDiscovered(ctx, filepath.Join(dir, "in/a.mp3"), 100, time.Now())
	require.NoError(t, err)
	_, err = s.AppendRejection(ctx, &types.RejectionEntry{
		FileID: id, Category: types.RejectCorrupted,
		RejectedPath: "/r/corrupted/a.mp3", ContentHash: "H1",
	})
	require.NoError(t, err)

	require.NoError(t, m.Export(ctx))
	first, err := os.ReadFile(filepath.Join(dir, "rejected", "rejected_manifest.json"))
	require.NoError(t, err)

	require.NoError(t, m.Export(ctx))
	second, err := os.ReadFile(filepath.Join(dir, "rejected", "rejected_manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRestoreRoundTrip(t *testing.T) {
	m, s, mgr, dir := testManifest(t)
	ctx := context.Background()

	// A rejected file sitting in the rejected tree.
	original := filepath.Join(dir, "in/a.mp3")
	rejected := filepath.Join(dir, "rejected/duplicates/a_duplicate_2.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(rejected), 0o755))
	require.NoError(t, os.WriteFile(rejected, []byte("audio bytes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(original), 0o755))
	hash, err := hashutil.File(rejected, "sha256")
	require.NoError(t, err)

	fileID, _, err := s.UpsertDiscovered(ctx, rejected, 11, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.SetFileStatus(ctx, fileID, types.StatusRejected))
	entryID, err := s.AppendRejection(ctx, &types.RejectionEntry{
		FileID:       fileID,
		Category:     types.RejectDuplicate,
		OriginalPath: original,
		RejectedPath: rejected,
		ContentHash:  hash,
	})
	require.NoError(t, err)

	require.NoError(t, m.Restore(ctx, mgr, entryID))

	// Restoration yields the same hash at the original path.
	got, err := hashutil.File(original, "sha256")
	require.NoError(t, err)
	assert.Equal(t, hash, got)
	_, err = os.Stat(rejected)
	assert.True(t, os.IsNotExist(err))

	// The audit entry is gone and the file row points home again.
	entries, err := s.AllRejections(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	f, err := s.FileByID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, original, f.AbsolutePath)
	assert.Equal(t, types.StatusAnalyzed, f.Status)
}
