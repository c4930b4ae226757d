package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/internal/store"
	"music-cleanup/pkg/types"
)

func testCheckpointer(t *testing.T, snapshot Snapshot) (*Checkpointer, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := store.Open(store.Options{WorkspaceDir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, logger, "run-1", time.Hour, snapshot), s
}

func TestForceWritesCheckpoint(t *testing.T) {
	c, _ := testCheckpointer(t, func() (string, int64, map[string]int64) {
		return types.PhaseAnalysis, 7, map[string]int64{"analyzed": 42}
	})
	ctx := context.Background()

	require.NoError(t, c.Force(ctx))

	cp, err := c.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, types.PhaseAnalysis, cp.Phase)
	assert.Equal(t, int64(7), cp.LastBatchID)
	assert.Equal(t, int64(42), cp.Counters["analyzed"])
}

func TestCheckpointRecordsOpenTransactions(t *testing.T) {
	c, s := testCheckpointer(t, func() (string, int64, map[string]int64) {
		return types.PhaseOrganization, 1, nil
	})
	ctx := context.Background()

	openID, err := s.CreateTransaction(ctx, "uuid-open", "pending work")
	require.NoError(t, err)
	committedID, err := s.CreateTransaction(ctx, "uuid-done", "done work")
	require.NoError(t, err)
	require.NoError(t, s.SetTransactionStatus(ctx, committedID, types.TxnCommitted))

	require.NoError(t, c.Force(ctx))

	cp, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{openID}, cp.OpenTransactionIDs)
}

func TestCheckpointIDsMonotonic(t *testing.T) {
	c, _ := testCheckpointer(t, func() (string, int64, map[string]int64) {
		return types.PhaseDiscovery, 0, nil
	})
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Force(ctx))
		cp, err := c.Latest(ctx)
		require.NoError(t, err)
		assert.Greater(t, cp.ID, last)
		last = cp.ID
	}
}

func TestNeedsRecovery(t *testing.T) {
	phase := types.PhaseAnalysis
	c, _ := testCheckpointer(t, func() (string, int64, map[string]int64) {
		return phase, 3, nil
	})
	ctx := context.Background()

	// Fresh workspace: nothing to recover.
	needed, cp, err := c.NeedsRecovery(ctx)
	require.NoError(t, err)
	assert.False(t, needed)
	assert.Nil(t, cp)

	// Mid-run checkpoint: recovery required.
	require.NoError(t, c.Force(ctx))
	needed, cp, err = c.NeedsRecovery(ctx)
	require.NoError(t, err)
	assert.True(t, needed)
	require.NotNil(t, cp)

	// Terminal checkpoint: clean.
	phase = types.PhaseDone
	require.NoError(t, c.Force(ctx))
	needed, _, err = c.NeedsRecovery(ctx)
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestPeriodicFlushStops(t *testing.T) {
	c, _ := testCheckpointer(t, func() (string, int64, map[string]int64) {
		return types.PhaseDiscovery, 0, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	c.Stop() // must not hang
}
