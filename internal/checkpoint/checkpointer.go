// Package checkpoint makes pipeline progress recoverable. A checkpoint row
// is written at a configured interval and at every batch boundary, and a
// final one is forced when the process is asked to terminate. Recovery reads
// the row with the maximum id, rolls back any transactions it lists as open,
// and resumes the named phase after the last completed batch.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/store"
	"music-cleanup/pkg/types"
)

// Snapshot returns the current pipeline position. It is called from the
// checkpointer's flush goroutine and must be safe for concurrent use.
type Snapshot func() (phase string, lastBatchID int64, counters map[string]int64)

// Checkpointer periodically persists pipeline progress.
type Checkpointer struct {
	store    *store.Store
	logger   *logrus.Logger
	runID    string
	interval time.Duration
	snapshot Snapshot

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New builds a checkpointer. interval is the periodic flush cadence;
// boundary flushes happen regardless via BatchBoundary.
func New(s *store.Store, logger *logrus.Logger, runID string, interval time.Duration, snapshot Snapshot) *Checkpointer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Checkpointer{
		store:    s,
		logger:   logger,
		runID:    runID,
		interval: interval,
		snapshot: snapshot,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the periodic flush goroutine.
func (c *Checkpointer) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if err := c.Force(ctx); err != nil {
					c.logger.WithField("component", "checkpoint").WithError(err).Warn("periodic checkpoint failed")
				}
			}
		}
	}()
}

// Stop halts the periodic goroutine. It does not write; callers force a
// final checkpoint themselves so the write happens before teardown.
func (c *Checkpointer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
	c.started = false
}

// BatchBoundary writes a checkpoint at the end of a batch.
func (c *Checkpointer) BatchBoundary(ctx context.Context) error {
	return c.Force(ctx)
}

// Force writes a checkpoint immediately.
func (c *Checkpointer) Force(ctx context.Context) error {
	phase, lastBatch, counters := c.snapshot()

	open, err := c.store.TransactionsByStatus(ctx, types.TxnOpen, types.TxnCommitting)
	if err != nil {
		return err
	}
	openIDs := make([]int64, 0, len(open))
	for _, t := range open {
		openIDs = append(openIDs, t.ID)
	}

	id, err := c.store.SaveCheckpoint(ctx, &types.Checkpoint{
		RunID:              c.runID,
		Phase:              phase,
		LastBatchID:        lastBatch,
		Counters:           counters,
		OpenTransactionIDs: openIDs,
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"component":     "checkpoint",
		"checkpoint_id": id,
		"phase":         phase,
		"last_batch":    lastBatch,
	}).Debug("checkpoint written")
	return nil
}

// Latest returns the most recent checkpoint, or nil for a fresh workspace.
func (c *Checkpointer) Latest(ctx context.Context) (*types.Checkpoint, error) {
	return c.store.LatestCheckpoint(ctx)
}

// NeedsRecovery reports whether the previous run ended without reaching the
// done phase.
func (c *Checkpointer) NeedsRecovery(ctx context.Context) (bool, *types.Checkpoint, error) {
	cp, err := c.store.LatestCheckpoint(ctx)
	if err != nil {
		return false, nil, err
	}
	if cp == nil {
		return false, nil, nil
	}
	if cp.Phase == types.PhaseDone && len(cp.OpenTransactionIDs) == 0 {
		return false, cp, nil
	}
	return true, cp, nil
}
