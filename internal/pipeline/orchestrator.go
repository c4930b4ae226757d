// Package pipeline composes the engine: it owns the phase sequence
// Discovery → Analysis → Corruption-Filter → Grouping → Organization,
// drives the store in batches, writes phase-boundary checkpoints, routes
// errors, and coordinates shutdown.
package pipeline

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/analysis"
	"music-cleanup/internal/checkpoint"
	"music-cleanup/internal/discovery"
	"music-cleanup/internal/grouping"
	"music-cleanup/internal/metrics"
	"music-cleanup/internal/organize"
	"music-cleanup/internal/rejection"
	"music-cleanup/internal/store"
	"music-cleanup/internal/txn"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/monitoring"
	"music-cleanup/pkg/tracing"
	"music-cleanup/pkg/types"
)

// ExitCode distinguishes the engine's terminal states for the process exit.
type ExitCode int

const (
	ExitClean    ExitCode = 0
	ExitFatal    ExitCode = 1
	ExitPartial  ExitCode = 2 // completed with per-file failures
	ExitRollback ExitCode = 3
	ExitNoWork   ExitCode = 4
)

// Orchestrator wires and drives every component. All collaborators are
// injected at construction; their lifecycle is owned here.
type Orchestrator struct {
	cfg    *types.Config
	logger *logrus.Logger

	store     *store.Store
	metrics   *metrics.Metrics
	tracer    *tracing.Manager
	monitor   *monitoring.ResourceMonitor
	producer  *discovery.Producer
	analyzer  *analysis.Analyzer
	filter    *analysis.Filter
	grouper   *grouping.Grouper
	organizer *organize.Organizer
	manifest  *rejection.Manifest
	txnMgr    *txn.Manager
	ckpt      *checkpoint.Checkpointer

	runID string

	mu       sync.RWMutex
	phase    string
	batchID  int64
	counters types.PipelineCounters
}

// Deps carries the injected collaborators.
type Deps struct {
	Config    *types.Config
	Logger    *logrus.Logger
	Store     *store.Store
	Metrics   *metrics.Metrics
	Tracer    *tracing.Manager
	Monitor   *monitoring.ResourceMonitor
	Producer  *discovery.Producer
	Analyzer  *analysis.Analyzer
	Filter    *analysis.Filter
	Grouper   *grouping.Grouper
	Organizer *organize.Organizer
	Manifest  *rejection.Manifest
	TxnMgr    *txn.Manager
	RunID     string
}

// New builds the orchestrator and its checkpointer.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:       d.Config,
		logger:    d.Logger,
		store:     d.Store,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		monitor:   d.Monitor,
		producer:  d.Producer,
		analyzer:  d.Analyzer,
		filter:    d.Filter,
		grouper:   d.Grouper,
		organizer: d.Organizer,
		manifest:  d.Manifest,
		txnMgr:    d.TxnMgr,
		runID:     d.RunID,
		phase:     types.PhaseDiscovery,
	}
	o.ckpt = checkpoint.New(d.Store, d.Logger, d.RunID,
		secondsDuration(d.Config.Pipeline.CheckpointIntervalSec), o.snapshot)
	return o
}

// Snapshot for the checkpointer.
func (o *Orchestrator) snapshot() (string, int64, map[string]int64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase, o.batchID, o.counters.Map()
}

// Counters returns the live tally for the status endpoint.
func (o *Orchestrator) Counters() types.PipelineCounters {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.counters
}

// Phase returns the current phase name.
func (o *Orchestrator) Phase() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

func (o *Orchestrator) setPhase(phase string) {
	o.mu.Lock()
	prev := o.phase
	o.phase = phase
	o.mu.Unlock()
	o.metrics.PhaseGauge.WithLabelValues(prev).Set(0)
	o.metrics.PhaseGauge.WithLabelValues(phase).Set(1)
	o.logger.WithFields(logrus.Fields{
		"component": "pipeline",
		"phase":     phase,
	}).Info("phase started")
}

func (o *Orchestrator) nextBatch() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batchID++
	return o.batchID
}

func (o *Orchestrator) addCounters(f func(*types.PipelineCounters)) {
	o.mu.Lock()
	f(&o.counters)
	o.mu.Unlock()
}

// Run executes the full pipeline. The returned ExitCode is always valid,
// also on error.
func (o *Orchestrator) Run(ctx context.Context) (ExitCode, error) {
	// Roll back anything a previous crash left behind before new work.
	if _, err := o.txnMgr.Recover(ctx); err != nil {
		return ExitFatal, err
	}
	if needed, cp, err := o.ckpt.NeedsRecovery(ctx); err != nil {
		return ExitFatal, err
	} else if needed && cp != nil {
		o.mu.Lock()
		o.batchID = cp.LastBatchID
		o.counters = types.CountersFromMap(cp.Counters)
		o.mu.Unlock()
		o.logger.WithFields(logrus.Fields{
			"component":  "pipeline",
			"checkpoint": cp.ID,
			"phase":      cp.Phase,
			"last_batch": cp.LastBatchID,
		}).Info("resuming from checkpoint")
	}

	o.ckpt.Start(ctx)
	defer o.ckpt.Stop()
	o.monitor.Start(ctx)

	code, err := o.runPhases(ctx)

	// Whatever happened, persist the final position.
	o.setPhaseForExit(code, err)
	if cerr := o.ckpt.Force(context.Background()); cerr != nil {
		o.logger.WithError(cerr).Error("final checkpoint failed")
	}
	return code, err
}

func (o *Orchestrator) setPhaseForExit(code ExitCode, err error) {
	if err == nil && (code == ExitClean || code == ExitPartial || code == ExitNoWork) {
		o.mu.Lock()
		o.phase = types.PhaseDone
		o.mu.Unlock()
	}
}

func (o *Orchestrator) runPhases(ctx context.Context) (ExitCode, error) {
	var watchCancel context.CancelFunc
	if o.cfg.Discovery.Watch {
		var watchCtx context.Context
		watchCtx, watchCancel = context.WithCancel(ctx)
		go func() {
			if err := o.producer.Watch(watchCtx); err != nil {
				o.logger.WithError(err).Warn("discovery watch stopped")
			}
		}()
		defer watchCancel()
	}

	// The filter joins the stream only in the default ordering, and never
	// in dry-run: without status transitions the stream cannot tell fresh
	// batches from replays, so dry-run filters in the sequential sweep.
	includeFilter := !o.cfg.Filter.AfterFingerprint && !o.cfg.Pipeline.DryRun

	type step struct {
		name string
		run  func(context.Context) error
	}
	steps := []step{
		{types.PhaseDiscovery, func(c context.Context) error {
			return o.runStreamingStages(c, includeFilter)
		}},
	}
	if o.cfg.Filter.AfterFingerprint {
		// Alternate ordering: group the analyzed set first, then filter; the
		// filter prunes groups that contained corrupted members. Rules
		// unchanged, only the ordering moves.
		steps = append(steps,
			step{types.PhaseGrouping, func(c context.Context) error {
				return o.runGroupingPhase(c, types.StatusAnalyzed)
			}},
			step{types.PhaseFilter, o.runFilterSweep},
		)
	} else {
		// The sweep after the stream picks up rows an interrupted prior run
		// (or a dry-run stream) left in the analyzed status.
		steps = append(steps,
			step{types.PhaseFilter, o.runFilterSweep},
			step{types.PhaseGrouping, func(c context.Context) error {
				return o.runGroupingPhase(c, types.StatusHealthy)
			}},
		)
	}
	steps = append(steps, step{types.PhaseOrganization, o.runOrganization})

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return ExitClean, nil // controlled shutdown, checkpointed by caller
		}
		o.setPhase(st.name)
		stepCtx, span := o.tracer.StartPhase(ctx, st.name)
		err := st.run(stepCtx)
		span.End()
		if err != nil {
			if apperrors.IsCancelled(err) || ctx.Err() != nil {
				return ExitClean, nil
			}
			if apperrors.HasCode(err, apperrors.CodeStoreIO) || apperrors.IsIntegrity(err) {
				return ExitFatal, err
			}
			if apperrors.HasCode(err, apperrors.CodeTxnRolledBack) ||
				apperrors.HasCode(err, apperrors.CodeTxnPerformFailed) {
				return ExitRollback, err
			}
			return ExitFatal, err
		}
		if err := o.ckpt.BatchBoundary(ctx); err != nil {
			o.logger.WithError(err).Warn("phase-boundary checkpoint failed")
		}
	}

	if err := o.manifest.Export(ctx); err != nil {
		o.logger.WithError(err).Warn("manifest export failed")
	}

	c := o.Counters()
	switch {
	case c.Discovered == 0 && c.Analyzed == 0 && c.Organized == 0 && c.Rejected == 0:
		return ExitNoWork, nil
	case c.Failed > 0:
		return ExitPartial, nil
	default:
		return ExitClean, nil
	}
}
