package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
)

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// runDiscovery walks the source roots once. Restartability comes from the
// upsert: already-known paths are counted but not re-created.
func (o *Orchestrator) runDiscovery(ctx context.Context) error {
	res, err := o.producer.Run(ctx)
	if err != nil {
		return err
	}
	o.addCounters(func(c *types.PipelineCounters) { c.Discovered += res.Discovered })
	o.metrics.FilesProcessed.WithLabelValues(types.PhaseDiscovery, "discovered").Add(float64(res.Discovered))
	o.metrics.FilesProcessed.WithLabelValues(types.PhaseDiscovery, "skipped").Add(float64(res.Skipped))
	return nil
}

// runFilterSweep walks whatever still sits in the analyzed status and
// filters it batch by batch. In the default ordering the streaming filter
// stage has usually emptied that set already and the sweep is a no-op; it
// exists for resume after an interruption, for dry-run, and for the
// filter-after-grouping ordering where it is the only filter pass. The
// quarantine relocations for each batch run as one transaction.
func (o *Orchestrator) runFilterSweep(ctx context.Context) error {
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		files, err := o.store.FilesByStatus(ctx, types.StatusAnalyzed, afterID, o.cfg.Pipeline.BatchSize)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		// In dry-run the quarantine bookkeeping never lands, so the cursor
		// is what moves the phase forward.
		afterID = files[len(files)-1].ID

		batchID := o.nextBatch()
		batchCtx, span := o.tracer.StartBatch(ctx, types.PhaseFilter, batchID, len(files))
		err = o.filterBatch(batchCtx, files)
		span.End()
		if err != nil {
			return err
		}
		if err := o.ckpt.BatchBoundary(ctx); err != nil {
			o.logger.WithError(err).Warn("batch checkpoint failed")
		}
	}
}

func (o *Orchestrator) filterBatch(ctx context.Context, files []*types.File) error {
	start := time.Now()
	defer func() {
		o.metrics.BatchDuration.WithLabelValues(types.PhaseFilter).Observe(time.Since(start).Seconds())
	}()

	type quarantined struct {
		file   *types.File
		reason string
	}
	var healthy []*types.File
	var bad []quarantined

	for _, f := range files {
		qa, err := o.store.QualityByFileID(ctx, f.ID)
		if err != nil {
			o.store.MarkFailed(ctx, f.ID, apperrors.CodeDefectFailed)
			o.addCounters(func(c *types.PipelineCounters) { c.Failed++ })
			continue
		}
		duration := 0.0
		if f.FingerprintID != nil {
			if fp, err := o.store.FingerprintByID(ctx, *f.FingerprintID); err == nil {
				duration = fp.DurationSec
			}
		}
		verdict := o.filter.Evaluate(qa, duration)
		if verdict.Healthy {
			healthy = append(healthy, f)
		} else {
			bad = append(bad, quarantined{file: f, reason: verdict.Reason})
		}
	}

	for _, f := range healthy {
		if err := o.store.SetFileStatus(ctx, f.ID, types.StatusHealthy); err != nil {
			return err
		}
		o.addCounters(func(c *types.PipelineCounters) { c.Healthy++ })
		o.metrics.FilesProcessed.WithLabelValues(types.PhaseFilter, "healthy").Inc()
	}

	if len(bad) == 0 {
		return nil
	}

	// If the alternate ordering grouped first, corrupted members invalidate
	// their groups: the group is dropped and survivors regroup organically
	// on the next run of the phase.
	if o.cfg.Filter.AfterFingerprint {
		for _, q := range bad {
			group, err := o.store.GroupForFile(ctx, q.file.ID)
			if err != nil {
				return err
			}
			if group != nil {
				if err := o.store.DeleteGroup(ctx, group.ID); err != nil {
					return err
				}
			}
		}
	}

	return o.withTxnRetry(ctx, "quarantine batch", func(t *txnHandle) error {
		var plans []planBookkeeping
		for _, q := range bad {
			plan, err := o.organizer.PlanQuarantine(ctx, t.txn, q.file, q.reason, o.cfg.Filter.QuarantineCopy)
			if err != nil {
				return err
			}
			plans = append(plans, planBookkeeping{
				fileID:      plan.FileID,
				destination: plan.Destination,
				status:      types.StatusQuarantined,
				rejection:   plan.Rejection,
			})
		}
		t.after = plans
		return nil
	}, func(plans []planBookkeeping) {
		o.addCounters(func(c *types.PipelineCounters) { c.Quarantined += int64(len(plans)) })
		for range plans {
			o.metrics.FilesProcessed.WithLabelValues(types.PhaseFilter, "quarantined").Inc()
			o.metrics.Rejections.WithLabelValues(string(types.RejectCorrupted)).Inc()
		}
	})
}

// runGroupingPhase forms duplicate groups over the complete set in the
// given status. This is a barrier: unions are only final once every member
// has been seen.
func (o *Orchestrator) runGroupingPhase(ctx context.Context, status types.FileStatus) error {
	start := time.Now()
	res, err := o.grouper.Run(ctx, o.cfg.Pipeline.BatchSize, status)
	if err != nil {
		return err
	}
	o.metrics.BatchDuration.WithLabelValues(types.PhaseGrouping).Observe(time.Since(start).Seconds())
	o.addCounters(func(c *types.PipelineCounters) { c.Grouped += int64(res.MembersTotal) })
	o.logger.WithFields(logrus.Fields{
		"component":          "pipeline",
		"hash_groups":        res.HashGroups,
		"fingerprint_groups": res.FingerprintGroups,
	}).Info("grouping finished")
	return nil
}

// runOrganization plans and commits one transaction per batch of healthy
// files.
func (o *Orchestrator) runOrganization(ctx context.Context) error {
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		files, err := o.store.FilesByStatus(ctx, types.StatusHealthy, afterID, o.cfg.Pipeline.BatchSize)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		// In dry-run nothing changes status, so the cursor must advance.
		afterID = files[len(files)-1].ID

		batchID := o.nextBatch()
		batchCtx, span := o.tracer.StartBatch(ctx, types.PhaseOrganization, batchID, len(files))
		err = o.organizeBatch(batchCtx, files)
		span.End()
		if err != nil {
			return err
		}
		if err := o.ckpt.BatchBoundary(ctx); err != nil {
			o.logger.WithError(err).Warn("batch checkpoint failed")
		}
	}
}

func (o *Orchestrator) organizeBatch(ctx context.Context, files []*types.File) error {
	start := time.Now()
	defer func() {
		o.metrics.BatchDuration.WithLabelValues(types.PhaseOrganization).Observe(time.Since(start).Seconds())
	}()

	return o.withTxnRetry(ctx, fmt.Sprintf("organize batch of %d", len(files)), func(t *txnHandle) error {
		plans, reviewed, err := o.organizer.PlanBatch(ctx, t.txn, files)
		if err != nil {
			return err
		}
		if reviewed > 0 {
			o.addCounters(func(c *types.PipelineCounters) { c.NeedsReview += int64(reviewed) })
			o.metrics.ReviewQueued.Add(float64(reviewed))
		}
		for _, p := range plans {
			if p.Outcome == types.StatusOrganized && o.cfg.Organize.WriteQualityTags && !p.Skipped {
				qa, err := o.store.QualityByFileID(ctx, p.FileID)
				if err == nil {
					if err := o.organizer.WriteQualityTags(ctx, t.txn, p, qa); err != nil {
						return err
					}
				}
			}
			t.after = append(t.after, planBookkeeping{
				fileID:      p.FileID,
				destination: p.Destination,
				status:      p.Outcome,
				rejection:   p.Rejection,
				target:      p.Target,
			})
		}
		return nil
	}, func(plans []planBookkeeping) {
		for _, p := range plans {
			switch p.status {
			case types.StatusOrganized:
				o.addCounters(func(c *types.PipelineCounters) { c.Organized++ })
				o.metrics.FilesProcessed.WithLabelValues(types.PhaseOrganization, "organized").Inc()
			case types.StatusRejected:
				o.addCounters(func(c *types.PipelineCounters) { c.Rejected++ })
				o.metrics.FilesProcessed.WithLabelValues(types.PhaseOrganization, "rejected").Inc()
				o.metrics.Rejections.WithLabelValues(string(types.RejectDuplicate)).Inc()
			}
		}
	})
}
