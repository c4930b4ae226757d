package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"music-cleanup/pkg/types"
)

// The front of the pipeline is a bounded staged stream: discovery, analysis
// and the corruption filter run as concurrent stage workers under one
// errgroup, connected by channels that hold at most two batches each, i.e.
// 2×batch_size files in flight per stage boundary. A full queue blocks the
// upstream stage, so back-pressure propagates all the way to the store
// cursor and memory stays O(batch_size).
//
// Grouping and organization stay behind a barrier: grouping needs the
// complete filtered set before its unions are final, and organization
// consumes its output.
const queueBatches = 2

// feedPollInterval is how often the feeder re-checks the store while the
// walk is still producing rows.
const feedPollInterval = 50 * time.Millisecond

// runStreamingStages drives the streaming section. When includeFilter is
// false (dry-run, or the filter-after-grouping ordering) the stream ends at
// analysis and the filter runs later as a sequential sweep.
func (o *Orchestrator) runStreamingStages(ctx context.Context, includeFilter bool) error {
	batchSize := o.cfg.Pipeline.BatchSize

	analyzeQueue := make(chan []*types.File, queueBatches)
	filterQueue := make(chan []*types.File, queueBatches)

	// Phase transitions are monotonic while stages overlap: the reported
	// phase is the deepest stage that has started work.
	var analysisOnce, filterOnce sync.Once

	walkDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	// Stage 1: the discovery walk.
	g.Go(func() error {
		defer close(walkDone)
		return o.runDiscovery(gctx)
	})

	// Feeder: streams discovered rows into the analysis queue as the walk
	// makes them visible. Send blocks when the queue holds two batches.
	g.Go(func() error {
		defer close(analyzeQueue)
		var afterID int64
		walkFinished := false
		for {
			if gctx.Err() != nil {
				return nil
			}
			o.monitor.Throttle(gctx)

			files, err := o.store.FilesByStatus(gctx, types.StatusDiscovered, afterID, batchSize)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				if walkFinished {
					return nil
				}
				select {
				case <-walkDone:
					walkFinished = true
				case <-gctx.Done():
					return nil
				case <-time.After(feedPollInterval):
				}
				continue
			}
			afterID = files[len(files)-1].ID
			o.metrics.QueueDepth.Set(float64(len(analyzeQueue) * batchSize))

			select {
			case analyzeQueue <- files:
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Stage 2: analysis.
	g.Go(func() error {
		defer close(filterQueue)
		for files := range analyzeQueue {
			analysisOnce.Do(func() { o.setPhase(types.PhaseAnalysis) })

			batchID := o.nextBatch()
			batchCtx, span := o.tracer.StartBatch(gctx, types.PhaseAnalysis, batchID, len(files))
			start := time.Now()
			res := o.analyzer.AnalyzeBatch(batchCtx, files)
			span.End()
			o.metrics.BatchDuration.WithLabelValues(types.PhaseAnalysis).Observe(time.Since(start).Seconds())

			o.addCounters(func(c *types.PipelineCounters) {
				c.Analyzed += res.Analyzed
				c.Failed += res.Failed
			})
			o.metrics.FilesProcessed.WithLabelValues(types.PhaseAnalysis, "analyzed").Add(float64(res.Analyzed))
			o.metrics.FilesProcessed.WithLabelValues(types.PhaseAnalysis, "failed").Add(float64(res.Failed))

			if err := o.ckpt.BatchBoundary(gctx); err != nil {
				o.logger.WithError(err).Warn("batch checkpoint failed")
			}

			if !includeFilter {
				continue
			}
			// Forward fresh rows: the analyzer attached fingerprint and
			// quality ids the filter needs.
			analyzed := make([]*types.File, 0, len(files))
			for _, f := range files {
				fresh, err := o.store.FileByID(gctx, f.ID)
				if err != nil {
					return err
				}
				if fresh.Status == types.StatusAnalyzed {
					analyzed = append(analyzed, fresh)
				}
			}
			if len(analyzed) == 0 {
				continue
			}
			select {
			case filterQueue <- analyzed:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	// Stage 3: the corruption filter, when it belongs in the stream.
	if includeFilter {
		g.Go(func() error {
			for files := range filterQueue {
				filterOnce.Do(func() { o.setPhase(types.PhaseFilter) })

				batchID := o.nextBatch()
				batchCtx, span := o.tracer.StartBatch(gctx, types.PhaseFilter, batchID, len(files))
				err := o.filterBatch(batchCtx, files)
				span.End()
				if err != nil {
					return err
				}
				if err := o.ckpt.BatchBoundary(gctx); err != nil {
					o.logger.WithError(err).Warn("batch checkpoint failed")
				}
			}
			return nil
		})
	}

	return g.Wait()
}
