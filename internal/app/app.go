// Package app wires the engine together and owns its lifecycle: config
// loading, logging setup, component construction, signal handling and
// graceful shutdown. Components are explicit collaborators injected into
// the orchestrator; nothing in the engine is a package-level singleton.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"music-cleanup/internal/analysis"
	"music-cleanup/internal/config"
	"music-cleanup/internal/discovery"
	"music-cleanup/internal/grouping"
	"music-cleanup/internal/metrics"
	"music-cleanup/internal/organize"
	"music-cleanup/internal/pipeline"
	"music-cleanup/internal/rejection"
	"music-cleanup/internal/server"
	"music-cleanup/internal/store"
	"music-cleanup/internal/txn"
	"music-cleanup/pkg/audio"
	"music-cleanup/pkg/monitoring"
	"music-cleanup/pkg/tracing"
	"music-cleanup/pkg/types"
)

// App is the composed engine.
type App struct {
	config *types.Config
	logger *logrus.Logger

	store        *store.Store
	orchestrator *pipeline.Orchestrator
	statusServer *server.Server
	tracer       *tracing.Manager
	manifest     *rejection.Manifest
	txnMgr       *txn.Manager
	analyzer     *analysis.Analyzer
}

// New loads configuration and constructs every component.
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.App)
	m := metrics.New(cfg.Metrics.Namespace)

	st, err := store.Open(store.Options{
		WorkspaceDir: cfg.Workspace.Directory,
		StoreFile:    cfg.Workspace.StoreFile,
		Logger:       logger,
		OnBusyRetry:  m.StoreRetries.Inc,
	})
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.New(context.Background(), cfg.Tracing)
	if err != nil {
		st.Close()
		return nil, err
	}
	monitor := monitoring.New(logger, cfg.Pipeline.MemoryLimitBytes)

	tagWriter := audio.NewSidecarTagWriter(cfg.Discovery.ProtectedRoots)
	txnMgr := txn.NewManager(txn.Config{
		Store:          st,
		Logger:         logger,
		TagWriter:      tagWriter,
		ProtectedRoots: cfg.Discovery.ProtectedRoots,
		Integrity:      cfg.Pipeline.IntegrityLevel,
		HashAlgorithm:  cfg.Analysis.HashAlgorithm,
		DryRun:         cfg.Pipeline.DryRun,
	})

	var fingerprinter types.Fingerprinter = audio.NewNoopFingerprinter()
	analyzer := analysis.New(analysis.Config{
		Store:         st,
		Logger:        logger,
		Analysis:      cfg.Analysis,
		Weights:       cfg.Quality.Weights,
		Fingerprinter: fingerprinter,
		Reader:        audio.NewTagReader(),
		Detector:      audio.NewHeuristicDefectDetector(),
		Workers:       cfg.Pipeline.MaxWorkers,
	})

	producer := discovery.New(st, logger, cfg.Discovery)
	filter := analysis.NewFilter(cfg.Filter)
	grouper := grouping.New(st, logger, cfg.Grouping, cfg.Quality)
	organizer := organize.New(st, logger, cfg.Organize, cfg.Analysis.HashAlgorithm)
	manifest := rejection.New(st, logger, cfg.Organize.RejectedRoot)

	orch := pipeline.New(pipeline.Deps{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Metrics:   m,
		Tracer:    tracer,
		Monitor:   monitor,
		Producer:  producer,
		Analyzer:  analyzer,
		Filter:    filter,
		Grouper:   grouper,
		Organizer: organizer,
		Manifest:  manifest,
		TxnMgr:    txnMgr,
		RunID:     uuid.NewString(),
	})

	app := &App{
		config:       cfg,
		logger:       logger,
		store:        st,
		orchestrator: orch,
		tracer:       tracer,
		manifest:     manifest,
		txnMgr:       txnMgr,
		analyzer:     analyzer,
	}
	if cfg.Server.Enabled {
		app.statusServer = server.New(cfg.Server, cfg.Metrics, logger, orch, st, m)
	}
	return app, nil
}

func newLogger(cfg types.AppConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Run executes the pipeline until completion or signal. The returned code
// is the process exit code.
func (a *App) Run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling is the only entry point allowed to trigger
	// cancellation; workers observe the context, finish the file in
	// flight, and the checkpointer forces a final checkpoint on the way
	// out.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		a.logger.WithField("signal", sig.String()).Warn("shutdown requested")
		cancel()
	}()
	defer signal.Stop(sigCh)

	if a.statusServer != nil {
		a.statusServer.Start()
	}

	code, err := a.orchestrator.Run(ctx)
	if err != nil {
		a.logger.WithError(err).Error("pipeline failed")
	}

	a.shutdown()
	return int(code)
}

// Restore replays a rejection entry back to its original location.
func (a *App) Restore(entryID int64) error {
	defer a.shutdown()
	return a.manifest.Restore(context.Background(), a.txnMgr, entryID)
}

// ExportManifest re-exports the rejection sidecars without running the
// pipeline.
func (a *App) ExportManifest() error {
	defer a.shutdown()
	return a.manifest.Export(context.Background())
}

func (a *App) shutdown() {
	if a.statusServer != nil {
		a.statusServer.Shutdown(context.Background())
	}
	a.analyzer.Close()
	a.tracer.Shutdown(context.Background())
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("store close failed")
	}
}
