// Package analysis attaches to each discovered file the facts needed to
// score and group it: content hash, metadata, fingerprint, defect report and
// quality score. It also hosts the corruption filter that separates healthy
// files from quarantine candidates.
//
// The analyzer runs a worker pool per batch. Per-file failures never block
// the batch: a file that cannot be hashed is marked failed (it cannot be
// grouped), while metadata and fingerprint failures degrade the file's
// capabilities but let it continue.
package analysis

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/hashutil"
	"music-cleanup/internal/store"
	"music-cleanup/pkg/audio"
	apperrors "music-cleanup/pkg/errors"
	"music-cleanup/pkg/types"
	"music-cleanup/pkg/workerpool"
)

// Analyzer drives per-file analysis.
type Analyzer struct {
	store  *store.Store
	logger *logrus.Logger

	cfg     types.AnalysisConfig
	weights types.QualityWeights

	fingerprinter types.Fingerprinter
	reader        types.MetadataReader
	serviceReader types.MetadataReader // optional, used after a fingerprint exists
	detector      types.DefectDetector
	refLookup     types.ReferenceLookup // optional
	parser      *audio.FilenameParser
	pool        *workerpool.WorkerPool
	callTimeout time.Duration
}

// Config wires an Analyzer.
type Config struct {
	Store         *store.Store
	Logger        *logrus.Logger
	Analysis      types.AnalysisConfig
	Weights       types.QualityWeights
	Fingerprinter types.Fingerprinter
	Reader        types.MetadataReader
	ServiceReader types.MetadataReader
	Detector      types.DefectDetector
	RefLookup     types.ReferenceLookup
	Workers       int
}

// New builds an analyzer.
func New(cfg Config) *Analyzer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	pool := workerpool.New(workerpool.Config{MaxWorkers: cfg.Workers}, cfg.Logger)
	pool.Start()
	return &Analyzer{
		store:         cfg.Store,
		logger:        cfg.Logger,
		cfg:           cfg.Analysis,
		weights:       cfg.Weights,
		fingerprinter: cfg.Fingerprinter,
		reader:        cfg.Reader,
		serviceReader: cfg.ServiceReader,
		detector:      cfg.Detector,
		refLookup:     cfg.RefLookup,
		parser:        audio.NewFilenameParser(cfg.Analysis.FilenamePatterns),
		pool:          pool,
		callTimeout:   cfg.Analysis.CallTimeoutDuration(),
	}
}

// BatchResult tallies one analysis batch.
type BatchResult struct {
	Analyzed int64
	Failed   int64
}

// AnalyzeBatch runs the worker pool over one batch of discovered files.
// Cancellation lets workers finish the file in flight; the remainder of the
// batch is simply not submitted.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, files []*types.File) BatchResult {
	var analyzed, failed atomic.Int64

	var wg sync.WaitGroup
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		f := f
		wg.Add(1)
		ok := a.pool.Submit(ctx, workerpool.Task{
			ID: f.AbsolutePath,
			Execute: func(taskCtx context.Context) error {
				defer wg.Done()
				if err := a.analyzeOne(ctx, f); err != nil {
					failed.Add(1)
					return err
				}
				analyzed.Add(1)
				return nil
			},
		})
		if !ok {
			wg.Done()
			break
		}
	}
	wg.Wait()

	return BatchResult{Analyzed: analyzed.Load(), Failed: failed.Load()}
}

// Close stops the analyzer's worker pool.
func (a *Analyzer) Close() {
	a.pool.Stop()
}

// analyzeOne runs the full per-file sequence. A hash failure is fatal for
// the file; everything downstream degrades gracefully.
func (a *Analyzer) analyzeOne(ctx context.Context, f *types.File) error {
	log := a.logger.WithFields(logrus.Fields{
		"component": "analyzer",
		"file":      f.AbsolutePath,
	})

	hash, err := hashutil.File(f.AbsolutePath, a.cfg.HashAlgorithm)
	if err != nil {
		log.WithError(err).Warn("hash failed")
		a.store.MarkFailed(ctx, f.ID, apperrors.CodeHashFailed)
		return err
	}

	md := a.readMetadata(ctx, f, log)

	var fpResult *types.FingerprintResult
	if a.cfg.EnableFingerprinting && a.fingerprinter != nil && a.fingerprinter.Enabled() {
		fpResult = a.fingerprint(ctx, f, log)
	}

	// Service lookup is the last metadata fallback and needs a fingerprint.
	if md == nil && a.cfg.EnableServiceLookup && a.serviceReader != nil && fpResult != nil {
		callCtx, cancel := a.callContext(ctx)
		serviceMD, err := a.serviceReader.Read(callCtx, f.AbsolutePath)
		cancel()
		if err == nil && serviceMD != nil {
			serviceMD.Source = types.MetadataSourceService
			md = serviceMD
		}
	}

	report := a.detect(ctx, f, log)

	var references []types.ReferenceQuality
	if a.refLookup != nil && fpResult != nil {
		callCtx, cancel := a.callContext(ctx)
		if refs, err := a.refLookup.Lookup(callCtx, fpResult.Fingerprint); err == nil {
			references = refs
		}
		cancel()
	}

	qa := Score(a.weights, ScoreInputs{
		Format:        formatOf(f.AbsolutePath, fpResult),
		BitrateKbps:   bitrateOf(fpResult),
		SampleRateHz:  sampleRateOf(fpResult),
		BitDepth:      bitDepthOf(fpResult),
		HealthScore:   report.HealthScore,
		Defects:       report.Defects,
		ClippingRatio: report.ClippingRatio,
		SilenceRatio:  report.SilenceRatio,
		References:    references,
	})

	// Persist artifacts, then flip the file to analyzed.
	var fpID, mdID *int64
	if fpResult != nil {
		id, err := a.store.EnsureFingerprint(ctx, &types.Fingerprint{
			Fingerprint:  fpResult.Fingerprint,
			DurationSec:  fpResult.DurationSec,
			SampleRateHz: fpResult.SampleRateHz,
			BitDepth:     fpResult.BitDepth,
			Channels:     fpResult.Channels,
			Codec:        fpResult.Codec,
			BitrateKbps:  fpResult.BitrateKbps,
		})
		if err != nil {
			log.WithError(err).Error("persist fingerprint failed")
			a.store.MarkFailed(ctx, f.ID, apperrors.CodeStoreIO)
			return err
		}
		fpID = &id
	}
	if md != nil {
		id, err := a.store.EnsureMetadata(ctx, md)
		if err != nil {
			log.WithError(err).Error("persist metadata failed")
			a.store.MarkFailed(ctx, f.ID, apperrors.CodeStoreIO)
			return err
		}
		mdID = &id
	}

	qa.FileID = f.ID
	if err := a.store.SaveQualityAnalysis(ctx, &qa); err != nil {
		a.store.MarkFailed(ctx, f.ID, apperrors.CodeStoreIO)
		return err
	}
	if err := a.store.MarkAnalyzed(ctx, f.ID, hash, fpID, mdID, qa.FinalScore); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"score": qa.FinalScore,
		"grade": qa.Grade,
	}).Debug("file analyzed")
	return nil
}

// readMetadata applies the fallback order tag → filename-parse. The service
// fallback happens in analyzeOne once a fingerprint exists.
func (a *Analyzer) readMetadata(ctx context.Context, f *types.File, log *logrus.Entry) *types.Metadata {
	callCtx, cancel := a.callContext(ctx)
	md, err := a.reader.Read(callCtx, f.AbsolutePath)
	cancel()
	if err != nil {
		log.WithError(err).Debug("tag read failed")
		md = nil
	}
	if md != nil && (md.Artist == "" || md.Title == "") {
		if parsed := a.parser.Parse(f.AbsolutePath); parsed != nil {
			if md.Artist == "" {
				md.Artist = parsed.Artist
			}
			if md.Title == "" {
				md.Title = parsed.Title
			}
			if md.Year == 0 {
				md.Year = parsed.Year
			}
		}
	}
	if md == nil {
		md = a.parser.Parse(f.AbsolutePath)
	}
	if md != nil && md.Artist == "" && md.Title == "" {
		return nil
	}
	return md
}

func (a *Analyzer) fingerprint(ctx context.Context, f *types.File, log *logrus.Entry) *types.FingerprintResult {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	result, err := a.fingerprinter.Fingerprint(callCtx, f.AbsolutePath)
	if err != nil {
		// Non-fatal: the file continues but cannot join acoustic groups.
		log.WithError(err).Debug("fingerprint failed")
		return nil
	}
	return result
}

func (a *Analyzer) detect(ctx context.Context, f *types.File, log *logrus.Entry) *types.DefectReport {
	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	report, err := a.detector.Detect(callCtx, f.AbsolutePath, a.cfg.SampleDurationSec)
	if err != nil {
		// Detection failure is treated as health 0: the corruption filter
		// quarantines rather than trusting an uninspected file.
		log.WithError(err).Warn("defect detection failed")
		return &types.DefectReport{HealthScore: 0, Defects: []string{"metadata-unreadable"}, ClippingRatio: -1, SilenceRatio: -1}
	}
	return report
}

func (a *Analyzer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.callTimeout)
}

func formatOf(path string, fp *types.FingerprintResult) string {
	if fp != nil && fp.Codec != "" {
		return fp.Codec
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func bitrateOf(fp *types.FingerprintResult) int {
	if fp == nil {
		return 0
	}
	return fp.BitrateKbps
}

func sampleRateOf(fp *types.FingerprintResult) int {
	if fp == nil {
		return 0
	}
	return fp.SampleRateHz
}

func bitDepthOf(fp *types.FingerprintResult) int {
	if fp == nil {
		return 0
	}
	return fp.BitDepth
}
