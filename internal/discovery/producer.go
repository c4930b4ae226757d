// Package discovery enumerates candidate audio files from the configured
// source roots and feeds them into the store as discovered rows.
//
// The walk is depth-first and never follows symlinks. Protected roots are
// skipped wholesale: a protected path is not even stat'd for write intent,
// it simply never enters the pipeline. Per-path errors (permissions, races
// with deletion) are reported and skipped, never fatal to the walk.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"music-cleanup/internal/store"
	"music-cleanup/pkg/types"
)

// Producer walks source roots and upserts discovered files.
type Producer struct {
	store  *store.Store
	logger *logrus.Logger
	cfg    types.DiscoveryConfig

	extensions map[string]bool
}

// New builds a producer from the discovery configuration.
func New(s *store.Store, logger *logrus.Logger, cfg types.DiscoveryConfig) *Producer {
	exts := make(map[string]bool, len(cfg.SupportedExtensions))
	for _, ext := range cfg.SupportedExtensions {
		exts[strings.ToLower(ext)] = true
	}
	return &Producer{store: s, logger: logger, cfg: cfg, extensions: exts}
}

// Result tallies one discovery pass.
type Result struct {
	Discovered int64 // new rows created
	Known      int64 // paths already in the store
	Skipped    int64 // filtered or errored paths
}

// Run walks every configured source root once, roots in parallel. A failing
// root is logged and skipped; the remaining roots still run.
func (p *Producer) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range p.cfg.SourceRoots {
		root := root
		g.Go(func() error {
			local := &Result{}
			err := p.walkRoot(gctx, root, local)
			mu.Lock()
			res.Discovered += local.Discovered
			res.Known += local.Known
			res.Skipped += local.Skipped
			mu.Unlock()
			if err != nil {
				if err == context.Canceled || gctx.Err() != nil {
					return gctx.Err()
				}
				// Per-root isolation: report and keep the other roots going.
				p.logger.WithFields(logrus.Fields{
					"component": "discovery",
					"root":      root,
				}).WithError(err).Warn("source root failed, skipping")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	p.logger.WithFields(logrus.Fields{
		"component":  "discovery",
		"discovered": res.Discovered,
		"known":      res.Known,
		"skipped":    res.Skipped,
	}).Info("discovery pass complete")
	return res, nil
}

func (p *Producer) walkRoot(ctx context.Context, root string, res *Result) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if err != nil {
			res.Skipped++
			p.logger.WithFields(logrus.Fields{
				"component": "discovery",
				"path":      path,
			}).WithError(err).Debug("path skipped")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if p.isProtected(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// WalkDir does not follow symlinks for traversal; symlinked files
		// are excluded here as well.
		if d.Type()&fs.ModeSymlink != 0 {
			res.Skipped++
			return nil
		}

		p.consider(ctx, path, d, res)
		return nil
	})
}

// consider applies the extension and size filters and upserts the file.
func (p *Producer) consider(ctx context.Context, path string, d fs.DirEntry, res *Result) {
	ext := strings.ToLower(filepath.Ext(path))
	if !p.extensions[ext] {
		res.Skipped++
		return
	}
	info, err := d.Info()
	if err != nil {
		res.Skipped++
		return
	}
	// Bounds are inclusive: a file exactly at min or max is in.
	if info.Size() < p.cfg.MinSizeBytes || info.Size() > p.cfg.MaxSizeBytes {
		res.Skipped++
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		res.Skipped++
		return
	}
	_, created, err := p.store.UpsertDiscovered(ctx, abs, info.Size(), info.ModTime())
	if err != nil {
		res.Skipped++
		p.logger.WithFields(logrus.Fields{
			"component": "discovery",
			"path":      abs,
		}).WithError(err).Warn("upsert failed")
		return
	}
	if created {
		res.Discovered++
	} else {
		res.Known++
	}
}

func (p *Producer) isProtected(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range p.cfg.ProtectedRoots {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
