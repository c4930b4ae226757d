package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch keeps discovery running after the initial walk: newly created files
// under the source roots are filtered and upserted as they appear. It blocks
// until the context is cancelled.
//
// Watches are registered per directory, including directories created while
// watching. Protected roots are never registered.
func (p *Producer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range p.cfg.SourceRoots {
		if err := p.addWatchTree(watcher, root); err != nil {
			p.logger.WithFields(logrus.Fields{
				"component": "discovery",
				"root":      root,
			}).WithError(err).Warn("watch registration failed")
		}
	}

	res := &Result{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			info, err := os.Lstat(event.Name)
			if err != nil {
				continue
			}
			if p.isProtected(event.Name) {
				continue
			}
			if info.IsDir() {
				p.addWatchTree(watcher, event.Name)
				continue
			}
			if info.Mode()&fs.ModeSymlink != 0 {
				continue
			}
			p.consider(ctx, event.Name, fs.FileInfoToDirEntry(info), res)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.WithField("component", "discovery").WithError(err).Warn("watcher error")
		}
	}
}

func (p *Producer) addWatchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p.isProtected(path) {
			return fs.SkipDir
		}
		return watcher.Add(path)
	})
}
