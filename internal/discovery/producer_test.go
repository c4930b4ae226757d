package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/internal/store"
	"music-cleanup/pkg/types"
)

func testProducer(t *testing.T, cfg types.DiscoveryConfig) (*Producer, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := store.Open(store.Options{WorkspaceDir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, logger, cfg), s
}

func writeBytes(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestDiscoveryFilters(t *testing.T) {
	root := t.TempDir()
	writeBytes(t, filepath.Join(root, "keep.mp3"), 500)
	writeBytes(t, filepath.Join(root, "skip.txt"), 500)
	writeBytes(t, filepath.Join(root, "small.mp3"), 99)
	writeBytes(t, filepath.Join(root, "big.mp3"), 2001)
	writeBytes(t, filepath.Join(root, "nested/deep.flac"), 500)

	p, s := testProducer(t, types.DiscoveryConfig{
		SourceRoots:         []string{root},
		SupportedExtensions: []string{".mp3", ".flac"},
		MinSizeBytes:        100,
		MaxSizeBytes:        2000,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Discovered)

	files, err := s.FilesByStatus(context.Background(), types.StatusDiscovered, 0, 100)
	require.NoError(t, err)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, filepath.Base(f.AbsolutePath))
	}
	assert.ElementsMatch(t, []string{"keep.mp3", "deep.flac"}, paths)
}

func TestSizeBoundsAreInclusive(t *testing.T) {
	root := t.TempDir()
	writeBytes(t, filepath.Join(root, "exact-min.mp3"), 100)
	writeBytes(t, filepath.Join(root, "exact-max.mp3"), 2000)
	writeBytes(t, filepath.Join(root, "under.mp3"), 99)
	writeBytes(t, filepath.Join(root, "over.mp3"), 2001)

	p, _ := testProducer(t, types.DiscoveryConfig{
		SourceRoots:         []string{root},
		SupportedExtensions: []string{".mp3"},
		MinSizeBytes:        100,
		MaxSizeBytes:        2000,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Discovered)
}

func TestProtectedRootsSkippedEntirely(t *testing.T) {
	root := t.TempDir()
	protected := filepath.Join(root, "masters")
	writeBytes(t, filepath.Join(root, "ok.mp3"), 500)
	writeBytes(t, filepath.Join(protected, "precious.mp3"), 500)

	p, s := testProducer(t, types.DiscoveryConfig{
		SourceRoots:         []string{root},
		ProtectedRoots:      []string{protected},
		SupportedExtensions: []string{".mp3"},
		MinSizeBytes:        1,
		MaxSizeBytes:        10000,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Discovered)

	// The protected file never even got a row.
	_, err = s.FileByPath(context.Background(), filepath.Join(protected, "precious.mp3"))
	assert.Error(t, err)
}

func TestSymlinksNotFollowed(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeBytes(t, filepath.Join(outside, "linked.mp3"), 500)
	writeBytes(t, filepath.Join(root, "real.mp3"), 500)
	require.NoError(t, os.Symlink(filepath.Join(outside, "linked.mp3"), filepath.Join(root, "link.mp3")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linkdir")))

	p, _ := testProducer(t, types.DiscoveryConfig{
		SourceRoots:         []string{root},
		SupportedExtensions: []string{".mp3"},
		MinSizeBytes:        1,
		MaxSizeBytes:        10000,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Discovered)
}

func TestDiscoveryIsRestartable(t *testing.T) {
	root := t.TempDir()
	writeBytes(t, filepath.Join(root, "a.mp3"), 500)
	writeBytes(t, filepath.Join(root, "b.mp3"), 500)

	p, _ := testProducer(t, types.DiscoveryConfig{
		SourceRoots:         []string{root},
		SupportedExtensions: []string{".mp3"},
		MinSizeBytes:        1,
		MaxSizeBytes:        10000,
	})

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Discovered)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Discovered)
	assert.Equal(t, int64(2), second.Known)
}

func TestNonexistentRootIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeBytes(t, filepath.Join(root, "a.mp3"), 500)

	p, _ := testProducer(t, types.DiscoveryConfig{
		SourceRoots:         []string{"/does/not/exist", root},
		SupportedExtensions: []string{".mp3"},
		MinSizeBytes:        1,
		MaxSizeBytes:        10000,
	})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Discovered)
}
