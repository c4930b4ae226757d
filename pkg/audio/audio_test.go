package audio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/pkg/types"
)

func TestFilenameParser(t *testing.T) {
	p := NewFilenameParser([]string{
		`^(?P<year>\d{4})\s*-\s*(?P<artist>.+?)\s*-\s*(?P<title>.+)$`,
		`^(?P<artist>.+?)\s*-\s*(?P<title>.+)$`,
	})

	md := p.Parse("/in/2011 - Some Artist - Some Title.mp3")
	require.NotNil(t, md)
	assert.Equal(t, "Some Artist", md.Artist)
	assert.Equal(t, "Some Title", md.Title)
	assert.Equal(t, 2011, md.Year)
	assert.Equal(t, types.MetadataSourceFilename, md.Source)

	md = p.Parse("/in/Artist - Title.flac")
	require.NotNil(t, md)
	assert.Equal(t, "Artist", md.Artist)
	assert.Equal(t, "Title", md.Title)
	assert.Zero(t, md.Year)

	assert.Nil(t, p.Parse("/in/untitled.mp3"))
}

func TestFilenameParserSkipsInvalidPatterns(t *testing.T) {
	p := NewFilenameParser([]string{`([bad`, `^(?P<artist>.+?) - (?P<title>.+)$`})
	md := p.Parse("/in/A - B.mp3")
	require.NotNil(t, md)
	assert.Equal(t, "A", md.Artist)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("abcdefgh", "abcdefgh"))
	assert.Equal(t, 0.0, Similarity("", "abc"))
	assert.Less(t, Similarity("aaaaaaaaaa", "zzzzzzzzzz"), 0.1)

	// Symmetry, required by union-find.
	a, b := "abcdefghijklmnop", "abcdefghijklmnoq"
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
	assert.Greater(t, Similarity(a, b), 0.5)
}

func TestNoopFingerprinter(t *testing.T) {
	fp := NewNoopFingerprinter()
	assert.False(t, fp.Enabled())
	_, err := fp.Fingerprint(context.Background(), "/in/a.mp3")
	assert.ErrorIs(t, err, ErrFingerprintingDisabled)
}

func writeTestFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestDefectDetectorHealthyFlac(t *testing.T) {
	content := append([]byte("fLaC"), make([]byte, 4096)...)
	for i := 4; i < len(content); i++ {
		content[i] = byte(i % 251)
	}
	path := writeTestFile(t, "ok.flac", content)

	report, err := NewHeuristicDefectDetector().Detect(context.Background(), path, 30)
	require.NoError(t, err)
	assert.Equal(t, 100, report.HealthScore)
	assert.Empty(t, report.Defects)
}

func TestDefectDetectorHeaderCorruption(t *testing.T) {
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i%250 + 1)
	}
	path := writeTestFile(t, "broken.flac", content)

	report, err := NewHeuristicDefectDetector().Detect(context.Background(), path, 30)
	require.NoError(t, err)
	assert.Contains(t, report.Defects, DefectHeaderCorruption)
	assert.Less(t, report.HealthScore, 50)
}

func TestDefectDetectorTruncation(t *testing.T) {
	path := writeTestFile(t, "tiny.mp3", []byte("ID3tiny"))
	report, err := NewHeuristicDefectDetector().Detect(context.Background(), path, 30)
	require.NoError(t, err)
	assert.Contains(t, report.Defects, DefectTruncation)
}

func TestDefectDetectorZeroLength(t *testing.T) {
	path := writeTestFile(t, "empty.mp3", nil)
	report, err := NewHeuristicDefectDetector().Detect(context.Background(), path, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, report.HealthScore)
	assert.Contains(t, report.Defects, DefectZeroLength)
}

func TestSidecarTagWriterRefusesProtected(t *testing.T) {
	protected := t.TempDir()
	w := NewSidecarTagWriter([]string{protected})

	err := w.Write(context.Background(), filepath.Join(protected, "a.mp3"), map[string]string{"X": "1"})
	require.Error(t, err)

	dir := t.TempDir()
	target := filepath.Join(dir, "a.mp3")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	require.NoError(t, w.Write(context.Background(), target, map[string]string{"QUALITY_SCORE": "88.5"}))
	_, err = os.Stat(target + ".tags.json")
	assert.NoError(t, err)
}
