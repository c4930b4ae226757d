package grouping

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/internal/store"
	"music-cleanup/pkg/types"
)

func testGrouper(t *testing.T) (*Grouper, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := store.Open(store.Options{WorkspaceDir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g := New(s, logger, types.GroupingConfig{
		SimilarityThreshold: 0.90,
		DurationBucketSec:   1,
	}, types.QualityConfig{
		FormatPriority: []string{"flac", "wav", "mp3", "ogg"},
	})
	return g, s
}

type seed struct {
	path     string
	hash     string
	score    float64
	fp       string
	duration float64
	codec    string
	bitrate  int
	size     int64
}

func addHealthy(t *testing.T, s *store.Store, sd seed) int64 {
	t.Helper()
	ctx := context.Background()
	size := sd.size
	if size == 0 {
		size = 1000
	}
	id, _, err := s.UpsertDiscovered(ctx, sd.path, size, time.Now())
	require.NoError(t, err)

	var fpID *int64
	if sd.fp != "" {
		fid, err := s.EnsureFingerprint(ctx, &types.Fingerprint{
			Fingerprint: sd.fp,
			DurationSec: sd.duration,
			Codec:       sd.codec,
			BitrateKbps: sd.bitrate,
		})
		require.NoError(t, err)
		fpID = &fid
	}
	require.NoError(t, s.MarkAnalyzed(ctx, id, sd.hash, fpID, nil, sd.score))
	require.NoError(t, s.SetFileStatus(ctx, id, types.StatusHealthy))
	return id
}

// syntheticFingerprint builds a long token stream with a distinct tail, so
// two calls with different tails are highly but not fully similar.
func syntheticFingerprint(n int, tail string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%03d,", i)
	}
	b.WriteString(tail)
	return b.String()
}

func TestExactHashGrouping(t *testing.T) {
	g, s := testGrouper(t)
	ctx := context.Background()

	a := addHealthy(t, s, seed{path: "/in/a.mp3", hash: "H1", score: 70})
	b := addHealthy(t, s, seed{path: "/in/b.mp3", hash: "H1", score: 70})
	addHealthy(t, s, seed{path: "/in/c.mp3", hash: "H2", score: 80})

	res, err := g.Run(ctx, 100, types.StatusHealthy)
	require.NoError(t, err)
	assert.Equal(t, 1, res.HashGroups)
	assert.Equal(t, 1, res.Singletons)

	groups, err := s.AllGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, types.GroupKeyHash, groups[0].KeyKind)
	assert.Equal(t, "H1", groups[0].KeyValue)
	// Identical scores and formats: the lexicographically smaller path wins.
	assert.Equal(t, a, groups[0].PrimaryFileID)

	members, err := s.GroupMembers(ctx, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	primaries := 0
	for _, m := range members {
		if m.IsPrimary {
			primaries++
			assert.Equal(t, a, m.FileID)
		}
	}
	assert.Equal(t, 1, primaries)
	_ = b
}

func TestFormatPriorityTieBreak(t *testing.T) {
	g, s := testGrouper(t)
	ctx := context.Background()

	// Same score; the flac outranks the mp3 by format priority.
	mp3 := addHealthy(t, s, seed{path: "/in/a.mp3", hash: "H1", score: 85, codec: "mp3", fp: "", size: 9000})
	flac := addHealthy(t, s, seed{path: "/in/z.flac", hash: "H1", score: 85, codec: "flac", size: 1000})

	_, err := g.Run(ctx, 100, types.StatusHealthy)
	require.NoError(t, err)

	groups, err := s.AllGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, flac, groups[0].PrimaryFileID)
	_ = mp3
}

func TestHigherScoreWins(t *testing.T) {
	g, s := testGrouper(t)
	ctx := context.Background()

	addHealthy(t, s, seed{path: "/in/low.mp3", hash: "H1", score: 60})
	high := addHealthy(t, s, seed{path: "/in/high.mp3", hash: "H1", score: 90})

	_, err := g.Run(ctx, 100, types.StatusHealthy)
	require.NoError(t, err)

	groups, err := s.AllGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, high, groups[0].PrimaryFileID)
}

func TestFingerprintGrouping(t *testing.T) {
	g, s := testGrouper(t)
	ctx := context.Background()

	// Nearly identical fingerprints in the same duration bucket.
	base := syntheticFingerprint(100, "AAAAAAAA")
	similar := syntheticFingerprint(100, "BBBBBBBB")
	a := addHealthy(t, s, seed{path: "/in/a.flac", hash: "HA", score: 95, fp: base, duration: 200.2, codec: "flac"})
	b := addHealthy(t, s, seed{path: "/in/b.mp3", hash: "HB", score: 75, fp: similar, duration: 200.4, codec: "mp3", bitrate: 320})

	res, err := g.Run(ctx, 100, types.StatusHealthy)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FingerprintGroups)

	groups, err := s.AllGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, types.GroupKeyFingerprint, groups[0].KeyKind)
	assert.Equal(t, a, groups[0].PrimaryFileID)

	members, err := s.GroupMembers(ctx, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		if m.FileID == b {
			assert.GreaterOrEqual(t, m.Similarity, 0.90)
		}
	}
}

func TestBelowThresholdNotGrouped(t *testing.T) {
	g, s := testGrouper(t)
	ctx := context.Background()

	// Distinct fingerprints with low similarity, same duration bucket.
	fpA := strings.Repeat("aaaa1111", 16)
	fpB := strings.Repeat("zzzz9999", 16)
	addHealthy(t, s, seed{path: "/in/a.mp3", hash: "HA", score: 70, fp: fpA, duration: 180, codec: "mp3"})
	addHealthy(t, s, seed{path: "/in/b.mp3", hash: "HB", score: 70, fp: fpB, duration: 180, codec: "mp3"})

	res, err := g.Run(ctx, 100, types.StatusHealthy)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FingerprintGroups)
	assert.Equal(t, 2, res.Singletons)

	groups, err := s.AllGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestDifferentDurationBucketsNotCompared(t *testing.T) {
	g, s := testGrouper(t)
	ctx := context.Background()

	// Similar fingerprints (distinct strings, so each keeps its own
	// duration) that would group if they shared a bucket.
	fpA := syntheticFingerprint(100, "AAAAAAAA")
	fpB := syntheticFingerprint(100, "BBBBBBBB")
	addHealthy(t, s, seed{path: "/in/a.mp3", hash: "HA", score: 70, fp: fpA, duration: 100, codec: "mp3"})
	addHealthy(t, s, seed{path: "/in/b.mp3", hash: "HB", score: 70, fp: fpB, duration: 300, codec: "mp3"})

	res, err := g.Run(ctx, 100, types.StatusHealthy)
	require.NoError(t, err)
	assert.Equal(t, 0, res.FingerprintGroups)
}

func TestDeterministicAcrossRuns(t *testing.T) {
	// Build the same library twice in different insertion orders; the
	// primary must come out identical.
	for run := 0; run < 2; run++ {
		g, s := testGrouper(t)
		ctx := context.Background()
		seeds := []seed{
			{path: "/in/a.mp3", hash: "H1", score: 80, codec: "mp3"},
			{path: "/in/b.mp3", hash: "H1", score: 80, codec: "mp3"},
			{path: "/in/c.mp3", hash: "H1", score: 80, codec: "mp3"},
		}
		if run == 1 {
			seeds[0], seeds[2] = seeds[2], seeds[0]
		}
		for _, sd := range seeds {
			addHealthy(t, s, sd)
		}
		_, err := g.Run(ctx, 2, types.StatusHealthy) // page size smaller than the set
		require.NoError(t, err)

		groups, err := s.AllGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1, fmt.Sprintf("run %d", run))
		primary, err := s.FileByID(ctx, groups[0].PrimaryFileID)
		require.NoError(t, err)
		assert.Equal(t, "/in/a.mp3", primary.AbsolutePath, "run %d", run)
	}
}
