// Package grouping forms duplicate groups over the healthy file set. The
// exact-match pass groups by content hash; the acoustic pass buckets the
// rest by coarse duration and unions fingerprints whose similarity clears
// the configured threshold. Singletons never create group rows.
//
// Primary selection is deterministic regardless of scheduling: maximum
// final score, ties broken by format priority, then bitrate, then size,
// then lexicographically smallest path. The order is total.
package grouping

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"music-cleanup/internal/store"
	"music-cleanup/pkg/audio"
	"music-cleanup/pkg/types"
)

// Grouper forms duplicate groups.
type Grouper struct {
	store   *store.Store
	logger  *logrus.Logger
	cfg     types.GroupingConfig
	quality types.QualityConfig

	formatRank map[string]int
}

// New builds a grouper.
func New(s *store.Store, logger *logrus.Logger, cfg types.GroupingConfig, quality types.QualityConfig) *Grouper {
	ranks := make(map[string]int, len(quality.FormatPriority))
	for i, f := range quality.FormatPriority {
		ranks[strings.ToLower(f)] = i
	}
	return &Grouper{store: s, logger: logger, cfg: cfg, quality: quality, formatRank: ranks}
}

// candidate carries everything the grouper and tie-break need for one file.
type candidate struct {
	file        *types.File
	fingerprint *types.Fingerprint // nil when acoustic grouping is unavailable
	score       float64
}

// Result tallies one grouping pass.
type Result struct {
	HashGroups        int
	FingerprintGroups int
	Singletons        int
	MembersTotal      int
}

// Run groups every file currently in the given status (healthy in the
// default ordering, analyzed when the corruption filter runs after
// grouping). Grouping is a global operation: it reads the set in pages but
// must see all of it before unions are final.
func (g *Grouper) Run(ctx context.Context, batchSize int, status types.FileStatus) (*Result, error) {
	candidates, err := g.loadFiles(ctx, batchSize, status)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	// Exact-match pass: same content hash means same file.
	byHash := make(map[string][]*candidate)
	for _, c := range candidates {
		if c.file.ContentHash != "" {
			byHash[c.file.ContentHash] = append(byHash[c.file.ContentHash], c)
		}
	}
	inHashGroup := make(map[int64]bool)
	hashKeys := sortedKeys(byHash)
	for _, hash := range hashKeys {
		members := byHash[hash]
		if len(members) < 2 {
			continue
		}
		if err := g.persistGroup(ctx, types.GroupKeyHash, hash, members, nil); err != nil {
			return nil, err
		}
		for _, m := range members {
			inHashGroup[m.file.ID] = true
		}
		res.HashGroups++
		res.MembersTotal += len(members)
	}

	// Acoustic pass over the remainder, bucketed by coarse duration.
	var acoustic []*candidate
	for _, c := range candidates {
		if !inHashGroup[c.file.ID] && c.fingerprint != nil {
			acoustic = append(acoustic, c)
		}
	}
	if err := g.acousticPass(ctx, acoustic, res); err != nil {
		return nil, err
	}

	res.Singletons = len(candidates) - res.MembersTotal

	g.logger.WithFields(logrus.Fields{
		"component":          "grouper",
		"hash_groups":        res.HashGroups,
		"fingerprint_groups": res.FingerprintGroups,
		"singletons":         res.Singletons,
	}).Info("grouping complete")
	return res, nil
}

func (g *Grouper) loadFiles(ctx context.Context, batchSize int, status types.FileStatus) ([]*candidate, error) {
	var candidates []*candidate
	var afterID int64
	for {
		files, err := g.store.FilesByStatus(ctx, status, afterID, batchSize)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			break
		}
		for _, f := range files {
			c := &candidate{file: f}
			if f.QualityScore != nil {
				c.score = *f.QualityScore
			}
			if f.FingerprintID != nil {
				fp, err := g.store.FingerprintByID(ctx, *f.FingerprintID)
				if err != nil {
					return nil, err
				}
				c.fingerprint = fp
			}
			candidates = append(candidates, c)
		}
		afterID = files[len(files)-1].ID
	}
	return candidates, nil
}

// acousticPass unions fingerprint pairs above the similarity threshold
// within each coarse duration bucket.
func (g *Grouper) acousticPass(ctx context.Context, acoustic []*candidate, res *Result) error {
	if len(acoustic) < 2 {
		return nil
	}

	bucketOf := func(c *candidate) int64 {
		bucket := int64(g.cfg.DurationBucketSec)
		if bucket <= 0 {
			bucket = 1
		}
		return int64(math.Round(c.fingerprint.DurationSec)) / bucket
	}

	buckets := make(map[int64][]int)
	for i, c := range acoustic {
		buckets[bucketOf(c)] = append(buckets[bucketOf(c)], i)
	}

	uf := newUnionFind(len(acoustic))
	similarity := make(map[[2]int]float64)
	for _, idxs := range buckets {
		for i := 0; i < len(idxs); i++ {
			for j := i + 1; j < len(idxs); j++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				a, b := idxs[i], idxs[j]
				sim := audio.Similarity(acoustic[a].fingerprint.Fingerprint, acoustic[b].fingerprint.Fingerprint)
				if sim >= g.cfg.SimilarityThreshold {
					uf.union(a, b)
					similarity[[2]int{a, b}] = sim
					similarity[[2]int{b, a}] = sim
				}
			}
		}
	}

	classes := make(map[int][]int)
	for i := range acoustic {
		root := uf.find(i)
		classes[root] = append(classes[root], i)
	}

	// Deterministic class order: by smallest file id in the class.
	var roots []int
	for root, members := range classes {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return minFileID(acoustic, classes[roots[i]]) < minFileID(acoustic, classes[roots[j]])
	})

	for _, root := range roots {
		idxs := classes[root]
		members := make([]*candidate, len(idxs))
		sims := make(map[int64]float64, len(idxs))
		for i, idx := range idxs {
			members[i] = acoustic[idx]
			// Similarity recorded against the class representative.
			if idx == root {
				sims[acoustic[idx].file.ID] = 1
			} else if s, ok := similarity[[2]int{root, idx}]; ok {
				sims[acoustic[idx].file.ID] = s
			} else {
				sims[acoustic[idx].file.ID] = g.cfg.SimilarityThreshold
			}
		}
		key := acoustic[root].fingerprint.Fingerprint
		if err := g.persistGroup(ctx, types.GroupKeyFingerprint, key, members, sims); err != nil {
			return err
		}
		res.FingerprintGroups++
		res.MembersTotal += len(members)
	}
	return nil
}

func minFileID(acoustic []*candidate, idxs []int) int64 {
	min := acoustic[idxs[0]].file.ID
	for _, idx := range idxs[1:] {
		if acoustic[idx].file.ID < min {
			min = acoustic[idx].file.ID
		}
	}
	return min
}

// persistGroup picks the primary and writes the group with its members.
func (g *Grouper) persistGroup(ctx context.Context, kind types.GroupKeyKind, key string, members []*candidate, sims map[int64]float64) error {
	sort.Slice(members, func(i, j int) bool { return g.better(members[i], members[j]) })
	primary := members[0]

	rows := make([]*types.DuplicateMember, len(members))
	for i, m := range members {
		sim := 1.0
		if sims != nil {
			if s, ok := sims[m.file.ID]; ok {
				sim = s
			}
		}
		rows[i] = &types.DuplicateMember{
			FileID:     m.file.ID,
			IsPrimary:  m.file.ID == primary.file.ID,
			Similarity: sim,
		}
	}

	_, err := g.store.CreateDuplicateGroup(ctx, &types.DuplicateGroup{
		KeyKind:       kind,
		KeyValue:      key,
		PrimaryFileID: primary.file.ID,
	}, rows)
	return err
}

// better is the total tie-break order for primary selection.
func (g *Grouper) better(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	ra, rb := g.formatRankOf(a), g.formatRankOf(b)
	if ra != rb {
		return ra < rb
	}
	ba, bb := bitrateOf(a), bitrateOf(b)
	if ba != bb {
		return ba > bb
	}
	if a.file.SizeBytes != b.file.SizeBytes {
		return a.file.SizeBytes > b.file.SizeBytes
	}
	return a.file.AbsolutePath < b.file.AbsolutePath
}

func (g *Grouper) formatRankOf(c *candidate) int {
	format := ""
	if c.fingerprint != nil && c.fingerprint.Codec != "" {
		format = strings.ToLower(c.fingerprint.Codec)
	} else {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(c.file.AbsolutePath)), ".")
	}
	if rank, ok := g.formatRank[format]; ok {
		return rank
	}
	return len(g.formatRank)
}

func bitrateOf(c *candidate) int {
	if c.fingerprint == nil {
		return 0
	}
	return c.fingerprint.BitrateKbps
}

func sortedKeys(m map[string][]*candidate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
