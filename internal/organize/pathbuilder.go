package organize

import (
	"fmt"
	"path/filepath"
	"strings"

	"music-cleanup/pkg/types"
)

// PathBuilder computes destination paths inside the organized tree from
// metadata and quality, applying the category mapping, decade folders, the
// filename pattern and sanitization.
type PathBuilder struct {
	cfg types.OrganizeConfig
}

// NewPathBuilder builds a path builder.
func NewPathBuilder(cfg types.OrganizeConfig) *PathBuilder {
	return &PathBuilder{cfg: cfg}
}

// ReviewNeeded is returned when a file cannot be placed without operator
// attention; it never produces an Unknown output folder.
type ReviewNeeded struct {
	Reason  types.ReviewReason
	Details string
}

func (r *ReviewNeeded) Error() string {
	return fmt.Sprintf("needs review: %s (%s)", r.Reason, r.Details)
}

// Build computes the full destination path for a file, or a ReviewNeeded
// error when genre or year cannot be resolved.
func (p *PathBuilder) Build(md *types.Metadata, finalScore float64, srcPath string) (*types.OrganizationTarget, error) {
	if md == nil || md.Artist == "" || md.Title == "" {
		return nil, &ReviewNeeded{Reason: types.ReviewMissingArtistTitle, Details: "artist or title unknown"}
	}

	category, ok := p.Category(md.Genre)
	if !ok {
		return nil, &ReviewNeeded{Reason: types.ReviewUnknownGenre, Details: fmt.Sprintf("genre %q matches no category", md.Genre)}
	}
	if md.Year == 0 {
		return nil, &ReviewNeeded{Reason: types.ReviewMissingYear, Details: "year unknown"}
	}

	decade := DecadeOf(md.Year)
	filename := p.renderPattern(md, finalScore, srcPath)
	final := filepath.Join(p.cfg.TargetRoot, category, decade, filename)

	return &types.OrganizationTarget{
		Genre:       category,
		Decade:      decade,
		FinalPath:   final,
		PatternUsed: p.cfg.Pattern,
	}, nil
}

// Category resolves the lowercased metadata genre against the configured
// category → keywords mapping. First match wins, in declaration order.
func (p *PathBuilder) Category(genre string) (string, bool) {
	g := strings.ToLower(strings.TrimSpace(genre))
	if g == "" {
		return "", false
	}
	for _, cat := range p.cfg.GenreCategories {
		for _, kw := range cat.Keywords {
			if strings.Contains(g, strings.ToLower(kw)) {
				return cat.Name, true
			}
		}
	}
	return "", false
}

// DecadeOf rounds a year down to its decade folder name, e.g. 1987 → 1980s.
func DecadeOf(year int) string {
	return fmt.Sprintf("%ds", (year/10)*10)
}

func (p *PathBuilder) renderPattern(md *types.Metadata, finalScore float64, srcPath string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(srcPath)), ".")
	name := p.cfg.Pattern
	name = strings.ReplaceAll(name, "{year}", fmt.Sprintf("%d", md.Year))
	name = strings.ReplaceAll(name, "{artist}", Sanitize(md.Artist))
	name = strings.ReplaceAll(name, "{title}", Sanitize(md.Title))
	name = strings.ReplaceAll(name, "{album}", Sanitize(md.Album))
	name = strings.ReplaceAll(name, "{score}", fmt.Sprintf("%d", int(finalScore)))
	name = strings.ReplaceAll(name, "{ext}", ext)

	// Cap the filename length, preserving the extension.
	if max := p.cfg.MaxFilenameLen; max > 0 && len(name) > max {
		keepExt := "." + ext
		stem := name[:len(name)-len(keepExt)]
		cut := max - len(keepExt)
		if cut < 1 {
			cut = 1
		}
		if cut < len(stem) {
			name = stem[:cut] + keepExt
		}
	}
	return name
}

// invalidFilenameChars are replaced with '-' in rendered names.
const invalidFilenameChars = `/\:*?"<>|`

// Sanitize replaces path separators and other invalid filename characters.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(invalidFilenameChars, r) || r < 0x20 {
			b.WriteRune('-')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// DupPath appends the " _dupN" suffix with the given N before the extension.
func DupPath(path string, n int) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s _dup%d%s", stem, n, ext)
}

// RejectedDuplicatePath builds the rejected-tree destination for a
// non-primary: {rejected_root}/duplicates/{stem}_duplicate_{rank}{ext}.
func RejectedDuplicatePath(rejectedRoot, srcPath string, rank int) string {
	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(rejectedRoot, "duplicates", fmt.Sprintf("%s_duplicate_%d%s", stem, rank, ext))
}

// QuarantinePath builds the corrupted-tree destination.
func QuarantinePath(rejectedRoot, srcPath string) string {
	return filepath.Join(rejectedRoot, "corrupted", filepath.Base(srcPath))
}
