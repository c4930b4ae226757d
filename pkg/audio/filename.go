package audio

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"music-cleanup/pkg/types"
)

// FilenameParser derives artist/title/year from the base filename using the
// configured patterns. Patterns are tried in order; named groups artist,
// title and year are honored.
type FilenameParser struct {
	patterns []*regexp.Regexp
}

// NewFilenameParser compiles the configured patterns, dropping invalid ones.
func NewFilenameParser(patterns []string) *FilenameParser {
	p := &FilenameParser{}
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		p.patterns = append(p.patterns, re)
	}
	return p
}

// Parse attempts to extract metadata from the file's base name. It returns
// nil when no pattern matches.
func (p *FilenameParser) Parse(path string) *types.Metadata {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, re := range p.patterns {
		m := re.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		md := &types.Metadata{Source: types.MetadataSourceFilename}
		for i, name := range re.SubexpNames() {
			if i == 0 || i >= len(m) {
				continue
			}
			val := strings.TrimSpace(m[i])
			switch name {
			case "artist":
				md.Artist = val
			case "title":
				md.Title = val
			case "year":
				if y, err := strconv.Atoi(val); err == nil {
					md.Year = y
				}
			}
		}
		if md.Artist != "" || md.Title != "" {
			return md
		}
	}
	return nil
}
