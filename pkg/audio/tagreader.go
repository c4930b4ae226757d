// Package audio ships the default implementations of the external audio
// interfaces: a tag-only metadata reader, a filename parser, a no-op
// fingerprinter and a heuristic defect detector. Real fingerprinting and
// deep defect analysis plug in behind the same interfaces.
package audio

import (
	"context"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"music-cleanup/pkg/types"
)

// TagReader reads metadata from embedded tags. It is a complete, valid
// MetadataReader on its own; the analyzer layers filename parsing and
// service lookup on top when fields are missing.
type TagReader struct{}

// NewTagReader builds the tag-based metadata reader.
func NewTagReader() *TagReader {
	return &TagReader{}
}

// Read implements types.MetadataReader.
func (r *TagReader) Read(ctx context.Context, path string) (*types.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}

	track, _ := m.Track()
	disc, _ := m.Disc()
	return &types.Metadata{
		Artist:      strings.TrimSpace(m.Artist()),
		Title:       strings.TrimSpace(m.Title()),
		Album:       strings.TrimSpace(m.Album()),
		Year:        m.Year(),
		Genre:       strings.TrimSpace(m.Genre()),
		TrackNumber: track,
		DiscNumber:  disc,
		Source:      types.MetadataSourceTag,
	}, nil
}
