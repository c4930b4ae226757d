// Package types - Interface definitions for the external audio collaborators
package types

import (
	"context"
)

// FingerprintResult carries the fingerprint and the technical attributes the
// external fingerprinter derives alongside it.
type FingerprintResult struct {
	Fingerprint  string
	DurationSec  float64
	SampleRateHz int
	BitDepth     int
	Channels     int
	Codec        string
	BitrateKbps  int
}

// Fingerprinter maps a file path to a fingerprint and technical audio
// attributes. Implementations must be deterministic for identical file
// content. A no-op implementation is valid and downgrades duplicate
// grouping to hash-only.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (*FingerprintResult, error)
	// Enabled reports whether the implementation produces real fingerprints.
	Enabled() bool
}

// MetadataReader reads tag-based metadata for a file. A tag-only reader is a
// valid implementation.
type MetadataReader interface {
	Read(ctx context.Context, path string) (*Metadata, error)
}

// MetadataWriter writes tags back to a file via temp-plus-rename. It is never
// called on protected paths.
type MetadataWriter interface {
	Write(ctx context.Context, path string, tags map[string]string) error
}

// DefectReport is the defect detector's verdict for one file.
type DefectReport struct {
	HealthScore   int      // 0..100, lower is more defective
	Defects       []string // defect codes, e.g. "truncation"
	ClippingRatio float64  // 0..1, -1 when not reported
	SilenceRatio  float64  // 0..1, -1 when not reported
}

// DefectDetector inspects a file for corruption.
type DefectDetector interface {
	Detect(ctx context.Context, path string, sampleDurationSec int) (*DefectReport, error)
}

// ReferenceQuality describes the best known release of a recording.
type ReferenceQuality struct {
	Format       string
	BitrateKbps  int
	QualityClass string
}

// ReferenceLookup resolves a fingerprint to known reference releases.
// Optional; a nil lookup leaves the reference score at its neutral default.
type ReferenceLookup interface {
	Lookup(ctx context.Context, fingerprint string) ([]ReferenceQuality, error)
}
