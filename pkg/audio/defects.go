package audio

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"music-cleanup/pkg/types"
)

// Defect codes emitted by the heuristic detector.
const (
	DefectHeaderCorruption   = "header-corruption"
	DefectTruncation         = "truncation"
	DefectCompleteSilence    = "complete-silence"
	DefectMetadataUnreadable = "metadata-unreadable"
	DefectZeroLength         = "zero-length"
)

// HeuristicDefectDetector performs cheap structural sanity checks: magic
// bytes per container, zero-length and truncation detection, and an
// all-zero-content probe. A real signal-level detector can replace it
// behind the same interface.
type HeuristicDefectDetector struct{}

// NewHeuristicDefectDetector builds the default detector.
func NewHeuristicDefectDetector() *HeuristicDefectDetector {
	return &HeuristicDefectDetector{}
}

var magicByExt = map[string][][]byte{
	".flac": {[]byte("fLaC")},
	".wav":  {[]byte("RIFF")},
	".aiff": {[]byte("FORM")},
	".ogg":  {[]byte("OggS")},
	".wma":  {{0x30, 0x26, 0xB2, 0x75}},
	// mp3: either an ID3 tag or a raw frame sync.
	".mp3": {[]byte("ID3"), {0xFF, 0xFB}, {0xFF, 0xFA}, {0xFF, 0xF3}, {0xFF, 0xF2}},
	// mp4-family containers carry "ftyp" at offset 4; checked separately.
}

// Detect implements types.DefectDetector.
func (d *HeuristicDefectDetector) Detect(ctx context.Context, path string, sampleDurationSec int) (*types.DefectReport, error) {
	report := &types.DefectReport{HealthScore: 100, ClippingRatio: -1, SilenceRatio: -1}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		report.Defects = append(report.Defects, DefectZeroLength, DefectTruncation)
		report.HealthScore = 0
		return report, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	head = head[:n]

	ext := strings.ToLower(filepath.Ext(path))
	if !headerMatches(ext, head) {
		report.Defects = append(report.Defects, DefectHeaderCorruption)
		report.HealthScore -= 60
	}

	// Truncation probe: a file that ends mid-header or is implausibly small
	// for its container cannot decode.
	if info.Size() < 1024 {
		report.Defects = append(report.Defects, DefectTruncation)
		report.HealthScore -= 40
	}

	// All-zero probe over the first sample window.
	sample := make([]byte, 64*1024)
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		n, _ := f.Read(sample)
		if n > 0 && bytes.Count(sample[:n], []byte{0}) == n {
			report.Defects = append(report.Defects, DefectCompleteSilence)
			report.HealthScore -= 50
			report.SilenceRatio = 1
		}
	}

	if report.HealthScore < 0 {
		report.HealthScore = 0
	}
	return report, nil
}

func headerMatches(ext string, head []byte) bool {
	if len(head) < 8 {
		return false
	}
	if ext == ".m4a" || ext == ".aac" || ext == ".alac" {
		return bytes.Equal(head[4:8], []byte("ftyp"))
	}
	magics, ok := magicByExt[ext]
	if !ok {
		// Unknown container: do not call corruption on it.
		return true
	}
	for _, magic := range magics {
		if bytes.HasPrefix(head, magic) {
			return true
		}
	}
	return false
}
