package analysis

import (
	"math"
	"strings"

	"music-cleanup/pkg/types"
)

// Quality scoring is a pure function of its recorded inputs: replaying it on
// the same inputs yields the same score and grade. All sub-scores are in
// [0,100]; the final score is the weighted sum rounded to one decimal.

// ScoreInputs are the recorded facts the scoring function consumes.
type ScoreInputs struct {
	Format        string // codec or extension without dot, lowercased by Score
	BitrateKbps   int
	SampleRateHz  int
	BitDepth      int
	HealthScore   int
	Defects       []string
	ClippingRatio float64 // -1 when not reported
	SilenceRatio  float64 // -1 when not reported
	References    []types.ReferenceQuality
}

// neutralReference is used when no reference release is known.
const neutralReference = 70.0

// Score computes the full quality breakdown.
func Score(weights types.QualityWeights, in ScoreInputs) types.QualityAnalysis {
	technical := technicalScore(in)
	fidelity := fidelityScore(in)
	integrity := integrityScore(in)

	var refScore *float64
	reference := neutralReference
	if len(in.References) > 0 {
		reference = referenceScore(in)
		refScore = &reference
	}

	final := weights.Technical*technical +
		weights.Fidelity*fidelity +
		weights.Integrity*integrity +
		weights.Reference*reference
	final = math.Round(final*10) / 10

	return types.QualityAnalysis{
		TechnicalScore:    technical,
		AudioFidelity:     fidelity,
		IntegrityScore:    integrity,
		ReferenceScore:    refScore,
		FinalScore:        final,
		Grade:             GradeFor(final),
		RecommendedAction: actionFor(final, in),
		Defects:           in.Defects,
		HealthScore:       in.HealthScore,
		ClippingRatio:     in.ClippingRatio,
		SilenceRatio:      in.SilenceRatio,
	}
}

// FormatScore maps a format (and bitrate where the format is lossy) onto the
// fixed technical base score.
func FormatScore(format string, bitrateKbps int) float64 {
	switch strings.ToLower(format) {
	case "flac":
		return 100
	case "wav", "aiff":
		return 98
	case "alac":
		return 95
	case "mp3":
		switch {
		case bitrateKbps >= 320:
			return 90
		case bitrateKbps >= 256:
			return 80
		case bitrateKbps >= 192:
			return 70
		case bitrateKbps >= 128:
			return 50
		default:
			return 35
		}
	case "ogg", "vorbis", "aac", "m4a", "opus":
		switch {
		case bitrateKbps >= 320:
			return 88
		case bitrateKbps >= 256:
			return 78
		case bitrateKbps >= 192:
			return 68
		case bitrateKbps >= 128:
			return 52
		default:
			return 35
		}
	case "wma":
		return 60
	default:
		return 40
	}
}

func technicalScore(in ScoreInputs) float64 {
	score := FormatScore(in.Format, in.BitrateKbps)

	// Sample-rate adjustment: 44.1k is the baseline; anything below it costs.
	switch {
	case in.SampleRateHz >= 96000:
		score += 2
	case in.SampleRateHz >= 48000:
		score += 1
	case in.SampleRateHz > 0 && in.SampleRateHz < 44100:
		score -= 10
	}
	return clamp(score)
}

func fidelityScore(in ScoreInputs) float64 {
	// Without a signal analyzer the fidelity component works from the
	// format class, the reported ratios and the bit depth.
	score := 80.0
	if isLossless(in.Format) {
		score += 15
	}
	if in.ClippingRatio >= 0 {
		score -= in.ClippingRatio * 400 // 5% clipping costs 20 points
	}
	if in.SilenceRatio >= 0 {
		score -= in.SilenceRatio * 25
	}
	if in.BitDepth >= 24 {
		score += 5
	}
	return clamp(score)
}

func isLossless(format string) bool {
	switch strings.ToLower(format) {
	case "flac", "wav", "alac", "aiff":
		return true
	default:
		return false
	}
}

// defectPenalties drives the integrity component: 100 minus the summed
// penalties of the recorded defects.
var defectPenalties = map[string]float64{
	"header-corruption":   50,
	"truncation":          40,
	"complete-silence":    40,
	"metadata-unreadable": 20,
	"zero-length":         100,
	"sync-loss":           30,
	"crc-mismatch":        25,
}

func integrityScore(in ScoreInputs) float64 {
	score := 100.0
	for _, code := range in.Defects {
		if p, ok := defectPenalties[code]; ok {
			score -= p
		} else {
			score -= 10
		}
	}
	return clamp(score)
}

// referenceScore compares this file's technical class against the best known
// reference release.
func referenceScore(in ScoreInputs) float64 {
	best := 0.0
	mine := FormatScore(in.Format, in.BitrateKbps)
	for _, ref := range in.References {
		refClass := FormatScore(ref.Format, ref.BitrateKbps)
		if refClass <= 0 {
			continue
		}
		ratio := mine / refClass
		if ratio > 1 {
			ratio = 1
		}
		if s := ratio * 100; s > best {
			best = s
		}
	}
	if best == 0 {
		return neutralReference
	}
	return clamp(best)
}

// GradeFor is the fixed step mapping from final score to letter grade.
func GradeFor(final float64) types.Grade {
	switch {
	case final >= 95:
		return "A+"
	case final >= 90:
		return "A"
	case final >= 85:
		return "A-"
	case final >= 80:
		return "B+"
	case final >= 75:
		return "B"
	case final >= 70:
		return "B-"
	case final >= 65:
		return "C+"
	case final >= 60:
		return "C"
	case final >= 55:
		return "C-"
	case final >= 50:
		return "D"
	default:
		return "F"
	}
}

func actionFor(final float64, in ScoreInputs) types.RecommendedAction {
	if in.HealthScore < 50 {
		return types.ActionQuarantine
	}
	if final < 50 {
		return types.ActionReplace
	}
	return types.ActionKeep
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
