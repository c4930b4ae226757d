package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"music-cleanup/pkg/types"
)

var testWeights = types.QualityWeights{
	Technical: 0.25,
	Fidelity:  0.25,
	Integrity: 0.15,
	Reference: 0.35,
}

func TestScoreIsPure(t *testing.T) {
	in := ScoreInputs{
		Format:        "mp3",
		BitrateKbps:   320,
		SampleRateHz:  44100,
		HealthScore:   95,
		ClippingRatio: 0.01,
		SilenceRatio:  0.05,
	}
	first := Score(testWeights, in)
	for i := 0; i < 10; i++ {
		again := Score(testWeights, in)
		assert.Equal(t, first.FinalScore, again.FinalScore)
		assert.Equal(t, first.Grade, again.Grade)
	}
}

func TestFormatScores(t *testing.T) {
	tests := []struct {
		format  string
		bitrate int
		want    float64
	}{
		{"flac", 0, 100},
		{"FLAC", 1411, 100},
		{"wav", 0, 98},
		{"alac", 0, 95},
		{"mp3", 320, 90},
		{"mp3", 256, 80},
		{"mp3", 192, 70},
		{"mp3", 128, 50},
		{"wma", 192, 60},
		{"ogg", 320, 88},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatScore(tc.format, tc.bitrate), "%s@%d", tc.format, tc.bitrate)
	}
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  types.Grade
	}{
		{95, "A+"},
		{94.9, "A"},
		{90, "A"},
		{89.9, "A-"},
		{85, "A-"},
		{80, "B+"},
		{75, "B"},
		{70, "B-"},
		{65, "C+"},
		{60, "C"},
		{55, "C-"},
		{50, "D"},
		{49.9, "F"},
		{0, "F"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, GradeFor(tc.score), "score %.1f", tc.score)
	}
}

func TestNeutralReferenceDefault(t *testing.T) {
	qa := Score(testWeights, ScoreInputs{
		Format:       "flac",
		SampleRateHz: 44100,
		HealthScore:  100,
		ClippingRatio: -1,
		SilenceRatio:  -1,
	})
	// No reference releases known: the component contributes the neutral 70
	// and ReferenceScore stays unset.
	require.Nil(t, qa.ReferenceScore)
	assert.InDelta(t, 0.25*100+0.25*95+0.15*100+0.35*70, qa.FinalScore, 0.11)
}

func TestReferenceAgainstBetterRelease(t *testing.T) {
	qa := Score(testWeights, ScoreInputs{
		Format:        "mp3",
		BitrateKbps:   128,
		SampleRateHz:  44100,
		HealthScore:   100,
		ClippingRatio: -1,
		SilenceRatio:  -1,
		References:    []types.ReferenceQuality{{Format: "flac"}},
	})
	require.NotNil(t, qa.ReferenceScore)
	// A 128k mp3 against a FLAC reference scores 50/100 of the class.
	assert.InDelta(t, 50.0, *qa.ReferenceScore, 0.01)
}

func TestIntegrityPenalties(t *testing.T) {
	qa := Score(testWeights, ScoreInputs{
		Format:        "mp3",
		BitrateKbps:   320,
		HealthScore:   100,
		Defects:       []string{"truncation", "metadata-unreadable"},
		ClippingRatio: -1,
		SilenceRatio:  -1,
	})
	assert.Equal(t, 40.0, qa.IntegrityScore)
}

func TestFlacBeatsMp3ForSameRecording(t *testing.T) {
	// Same recording, a FLAC reference release is known for it.
	refs := []types.ReferenceQuality{{Format: "flac"}}
	flac := Score(testWeights, ScoreInputs{
		Format: "flac", SampleRateHz: 44100, BitDepth: 16,
		HealthScore: 100, ClippingRatio: -1, SilenceRatio: -1, References: refs,
	})
	mp3 := Score(testWeights, ScoreInputs{
		Format: "mp3", BitrateKbps: 320, SampleRateHz: 44100,
		HealthScore: 100, ClippingRatio: -1, SilenceRatio: -1, References: refs,
	})
	assert.Greater(t, flac.FinalScore, 90.0)
	assert.LessOrEqual(t, mp3.FinalScore, 90.0)
	assert.Greater(t, flac.FinalScore, mp3.FinalScore)

	// Without the reference the ordering still holds.
	flacN := Score(testWeights, ScoreInputs{
		Format: "flac", SampleRateHz: 44100, HealthScore: 100, ClippingRatio: -1, SilenceRatio: -1,
	})
	mp3N := Score(testWeights, ScoreInputs{
		Format: "mp3", BitrateKbps: 320, SampleRateHz: 44100, HealthScore: 100, ClippingRatio: -1, SilenceRatio: -1,
	})
	assert.Greater(t, flacN.FinalScore, mp3N.FinalScore)
}

func TestScoreRoundedToOneDecimal(t *testing.T) {
	qa := Score(testWeights, ScoreInputs{
		Format: "mp3", BitrateKbps: 192, SampleRateHz: 44100,
		HealthScore: 87, ClippingRatio: 0.013, SilenceRatio: 0.2,
	})
	assert.InDelta(t, math.Round(qa.FinalScore*10), qa.FinalScore*10, 1e-9)
}
