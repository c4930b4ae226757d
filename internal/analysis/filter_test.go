package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"music-cleanup/pkg/types"
)

func testFilter() *Filter {
	return NewFilter(types.FilterConfig{
		MinHealthScore:   50,
		CriticalDefects:  []string{"header-corruption", "truncation", "complete-silence", "metadata-unreadable"},
		MinDurationSec:   10,
		MaxDurationSec:   3600,
		MaxClippingRatio: 0.05,
		MaxSilenceRatio:  0.80,
	})
}

func healthyQA() *types.QualityAnalysis {
	return &types.QualityAnalysis{HealthScore: 90, ClippingRatio: -1, SilenceRatio: -1}
}

func TestFilterHealthy(t *testing.T) {
	v := testFilter().Evaluate(healthyQA(), 180)
	assert.True(t, v.Healthy)
	assert.Empty(t, v.Reason)
}

func TestFilterLowHealthScore(t *testing.T) {
	qa := healthyQA()
	qa.HealthScore = 49
	v := testFilter().Evaluate(qa, 180)
	assert.False(t, v.Healthy)
	assert.Contains(t, v.Reason, "health score")
}

func TestFilterCriticalDefect(t *testing.T) {
	qa := healthyQA()
	qa.Defects = []string{"truncation"}
	v := testFilter().Evaluate(qa, 180)
	assert.False(t, v.Healthy)
	assert.Contains(t, v.Reason, "truncation")
}

func TestFilterNonCriticalDefectPasses(t *testing.T) {
	qa := healthyQA()
	qa.Defects = []string{"crc-mismatch"}
	v := testFilter().Evaluate(qa, 180)
	assert.True(t, v.Healthy)
}

func TestFilterDurationBounds(t *testing.T) {
	f := testFilter()
	assert.False(t, f.Evaluate(healthyQA(), 9.5).Healthy, "too short")
	assert.True(t, f.Evaluate(healthyQA(), 10).Healthy, "exactly min")
	assert.True(t, f.Evaluate(healthyQA(), 3600).Healthy, "exactly max")
	assert.False(t, f.Evaluate(healthyQA(), 3601).Healthy, "too long")
	// No measured duration: duration rules do not apply.
	assert.True(t, f.Evaluate(healthyQA(), 0).Healthy)
}

func TestFilterClippingAndSilence(t *testing.T) {
	f := testFilter()

	qa := healthyQA()
	qa.ClippingRatio = 0.06
	assert.False(t, f.Evaluate(qa, 180).Healthy)

	qa = healthyQA()
	qa.SilenceRatio = 0.85
	assert.False(t, f.Evaluate(qa, 180).Healthy)

	// Unreported ratios (-1) are not judged.
	assert.True(t, f.Evaluate(healthyQA(), 180).Healthy)
}
