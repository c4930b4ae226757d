package analysis

import (
	"fmt"

	"music-cleanup/pkg/types"
)

// Filter is the corruption filter: it separates the analyzed stream into
// healthy and quarantine sub-streams before duplicate grouping, so a
// corrupted file can never be selected as a best version.
type Filter struct {
	cfg types.FilterConfig

	critical map[string]bool
}

// NewFilter builds the filter from config.
func NewFilter(cfg types.FilterConfig) *Filter {
	critical := make(map[string]bool, len(cfg.CriticalDefects))
	for _, code := range cfg.CriticalDefects {
		critical[code] = true
	}
	return &Filter{cfg: cfg, critical: critical}
}

// Verdict is the filter's decision for one file.
type Verdict struct {
	Healthy bool
	Reason  string
}

// Evaluate applies the corruption rules. durationSec is 0 when no
// fingerprint (and therefore no measured duration) exists; the duration
// bounds only apply when a duration was measured.
func (f *Filter) Evaluate(qa *types.QualityAnalysis, durationSec float64) Verdict {
	clippingRatio, silenceRatio := qa.ClippingRatio, qa.SilenceRatio
	if qa.HealthScore < f.cfg.MinHealthScore {
		return Verdict{Reason: fmt.Sprintf("health score %d below minimum %d", qa.HealthScore, f.cfg.MinHealthScore)}
	}
	for _, code := range qa.Defects {
		if f.critical[code] {
			return Verdict{Reason: fmt.Sprintf("critical defect: %s", code)}
		}
	}
	if durationSec > 0 {
		if durationSec < f.cfg.MinDurationSec {
			return Verdict{Reason: fmt.Sprintf("duration %.1fs below minimum %.0fs", durationSec, f.cfg.MinDurationSec)}
		}
		if durationSec > f.cfg.MaxDurationSec {
			return Verdict{Reason: fmt.Sprintf("duration %.1fs above maximum %.0fs", durationSec, f.cfg.MaxDurationSec)}
		}
	}
	if clippingRatio >= 0 && clippingRatio > f.cfg.MaxClippingRatio {
		return Verdict{Reason: fmt.Sprintf("clipping ratio %.2f above %.2f", clippingRatio, f.cfg.MaxClippingRatio)}
	}
	if silenceRatio >= 0 && silenceRatio > f.cfg.MaxSilenceRatio {
		return Verdict{Reason: fmt.Sprintf("silence ratio %.2f above %.2f", silenceRatio, f.cfg.MaxSilenceRatio)}
	}
	return Verdict{Healthy: true}
}
