package fraud

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/callguard/sentinel/pkg/config"
)

// SensitivityTier classifies a final threshold for operators. Lower
// thresholds mean the engine flags calls more aggressively.
type SensitivityTier string

const (
	SensitivityLow    SensitivityTier = "low"
	SensitivityMedium SensitivityTier = "medium"
	SensitivityHigh   SensitivityTier = "high"
)

// CallMetadata carries the per-call context the threshold generator uses.
// History flags come from the caller-history store when one is configured
// and default to the most suspicious interpretation otherwise.
type CallMetadata struct {
	CallID          string
	Duration        time.Duration
	Timestamp       time.Time
	FirstTimeCaller bool
	RepeatedCalls   bool
	KnownContact    bool
	International   bool
}

// Adjustment is one factor's contribution to the final threshold.
type Adjustment struct {
	Factor string  `json:"factor"`
	Delta  float64 `json:"delta"`
}

// ThresholdProfile is the per-call fraud threshold plus its audit trail.
// FinalThreshold is always within [min,max] no matter how many adjustments
// fired.
type ThresholdProfile struct {
	BaseThreshold  float64         `json:"base_threshold"`
	Adjustments    []Adjustment    `json:"adjustments"`
	FinalThreshold float64         `json:"final_threshold"`
	Rationale      string          `json:"rationale"`
	Sensitivity    SensitivityTier `json:"sensitivity"`
}

// ThresholdGenerator computes call-specific fraud thresholds. Each factor's
// adjustment is independently capped by its table entry, so no single facet
// can move the threshold unboundedly.
type ThresholdGenerator struct {
	min float64
	max float64
}

func NewThresholdGenerator(cfg *config.Config) *ThresholdGenerator {
	g := &ThresholdGenerator{min: 0.20, max: 0.60}
	if cfg != nil {
		g.min = cfg.BaseThresholdMin
		g.max = cfg.BaseThresholdMax
	}
	return g
}

// Generate produces the threshold profile for one call. It is a pure
// function of its inputs, so the pipeline can run it concurrently with the
// scoring pass.
func (g *ThresholdGenerator) Generate(meta CallMetadata, audio, text SignalMap) ThresholdProfile {
	base := (g.min + g.max) / 2
	var adjustments []Adjustment

	add := func(factor string, delta float64) {
		if delta != 0 {
			adjustments = append(adjustments, Adjustment{Factor: factor, Delta: delta})
		}
	}

	add("call_duration", durationAdjustment(meta.Duration))
	add("time_of_day", timeAdjustment(meta.Timestamp))
	add("call_patterns", patternAdjustment(meta))
	add("caller_behavior", audioAdjustment(audio))
	add("content_analysis", contentAdjustment(text))

	total := 0.0
	for _, a := range adjustments {
		total += a.Delta
	}
	final := math.Max(g.min, math.Min(g.max, base+total))

	return ThresholdProfile{
		BaseThreshold:  base,
		Adjustments:    adjustments,
		FinalThreshold: final,
		Rationale:      rationale(adjustments, final),
		Sensitivity:    sensitivityFor(final),
	}
}

// Very short calls raise suspicion; long conversations are more often
// legitimate.
func durationAdjustment(d time.Duration) float64 {
	secs := d.Seconds()
	switch {
	case secs < 30:
		return 0.15
	case secs < 300:
		return 0.0
	default:
		return -0.05
	}
}

func timeAdjustment(ts time.Time) float64 {
	if ts.IsZero() {
		ts = time.Now()
	}
	hour := ts.Hour()
	weekend := ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday

	switch {
	case hour >= 21 || hour < 6:
		return 0.15
	case hour >= 17 && hour < 21:
		return 0.05
	case hour >= 9 && hour < 17 && !weekend:
		return -0.05
	}
	if weekend {
		return 0.08
	}
	return 0.0
}

// Pattern flags are additive: an international first-time caller is riskier
// than either flag alone.
func patternAdjustment(meta CallMetadata) float64 {
	adj := 0.0
	if meta.FirstTimeCaller {
		adj += 0.10
	}
	if meta.RepeatedCalls {
		adj += 0.12
	}
	if meta.International {
		adj += 0.15
	}
	if meta.KnownContact {
		adj -= 0.05
	}
	return adj
}

func audioAdjustment(audio SignalMap) float64 {
	adj := 0.0
	rate := audio.Score("speech_rate")
	if rate == 0 {
		rate = 150
	}
	if rate > 180 {
		adj += 0.10
	} else if rate < 100 {
		adj += 0.05
	}
	if audio.Score("energy_spikes") > 8 {
		adj += 0.15
	}
	return adj
}

func contentAdjustment(text SignalMap) float64 {
	adj := 0.0
	if text.Score("financial_keywords") > 0.3 {
		adj += 0.20
	}
	if text.Score("pii_requests") > 0.2 {
		adj += 0.25
	}
	if text.Score("urgency") > 0.3 {
		adj += 0.15
	}
	if text.Score("threats") > 0.2 {
		adj += 0.30
	}
	return adj
}

func rationale(adjustments []Adjustment, final float64) string {
	if len(adjustments) == 0 {
		return fmt.Sprintf("standard threshold applied: %.3f (no special risk factors detected)", final)
	}
	parts := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		if a.Delta > 0 {
			parts = append(parts, fmt.Sprintf("%s increased threshold by %.3f", a.Factor, a.Delta))
		} else {
			parts = append(parts, fmt.Sprintf("%s decreased threshold by %.3f", a.Factor, -a.Delta))
		}
	}
	return fmt.Sprintf("threshold adjustments: %s; final threshold: %.3f", strings.Join(parts, ", "), final)
}

func sensitivityFor(threshold float64) SensitivityTier {
	switch {
	case threshold < 0.30:
		return SensitivityLow
	case threshold < 0.45:
		return SensitivityMedium
	default:
		return SensitivityHigh
	}
}
