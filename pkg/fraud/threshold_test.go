package fraud

import (
	"strings"
	"testing"
	"time"

	"github.com/callguard/sentinel/pkg/config"
)

// businessHours is a Tuesday morning: the only slot with a negative time
// adjustment, which keeps baselines predictable in these tests.
var businessHours = time.Date(2026, time.June, 2, 10, 0, 0, 0, time.UTC)

func neutralMeta() CallMetadata {
	return CallMetadata{
		CallID:    "call-1",
		Duration:  2 * time.Minute,
		Timestamp: businessHours,
	}
}

func TestGenerateBaseline(t *testing.T) {
	g := NewThresholdGenerator(config.NewDefaultConfig())

	meta := neutralMeta()
	meta.KnownContact = true // cancels nothing, adds -0.05

	p := g.Generate(meta, nil, nil)

	if p.BaseThreshold != 0.40 {
		t.Errorf("expected base (0.20+0.60)/2 = 0.40, got %.3f", p.BaseThreshold)
	}
	// business hours -0.05, known contact -0.05
	want := 0.40 - 0.05 - 0.05
	if !almostEqual(p.FinalThreshold, want) {
		t.Errorf("expected %.3f, got %.3f", want, p.FinalThreshold)
	}
}

func TestGenerateClampsToBounds(t *testing.T) {
	g := NewThresholdGenerator(config.NewDefaultConfig())

	// Stack every suspicious factor: short night call, international
	// first-timer calling repeatedly, threatening content.
	meta := CallMetadata{
		Duration:        10 * time.Second,
		Timestamp:       time.Date(2026, time.June, 2, 23, 0, 0, 0, time.UTC),
		FirstTimeCaller: true,
		RepeatedCalls:   true,
		International:   true,
	}
	text := SignalMap{
		"financial_keywords": {Score: 0.5},
		"pii_requests":       {Score: 0.5},
		"urgency":            {Score: 0.5},
		"threats":            {Score: 0.5},
	}
	audio := SignalMap{
		"speech_rate":   {Score: 200},
		"energy_spikes": {Score: 12},
	}

	p := g.Generate(meta, audio, text)
	if p.FinalThreshold != 0.60 {
		t.Errorf("threshold must clamp to max 0.60, got %.3f", p.FinalThreshold)
	}
	if p.Sensitivity != SensitivityHigh {
		t.Errorf("expected high sensitivity at the cap, got %s", p.Sensitivity)
	}

	// And the opposite direction: a long business-hours call from a known
	// contact with clean content.
	calm := neutralMeta()
	calm.Duration = 10 * time.Minute
	calm.KnownContact = true

	low := g.Generate(calm, nil, nil)
	if low.FinalThreshold < 0.20 {
		t.Errorf("threshold must clamp to min 0.20, got %.3f", low.FinalThreshold)
	}
}

func TestDurationAdjustment(t *testing.T) {
	cases := []struct {
		duration time.Duration
		want     float64
	}{
		{10 * time.Second, 0.15},
		{2 * time.Minute, 0.0},
		{10 * time.Minute, -0.05},
	}
	for _, tc := range cases {
		if got := durationAdjustment(tc.duration); !almostEqual(got, tc.want) {
			t.Errorf("duration %v: expected %.2f, got %.2f", tc.duration, tc.want, got)
		}
	}
}

func TestTimeAdjustment(t *testing.T) {
	day := func(hour int, weekday time.Weekday) time.Time {
		// June 1 2026 is a Monday.
		base := time.Date(2026, time.June, 1, hour, 0, 0, 0, time.UTC)
		return base.AddDate(0, 0, int(weekday-time.Monday))
	}

	cases := []struct {
		name string
		ts   time.Time
		want float64
	}{
		{"late night", day(23, time.Tuesday), 0.15},
		{"early morning", day(5, time.Tuesday), 0.15},
		{"evening", day(18, time.Tuesday), 0.05},
		{"business hours", day(10, time.Tuesday), -0.05},
		{"weekend daytime", day(10, time.Saturday), 0.08},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := timeAdjustment(tc.ts); !almostEqual(got, tc.want) {
				t.Errorf("expected %.2f, got %.2f", tc.want, got)
			}
		})
	}
}

func TestPatternAdjustmentIsAdditive(t *testing.T) {
	meta := CallMetadata{FirstTimeCaller: true, International: true}
	if got := patternAdjustment(meta); !almostEqual(got, 0.25) {
		t.Errorf("international first-timer should add 0.10+0.15, got %.2f", got)
	}
}

func TestAudioAdjustmentDefaultsSpeechRate(t *testing.T) {
	// A zero speech rate means "unreported" and must not count as slow.
	if got := audioAdjustment(SignalMap{}); got != 0 {
		t.Errorf("empty audio map should adjust nothing, got %.2f", got)
	}
	fast := SignalMap{"speech_rate": {Score: 200}}
	if got := audioAdjustment(fast); !almostEqual(got, 0.10) {
		t.Errorf("fast speech should add 0.10, got %.2f", got)
	}
	slow := SignalMap{"speech_rate": {Score: 80}}
	if got := audioAdjustment(slow); !almostEqual(got, 0.05) {
		t.Errorf("slow speech should add 0.05, got %.2f", got)
	}
}

func TestSensitivityTiers(t *testing.T) {
	cases := []struct {
		threshold float64
		want      SensitivityTier
	}{
		{0.20, SensitivityLow},
		{0.29, SensitivityLow},
		{0.30, SensitivityMedium},
		{0.44, SensitivityMedium},
		{0.45, SensitivityHigh},
		{0.60, SensitivityHigh},
	}
	for _, tc := range cases {
		if got := sensitivityFor(tc.threshold); got != tc.want {
			t.Errorf("threshold %.2f: expected %s, got %s", tc.threshold, tc.want, got)
		}
	}
}

func TestRationaleNamesEveryAdjustment(t *testing.T) {
	g := NewThresholdGenerator(config.NewDefaultConfig())

	meta := neutralMeta()
	meta.Duration = 10 * time.Second
	meta.FirstTimeCaller = true

	p := g.Generate(meta, nil, nil)
	for _, factor := range []string{"call_duration", "time_of_day", "call_patterns"} {
		if !strings.Contains(p.Rationale, factor) {
			t.Errorf("rationale missing factor %q: %s", factor, p.Rationale)
		}
	}
}

func TestGenerateIsPure(t *testing.T) {
	g := NewThresholdGenerator(config.NewDefaultConfig())
	meta := neutralMeta()

	p1 := g.Generate(meta, nil, nil)
	p2 := g.Generate(meta, nil, nil)
	if p1.FinalThreshold != p2.FinalThreshold || p1.Rationale != p2.Rationale {
		t.Error("identical inputs must produce identical profiles")
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
