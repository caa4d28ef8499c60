package fraud

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/callguard/sentinel/pkg/config"
)

func newTestEngine() *Engine {
	return NewEngine(config.NewDefaultConfig(), nil, nil)
}

func TestScoreCriticalPIIKnockout(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{
		"pii_requests": {Score: 0.9, Evidence: []string{"otp"}},
		"urgency":      {Score: 0.2},
	}
	v := e.ScoreDefault(text, nil)

	if v.FraudScore != 0.95 {
		t.Errorf("expected knockout floor 0.95, got %.3f", v.FraudScore)
	}
	if !v.IsFraud {
		t.Error("knockout verdict should be fraudulent against the default threshold")
	}
	if v.Confidence != ConfidenceHigh {
		t.Errorf("expected high confidence at 0.95, got %s", v.Confidence)
	}
	if !reflect.DeepEqual(v.TriggeredRules, []string{RuleCriticalPII}) {
		t.Errorf("expected triggered rules [%s], got %v", RuleCriticalPII, v.TriggeredRules)
	}
	if v.Stage != StagePreliminary {
		t.Errorf("expected preliminary stage, got %s", v.Stage)
	}
}

func TestScorePIIWithoutCriticalEvidence(t *testing.T) {
	e := newTestEngine()

	// High PII score but only low-risk evidence: the knockout must not fire.
	text := SignalMap{
		"pii_requests": {Score: 0.7, Evidence: []string{"date of birth"}},
	}
	v := e.ScoreDefault(text, nil)

	if len(v.TriggeredRules) != 0 {
		t.Errorf("no rule should fire, got %v", v.TriggeredRules)
	}
	want := 0.7 * (0.25 * 0.7)
	if math.Abs(v.FraudScore-want) > 1e-9 {
		t.Errorf("expected weighted score %.4f, got %.4f", want, v.FraudScore)
	}
}

func TestScoreAllZeroSignals(t *testing.T) {
	e := newTestEngine()

	v := e.ScoreDefault(SignalMap{}, SignalMap{})

	if v.FraudScore != 0.0 {
		t.Errorf("expected zero score, got %.3f", v.FraudScore)
	}
	if v.IsFraud {
		t.Error("zero score must not be fraudulent")
	}
	if v.Confidence != ConfidenceHigh {
		t.Errorf("a decisive zero score should be high confidence, got %s", v.Confidence)
	}
	if len(v.TriggeredRules) != 0 || len(v.ContributingSignals) != 0 {
		t.Errorf("nothing should trigger or contribute: rules=%v signals=%v",
			v.TriggeredRules, v.ContributingSignals)
	}
}

func TestScoreNilMaps(t *testing.T) {
	e := newTestEngine()

	v := e.ScoreDefault(nil, nil)
	if v.FraudScore != 0.0 || v.IsFraud {
		t.Errorf("nil maps should score clean, got %.3f fraud=%v", v.FraudScore, v.IsFraud)
	}
}

func TestScoreDirectThreatFloor(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{
		"threats": {Score: 0.7, Evidence: []string{"arrest warrant"}},
	}
	v := e.ScoreDefault(text, nil)

	if v.FraudScore != 0.85 {
		t.Errorf("expected direct-threat floor 0.85, got %.3f", v.FraudScore)
	}
	if !reflect.DeepEqual(v.TriggeredRules, []string{RuleDirectThreat}) {
		t.Errorf("expected [%s], got %v", RuleDirectThreat, v.TriggeredRules)
	}
}

func TestScoreUrgencyPlusAuthority(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{
		"urgency":   {Score: 0.5},
		"authority": {Score: 0.5},
	}
	v := e.ScoreDefault(text, nil)

	if v.FraudScore != 0.70 {
		t.Errorf("expected pincer floor 0.70, got %.3f", v.FraudScore)
	}
}

func TestScoreRiskyActionUnderPressure(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{
		"action_demands": {Score: 0.4, Evidence: []string{"transfer"}},
		"urgency":        {Score: 0.5},
	}
	v := e.ScoreDefault(text, nil)

	if v.FraudScore != 0.65 {
		t.Errorf("expected floor 0.65, got %.3f", v.FraudScore)
	}
	if !reflect.DeepEqual(v.TriggeredRules, []string{RuleRiskyActionUnderP}) {
		t.Errorf("expected [%s], got %v", RuleRiskyActionUnderP, v.TriggeredRules)
	}
}

func TestRulesOnlyRaiseScore(t *testing.T) {
	e := newTestEngine()

	// Everything maxed out: the weighted base already saturates at 1.0 and
	// no rule floor may pull it back down.
	text := SignalMap{
		"authority":      {Score: 1.0},
		"urgency":        {Score: 1.0},
		"threats":        {Score: 1.0, Evidence: []string{"arrest warrant"}},
		"pii_requests":   {Score: 1.0, Evidence: []string{"otp"}},
		"scam_lexicon":   {Score: 1.0},
		"action_demands": {Score: 1.0, Evidence: []string{"transfer"}},
	}
	acoustic := SignalMap{"acoustic_fraud_score": {Score: 1.0}}

	v := e.Score(text, acoustic, 0.40)
	if v.FraudScore != 1.0 {
		t.Errorf("expected saturated score 1.0, got %.3f", v.FraudScore)
	}
	if len(v.TriggeredRules) != 4 {
		t.Errorf("expected all 4 rules to fire, got %v", v.TriggeredRules)
	}
}

func TestScoreCombinesTextAndAcoustic(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{"urgency": {Score: 0.5}}
	acoustic := SignalMap{"acoustic_fraud_score": {Score: 0.6}}

	v := e.Score(text, acoustic, 0.40)
	want := 0.7*(0.20*0.5) + 0.3*0.6
	if math.Abs(v.FraudScore-want) > 1e-9 {
		t.Errorf("expected combined score %.4f, got %.4f", want, v.FraudScore)
	}
}

func TestScoreIdempotent(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{
		"urgency":   {Score: 0.5},
		"authority": {Score: 0.5},
	}
	v1 := e.ScoreDefault(text, nil)
	v2 := e.ScoreDefault(text, nil)

	if v1.FraudScore != v2.FraudScore || v1.IsFraud != v2.IsFraud {
		t.Errorf("identical inputs diverged: %.3f/%v vs %.3f/%v",
			v1.FraudScore, v1.IsFraud, v2.FraudScore, v2.IsFraud)
	}
	if !reflect.DeepEqual(v1.TriggeredRules, v2.TriggeredRules) {
		t.Errorf("triggered rules diverged: %v vs %v", v1.TriggeredRules, v2.TriggeredRules)
	}
}

func TestContributingSignalsSortedAndFiltered(t *testing.T) {
	e := newTestEngine()

	text := SignalMap{
		"urgency":   {Score: 0.5},
		"authority": {Score: 0.6},
		"threats":   {Score: 0.05}, // below the 0.1 materiality cutoff
	}
	v := e.ScoreDefault(text, nil)

	var names []string
	for _, cs := range v.ContributingSignals {
		names = append(names, cs.Name)
	}
	if !reflect.DeepEqual(names, []string{"authority", "urgency"}) {
		t.Errorf("expected sorted material signals [authority urgency], got %v", names)
	}
}

func TestOverlayRetunesWeightsAndFloors(t *testing.T) {
	tw := 1.0
	aw := 0.0
	overlay := &config.ScoringOverlay{
		TextWeight:    &tw,
		AudioWeight:   &aw,
		SignalWeights: map[string]float64{"urgency": 0.50},
		RuleFloors:    map[string]float64{RuleUrgencyAuthority: 0.90},
	}
	e := NewEngine(config.NewDefaultConfig(), overlay, nil)

	text := SignalMap{
		"urgency":   {Score: 0.5},
		"authority": {Score: 0.5},
	}
	v := e.ScoreDefault(text, nil)

	if v.FraudScore != 0.90 {
		t.Errorf("expected overlaid floor 0.90, got %.3f", v.FraudScore)
	}
}

func TestApplyThreshold(t *testing.T) {
	v := Verdict{FraudScore: 0.5, IsFraud: false}

	above := v.ApplyThreshold(0.6)
	if above.IsFraud {
		t.Error("0.5 against threshold 0.6 must not be fraud")
	}
	at := v.ApplyThreshold(0.5)
	if !at.IsFraud {
		t.Error("score equal to the threshold is fraud")
	}
	if at.ThresholdUsed != 0.5 {
		t.Errorf("threshold not recorded, got %.2f", at.ThresholdUsed)
	}
	if v.IsFraud {
		t.Error("ApplyThreshold must not mutate the receiver")
	}
}

func TestApplyThresholdRegeneratesExplanation(t *testing.T) {
	// Scored against the engine default, re-thresholded against a stricter
	// per-call profile: the decision flips and the explanation must follow.
	v := Verdict{
		FraudScore:    0.42,
		IsFraud:       true,
		Stage:         StagePreliminary,
		Explanation:   explanation(0.42, true, nil),
		ThresholdUsed: 0.40,
	}

	strict := v.ApplyThreshold(0.60)
	if strict.IsFraud {
		t.Fatal("0.42 against threshold 0.60 must not be fraud")
	}
	if !strings.HasPrefix(strict.Explanation, "LIKELY NORMAL CALL") {
		t.Errorf("explanation framing did not follow the decision: %q", strict.Explanation)
	}

	// No flip, no rewrite.
	same := v.ApplyThreshold(0.40)
	if same.Explanation != v.Explanation {
		t.Error("explanation must be untouched when the decision stands")
	}

	// Flip in the other direction keeps the rule notes in the rebuilt text.
	low := Verdict{
		FraudScore:  0.35,
		IsFraud:     false,
		Stage:       StagePreliminary,
		Explanation: explanation(0.35, false, nil),
		ruleNotes:   []string{"caller made direct threats (arrest warrant)"},
	}
	lenient := low.ApplyThreshold(0.30)
	if !lenient.IsFraud {
		t.Fatal("0.35 against threshold 0.30 is fraud")
	}
	if !strings.HasPrefix(lenient.Explanation, "FRAUD LIKELY") {
		t.Errorf("explanation framing did not follow the decision: %q", lenient.Explanation)
	}
	if !strings.Contains(lenient.Explanation, "arrest warrant") {
		t.Errorf("rebuilt explanation lost the rule notes: %q", lenient.Explanation)
	}
}

func TestVerdictCloneIsIndependent(t *testing.T) {
	v := Verdict{
		FraudScore:     0.8,
		TriggeredRules: []string{RuleDirectThreat},
		ContributingSignals: []ContributingSignal{
			{Name: "threats", Score: 0.7, Evidence: []string{"arrest warrant"}},
		},
	}
	c := v.Clone()
	c.TriggeredRules[0] = "mutated"
	c.ContributingSignals[0].Evidence[0] = "mutated"

	if v.TriggeredRules[0] != RuleDirectThreat {
		t.Error("clone shares the triggered-rules slice")
	}
	if v.ContributingSignals[0].Evidence[0] != "arrest warrant" {
		t.Error("clone shares contributing-signal evidence")
	}
}
