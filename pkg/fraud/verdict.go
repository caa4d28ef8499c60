package fraud

import "time"

// Stage records which pass of the two-stage pipeline produced a verdict.
type Stage string

const (
	StagePreliminary Stage = "preliminary" // cheap weighted+rule pass
	StageEscalated   Stage = "escalated"   // contextual verifier pass
)

// ContributingSignal is one signal that materially influenced a verdict,
// retained for audit and user-facing explanations.
type ContributingSignal struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Evidence []string `json:"evidence,omitempty"`
}

// Verdict is the decision for one call at one point in the pipeline. A call
// has exactly one current verdict; earlier ones are retained for audit but
// never mutated.
type Verdict struct {
	FraudScore          float64              `json:"fraud_score"`
	IsFraud             bool                 `json:"is_fraud"`
	Confidence          Confidence           `json:"confidence"`
	TriggeredRules      []string             `json:"triggered_rules,omitempty"`
	ContributingSignals []ContributingSignal `json:"contributing_signals,omitempty"`
	Explanation         string               `json:"explanation"`
	Stage               Stage                `json:"stage"`
	ThresholdUsed       float64              `json:"threshold_used"`
	GeneratedAt         time.Time            `json:"generated_at"`

	// rule notes retained so a re-thresholded verdict can rebuild its
	// explanation without rescoring
	ruleNotes []string
}

// ApplyThreshold re-derives is_fraud against a call-specific threshold. The
// pipeline uses this to join a concurrently generated ThresholdProfile with
// a verdict scored against the engine default. When the decision flips, the
// explanation is rebuilt so its framing matches the new decision.
func (v Verdict) ApplyThreshold(threshold float64) Verdict {
	wasFraud := v.IsFraud
	v.ThresholdUsed = threshold
	v.IsFraud = v.FraudScore >= threshold
	if v.Stage == StagePreliminary && v.IsFraud != wasFraud {
		v.Explanation = explanation(v.FraudScore, v.IsFraud, v.ruleNotes)
	}
	return v
}

// Clone returns an independent copy so an audit trail entry cannot be
// mutated through the current verdict.
func (v Verdict) Clone() Verdict {
	c := v
	c.TriggeredRules = append([]string(nil), v.TriggeredRules...)
	c.ruleNotes = append([]string(nil), v.ruleNotes...)
	c.ContributingSignals = append([]ContributingSignal(nil), v.ContributingSignals...)
	for i := range c.ContributingSignals {
		c.ContributingSignals[i].Evidence = append([]string(nil), v.ContributingSignals[i].Evidence...)
	}
	return c
}
