package fraud

import (
	"fmt"
	"strings"

	"github.com/callguard/sentinel/pkg/lexicon"
)

// Rule is a knockout rule: when it matches, the running score is raised to
// at least Floor. Rules may only raise the score, never lower it, and are
// applied in registration order.
type Rule struct {
	Name  string
	Floor float64
	// Matches inspects the text signals and, when the rule fires, returns a
	// human-readable note for the verdict explanation.
	Matches func(text SignalMap) (bool, string)
}

// Rule names, stable across releases; alert consumers key off them.
const (
	RuleCriticalPII       = "critical_pii_request"
	RuleDirectThreat      = "direct_threat"
	RuleUrgencyAuthority  = "urgency_plus_authority"
	RuleRiskyActionUnderP = "risky_action_under_pressure"
)

// DefaultSignalWeights is the calibrated per-signal weight table for the
// base text score. Unknown signal names contribute zero.
func DefaultSignalWeights() map[string]float64 {
	return map[string]float64{
		"authority":      0.15,
		"urgency":        0.20,
		"threats":        0.25,
		"pii_requests":   0.25,
		"scam_lexicon":   0.10,
		"action_demands": 0.05,
	}
}

// DefaultRules returns the ordered knockout rule set. Floors can be retuned
// through the scoring overlay; the matching predicates are code.
func DefaultRules() []Rule {
	return []Rule{
		{
			// Demanding critical credentials is an almost certain sign of fraud.
			Name:  RuleCriticalPII,
			Floor: 0.95,
			Matches: func(text SignalMap) (bool, string) {
				pii := text.Get("pii_requests")
				if pii.Score > 0.5 && text.HasEvidence("pii_requests", lexicon.CriticalCredentials) {
					return true, fmt.Sprintf("caller demanded high-risk credentials (%s)", strings.Join(pii.Evidence, ", "))
				}
				return false, ""
			},
		},
		{
			// A direct, severe threat is a massive red flag on its own.
			Name:  RuleDirectThreat,
			Floor: 0.85,
			Matches: func(text SignalMap) (bool, string) {
				threats := text.Get("threats")
				if threats.Score > 0.6 {
					return true, fmt.Sprintf("caller made direct threats (%s)", strings.Join(threats.Evidence, ", "))
				}
				return false, ""
			},
		},
		{
			// The classic pincer: manufactured urgency plus a claim of authority.
			Name:  RuleUrgencyAuthority,
			Floor: 0.70,
			Matches: func(text SignalMap) (bool, string) {
				if text.Score("urgency") > 0.4 && text.Score("authority") > 0.4 {
					return true, "caller combined high urgency with a claim of authority"
				}
				return false, ""
			},
		},
		{
			// "You must transfer the money right now."
			Name:  RuleRiskyActionUnderP,
			Floor: 0.65,
			Matches: func(text SignalMap) (bool, string) {
				if text.Score("action_demands") > 0.3 && text.Score("urgency") > 0.4 {
					return true, "caller demanded a risky action under pressure"
				}
				return false, ""
			},
		},
	}
}

// applyFloorOverrides retunes rule floors from the scoring overlay without
// forking the rule set.
func applyFloorOverrides(rules []Rule, floors map[string]float64) []Rule {
	if len(floors) == 0 {
		return rules
	}
	for i := range rules {
		if f, ok := floors[rules[i].Name]; ok {
			rules[i].Floor = f
		}
	}
	return rules
}
