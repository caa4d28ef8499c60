package fraud

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callguard/sentinel/pkg/config"
)

// Engine is the hybrid scoring engine: a weighted base score over the text
// signals combined with the pre-fused acoustic score, then an ordered
// knockout rule pass that can only raise the result. The engine is stateless
// between calls; identical inputs yield identical verdicts.
type Engine struct {
	weights          map[string]float64
	rules            []Rule
	textWeight       float64
	audioWeight      float64
	defaultThreshold float64
	log              *logrus.Entry
}

// NewEngine builds an engine from config plus an optional scoring overlay.
// Mock or test behavior is a matter of the tables passed in, not a separate
// engine implementation.
func NewEngine(cfg *config.Config, overlay *config.ScoringOverlay, log *logrus.Entry) *Engine {
	e := &Engine{
		weights:          DefaultSignalWeights(),
		rules:            DefaultRules(),
		textWeight:       0.7,
		audioWeight:      0.3,
		defaultThreshold: 0.40,
		log:              log,
	}
	if cfg != nil {
		e.defaultThreshold = cfg.DefaultFraudThreshold
	}
	if overlay != nil {
		if overlay.TextWeight != nil {
			e.textWeight = *overlay.TextWeight
		}
		if overlay.AudioWeight != nil {
			e.audioWeight = *overlay.AudioWeight
		}
		for name, w := range overlay.SignalWeights {
			e.weights[name] = w
		}
		e.rules = applyFloorOverrides(e.rules, overlay.RuleFloors)
	}
	return e
}

// Score computes a preliminary verdict from the text and acoustic signal
// maps against the supplied fraud threshold. It never panics through to the
// caller: any internal failure yields a zero-score, low-confidence default
// verdict tagged with the error.
func (e *Engine) Score(text, acoustic SignalMap, threshold float64) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.WithField("panic", fmt.Sprint(r)).Error("scoring failed, returning default verdict")
			}
			verdict = e.defaultVerdict(threshold, fmt.Sprintf("error during analysis: %v", r))
		}
	}()

	baseText := e.weightedScore(text)
	baseAudio := acoustic.Score("acoustic_fraud_score")
	combined := e.textWeight*baseText + e.audioWeight*baseAudio

	score, notes, triggered := e.applyRules(combined, text)
	score = math.Min(1.0, score)

	isFraud := score >= threshold
	verdict = Verdict{
		FraudScore:          score,
		IsFraud:             isFraud,
		Confidence:          ConfidenceFor(score),
		TriggeredRules:      triggered,
		ContributingSignals: contributing(text),
		Explanation:         explanation(score, isFraud, notes),
		Stage:               StagePreliminary,
		ThresholdUsed:       threshold,
		GeneratedAt:         time.Now().UTC(),
		ruleNotes:           notes,
	}
	return verdict
}

// ScoreDefault scores against the engine's standalone threshold, for use
// without a generated ThresholdProfile.
func (e *Engine) ScoreDefault(text, acoustic SignalMap) Verdict {
	return e.Score(text, acoustic, e.defaultThreshold)
}

// weightedScore applies the per-signal weight table and clamps to [0,1].
func (e *Engine) weightedScore(signals SignalMap) float64 {
	score := 0.0
	for name, s := range signals {
		score += e.weights[name] * s.Score
	}
	return math.Min(1.0, math.Max(0.0, score))
}

// applyRules runs the knockout rules in order against the running score.
// Each firing rule raises the score to at least its floor.
func (e *Engine) applyRules(base float64, text SignalMap) (float64, []string, []string) {
	score := base
	var notes, triggered []string
	for _, rule := range e.rules {
		ok, note := rule.Matches(text)
		if !ok {
			continue
		}
		score = math.Max(score, rule.Floor)
		notes = append(notes, note)
		triggered = append(triggered, rule.Name)
	}
	return score, notes, triggered
}

// contributing lists every text signal that materially moved the score.
func contributing(text SignalMap) []ContributingSignal {
	var out []ContributingSignal
	for _, name := range sortedNames(text) {
		s := text[name]
		if s.Score > 0.1 {
			out = append(out, ContributingSignal{
				Name:     name,
				Score:    s.Score,
				Evidence: append([]string(nil), s.Evidence...),
			})
		}
	}
	return out
}

func sortedNames(m SignalMap) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func explanation(score float64, isFraud bool, notes []string) string {
	if isFraud {
		msg := fmt.Sprintf("FRAUD LIKELY (score %.3f).", score)
		if len(notes) > 0 {
			msg += " Critical indicators: " + strings.Join(notes, "; ") + "."
		}
		msg += " Recommendation: end the call immediately and do not provide any personal information."
		return msg
	}
	return fmt.Sprintf("LIKELY NORMAL CALL (score %.3f). The call lacks the critical indicators and tactic combinations associated with fraud.", score)
}

func (e *Engine) defaultVerdict(threshold float64, reason string) Verdict {
	return Verdict{
		FraudScore:    0.0,
		IsFraud:       false,
		Confidence:    ConfidenceLow,
		Explanation:   reason,
		Stage:         StagePreliminary,
		ThresholdUsed: threshold,
		GeneratedAt:   time.Now().UTC(),
	}
}
