package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScoringOverlay is the optional YAML tuning file for the decision core.
// The numeric constants of the scoring engine and threshold generator are
// configuration, not invariants; this overlay lets a deployment retune them
// without a rebuild. Absent fields keep their built-in defaults.
type ScoringOverlay struct {
	TextWeight    *float64           `yaml:"text_weight"`
	AudioWeight   *float64           `yaml:"audio_weight"`
	SignalWeights map[string]float64 `yaml:"signal_weights"`
	RuleFloors    map[string]float64 `yaml:"rule_floors"`

	ThresholdMin        *float64 `yaml:"threshold_min"`
	ThresholdMax        *float64 `yaml:"threshold_max"`
	EscalationThreshold *float64 `yaml:"escalation_threshold"`
}

// LoadScoringOverlay reads and parses an overlay file.
func LoadScoringOverlay(path string) (*ScoringOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring overlay: %w", err)
	}
	var o ScoringOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse scoring overlay: %w", err)
	}
	return &o, nil
}

// ApplyOverlay folds the threshold-related overlay fields into the Config.
// Engine-level fields (weights, rule floors) are consumed by the scoring
// engine directly.
func (c *Config) ApplyOverlay(o *ScoringOverlay) {
	if o == nil {
		return
	}
	if o.ThresholdMin != nil {
		c.BaseThresholdMin = *o.ThresholdMin
	}
	if o.ThresholdMax != nil {
		c.BaseThresholdMax = *o.ThresholdMax
	}
	if o.EscalationThreshold != nil {
		c.EscalationThreshold = *o.EscalationThreshold
	}
}
