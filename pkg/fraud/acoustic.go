package fraud

import "math"

// Measurements are the raw audio features reported by an upstream analyzer
// for one call segment. The decision core never touches audio itself; it
// consumes these numbers as-is.
type Measurements struct {
	EnergySpikes       float64 `json:"energy_spikes"`
	PitchVariance      float64 `json:"pitch_variance"`
	StressIndicators   float64 `json:"stress_indicators"`
	VoiceQuality       float64 `json:"voice_quality"`
	RhythmIrregularity float64 `json:"rhythm_irregularity"`
	SpeechRate         float64 `json:"speech_rate"` // words per minute
	PauseRatio         float64 `json:"pause_ratio"`
	BackgroundNoise    float64 `json:"background_noise"`
}

const pitchVarianceThreshold = 2000

// AcousticSignals converts raw measurements into the acoustic signal map,
// including the combined acoustic_fraud_score the scoring engine blends
// with the text score. Counts and rates pass through unbounded; only the
// combined score is normalized.
func AcousticSignals(m Measurements) SignalMap {
	return SignalMap{
		"acoustic_fraud_score": {Score: acousticFraudScore(m)},
		"energy_spikes":        {Score: m.EnergySpikes},
		"pitch_variance":       {Score: m.PitchVariance},
		"stress_indicators":    {Score: m.StressIndicators},
		"voice_quality":        {Score: m.VoiceQuality},
		"rhythm_irregularity":  {Score: m.RhythmIrregularity},
		"speech_rate":          {Score: m.SpeechRate},
		"pause_ratio":          {Score: m.PauseRatio},
		"background_noise":     {Score: m.BackgroundNoise},
	}
}

// acousticFraudScore is a fixed-weight combiner over the voice-stress
// indicators. Energy and pitch only contribute past their noise thresholds.
func acousticFraudScore(m Measurements) float64 {
	score := 0.0
	if m.EnergySpikes > 5 {
		score += 0.3 * math.Min(1.0, m.EnergySpikes/20)
	}
	if m.PitchVariance > pitchVarianceThreshold {
		score += 0.25 * math.Min(1.0, m.PitchVariance/10000)
	}
	score += 0.2 * m.StressIndicators
	if m.VoiceQuality < 0.3 {
		score += 0.15 * (1.0 - m.VoiceQuality)
	}
	score += 0.1 * m.RhythmIrregularity
	return math.Min(1.0, score)
}
