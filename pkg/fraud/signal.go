package fraud

// Namespace identifies which extraction layer produced a signal.
type Namespace string

const (
	NamespaceLinguistic     Namespace = "linguistic"     // lexical/tactical text analysis
	NamespaceConversational Namespace = "conversational" // turn-level conversation dynamics
	NamespaceAcoustic       Namespace = "acoustic"       // audio-derived measurements
	NamespaceContext        Namespace = "context"        // call metadata, ctx_-prefixed
)

// ContextPrefix is applied to every context-namespace key during fusion so
// metadata can never collide with extracted signals.
const ContextPrefix = "ctx_"

// Signal is a single named, scored fraud indicator. Scores normally live in
// [0,1]; raw counts (energy spikes, words per minute) are passed through
// unbounded and interpreted by their consumers.
type Signal struct {
	// Score is the indicator strength (0.0 = absent, 1.0 = saturated).
	Score float64 `json:"score"`

	// Evidence lists the raw tokens or measurements that produced the score.
	Evidence []string `json:"evidence,omitempty"`
}

// SignalMap holds the signals of one namespace, keyed by signal name.
type SignalMap map[string]Signal

// Get returns the named signal, or a zero signal if absent. Missing signals
// are indistinguishable from zero-score ones by design: extractors that fail
// simply contribute nothing.
func (m SignalMap) Get(name string) Signal {
	if m == nil {
		return Signal{}
	}
	return m[name]
}

// Score is shorthand for Get(name).Score.
func (m SignalMap) Score(name string) float64 {
	return m.Get(name).Score
}

// HasEvidence reports whether the named signal carries any of the given
// evidence items.
func (m SignalMap) HasEvidence(name string, items map[string]bool) bool {
	for _, e := range m.Get(name).Evidence {
		if items[e] {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the map. Evidence slices are copied
// too so the result can be retained safely.
func (m SignalMap) Clone() SignalMap {
	if m == nil {
		return nil
	}
	out := make(SignalMap, len(m))
	for name, s := range m {
		c := Signal{Score: s.Score}
		if len(s.Evidence) > 0 {
			c.Evidence = append([]string(nil), s.Evidence...)
		}
		out[name] = c
	}
	return out
}

// FeatureSet is the fused signal map for one call at one point in the
// pipeline. It is immutable once produced: consumers read, never write.
type FeatureSet struct {
	CallID  string    `json:"call_id"`
	Signals SignalMap `json:"signals"`
}

// Confidence expresses how decisive a verdict score is.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceFor bands a score by how far it sits from the ambiguous middle.
// Decisive scores (very high or very low) are high confidence.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score > 0.8 || score < 0.2:
		return ConfidenceHigh
	case score > 0.6 || score < 0.3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
