package fraud

// Merge fuses the per-namespace signal maps of one call into a single flat
// map. Nil arguments mean "no signal" and never fail. Precedence on name
// collisions is last-write-wins in the order linguistic, conversational,
// acoustic; context keys are ctx_-prefixed and therefore collision-free.
//
// Merge performs no numeric validation: out-of-range values are each
// producer's responsibility. It is pure and has no side effects.
func Merge(linguistic, conversational, acoustic, context SignalMap) SignalMap {
	merged := make(SignalMap, len(linguistic)+len(conversational)+len(acoustic)+len(context))
	for name, s := range linguistic {
		merged[name] = s
	}
	for name, s := range conversational {
		merged[name] = s
	}
	for name, s := range acoustic {
		merged[name] = s
	}
	for name, s := range context {
		merged[ContextPrefix+name] = s
	}
	return merged
}

// NewFeatureSet merges the namespaces for a call and freezes the result.
func NewFeatureSet(callID string, linguistic, conversational, acoustic, context SignalMap) FeatureSet {
	return FeatureSet{
		CallID:  callID,
		Signals: Merge(linguistic, conversational, acoustic, context),
	}
}
