// Package lexicon provides a centralized registry of weighted fraud phrases
// for linguistic signal extraction. All lexicons are built once at package
// init and shared across every extractor and scorer.
//
// Design principles:
// - BUILD ONCE: lexicons are assembled at first use, not per-call
// - DRY: single source of truth for every fraud phrase and its weight
// - CATEGORIZED: phrases organized by tactic for targeted scoring
// - EXTENSIBLE: new phrases slot in without touching extractor code
package lexicon

import (
	"sort"
	"sync"
)

// Category represents a fraud-tactic lexicon category.
type Category string

const (
	// Weighted-signal categories (feed the scoring engine directly)
	CategoryAuthority     Category = "authority"
	CategoryUrgency       Category = "urgency"
	CategoryThreats       Category = "threats"
	CategoryPIIRequests   Category = "pii_requests"
	CategoryScamLexicon   Category = "scam_lexicon"
	CategoryActionDemands Category = "action_demands"

	// Conversational-tactic categories (supplementary signals)
	CategoryEvasiveness      Category = "evasiveness"
	CategoryFalseReassurance Category = "false_reassurance"
	CategoryFinancial        Category = "financial_keywords"
)

// Phrase holds one lexicon entry with its severity weight.
type Phrase struct {
	Text     string   // lowercase phrase matched by substring
	Weight   float64  // contribution to the category score (0-1)
	Category Category // tactic this phrase evidences
}

// Registry holds all lexicons, organized by category.
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category][]*Phrase
}

// global singleton - initialized once at first use
var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the global lexicon registry (singleton).
// Thread-safe and guaranteed to be initialized.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

func newRegistry() *Registry {
	r := &Registry{
		byCategory: make(map[Category][]*Phrase),
	}

	r.registerAuthorityPhrases()
	r.registerUrgencyPhrases()
	r.registerThreatPhrases()
	r.registerPIIPhrases()
	r.registerScamPhrases()
	r.registerTacticPhrases()
	r.registerFinancialPhrases()

	return r
}

func (r *Registry) register(text string, category Category, weight float64) {
	p := &Phrase{Text: text, Weight: weight, Category: category}
	r.byCategory[category] = append(r.byCategory[category], p)
}

// GetByCategory returns all phrases for a category, longest first so that
// multi-word matches are reported ahead of their substrings.
// Returns empty slice if category not found (never nil).
func (r *Registry) GetByCategory(cat Category) []*Phrase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phrases, ok := r.byCategory[cat]
	if !ok {
		return []*Phrase{}
	}
	out := make([]*Phrase, len(phrases))
	copy(out, phrases)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Text) > len(out[j].Text)
	})
	return out
}

// Categories returns every registered category.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cats := make([]Category, 0, len(r.byCategory))
	for c := range r.byCategory {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// Count returns the total number of registered phrases.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.byCategory {
		n += len(list)
	}
	return n
}
