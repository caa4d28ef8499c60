package fraud

import (
	"sort"
	"strings"
	"unicode"

	"github.com/callguard/sentinel/pkg/lexicon"
)

// TextExtractor turns a transcript into linguistic signals. Implementations
// must be safe for concurrent use; the pipeline calls them from per-call
// goroutines.
type TextExtractor interface {
	Extract(text string) SignalMap
}

// LexicalExtractor scores a transcript against the weighted phrase lexicons
// plus a small set of structural heuristics (action demands, repetition).
// It holds no per-call state.
type LexicalExtractor struct {
	registry *lexicon.Registry
}

func NewLexicalExtractor() *LexicalExtractor {
	return &LexicalExtractor{registry: lexicon.Get()}
}

// Extract produces the linguistic signal map for one transcript. Every
// category always appears in the output, zero-scored when nothing matched,
// so downstream consumers never distinguish "absent" from "clean".
func (x *LexicalExtractor) Extract(text string) SignalMap {
	normalized := NormalizeTranscript(text)
	tokens := tokenize(normalized)

	signals := SignalMap{}
	for _, cat := range []lexicon.Category{
		lexicon.CategoryAuthority,
		lexicon.CategoryUrgency,
		lexicon.CategoryThreats,
		lexicon.CategoryPIIRequests,
		lexicon.CategoryScamLexicon,
		lexicon.CategoryEvasiveness,
		lexicon.CategoryFalseReassurance,
		lexicon.CategoryFinancial,
	} {
		score, evidence := x.scoreLexicon(normalized, cat)
		signals[string(cat)] = Signal{Score: score, Evidence: evidence}
	}

	demandScore, demands := actionDemands(tokens)
	signals[string(lexicon.CategoryActionDemands)] = Signal{Score: demandScore, Evidence: demands}

	repScore, repeated := repetition(tokens)
	signals["repetition"] = Signal{Score: repScore, Evidence: repeated}

	return signals
}

// ExtractConversational derives turn-level dynamics from the transcript
// alone. These are coarse without diarization but still feed fusion under
// their own namespace.
func (x *LexicalExtractor) ExtractConversational(text string) SignalMap {
	sentences := splitSentences(text)
	nSentences := len(sentences)
	if nSentences == 0 {
		nSentences = 1
	}

	questions := float64(strings.Count(text, "?")) / float64(nSentences)
	exclamations := float64(strings.Count(text, "!")) / float64(nSentences)

	return SignalMap{
		"question_density":    {Score: clamp01(questions)},
		"exclamation_density": {Score: clamp01(exclamations)},
		"turn_taking":         {Score: clamp01(float64(nSentences) / 10)},
	}
}

// scoreLexicon sums the weights of every phrase found in the transcript,
// capped at 1.0. Matched phrases become the signal's evidence.
func (x *LexicalExtractor) scoreLexicon(text string, cat lexicon.Category) (float64, []string) {
	score := 0.0
	var evidence []string
	for _, p := range x.registry.GetByCategory(cat) {
		if strings.Contains(text, p.Text) {
			score += p.Weight
			evidence = append(evidence, p.Text)
		}
	}
	return clamp01(score), evidence
}

// actionDemands counts high-risk imperative commands. Without a dependency
// parse we approximate "imperative" as a command verb opening a sentence or
// clause; each hit contributes 0.3.
func actionDemands(tokens []string) (float64, []string) {
	var commands []string
	seen := map[string]bool{}
	for i, tok := range tokens {
		if !lexicon.HighRiskCommands[tok] || seen[tok] {
			continue
		}
		// a command preceded by a pronoun is a statement, not a demand
		if i > 0 && isSubjectPronoun(tokens[i-1]) {
			continue
		}
		seen[tok] = true
		commands = append(commands, tok)
	}
	return clamp01(float64(len(commands)) * 0.3), commands
}

func isSubjectPronoun(tok string) bool {
	switch tok {
	case "i", "we", "you", "he", "she", "they", "it":
		return true
	}
	return false
}

// repetition flags non-filler words spoken three or more times. Scammers
// hammer the same demand; each distinct repeated word contributes 0.2.
func repetition(tokens []string) (float64, []string) {
	counts := map[string]int{}
	for _, tok := range tokens {
		if len(tok) < 2 || lexicon.FillerWords[tok] {
			continue
		}
		counts[tok]++
	}
	var repeated []string
	for word, n := range counts {
		if n >= 3 {
			repeated = append(repeated, word)
		}
	}
	sort.Strings(repeated)
	return clamp01(float64(len(repeated)) * 0.2), repeated
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '?' || r == '!'
	})
	out := raw[:0]
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
