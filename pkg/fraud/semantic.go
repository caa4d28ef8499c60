package fraud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/callguard/sentinel/pkg/httputil"
)

// ScamPhrase is one known scam-script line with metadata for the
// embedding index.
type ScamPhrase struct {
	Text     string
	Category string
	Severity float32
}

// SemanticMatcher finds scam-script paraphrases the lexicons miss, using
// embedding similarity over an in-process vector index. It is optional:
// when no embedding source is available the pipeline runs without it.
type SemanticMatcher struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32
	mu         sync.RWMutex
	ready      bool
}

// SemanticMatch is the outcome of one similarity query.
type SemanticMatch struct {
	Score       float32
	Category    string
	MatchedText string
	IsScam      bool
}

// NewSemanticMatcher builds a matcher backed by an Ollama embedding
// endpoint. The index is empty until LoadPhrases runs.
func NewSemanticMatcher(ollamaURL, model string) (*SemanticMatcher, error) {
	db := chromem.NewDB()

	collection, err := db.CreateCollection("scam_phrases", nil, newOllamaEmbeddingFunc(model, ollamaURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &SemanticMatcher{
		db:         db,
		collection: collection,
		threshold:  0.65,
	}, nil
}

// newOllamaEmbeddingFunc adapts Ollama's /api/embeddings endpoint to
// chromem's embedding interface.
func newOllamaEmbeddingFunc(model, baseURL string) chromem.EmbeddingFunc {
	client := httputil.NewClient(30 * time.Second)

	return func(ctx context.Context, text string) ([]float32, error) {
		reqBody := map[string]string{
			"model":  model,
			"prompt": text,
		}
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama embedding returned status %d", resp.StatusCode)
		}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		return result.Embedding, nil
	}
}

// LoadPhrases embeds the scam-script corpus into the index. Documents are
// added sequentially to avoid overwhelming the embedding endpoint.
func (sm *SemanticMatcher) LoadPhrases(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	phrases := scamScriptPhrases()
	docs := make([]chromem.Document, len(phrases))
	for i, p := range phrases {
		docs[i] = chromem.Document{
			ID:      fmt.Sprintf("phrase_%d", i),
			Content: p.Text,
			Metadata: map[string]string{
				"category": p.Category,
				"severity": fmt.Sprintf("%.2f", p.Severity),
			},
		}
	}

	if err := sm.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add phrases: %w", err)
	}

	sm.ready = true
	return nil
}

// Match queries the index for the closest known scam line. A benign best
// match above threshold short-circuits to a zero score.
func (sm *SemanticMatcher) Match(ctx context.Context, text string) (*SemanticMatch, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.ready {
		return nil, fmt.Errorf("semantic matcher not initialized - call LoadPhrases first")
	}

	results, err := sm.collection.Query(ctx, NormalizeTranscript(text), 3, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if len(results) == 0 {
		return &SemanticMatch{Category: "benign"}, nil
	}

	best := results[0]
	category := best.Metadata["category"]

	if category == "benign" && best.Similarity > sm.threshold {
		return &SemanticMatch{Category: "benign"}, nil
	}

	return &SemanticMatch{
		Score:       best.Similarity,
		Category:    category,
		MatchedText: best.Content,
		IsScam:      best.Similarity >= sm.threshold && category != "benign",
	}, nil
}

// Enrich adds a semantic_scam signal to an already-extracted linguistic map
// when the transcript paraphrases a known script. Matcher failures degrade
// to the lexical signals alone.
func (sm *SemanticMatcher) Enrich(ctx context.Context, text string, signals SignalMap) SignalMap {
	match, err := sm.Match(ctx, text)
	if err != nil || !match.IsScam {
		return signals
	}
	out := signals.Clone()
	if out == nil {
		out = SignalMap{}
	}
	out["semantic_scam"] = Signal{
		Score:    float64(match.Score),
		Evidence: []string{match.MatchedText},
	}
	return out
}

// IsReady reports whether LoadPhrases has completed.
func (sm *SemanticMatcher) IsReady() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.ready
}

// SetThreshold updates the similarity cutoff.
func (sm *SemanticMatcher) SetThreshold(t float32) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.threshold = t
}

var (
	cachedPhrases     []ScamPhrase
	cachedPhrasesOnce sync.Once
)

// scamScriptPhrases is the curated corpus of known phone-scam script lines.
// Benign entries are false-positive guards for everyday banking and support
// conversations.
func scamScriptPhrases() []ScamPhrase {
	cachedPhrasesOnce.Do(func() {
		cachedPhrases = []ScamPhrase{
			// impersonation openings
			{"I'm calling from the IRS about unpaid taxes on your account", "impersonation", 1.0},
			{"This is the Social Security Administration, your number has been suspended", "impersonation", 1.0},
			{"I'm with your bank's fraud department, we detected suspicious activity", "impersonation", 0.95},
			{"This is Microsoft technical support, your computer is sending us errors", "impersonation", 0.95},
			{"I'm an officer with the federal police and there is a warrant in your name", "impersonation", 1.0},
			{"We're calling from Amazon about an unauthorized purchase on your account", "impersonation", 0.9},

			// credential and PII harvesting
			{"I need you to read me the six digit code we just sent to your phone", "credential_harvest", 1.0},
			{"Please confirm your full card number and the security code on the back", "credential_harvest", 1.0},
			{"Verify your identity by telling me your social security number", "credential_harvest", 1.0},
			{"What is the one time password showing on your screen right now", "credential_harvest", 1.0},
			{"Give me your online banking username and password so I can secure the account", "credential_harvest", 1.0},
			{"Confirm your date of birth and your mother's maiden name for verification", "credential_harvest", 0.9},

			// pressure and urgency
			{"You must act immediately or your account will be permanently closed", "pressure", 0.95},
			{"This is your final notice before we issue the arrest warrant", "pressure", 1.0},
			{"Do not hang up or the police will be dispatched to your address", "pressure", 1.0},
			{"You have thirty minutes to resolve this before legal action begins", "pressure", 0.95},
			{"If you tell anyone about this call the investigation will turn on you", "pressure", 0.95},

			// payment extraction
			{"Go to the store and buy gift cards, then read me the numbers on the back", "payment", 1.0},
			{"You need to wire the funds to this safe government account right away", "payment", 1.0},
			{"Send the payment in bitcoin to clear your name", "payment", 1.0},
			{"There is a small processing fee before we can release your refund", "payment", 0.95},
			{"Move your savings to this protected account while we investigate", "payment", 1.0},

			// remote access
			{"Install this program so I can remotely fix the problem on your computer", "remote_access", 1.0},
			{"Download the application I'm about to spell out and give me the access code", "remote_access", 1.0},
			{"Allow me to share your screen so I can check your bank balance is safe", "remote_access", 0.95},

			// secrecy coaching
			{"Don't tell the bank teller what the withdrawal is for, they are involved", "secrecy", 1.0},
			{"Keep this call confidential, even from your family", "secrecy", 0.9},
			{"If anyone asks, say the money is for home renovations", "secrecy", 0.95},

			// benign guards
			{"Hi grandma, just calling to see how you're doing this week", "benign", 0.0},
			{"Your prescription is ready for pickup at the pharmacy", "benign", 0.0},
			{"I'm calling to confirm your dentist appointment on Tuesday", "benign", 0.0},
			{"The plumber can come by Thursday morning between nine and eleven", "benign", 0.0},
			{"Thanks for calling support, have you tried restarting the router", "benign", 0.0},
			{"Your package was delivered and left by the front door", "benign", 0.0},
		}
	})
	return cachedPhrases
}

// PhraseCount returns the number of phrases embedded into the index. Zero
// until LoadPhrases completes.
func (sm *SemanticMatcher) PhraseCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.collection.Count()
}
