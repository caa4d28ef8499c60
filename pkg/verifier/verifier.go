// Package verifier implements the contextual fraud verifier: a slower LLM
// pass the pipeline escalates to when the preliminary score crosses the
// escalation cutoff. The verifier sees the full transcript plus the
// pre-detected signals and produces an independent fraud probability.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/callguard/sentinel/pkg/config"
	"github.com/callguard/sentinel/pkg/fraud"
	"github.com/callguard/sentinel/pkg/httputil"
)

// ErrMalformed is returned when the model's output contains no parseable
// verdict. The pipeline falls back to the preliminary verdict on this
// error.
var ErrMalformed = errors.New("verifier: malformed model response")

// Result is the verifier's independent assessment of one call.
type Result struct {
	Probability float64 `json:"probability"`
	Reasoning   string  `json:"reasoning"`
	LatencyMs   float64 `json:"latency_ms"`
}

// Verifier is the contextual verification collaborator.
type Verifier interface {
	Verify(ctx context.Context, transcript string, signals fraud.SignalMap) (Result, error)
}

// defaultTemperature keeps the output consistent and factual.
const defaultTemperature = 0.1

// Client talks to an OpenAI-compatible chat completion endpoint. Local
// GPT4All and Ollama servers expose this API, as do Groq and OpenRouter.
type Client struct {
	http        *http.Client
	provider    config.VerifierProvider
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// NewClient builds a verifier client from config. The provider decides the
// default endpoint; BaseURL overrides it.
func NewClient(cfg *config.Config) *Client {
	model := cfg.VerifierModel
	baseURL := cfg.VerifierBaseURL

	switch cfg.VerifierProvider {
	case config.ProviderOllama:
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		if model == "" {
			model = "qwen2.5:7b"
		}
	case config.ProviderGroq:
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}
		if model == "" {
			model = "llama-3.1-8b-instant"
		}
	case config.ProviderOpenRouter:
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		if model == "" {
			model = "mistralai/mistral-small:free"
		}
	case config.ProviderGPT4All:
		fallthrough
	default:
		// GPT4All's local API server
		if baseURL == "" {
			baseURL = "http://localhost:4891/v1"
		}
		if model == "" {
			model = "mistral-7b-instruct"
		}
	}

	timeout := cfg.VerifierTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		http:        httputil.Client(httputil.TierSlow),
		provider:    cfg.VerifierProvider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.VerifierAPIKey,
		model:       model,
		temperature: defaultTemperature,
		timeout:     timeout,
	}
}

// Verify sends the transcript and pre-detected signals to the model and
// parses its probability/reasoning verdict. The call is bounded by the
// verifier timeout regardless of the caller's context.
func (c *Client) Verify(ctx context.Context, transcript string, signals fraud.SignalMap) (Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return Result{Probability: 0.0, Reasoning: "no valid text to analyze"}, nil
	}
	if c.provider == config.ProviderOpenRouter && c.apiKey == "" {
		return Result{}, fmt.Errorf("verifier: API key not configured for openrouter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	content, err := c.chat(ctx, buildPrompt(transcript, signals))
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrMalformed, truncate(content, 200))
	}
	if result.Probability < 0 || result.Probability > 1 {
		return Result{}, fmt.Errorf("%w: probability %.3f out of range", ErrMalformed, result.Probability)
	}
	if result.Reasoning == "" {
		return Result{}, fmt.Errorf("%w: missing reasoning", ErrMalformed)
	}

	result.LatencyMs = latency
	return result, nil
}

// buildPrompt frames the task for instruction-tuned local models.
func buildPrompt(transcript string, signals fraud.SignalMap) string {
	signalJSON, err := json.MarshalIndent(signals, "", "  ")
	if err != nil {
		signalJSON = []byte("{}")
	}
	return fmt.Sprintf(`You are an expert fraud analyst. Your task is to analyze a phone call transcript and a list of detected signals.
Based on the context, provide a final fraud probability and a brief reason.
Respond ONLY with a valid JSON object containing two keys: "probability" (a float from 0.0 to 1.0) and "reasoning" (a string).

**Pre-Detected Signals:**
%s

**Full Call Transcript:**
%q

Provide your JSON response now.`, signalJSON, transcript)
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	// External model servers are untrusted; 2MB is generous for any
	// legitimate completion.
	const maxResponseSize = 2 * 1024 * 1024
	body, err := httputil.ReadResponseBody(resp.Body, maxResponseSize)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("verifier API error %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformed)
	}
	return result.Choices[0].Message.Content, nil
}

// extractJSON strips markdown fences and surrounding prose, keeping the
// outermost JSON object.
func extractJSON(content string) string {
	clean := strings.TrimSpace(content)
	if start := strings.Index(clean, "{"); start != -1 {
		clean = clean[start:]
	}
	if end := strings.LastIndex(clean, "}"); end != -1 {
		clean = clean[:end+1]
	}
	return clean
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Static returns a fixed result for every call. Used in tests and when no
// verifier backend is configured.
type Static struct {
	Result Result
	Err    error
	Delay  time.Duration
}

func (s Static) Verify(ctx context.Context, transcript string, signals fraud.SignalMap) (Result, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return Result{}, s.Err
	}
	return s.Result, nil
}
