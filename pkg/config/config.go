// Package config holds global settings for the Sentinel analysis core.
// All settings can be configured via environment variables or programmatically,
// with an optional YAML overlay for the scoring tables (see overlay.go).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// VerifierProvider defines the backend service used for contextual verification.
type VerifierProvider string

const (
	ProviderNone       VerifierProvider = "none"       // No verifier, fast-path scoring only
	ProviderOllama     VerifierProvider = "ollama"     // Local Ollama server
	ProviderGPT4All    VerifierProvider = "gpt4all"    // Local GPT4All API server
	ProviderOpenRouter VerifierProvider = "openrouter" // OpenRouter (has free tier)
	ProviderGroq       VerifierProvider = "groq"       // Groq (high-speed inference)
)

// Config holds global settings for the Sentinel core.
type Config struct {
	// === Thresholds (0.0 - 1.0) ===
	// EscalationThreshold is the cutoff above which a preliminary score is
	// escalated to the contextual verifier. Distinct from the per-call fraud
	// threshold produced by the ThresholdGenerator.
	EscalationThreshold float64
	// BaseThresholdMin/Max bound the dynamic per-call fraud threshold.
	BaseThresholdMin float64
	BaseThresholdMax float64
	// DefaultFraudThreshold is used when the engine is run standalone,
	// without a generated ThresholdProfile.
	DefaultFraudThreshold float64

	// === Contextual Verifier ===
	VerifierProvider VerifierProvider
	VerifierAPIKey   string
	VerifierModel    string
	VerifierBaseURL  string
	VerifierTimeout  time.Duration
	MaxEscalations   int // concurrent verifier calls allowed in flight

	// === Transcription ===
	TranscriberURL   string // OpenAI-compatible /audio/transcriptions endpoint
	TranscriberModel string

	// === Feature flags ===
	EnableSemantics bool   // chromem-go scam-phrase matching (requires Ollama)
	OllamaBaseURL   string // embeddings backend for the semantic matcher
	EmbedModel      string

	// === Stores ===
	RedisAddr   string // non-empty enables the Redis pending-alert store
	PostgresDSN string // non-empty enables the Postgres caller-history store

	// === Caller context ===
	// HomeCountryPrefix marks numbers outside this prefix as international
	// for the threshold generator (e.g. "+1").
	HomeCountryPrefix string

	// === Scoring overlay ===
	ScoringConfigPath string // optional YAML file overriding weights/rules/tables
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		EscalationThreshold:   GetEnvFloat("SENTINEL_ESCALATION_THRESHOLD", 0.40),
		BaseThresholdMin:      GetEnvFloat("SENTINEL_THRESHOLD_MIN", 0.20),
		BaseThresholdMax:      GetEnvFloat("SENTINEL_THRESHOLD_MAX", 0.60),
		DefaultFraudThreshold: GetEnvFloat("SENTINEL_FRAUD_THRESHOLD", 0.40),

		VerifierProvider: detectVerifierProvider(),
		VerifierAPIKey:   GetEnv("SENTINEL_VERIFIER_API_KEY", os.Getenv("OPENROUTER_API_KEY")),
		VerifierModel:    GetEnv("SENTINEL_VERIFIER_MODEL", ""),
		VerifierBaseURL:  GetEnv("SENTINEL_VERIFIER_BASE_URL", ""),
		VerifierTimeout:  time.Duration(GetEnvInt("SENTINEL_VERIFIER_TIMEOUT_MS", 20000)) * time.Millisecond,
		MaxEscalations:   clampInt(GetEnvInt("SENTINEL_MAX_ESCALATIONS", 8), 1, 256),

		TranscriberURL:   GetEnv("SENTINEL_TRANSCRIBER_URL", ""),
		TranscriberModel: GetEnv("SENTINEL_TRANSCRIBER_MODEL", "whisper-1"),

		EnableSemantics: GetEnvBool("SENTINEL_ENABLE_SEMANTICS", false),
		OllamaBaseURL:   GetEnv("SENTINEL_OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:      GetEnv("SENTINEL_EMBED_MODEL", "nomic-embed-text"),

		RedisAddr:   GetEnv("SENTINEL_REDIS_ADDR", ""),
		PostgresDSN: GetEnv("SENTINEL_POSTGRES_DSN", ""),

		HomeCountryPrefix: GetEnv("SENTINEL_HOME_COUNTRY_PREFIX", "+1"),

		ScoringConfigPath: GetEnv("SENTINEL_SCORING_CONFIG", ""),
	}
}

// NewHighSecurityConfig lowers the escalation cutoff so nearly every call with
// any suspicion at all is verified contextually. More verifier traffic, fewer
// missed frauds.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.EscalationThreshold = 0.15
	cfg.DefaultFraudThreshold = 0.30
	return cfg
}

// NewHighUsabilityConfig raises the cutoffs to minimize false alarms for the
// protected user.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.EscalationThreshold = 0.55
	cfg.DefaultFraudThreshold = 0.50
	return cfg
}

func detectVerifierProvider() VerifierProvider {
	if p := os.Getenv("SENTINEL_VERIFIER_PROVIDER"); p != "" {
		return VerifierProvider(p)
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("SENTINEL_VERIFIER_API_KEY") != "" {
		return ProviderOpenRouter
	}
	// Default to a local reasoning engine if no cloud keys found.
	return ProviderGPT4All
}

// Validate checks threshold sanity before the core starts.
func (c *Config) Validate() error {
	var problems []string
	if c.BaseThresholdMin < 0 || c.BaseThresholdMax > 1 || c.BaseThresholdMin >= c.BaseThresholdMax {
		problems = append(problems, fmt.Sprintf("threshold bounds [%.2f, %.2f] are not a sub-range of [0,1]", c.BaseThresholdMin, c.BaseThresholdMax))
	}
	if c.EscalationThreshold < 0 || c.EscalationThreshold > 1 {
		problems = append(problems, fmt.Sprintf("escalation threshold %.2f outside [0,1]", c.EscalationThreshold))
	}
	if c.VerifierTimeout <= 0 {
		problems = append(problems, "verifier timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// These are exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
