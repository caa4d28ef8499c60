package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/callguard/sentinel/pkg/channel"
	"github.com/callguard/sentinel/pkg/config"
	"github.com/callguard/sentinel/pkg/fraud"
	"github.com/callguard/sentinel/pkg/history"
	"github.com/callguard/sentinel/pkg/logger"
	"github.com/callguard/sentinel/pkg/pipeline"
	"github.com/callguard/sentinel/pkg/transcribe"
	"github.com/callguard/sentinel/pkg/verifier"
)

const Version = "0.1.0"

// Core bundles the wired analysis components behind the HTTP and CLI
// surfaces. The optional collaborators degrade gracefully when their
// backends are unavailable.
type Core struct {
	pipeline *pipeline.Pipeline
	hub      *channel.Hub
	cfg      *config.Config
	log      *logger.Logger
	closers  []func() error
}

// NewCore wires the full decision core from configuration. Every optional
// backend that fails to initialize is logged and skipped, never fatal.
func NewCore(cfg *config.Config, log *logger.Logger) (*Core, error) {
	core := &Core{cfg: cfg, log: log}

	var overlay *config.ScoringOverlay
	if cfg.ScoringConfigPath != "" {
		o, err := config.LoadScoringOverlay(cfg.ScoringConfigPath)
		if err != nil {
			return nil, fmt.Errorf("scoring overlay: %w", err)
		}
		overlay = o
		cfg.ApplyOverlay(overlay)
		log.WithField("path", cfg.ScoringConfigPath).Info("scoring overlay loaded")
	}

	// validated after the overlay so a bad tuning file cannot ship
	// inconsistent bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := fraud.NewEngine(cfg, overlay, log.Entry)
	thresholds := fraud.NewThresholdGenerator(cfg)
	extractor := fraud.NewLexicalExtractor()

	// Semantic matching needs a running Ollama for embeddings, so it is
	// opt-in and skipped on any init failure.
	var semantic *fraud.SemanticMatcher
	if cfg.EnableSemantics {
		sm, err := fraud.NewSemanticMatcher(cfg.OllamaBaseURL, cfg.EmbedModel)
		if err != nil {
			log.WithError(err).Warn("semantic matching disabled (init failed)")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			if err := sm.LoadPhrases(ctx); err != nil {
				log.WithError(err).Warn("semantic matching disabled (phrase load failed)")
			} else {
				semantic = sm
				log.WithField("phrases", sm.PhraseCount()).Info("semantic matching enabled")
			}
			cancel()
		}
	}

	var ml *fraud.ONNXClassifier
	if fraud.ONNXEnabled() {
		clf, err := fraud.NewONNXClassifier("", log.Entry)
		if err != nil {
			log.WithError(err).Warn("onnx classification disabled")
		} else {
			ml = clf
			core.closers = append(core.closers, clf.Close)
			log.Info("onnx classification enabled")
		}
	}

	var pending channel.PendingStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, using in-memory pending alerts")
			_ = client.Close()
		} else {
			pending = channel.NewRedisPendingStore(client)
			core.closers = append(core.closers, client.Close)
			log.WithField("addr", cfg.RedisAddr).Info("redis pending-alert store enabled")
		}
	}
	hub := channel.NewHub(pending, log.Entry)

	var store history.Store
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pg, err := history.NewPostgresStore(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			log.WithError(err).Warn("postgres unreachable, using in-memory caller history")
		} else {
			store = pg
			core.closers = append(core.closers, func() error { pg.Close(); return nil })
			log.Info("postgres caller-history store enabled")
		}
	}

	var transcriber transcribe.Transcriber
	if cfg.TranscriberURL != "" {
		transcriber = transcribe.NewClient(cfg.TranscriberURL, cfg.TranscriberModel)
		log.WithField("url", cfg.TranscriberURL).Info("transcription enabled")
	}

	var vf verifier.Verifier
	if cfg.VerifierProvider != config.ProviderNone {
		vf = verifier.NewClient(cfg)
		log.WithField("provider", cfg.VerifierProvider).Info("contextual verifier enabled")
	} else {
		log.Info("contextual verifier disabled, fast-path scoring only")
	}

	core.hub = hub
	core.pipeline = pipeline.New(pipeline.Options{
		Config:      cfg,
		Engine:      engine,
		Thresholds:  thresholds,
		Extractor:   extractor,
		Semantic:    semantic,
		ML:          ml,
		Transcriber: transcriber,
		Verifier:    vf,
		Hub:         hub,
		Store:       store,
		Log:         log,
	})
	return core, nil
}

func (c *Core) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.log.WithError(err).Warn("shutdown cleanup failed")
		}
	}
}

func main() {
	_ = godotenv.Load()
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := "8080"
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runServer(port, log)
	case "analyze":
		if len(os.Args) < 3 {
			fmt.Println("Usage: sentinel analyze <transcript>")
			os.Exit(1)
		}
		runAnalyze(strings.Join(os.Args[2:], " "), log)
	case "version":
		fmt.Printf("Sentinel v%s\n", Version)
		fmt.Println("Phone-call fraud detection core")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Sentinel v%s - Phone-call fraud detection core\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  sentinel serve [port]         Start HTTP server (default: 8080)")
	fmt.Println("  sentinel analyze <transcript> Score a transcript from the command line")
	fmt.Println("  sentinel version              Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  SENTINEL_VERIFIER_PROVIDER  ollama, gpt4all, groq, openrouter, none")
	fmt.Println("  SENTINEL_VERIFIER_API_KEY   API key for cloud verifier providers")
	fmt.Println("  SENTINEL_TRANSCRIBER_URL    OpenAI-compatible transcription endpoint")
	fmt.Println("  SENTINEL_REDIS_ADDR         Redis address for durable pending alerts")
	fmt.Println("  SENTINEL_POSTGRES_DSN       Postgres DSN for caller history")
	fmt.Println("  SENTINEL_ENABLE_SEMANTICS   Enable chromem-go scam-phrase matching")
	fmt.Println("  SENTINEL_ENABLE_ONNX        Enable local ONNX transcript classification")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

// processRequest is the JSON body for POST /calls/:id/process. Audio can be
// supplied instead as a multipart "audio" file with these fields as form
// values.
type processRequest struct {
	UserID          string             `json:"user_id"`
	CallerNumber    string             `json:"caller_number"`
	Transcript      string             `json:"transcript"`
	DurationSeconds float64            `json:"duration_seconds"`
	Timestamp       time.Time          `json:"timestamp"`
	Measurements    fraud.Measurements `json:"measurements"`
}

func runServer(port string, log *logger.Logger) {
	cfg := config.NewDefaultConfig()
	core, err := NewCore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	defer core.Close()

	app := fiber.New(fiber.Config{
		AppName: "Sentinel",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"version":     Version,
			"escalations": core.pipeline.EscalationStats(),
		})
	})

	app.Post("/calls/:id/process", func(c fiber.Ctx) error {
		callID := c.Params("id")

		var req processRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}

		preq := pipeline.Request{
			CallID:       callID,
			UserID:       req.UserID,
			CallerNumber: req.CallerNumber,
			Transcript:   req.Transcript,
			Measurements: req.Measurements,
			Duration:     time.Duration(req.DurationSeconds * float64(time.Second)),
			Timestamp:    req.Timestamp,
		}

		// Multipart audio takes precedence over an inline transcript.
		if file, err := c.FormFile("audio"); err == nil && file != nil {
			f, err := file.Open()
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "unreadable audio upload"})
			}
			defer f.Close()
			preq.Audio = f
			preq.AudioFilename = file.Filename
		}

		job, err := core.pipeline.ProcessCall(c.Context(), preq)
		if errors.Is(err, pipeline.ErrCallInFlight) {
			return c.Status(409).JSON(fiber.Map{"error": "call already being processed"})
		}
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(job)
	})

	app.Post("/calls/:id/end", func(c fiber.Ctx) error {
		ended := core.pipeline.EndCall(c.Params("id"))
		return c.JSON(fiber.Map{"call_id": c.Params("id"), "ended": ended})
	})

	// Per-call state events. The pipeline publishes a JSON event on every
	// state transition; this stream relays them as SSE.
	app.Get("/calls/:id/events", func(c fiber.Ctx) error {
		return streamChannel(c, core.hub, c.Params("id"))
	})

	// Per-user alert stream. Subscribing drains any alerts queued while the
	// user was disconnected before live traffic resumes.
	app.Get("/alerts/:user/stream", func(c fiber.Ctx) error {
		return streamChannel(c, core.hub, c.Params("user"))
	})

	log.WithField("port", port).Info("sentinel server starting")
	if err := app.Listen(":" + port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

// streamChannel binds an SSE connection to a hub key and relays payloads
// until the client disconnects or a newer subscriber replaces it.
func streamChannel(c fiber.Ctx, hub *channel.Hub, key string) error {
	if key == "" {
		return c.Status(400).JSON(fiber.Map{"error": "channel key required"})
	}

	conn := newSSEConn(64)
	if err := hub.Subscribe(c.Context(), key, conn); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "subscription failed"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer hub.Unsubscribe(key, conn)
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-conn.done:
				return
			case payload := <-conn.ch:
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					conn.Close()
					return
				}
				if err := w.Flush(); err != nil {
					conn.Close()
					return
				}
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					conn.Close()
					return
				}
				if err := w.Flush(); err != nil {
					conn.Close()
					return
				}
			}
		}
	})
}

// sseConn adapts a buffered byte channel to the hub's Conn interface. Send
// fails on a full buffer so the hub drops slow consumers instead of
// blocking publishers.
type sseConn struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func newSSEConn(buffer int) *sseConn {
	return &sseConn{
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *sseConn) Send(payload []byte) error {
	p := append([]byte(nil), payload...)
	select {
	case <-s.done:
		return errors.New("sse: connection closed")
	default:
	}
	select {
	case s.ch <- p:
		return nil
	default:
		return errors.New("sse: slow consumer, buffer full")
	}
}

func (s *sseConn) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// ============================================================================
// CLI Mode
// ============================================================================

func runAnalyze(transcript string, log *logger.Logger) {
	cfg := config.NewDefaultConfig()
	core, err := NewCore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize")
	}
	defer core.Close()

	job, err := core.pipeline.ProcessCall(context.Background(), pipeline.Request{
		CallID:     "cli",
		UserID:     "cli",
		Transcript: transcript,
		Timestamp:  time.Now(),
	})
	if err != nil {
		log.WithError(err).Fatal("analysis failed")
	}

	out, _ := json.MarshalIndent(job, "", "  ")
	fmt.Println(string(out))
}
