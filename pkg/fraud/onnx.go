package fraud

// onnx.go - optional local ML classification over transcripts using
// Hugot/ONNX. Off by default; set SENTINEL_ENABLE_ONNX=true and point
// SENTINEL_ONNX_MODEL_PATH at a text-classification model directory to
// opt in. Everything degrades to the lexical signals when unavailable.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/sirupsen/logrus"
)

// ONNXEnabled reports whether local ONNX classification should run.
// Disabled by default so installs without a model stay quiet.
func ONNXEnabled() bool {
	switch os.Getenv("SENTINEL_ENABLE_ONNX") {
	case "1", "true", "TRUE", "yes", "on":
		return true
	}
	return false
}

// ONNXClassifier scores transcripts with a local text-classification model.
type ONNXClassifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	ready    bool
	log      *logrus.Entry
}

// NewONNXClassifier loads the model at modelPath. Returns an error when the
// model or runtime is unavailable; callers should treat that as "run
// without ML enrichment", not as fatal.
func NewONNXClassifier(modelPath string, log *logrus.Entry) (*ONNXClassifier, error) {
	if modelPath == "" {
		modelPath = os.Getenv("SENTINEL_ONNX_MODEL_PATH")
	}
	if modelPath == "" {
		return nil, fmt.Errorf("onnx: no model path configured")
	}
	if _, err := os.Stat(filepath.Join(modelPath, "model.onnx")); err != nil {
		return nil, fmt.Errorf("onnx: model not found at %s", modelPath)
	}

	c := &ONNXClassifier{log: log}

	session, err := newONNXSession(log)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}
	c.session = session

	pipe, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "scam-transcript-classifier",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("onnx: create pipeline: %w", err)
	}
	c.pipeline = pipe
	c.ready = true
	return c, nil
}

// newONNXSession prefers the ONNX Runtime backend when the shared library
// is present and falls back to the pure Go backend.
func newONNXSession(log *logrus.Entry) (*hugot.Session, error) {
	if libDir := onnxLibraryDir(); libDir != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(libDir))
		if err == nil {
			return session, nil
		}
		if log != nil {
			log.WithError(err).Warn("onnx runtime unavailable, using Go backend")
		}
	}
	return hugot.NewGoSession()
}

func onnxLibraryDir() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// IsReady reports whether the classifier can serve inference.
func (c *ONNXClassifier) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// scamLabel maps model label conventions to a scam decision.
func scamLabel(label string) bool {
	switch label {
	case "scam", "fraud", "SCAM", "LABEL_1":
		return true
	}
	return false
}

// Classify runs the model over one transcript and returns the scam
// probability (0 when the top label is non-scam).
func (c *ONNXClassifier) Classify(_ context.Context, text string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready || c.pipeline == nil {
		return 0, fmt.Errorf("onnx: classifier not ready")
	}

	start := time.Now()
	result, err := c.pipeline.RunPipeline([]string{text})
	if err != nil {
		return 0, fmt.Errorf("onnx: inference failed: %w", err)
	}
	if c.log != nil {
		c.log.WithField("latency_ms", time.Since(start).Milliseconds()).Debug("onnx classification")
	}

	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return 0, fmt.Errorf("onnx: empty classification output")
	}
	out := result.ClassificationOutputs[0][0]
	if !scamLabel(out.Label) {
		return 0, nil
	}
	return float64(out.Score), nil
}

// Enrich adds an ml_scam_score signal when the model flags the transcript.
// Inference failures leave the signal map unchanged.
func (c *ONNXClassifier) Enrich(ctx context.Context, text string, signals SignalMap) SignalMap {
	score, err := c.Classify(ctx, text)
	if err != nil || score == 0 {
		return signals
	}
	out := signals.Clone()
	if out == nil {
		out = SignalMap{}
	}
	out["ml_scam_score"] = Signal{Score: score}
	return out
}

// Close releases the ONNX session.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.session != nil {
		return c.session.Destroy()
	}
	return nil
}
