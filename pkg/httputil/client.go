// Package httputil provides shared HTTP utilities with connection pooling
// and safe response handling for the sentinel's outbound collaborators
// (transcriber, verifier, embedding endpoints).
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize is the default cap when reading response bodies from
// collaborator services. A misbehaving transcriber or verifier must not be
// able to exhaust memory.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with connection pooling. Safe for concurrent use;
// reusing TCP connections matters because every escalated call makes at
// least one verifier round trip.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier defines standard timeout categories for collaborator calls.
type TimeoutTier int

const (
	// TierFast for health checks and embedding lookups (5s)
	TierFast TimeoutTier = iota
	// TierMedium for transcription requests (30s)
	TierMedium
	// TierSlow for LLM verifier calls that may take longer (60s)
	TierSlow
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

// Singleton clients per tier - initialized once, reused everywhere.
var (
	clientFast   *http.Client
	clientMedium *http.Client
	clientSlow   *http.Client
	clientOnce   sync.Once
)

func initClients() {
	clientFast = &http.Client{
		Timeout:   timeoutDurations[TierFast],
		Transport: sharedTransport,
	}
	clientMedium = &http.Client{
		Timeout:   timeoutDurations[TierMedium],
		Transport: sharedTransport,
	}
	clientSlow = &http.Client{
		Timeout:   timeoutDurations[TierSlow],
		Transport: sharedTransport,
	}
}

// Client returns a shared HTTP client for the given timeout tier. These
// clients share a connection pool and should be used instead of creating
// new http.Client instances per request.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierFast:
		return clientFast
	case TierMedium:
		return clientMedium
	case TierSlow:
		return clientSlow
	default:
		return clientMedium
	}
}

// NewClient returns a client with a custom overall timeout on the shared
// transport, for callers whose deadline comes from configuration rather
// than a tier.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}

// ReadResponseBody reads an HTTP response body with a size limit.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads the response body for error messages. Error payloads
// get a smaller limit (1MB).
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the connection can
// return to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
