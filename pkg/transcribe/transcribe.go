// Package transcribe defines the transcription collaborator contract and an
// HTTP adapter for whisper-style transcription servers. Transcription always
// targets English output so the lexicons apply regardless of source
// language.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/callguard/sentinel/pkg/httputil"
)

// ErrNoSpeech is returned when the audio contains no usable speech. The
// pipeline fails such jobs with a "no speech" reason instead of scoring an
// empty transcript.
var ErrNoSpeech = errors.New("transcribe: no speech detected")

// Result is one completed transcription.
type Result struct {
	Text                string  `json:"text"`
	DetectedLanguage    string  `json:"detected_language,omitempty"`
	LanguageProbability float64 `json:"language_probability,omitempty"`
}

// Transcriber converts call audio into English text. Implementations must
// be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (Result, error)
}

// Client talks to an OpenAI-compatible transcription endpoint
// (POST {base}/v1/audio/transcriptions, multipart). Transient failures are
// retried with exponential backoff within the caller's context.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewClient(baseURL, model string) *Client {
	if model == "" {
		model = "whisper-small"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    httputil.Client(httputil.TierMedium),
	}
}

// Transcribe uploads the audio and returns the translated transcript.
// Client errors (4xx) are permanent; everything else retries until the
// context expires.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (Result, error) {
	payload, contentType, err := c.buildMultipart(audio, filename)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: build request: %w", err)
	}

	var result Result
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer httputil.DrainAndClose(resp.Body)

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			body, _ := httputil.ReadErrorBody(resp.Body)
			return backoff.Permanent(fmt.Errorf("transcription server returned %d: %s", resp.StatusCode, body))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("transcription server returned %d", resp.StatusCode)
		}

		body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
		if err != nil {
			return err
		}
		var decoded struct {
			Text                string  `json:"text"`
			Language            string  `json:"language"`
			LanguageProbability float64 `json:"language_probability"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return fmt.Errorf("decode transcription response: %w", err)
		}
		result = Result{
			Text:                strings.TrimSpace(decoded.Text),
			DetectedLanguage:    decoded.Language,
			LanguageProbability: decoded.LanguageProbability,
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}

	if result.Text == "" {
		return Result{}, ErrNoSpeech
	}
	return result, nil
}

func (c *Client) buildMultipart(audio io.Reader, filename string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", c.model); err != nil {
		return nil, "", err
	}
	// whisper translate task yields English regardless of source language
	if err := w.WriteField("task", "translate"); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Static returns a fixed transcript for every call. Used by the analyze CLI
// when the caller already has text, and by tests.
type Static struct {
	Result Result
	Err    error
}

func (s Static) Transcribe(context.Context, io.Reader, string) (Result, error) {
	if s.Err != nil {
		return Result{}, s.Err
	}
	if strings.TrimSpace(s.Result.Text) == "" {
		return Result{}, ErrNoSpeech
	}
	return s.Result, nil
}
