// Package pipeline implements the per-call escalation state machine: a
// cheap scoring pass first, then a slower contextual verifier pass when the
// preliminary score crosses the escalation cutoff.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/callguard/sentinel/pkg/channel"
	"github.com/callguard/sentinel/pkg/config"
	"github.com/callguard/sentinel/pkg/fraud"
	"github.com/callguard/sentinel/pkg/history"
	"github.com/callguard/sentinel/pkg/httputil"
	"github.com/callguard/sentinel/pkg/logger"
	"github.com/callguard/sentinel/pkg/transcribe"
	"github.com/callguard/sentinel/pkg/verifier"
)

// ErrCallInFlight is returned when a call identifier already has a pipeline
// instance running. Concurrent runs for the same call would duplicate
// escalations and interleave state writes.
var ErrCallInFlight = errors.New("pipeline: call already in flight")

// Request carries everything needed to analyze one call. Either Audio or
// Transcript must be set; Transcript skips the transcription stage.
type Request struct {
	CallID        string
	UserID        string
	CallerNumber  string
	Audio         io.Reader
	AudioFilename string
	Transcript    string
	Measurements  fraud.Measurements
	Duration      time.Duration
	Timestamp     time.Time
}

// Pipeline coordinates the collaborators for every call. It is safe for
// concurrent use across distinct call identifiers.
type Pipeline struct {
	cfg         *config.Config
	engine      *fraud.Engine
	thresholds  *fraud.ThresholdGenerator
	extractor   *fraud.LexicalExtractor
	semantic    *fraud.SemanticMatcher // optional
	ml          *fraud.ONNXClassifier  // optional
	transcriber transcribe.Transcriber
	verifier    verifier.Verifier // optional
	hub         *channel.Hub
	store       history.Store
	escalations *httputil.Semaphore
	log         *logger.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Options bundles the pipeline's collaborators. Semantic, ML, and Verifier
// may be nil; the pipeline degrades to lexical signals and fast-path-only
// decisions respectively.
type Options struct {
	Config      *config.Config
	Engine      *fraud.Engine
	Thresholds  *fraud.ThresholdGenerator
	Extractor   *fraud.LexicalExtractor
	Semantic    *fraud.SemanticMatcher
	ML          *fraud.ONNXClassifier
	Transcriber transcribe.Transcriber
	Verifier    verifier.Verifier
	Hub         *channel.Hub
	Store       history.Store
	Log         *logger.Logger
}

func New(opts Options) *Pipeline {
	store := opts.Store
	if store == nil {
		store = history.NewMemoryStore()
	}
	return &Pipeline{
		cfg:         opts.Config,
		engine:      opts.Engine,
		thresholds:  opts.Thresholds,
		extractor:   opts.Extractor,
		semantic:    opts.Semantic,
		ml:          opts.ML,
		transcriber: opts.Transcriber,
		verifier:    opts.Verifier,
		hub:         opts.Hub,
		store:       store,
		escalations: httputil.NewSemaphore(opts.Config.MaxEscalations),
		log:         opts.Log,
		inflight:    make(map[string]context.CancelFunc),
	}
}

// ProcessCall runs the full state machine for one call and returns the
// terminal job. A second call for the same identifier while one is in
// flight is rejected with ErrCallInFlight. The job always reaches a
// terminal state, even when ctx is cancelled mid-flight.
func (p *Pipeline) ProcessCall(ctx context.Context, req Request) (*Job, error) {
	if req.CallID == "" {
		return nil, errors.New("pipeline: call id required")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if _, running := p.inflight[req.CallID]; running {
		p.mu.Unlock()
		cancel()
		return nil, ErrCallInFlight
	}
	p.inflight[req.CallID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inflight, req.CallID)
		p.mu.Unlock()
		cancel()
	}()

	job := &Job{
		JobID:     uuid.NewString(),
		CallID:    req.CallID,
		UserID:    req.UserID,
		CreatedAt: time.Now().UTC(),
		State:     StateCreated,
	}
	p.transition(job, StateCreated, "job created")

	p.run(ctx, job, req)
	return job, nil
}

// EndCall cancels the in-flight pipeline for a call, if any. The pipeline
// converges to a terminal state with whatever verdict it has.
func (p *Pipeline) EndCall(callID string) bool {
	p.mu.Lock()
	cancel, ok := p.inflight[callID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// EscalationStats reports the verifier escalation slot usage, exposed for
// health monitoring.
func (p *Pipeline) EscalationStats() httputil.SemaphoreStats {
	return p.escalations.Stats()
}

// InFlight reports whether a call currently has a running pipeline.
func (p *Pipeline) InFlight(callID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[callID]
	return ok
}

func (p *Pipeline) run(ctx context.Context, job *Job, req Request) {
	log := p.log.WithJob(job.JobID, job.CallID)

	// TRANSCRIBING
	p.transition(job, StateTranscribing, "awaiting transcript")
	text, err := p.transcript(ctx, req)
	if err != nil {
		if errors.Is(err, transcribe.ErrNoSpeech) {
			p.fail(job, "no speech")
			return
		}
		if ctx.Err() != nil {
			p.converge(ctx, job, req, log)
			return
		}
		log.WithError(err).Error("transcription failed")
		p.fail(job, fmt.Sprintf("transcription failed: %v", err))
		return
	}

	// SCORING: the engine pass and the threshold generator run concurrently
	// over the same inputs and join before the state machine proceeds.
	p.transition(job, StateScoring, "scoring transcript and generating threshold")

	linguistic := p.extractor.Extract(text)
	if p.semantic != nil && p.semantic.IsReady() {
		linguistic = p.semantic.Enrich(ctx, text, linguistic)
	}
	if p.ml != nil && p.ml.IsReady() {
		linguistic = p.ml.Enrich(ctx, text, linguistic)
	}
	conversational := p.extractor.ExtractConversational(text)
	acoustic := fraud.AcousticSignals(req.Measurements)
	meta := p.callMetadata(ctx, req)
	fused := fraud.NewFeatureSet(req.CallID, linguistic, conversational, acoustic, contextSignals(meta))

	var (
		profile fraud.ThresholdProfile
		verdict fraud.Verdict
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		profile = p.thresholds.Generate(meta, acoustic, linguistic)
	}()
	go func() {
		defer wg.Done()
		verdict = p.engine.ScoreDefault(linguistic, acoustic)
	}()
	wg.Wait()

	verdict = verdict.ApplyThreshold(profile.FinalThreshold)
	job.ThresholdProfile = &profile
	job.CurrentVerdict = &verdict

	if ctx.Err() != nil {
		p.converge(ctx, job, req, log)
		return
	}

	// Fast path: below the escalation cutoff the preliminary verdict is
	// final.
	if verdict.FraudScore < p.cfg.EscalationThreshold || p.verifier == nil {
		p.finalize(ctx, job, req, log)
		return
	}

	// ESCALATING
	p.transition(job, StateEscalating, "invoking contextual verifier")
	escalated, note := p.escalate(ctx, text, fused.Signals, verdict)

	p.transition(job, StateEscalatedScoring, note)
	job.CurrentVerdict = &escalated

	if ctx.Err() != nil {
		p.converge(ctx, job, req, log)
		return
	}
	p.finalize(ctx, job, req, log)
}

// transcript resolves the call text from either the supplied transcript or
// the transcription collaborator.
func (p *Pipeline) transcript(ctx context.Context, req Request) (string, error) {
	if req.Audio == nil {
		if strings.TrimSpace(req.Transcript) == "" {
			return "", transcribe.ErrNoSpeech
		}
		return req.Transcript, nil
	}
	if p.transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	res, err := p.transcriber.Transcribe(ctx, req.Audio, req.AudioFilename)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// callMetadata combines the request's facts with the caller-history
// profile. History failures default to the most suspicious interpretation
// (unknown first-time caller).
func (p *Pipeline) callMetadata(ctx context.Context, req Request) fraud.CallMetadata {
	meta := fraud.CallMetadata{
		CallID:          req.CallID,
		Duration:        req.Duration,
		Timestamp:       req.Timestamp,
		FirstTimeCaller: true,
		International:   history.InternationalNumber(req.CallerNumber, p.cfg.HomeCountryPrefix),
	}
	if req.CallerNumber == "" {
		return meta
	}
	profile, err := p.store.Profile(ctx, req.UserID, req.CallerNumber)
	if err != nil {
		p.log.WithError(err).WithField("call_id", req.CallID).Warn("caller profile lookup failed")
		return meta
	}
	meta.FirstTimeCaller = profile.FirstTime
	meta.RepeatedCalls = profile.RepeatedCalls
	meta.KnownContact = profile.KnownContact
	return meta
}

// escalate runs the verifier with its bounded timeout. On success the
// verifier's probability and reasoning replace the preliminary verdict's
// score, confidence, explanation, and decision; the triggered rules and
// contributing signals are preserved for audit. On timeout or a malformed
// response the preliminary verdict stands, with the fallback reason
// appended.
func (p *Pipeline) escalate(ctx context.Context, text string, signals fraud.SignalMap, preliminary fraud.Verdict) (fraud.Verdict, string) {
	fallback := func(reason string) (fraud.Verdict, string) {
		v := preliminary.Clone()
		v.Explanation += " [verifier fallback: " + reason + "]"
		return v, "verifier unavailable, preliminary verdict stands"
	}

	// One deadline bounds the whole escalated wait: queueing for a slot
	// and the verifier call itself. Verifier implementations that ignore
	// the context cannot stall the pipeline past the configured limit.
	ctx, cancel := context.WithTimeout(ctx, p.cfg.VerifierTimeout)
	defer cancel()
	if err := p.escalations.Acquire(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fallback("timeout")
		}
		return fallback("escalation capacity exhausted")
	}
	defer p.escalations.Release()

	res, err := p.verifier.Verify(ctx, text, signals)
	switch {
	case err == nil:
		v := preliminary.Clone()
		v.FraudScore = res.Probability
		v.IsFraud = res.Probability >= 0.5
		v.Confidence = fraud.ConfidenceFor(res.Probability)
		v.Explanation = res.Reasoning
		v.Stage = fraud.StageEscalated
		v.GeneratedAt = time.Now().UTC()
		return v, "verifier verdict accepted"
	case errors.Is(err, verifier.ErrMalformed):
		return fallback("malformed response")
	case errors.Is(err, context.DeadlineExceeded):
		return fallback("timeout")
	default:
		return fallback(err.Error())
	}
}

// finalize records the call, emits the terminal event, and raises a user
// alert when the verdict is fraudulent.
func (p *Pipeline) finalize(ctx context.Context, job *Job, req Request, log *logrus.Entry) {
	p.transition(job, StateFinalized, "analysis complete")

	if req.CallerNumber != "" && job.CurrentVerdict != nil {
		rec := history.CallRecord{
			CallID:       job.CallID,
			UserID:       job.UserID,
			CallerNumber: req.CallerNumber,
			StartedAt:    job.CreatedAt,
			FraudScore:   job.CurrentVerdict.FraudScore,
			IsFraud:      job.CurrentVerdict.IsFraud,
		}
		if err := p.store.RecordCall(detachedContext(ctx), rec); err != nil {
			log.WithError(err).Warn("failed to record call history")
		}
	}

	if job.CurrentVerdict != nil && job.CurrentVerdict.IsFraud {
		p.alert(detachedContext(ctx), job)
	}
}

// converge drives a cancelled job to a terminal state rather than leaving
// it stuck mid-flight.
func (p *Pipeline) converge(ctx context.Context, job *Job, req Request, log *logrus.Entry) {
	if job.CurrentVerdict != nil {
		log.Info("call ended mid-flight, finalizing with available verdict")
		p.finalize(ctx, job, req, log)
		return
	}
	p.fail(job, "call ended before a verdict was available")
}

func (p *Pipeline) fail(job *Job, reason string) {
	job.FailureReason = reason
	p.transition(job, StateFailed, reason)
}

// transition updates the job state and broadcasts the event on the call's
// channel. FAILED jobs still emit, so subscribers are never left waiting
// silently.
func (p *Pipeline) transition(job *Job, state State, progress string) {
	job.State = state
	job.UpdatedAt = time.Now().UTC()

	event := Event{
		JobID:     job.JobID,
		CallID:    job.CallID,
		State:     state,
		Progress:  progress,
		Verdict:   job.CurrentVerdict,
		Timestamp: job.UpdatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).Error("failed to encode event")
		return
	}
	p.hub.Publish(job.CallID, payload)
	p.log.WithJob(job.JobID, job.CallID).WithField("state", state).Debug(progress)
}

// alert builds the fraud alert and hands it to the hub, which delivers it
// immediately or queues it for the user's next connection.
func (p *Pipeline) alert(ctx context.Context, job *Job) {
	verdict := job.CurrentVerdict
	level := "warning"
	if verdict.FraudScore >= 0.85 {
		level = "critical"
	}
	a := Alert{
		AlertID:    uuid.NewString(),
		CallID:     job.CallID,
		Level:      level,
		Reason:     verdict.Explanation,
		Confidence: verdict.FraudScore,
		Verdict:    *verdict,
		Timestamp:  time.Now().UTC(),
	}
	payload, err := json.Marshal(a)
	if err != nil {
		p.log.WithError(err).Error("failed to encode alert")
		return
	}
	if err := p.hub.DeliverOrQueue(ctx, job.UserID, payload); err != nil {
		p.log.WithError(err).WithField("user_id", job.UserID).Warn("alert delivery failed")
	}
}

// contextSignals exposes call metadata to fusion under the context
// namespace. Fusion applies the ctx_ prefix.
func contextSignals(meta fraud.CallMetadata) fraud.SignalMap {
	return fraud.SignalMap{
		"call_time_hour":        {Score: float64(meta.Timestamp.Hour())},
		"call_duration_seconds": {Score: meta.Duration.Seconds()},
		"first_time_caller":     {Score: boolScore(meta.FirstTimeCaller)},
		"repeated_calls":        {Score: boolScore(meta.RepeatedCalls)},
		"known_contact":         {Score: boolScore(meta.KnownContact)},
		"international":         {Score: boolScore(meta.International)},
	}
}

func boolScore(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// detachedContext survives the call's cancellation for short bookkeeping
// writes (history, alert queueing) after the decision is already made.
func detachedContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
