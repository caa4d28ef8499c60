package pipeline

import (
	"time"

	"github.com/callguard/sentinel/pkg/fraud"
)

// State is one phase of a call's analysis lifecycle.
type State string

const (
	StateCreated          State = "CREATED"
	StateTranscribing     State = "TRANSCRIBING"
	StateScoring          State = "SCORING"
	StateEscalating       State = "ESCALATING"
	StateEscalatedScoring State = "ESCALATED_SCORING"
	StateFinalized        State = "FINALIZED"
	StateFailed           State = "FAILED"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// Job is the lifecycle record for one call's analysis. It is owned by the
// pipeline instance processing the call; subscribers only ever see
// snapshots via events.
type Job struct {
	JobID            string                  `json:"job_id"`
	CallID           string                  `json:"call_id"`
	UserID           string                  `json:"user_id"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	State            State                   `json:"state"`
	CurrentVerdict   *fraud.Verdict          `json:"current_verdict,omitempty"`
	ThresholdProfile *fraud.ThresholdProfile `json:"threshold_profile,omitempty"`
	FailureReason    string                  `json:"failure_reason,omitempty"`
}

// Event is one state-transition broadcast on the call's channel.
type Event struct {
	JobID     string         `json:"job_id"`
	CallID    string         `json:"call_id"`
	State     State          `json:"state"`
	Progress  string         `json:"progress"`
	Verdict   *fraud.Verdict `json:"current_verdict,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alert is the payload queued or delivered to a user when a call is judged
// fraudulent.
type Alert struct {
	AlertID    string        `json:"id"`
	CallID     string        `json:"call_id"`
	Level      string        `json:"level"`
	Reason     string        `json:"reason"`
	Confidence float64       `json:"confidence"`
	Verdict    fraud.Verdict `json:"verdict"`
	Timestamp  time.Time     `json:"timestamp"`
}
