// Package history stores per-caller call records and answers the caller
// pattern questions the threshold generator asks: is this a first-time
// caller, is the number calling repeatedly, is it a known contact.
package history

import (
	"context"
	"strings"
	"time"
)

// repeatedCallWindow is how far back repeated-call detection looks. Several
// calls from the same number in a short window is a classic scam pattern.
const repeatedCallWindow = time.Hour

// repeatedCallCount is how many calls within the window count as repeated.
const repeatedCallCount = 3

// CallRecord is one finished or in-progress call.
type CallRecord struct {
	CallID       string
	UserID       string
	CallerNumber string
	StartedAt    time.Time
	FraudScore   float64
	IsFraud      bool
}

// CallerProfile summarizes what history knows about one caller number for
// one user.
type CallerProfile struct {
	TotalCalls    int
	RecentCalls   int // within repeatedCallWindow
	KnownContact  bool
	FirstTime     bool
	RepeatedCalls bool
}

// Store persists call records and contact lists. Implementations must be
// safe for concurrent use.
type Store interface {
	RecordCall(ctx context.Context, rec CallRecord) error
	Profile(ctx context.Context, userID, callerNumber string) (CallerProfile, error)
	AddContact(ctx context.Context, userID, callerNumber string) error
	Close()
}

// InternationalNumber reports whether a dialed number looks international
// relative to the given home country prefix (e.g. "+1"). Unknown formats
// are treated as domestic rather than inflating the threshold.
func InternationalNumber(number, homePrefix string) bool {
	number = strings.TrimSpace(number)
	if homePrefix == "" || number == "" || !strings.HasPrefix(number, "+") {
		return false
	}
	return !strings.HasPrefix(number, homePrefix)
}
