package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps history in process memory. It is the default when no
// Postgres DSN is configured, and the store tests run against.
type MemoryStore struct {
	mu       sync.RWMutex
	calls    map[string][]CallRecord // userID|callerNumber -> records
	contacts map[string]bool         // userID|callerNumber
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:    make(map[string][]CallRecord),
		contacts: make(map[string]bool),
	}
}

func pairKey(userID, callerNumber string) string {
	return userID + "|" + callerNumber
}

func (s *MemoryStore) RecordCall(_ context.Context, rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(rec.UserID, rec.CallerNumber)
	s.calls[key] = append(s.calls[key], rec)
	return nil
}

func (s *MemoryStore) Profile(_ context.Context, userID, callerNumber string) (CallerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := pairKey(userID, callerNumber)
	records := s.calls[key]

	cutoff := time.Now().Add(-repeatedCallWindow)
	recent := 0
	for _, rec := range records {
		if rec.StartedAt.After(cutoff) {
			recent++
		}
	}

	p := CallerProfile{
		TotalCalls:   len(records),
		RecentCalls:  recent,
		KnownContact: s.contacts[key],
	}
	p.FirstTime = p.TotalCalls == 0 && !p.KnownContact
	p.RepeatedCalls = recent >= repeatedCallCount
	return p, nil
}

func (s *MemoryStore) AddContact(_ context.Context, userID, callerNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[pairKey(userID, callerNumber)] = true
	return nil
}

func (s *MemoryStore) Close() {}
