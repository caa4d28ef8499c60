package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists history in Postgres so caller profiles survive
// restarts and are shared across instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS call_records (
	call_id       TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	caller_number TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	fraud_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_fraud      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS call_records_caller_idx
	ON call_records (user_id, caller_number, started_at);

CREATE TABLE IF NOT EXISTS known_contacts (
	user_id       TEXT NOT NULL,
	caller_number TEXT NOT NULL,
	PRIMARY KEY (user_id, caller_number)
);
`

// NewPostgresStore connects to the DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) RecordCall(ctx context.Context, rec CallRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (call_id, user_id, caller_number, started_at, fraud_score, is_fraud)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id) DO UPDATE
			SET fraud_score = EXCLUDED.fraud_score, is_fraud = EXCLUDED.is_fraud`,
		rec.CallID, rec.UserID, rec.CallerNumber, rec.StartedAt, rec.FraudScore, rec.IsFraud)
	if err != nil {
		return fmt.Errorf("history: record call: %w", err)
	}
	return nil
}

func (s *PostgresStore) Profile(ctx context.Context, userID, callerNumber string) (CallerProfile, error) {
	var p CallerProfile
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE started_at > now() - make_interval(secs => $3)),
			EXISTS (
				SELECT 1 FROM known_contacts kc
				WHERE kc.user_id = $1 AND kc.caller_number = $2
			)
		FROM call_records
		WHERE user_id = $1 AND caller_number = $2`,
		userID, callerNumber, repeatedCallWindow.Seconds()).
		Scan(&p.TotalCalls, &p.RecentCalls, &p.KnownContact)
	if err != nil {
		return CallerProfile{}, fmt.Errorf("history: profile: %w", err)
	}
	p.FirstTime = p.TotalCalls == 0 && !p.KnownContact
	p.RepeatedCalls = p.RecentCalls >= repeatedCallCount
	return p, nil
}

func (s *PostgresStore) AddContact(ctx context.Context, userID, callerNumber string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO known_contacts (user_id, caller_number)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		userID, callerNumber)
	if err != nil {
		return fmt.Errorf("history: add contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
