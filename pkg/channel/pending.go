package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PendingStore buffers alerts for recipients with no live connection.
// Append and Drain for the same key are always called under the hub's
// per-key lock, so implementations only need to be safe across keys.
type PendingStore interface {
	// Append adds an alert to the end of the recipient's queue.
	Append(ctx context.Context, key string, alert []byte) error
	// Drain removes and returns all queued alerts for key in FIFO order.
	Drain(ctx context.Context, key string) ([][]byte, error)
}

// MemoryPendingStore keeps queues in process memory. Alerts do not survive
// a restart; use the Redis store when that matters.
type MemoryPendingStore struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{queues: make(map[string][][]byte)}
}

func (s *MemoryPendingStore) Append(_ context.Context, key string, alert []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), alert...)
	s.queues[key] = append(s.queues[key], cp)
	return nil
}

func (s *MemoryPendingStore) Drain(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.queues[key]
	delete(s.queues, key)
	return queued, nil
}

// RedisPendingStore keeps per-recipient queues in Redis lists so pending
// alerts survive process restarts and can be shared across instances.
type RedisPendingStore struct {
	client *redis.Client
	prefix string
}

func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client, prefix: "sentinel:pending:"}
}

func (s *RedisPendingStore) key(recipient string) string {
	return s.prefix + recipient
}

func (s *RedisPendingStore) Append(ctx context.Context, recipient string, alert []byte) error {
	if err := s.client.RPush(ctx, s.key(recipient), alert).Err(); err != nil {
		return fmt.Errorf("pending append: %w", err)
	}
	return nil
}

// Drain reads and deletes the queue atomically so two draining subscribers
// cannot both receive the same alerts.
func (s *RedisPendingStore) Drain(ctx context.Context, recipient string) ([][]byte, error) {
	key := s.key(recipient)

	pipe := s.client.TxPipeline()
	items := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pending drain: %w", err)
	}

	values := items.Val()
	if len(values) == 0 {
		return nil, nil
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}
