// Package channel implements per-call publish/subscribe fan-out with
// pending-alert buffering for offline recipients. Keys are user or call
// identifiers; each key has at most one live connection at a time.
package channel

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is one subscriber connection. Implementations wrap a transport
// (SSE stream, WebSocket) and must tolerate Close being called more than
// once.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// lockStripes shards per-key mutual exclusion. Operations on different keys
// proceed in parallel; operations on the same key are serialized so the
// drain-then-resume ordering on subscribe cannot interleave with publishes.
const lockStripes = 32

// Hub routes events and alerts to bound connections. Status events are
// fire-and-forget; alerts survive the recipient being offline via the
// pending store.
type Hub struct {
	stripes [lockStripes]sync.Mutex
	conns   sync.Map // key -> Conn

	pending PendingStore
	log     *logrus.Entry
}

// NewHub builds a hub over the given pending-alert store. A nil store
// degrades to in-memory buffering.
func NewHub(pending PendingStore, log *logrus.Entry) *Hub {
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	return &Hub{pending: pending, log: log}
}

func (h *Hub) lock(key string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return &h.stripes[f.Sum32()%lockStripes]
}

// Subscribe binds conn as the sole live connection for key, closing any
// previous one. Pending alerts for the key are drained in FIFO order and
// delivered on the new connection before any later traffic. When the drain
// itself fails, conn is unbound and closed and the error returned; the
// queued alerts are untouched.
func (h *Hub) Subscribe(ctx context.Context, key string, conn Conn) error {
	mu := h.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if prev, ok := h.conns.Load(key); ok {
		_ = prev.(Conn).Close()
	}
	h.conns.Store(key, conn)

	queued, err := h.pending.Drain(ctx, key)
	if err != nil {
		// unbind so the caller's error handling cannot strand a live
		// binding nobody reads; alerts stay queued for the next drain
		h.conns.Delete(key)
		_ = conn.Close()
		h.logWarn(key, "pending drain failed", err)
		return err
	}
	for i, alert := range queued {
		if err := conn.Send(alert); err != nil {
			// connection died mid-drain: requeue the rest in order
			h.conns.Delete(key)
			_ = conn.Close()
			for _, rest := range queued[i:] {
				if qerr := h.pending.Append(ctx, key, rest); qerr != nil {
					h.logWarn(key, "requeue failed, alert lost", qerr)
				}
			}
			return nil
		}
	}
	return nil
}

// Unsubscribe removes the binding for key if conn is still the bound
// connection. A stale unsubscribe after a replacing Subscribe is a no-op.
func (h *Hub) Unsubscribe(key string, conn Conn) {
	mu := h.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if cur, ok := h.conns.Load(key); ok && cur.(Conn) == conn {
		h.conns.Delete(key)
		_ = conn.Close()
	}
}

// Publish sends a status event to the connection bound to key. Unbound keys
// drop the event; status traffic is never queued. Send failures drop the
// binding and are not reported to the caller.
func (h *Hub) Publish(key string, payload []byte) {
	mu := h.lock(key)
	mu.Lock()
	defer mu.Unlock()

	cur, ok := h.conns.Load(key)
	if !ok {
		return
	}
	if err := cur.(Conn).Send(payload); err != nil {
		h.conns.Delete(key)
		_ = cur.(Conn).Close()
		h.logWarn(key, "publish send failed, binding removed", err)
	}
}

// DeliverOrQueue sends an alert to recipient immediately when a live
// connection exists, otherwise appends it to the recipient's pending list.
// A send failure falls through to queuing, so the alert is never lost to a
// broken connection.
func (h *Hub) DeliverOrQueue(ctx context.Context, recipient string, alert []byte) error {
	mu := h.lock(recipient)
	mu.Lock()
	defer mu.Unlock()

	if cur, ok := h.conns.Load(recipient); ok {
		if err := cur.(Conn).Send(alert); err == nil {
			return nil
		}
		h.conns.Delete(recipient)
		_ = cur.(Conn).Close()
	}
	return h.pending.Append(ctx, recipient, alert)
}

// Broadcast sends payload to every live connection. Failed connections are
// dropped individually; the remaining recipients still receive the message.
func (h *Hub) Broadcast(payload []byte) {
	type binding struct {
		key  string
		conn Conn
	}
	var snapshot []binding
	h.conns.Range(func(k, v any) bool {
		snapshot = append(snapshot, binding{k.(string), v.(Conn)})
		return true
	})

	for _, b := range snapshot {
		mu := h.lock(b.key)
		mu.Lock()
		if cur, ok := h.conns.Load(b.key); ok && cur.(Conn) == b.conn {
			if err := b.conn.Send(payload); err != nil {
				h.conns.Delete(b.key)
				_ = b.conn.Close()
			}
		}
		mu.Unlock()
	}
}

// Connected reports whether key currently has a live connection.
func (h *Hub) Connected(key string) bool {
	_, ok := h.conns.Load(key)
	return ok
}

// ConnectedKeys returns the keys with live connections at call time.
func (h *Hub) ConnectedKeys() []string {
	var keys []string
	h.conns.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys
}

func (h *Hub) logWarn(key, msg string, err error) {
	if h.log != nil {
		h.log.WithField("key", key).WithError(err).Warn(msg)
	}
}
