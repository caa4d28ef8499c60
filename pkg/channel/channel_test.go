package channel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

// fakeConn records everything sent to it and can be told to fail.
type fakeConn struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	failSend bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = string(m)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestSubscribeDrainsPendingInOrder(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	for _, alert := range []string{"A", "B", "C"} {
		if err := hub.DeliverOrQueue(ctx, "user-1", []byte(alert)); err != nil {
			t.Fatalf("queue failed: %v", err)
		}
	}

	conn := &fakeConn{}
	if err := hub.Subscribe(ctx, "user-1", conn); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if got := conn.messages(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("expected FIFO drain [A B C], got %v", got)
	}

	// Later traffic arrives after the backlog.
	hub.Publish("user-1", []byte("D"))
	if got := conn.messages(); got[len(got)-1] != "D" {
		t.Errorf("live traffic should follow the drained backlog, got %v", got)
	}
}

func TestSubscribeReplacesAndClosesPrevious(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	if err := hub.Subscribe(ctx, "user-1", c1); err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}
	if err := hub.Subscribe(ctx, "user-1", c2); err != nil {
		t.Fatalf("second subscribe failed: %v", err)
	}

	if !c1.isClosed() {
		t.Error("replaced connection must be closed")
	}

	hub.Publish("user-1", []byte("event"))
	if len(c1.messages()) != 0 {
		t.Error("replaced connection must receive nothing")
	}
	if got := c2.messages(); !reflect.DeepEqual(got, []string{"event"}) {
		t.Errorf("new connection should receive the event, got %v", got)
	}
}

// brokenStore fails every drain, as a Redis store does when the backend is
// unreachable.
type brokenStore struct {
	*MemoryPendingStore
}

func (s *brokenStore) Drain(context.Context, string) ([][]byte, error) {
	return nil, errors.New("store unreachable")
}

func TestSubscribeUnbindsOnDrainFailure(t *testing.T) {
	store := &brokenStore{MemoryPendingStore: NewMemoryPendingStore()}
	hub := NewHub(store, nil)
	ctx := context.Background()

	conn := &fakeConn{}
	if err := hub.Subscribe(ctx, "user-1", conn); err == nil {
		t.Fatal("expected the drain failure to surface")
	}
	if !conn.isClosed() {
		t.Error("a failed subscribe must close the connection")
	}
	if hub.Connected("user-1") {
		t.Error("a failed subscribe must not leave a binding behind")
	}

	// Nothing is bound, so this must queue rather than send.
	if err := hub.DeliverOrQueue(ctx, "user-1", []byte("late")); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if got := conn.messages(); len(got) != 0 {
		t.Errorf("unbound connection must receive nothing, got %v", got)
	}
}

func TestSubscribeRequeuesOnMidDrainFailure(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	for _, alert := range []string{"A", "B", "C"} {
		_ = hub.DeliverOrQueue(ctx, "user-1", []byte(alert))
	}

	// First send succeeds, the rest fail: B and C must be requeued.
	flaky := &flakySecondSend{}
	if err := hub.Subscribe(ctx, "user-1", flaky); err != nil {
		t.Fatalf("subscribe returned error on mid-drain failure: %v", err)
	}
	if hub.Connected("user-1") {
		t.Error("failed connection must not stay bound")
	}

	fresh := &fakeConn{}
	if err := hub.Subscribe(ctx, "user-1", fresh); err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}
	if got := fresh.messages(); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("expected requeued remainder [B C], got %v", got)
	}
}

// flakySecondSend delivers the first payload and fails every send after it.
type flakySecondSend struct {
	n      int
	closed bool
}

func (c *flakySecondSend) Send([]byte) error {
	c.n++
	if c.n > 1 {
		return errors.New("connection lost")
	}
	return nil
}

func (c *flakySecondSend) Close() error {
	c.closed = true
	return nil
}

func TestPublishToUnboundKeyDrops(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Publish("nobody", []byte("event")) // must not panic or queue

	conn := &fakeConn{}
	if err := hub.Subscribe(context.Background(), "nobody", conn); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if len(conn.messages()) != 0 {
		t.Error("status events must not be buffered for later subscribers")
	}
}

func TestPublishSendFailureDropsBinding(t *testing.T) {
	hub := NewHub(nil, nil)
	conn := &fakeConn{failSend: true}
	_ = hub.Subscribe(context.Background(), "user-1", conn)

	hub.Publish("user-1", []byte("event"))
	if hub.Connected("user-1") {
		t.Error("binding should be removed after a failed send")
	}
	if !conn.isClosed() {
		t.Error("failed connection should be closed")
	}
}

func TestDeliverOrQueueFallsThroughOnSendFailure(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	dead := &fakeConn{failSend: true}
	_ = hub.Subscribe(ctx, "user-1", dead)

	if err := hub.DeliverOrQueue(ctx, "user-1", []byte("alert")); err != nil {
		t.Fatalf("expected fall-through to queue, got %v", err)
	}

	fresh := &fakeConn{}
	if err := hub.Subscribe(ctx, "user-1", fresh); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if got := fresh.messages(); !reflect.DeepEqual(got, []string{"alert"}) {
		t.Errorf("queued alert should be drained on reconnect, got %v", got)
	}
}

func TestDeliverOrQueueLiveDelivery(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	conn := &fakeConn{}
	_ = hub.Subscribe(ctx, "user-1", conn)

	if err := hub.DeliverOrQueue(ctx, "user-1", []byte("alert")); err != nil {
		t.Fatalf("live delivery failed: %v", err)
	}
	if got := conn.messages(); !reflect.DeepEqual(got, []string{"alert"}) {
		t.Errorf("expected live delivery, got %v", got)
	}
}

func TestBroadcastDropsFailedConnsIndividually(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	good := &fakeConn{}
	bad := &fakeConn{failSend: true}
	_ = hub.Subscribe(ctx, "good", good)
	_ = hub.Subscribe(ctx, "bad", bad)

	hub.Broadcast([]byte("announcement"))

	if got := good.messages(); !reflect.DeepEqual(got, []string{"announcement"}) {
		t.Errorf("healthy connection should receive the broadcast, got %v", got)
	}
	if hub.Connected("bad") {
		t.Error("failed connection should be dropped")
	}
	if !hub.Connected("good") {
		t.Error("healthy connection should stay bound")
	}
}

func TestUnsubscribeIsStaleAware(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	_ = hub.Subscribe(ctx, "user-1", c1)
	_ = hub.Subscribe(ctx, "user-1", c2)

	// c1 was already replaced; its late unsubscribe must not evict c2.
	hub.Unsubscribe("user-1", c1)
	if !hub.Connected("user-1") {
		t.Error("stale unsubscribe evicted the live connection")
	}

	hub.Unsubscribe("user-1", c2)
	if hub.Connected("user-1") {
		t.Error("live unsubscribe should remove the binding")
	}
	if !c2.isClosed() {
		t.Error("unsubscribed connection should be closed")
	}
}

func TestConcurrentKeysDoNotInterfere(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()

	const keys = 50
	conns := make([]*fakeConn, keys)
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		conns[i] = &fakeConn{}
		key := fmt.Sprintf("call-%d", i)
		if err := hub.Subscribe(ctx, key, conns[i]); err != nil {
			t.Fatalf("subscribe %s failed: %v", key, err)
		}
		wg.Add(1)
		go func(key string, n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.Publish(key, []byte(fmt.Sprintf("%d", j)))
			}
		}(key, i)
	}
	wg.Wait()

	for i, conn := range conns {
		msgs := conn.messages()
		if len(msgs) != 20 {
			t.Fatalf("conn %d: expected 20 events, got %d", i, len(msgs))
		}
		for j, m := range msgs {
			if m != fmt.Sprintf("%d", j) {
				t.Fatalf("conn %d: event %d out of order: %s", i, j, m)
			}
		}
	}
}
