package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ordertrack/protocol"
)

func quiet(string, ...any) {}

var fastBackoff = Backoff{Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond}

// --- Fake connection ---

var errFakeClosed = errors.New("fake: closed")

type fakeConn struct {
	in        chan []byte // server -> client
	out       chan []byte // client -> server
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errFakeClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers a server message to the client.
func (c *fakeConn) push(t *testing.T, msgType string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	data, _ := env.Encode()
	c.in <- data
}

// next returns the next message the client wrote.
func (c *fakeConn) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case data := <-c.out:
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

// silent reports whether the client wrote nothing within d.
func (c *fakeConn) silent(d time.Duration) bool {
	select {
	case <-c.out:
		return false
	case <-time.After(d):
		return true
	}
}

// expectJoins reads n join-order messages and returns their order IDs.
func (c *fakeConn) expectJoins(t *testing.T, n int) map[string]bool {
	t.Helper()
	got := make(map[string]bool)
	for i := 0; i < n; i++ {
		env := c.next(t)
		if env.Type != protocol.TypeJoinOrder {
			t.Fatalf("type = %q, want %q", env.Type, protocol.TypeJoinOrder)
		}
		var p protocol.JoinOrder
		env.DecodePayload(&p)
		got[p.OrderID] = true
	}
	return got
}

func (c *fakeConn) ack(t *testing.T, orderIDs ...string) {
	t.Helper()
	for _, id := range orderIDs {
		c.push(t, protocol.TypeJoinAck, &protocol.JoinAck{OrderID: id, Token: "tok-" + id})
	}
}

func (c *fakeConn) location(t *testing.T, orderID string, ts int64) {
	t.Helper()
	c.push(t, protocol.TypeLocationUpdated, protocol.EncodeLocationUpdated(protocol.LocationUpdate{
		OrderID:   orderID,
		Latitude:  52,
		Longitude: 4,
		Timestamp: ts,
	}))
}

// --- Fake dialer ---

type fakeDialer struct {
	results chan any // *fakeConn or error
	mu      sync.Mutex
	dials   int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan any, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	select {
	case r := <-d.results:
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r.(*fakeConn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) accept() *fakeConn {
	c := newFakeConn()
	d.results <- c
	return c
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// --- Helpers ---

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitActive(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.WaitActive(ctx); err != nil {
		t.Fatalf("wait active %s: %v", s.OrderID(), err)
	}
}

func newTestClient(t *testing.T) (*fakeDialer, *Supervisor, *Tracker) {
	t.Helper()
	d := newFakeDialer()
	sup := NewSupervisor(SupervisorConfig{Dialer: d, Backoff: fastBackoff, LogFunc: quiet})
	tr := NewTracker(sup, TrackerConfig{LogFunc: quiet})
	t.Cleanup(sup.Stop)
	return d, sup, tr
}

// --- Recording display ---

type recordingDisplay struct {
	mu     sync.Mutex
	states []TrackingState
}

func (r *recordingDisplay) Render(s TrackingState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingDisplay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recordingDisplay) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Status)
	}
	return out
}

// rendered reports whether d ever rendered status.
func rendered(d *recordingDisplay, status Status) bool {
	for _, s := range d.statuses() {
		if s == status {
			return true
		}
	}
	return false
}

// --- Barrier ---

const barrierOrder = "__barrier"

// barrier confirms that every message pushed before it has been handled.
// Messages are dispatched in order by one goroutine, so seeing the barrier
// ack means everything ahead of it is done.
type barrier struct {
	protocol.NoOpHandler
	ch chan struct{}
}

func newBarrier(sup *Supervisor) *barrier {
	b := &barrier{ch: make(chan struct{}, 1)}
	sup.AddHandler(b)
	return b
}

func (b *barrier) HandleJoinAck(_ *protocol.Envelope, p *protocol.JoinAck) {
	if p.OrderID == barrierOrder {
		b.ch <- struct{}{}
	}
}

func (b *barrier) wait(t *testing.T, c *fakeConn) {
	t.Helper()
	c.push(t, protocol.TypeJoinAck, &protocol.JoinAck{OrderID: barrierOrder})
	select {
	case <-b.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for barrier")
	}
}
