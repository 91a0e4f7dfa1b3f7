package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"ordertrack/protocol"
	"ordertrack/tracking"
)

type TrackerConfig struct {
	MaxHistory int
	LogFunc    LogFunc
}

type sessionKey struct {
	orderID      string
	subscriberID string
}

// orderState holds the live sessions sharing one server-side membership.
type orderState struct {
	sessions map[*Session]struct{}
	token    string
	acked    bool
}

// Tracker multiplexes tracking sessions over the Supervisor's connection.
// Each order is joined once per process no matter how many sessions watch it,
// and joins are replayed after every reconnect.
type Tracker struct {
	protocol.NoOpHandler

	sup        *Supervisor
	maxHistory int
	logFn      LogFunc

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	orders   map[string]*orderState
	closed   bool
	detach   []func()
}

func NewTracker(sup *Supervisor, c TrackerConfig) *Tracker {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	maxHistory := c.MaxHistory
	if maxHistory <= 0 {
		maxHistory = tracking.DefaultMaxHistory
	}
	t := &Tracker{
		sup:        sup,
		maxHistory: maxHistory,
		logFn:      logFn,
		sessions:   make(map[sessionKey]*Session),
		orders:     make(map[string]*orderState),
	}
	sup.AddHandler(t)
	t.detach = append(t.detach,
		sup.OnConnected(t.replayJoins),
		sup.OnStateChange(t.onStateChange),
	)
	return t
}

// Subscribe starts tracking orderID for subscriberID. An existing session for
// the pair that has not been closed is returned as is.
func (t *Tracker) Subscribe(orderID, subscriberID string, display Display) (*Session, error) {
	if orderID == "" {
		return nil, fmt.Errorf("subscribe: empty order id")
	}

	key := sessionKey{orderID: orderID, subscriberID: subscriberID}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTrackerClosed
	}
	if s, ok := t.sessions[key]; ok && s.Status() != StatusClosed {
		t.mu.Unlock()
		return s, nil
	}

	s := newSession(t, orderID, subscriberID, display, t.maxHistory)
	t.sessions[key] = s
	st, joined := t.orders[orderID]
	if !joined {
		st = &orderState{sessions: make(map[*Session]struct{})}
		t.orders[orderID] = st
	}
	st.sessions[s] = struct{}{}
	acked, token := st.acked, st.token
	t.mu.Unlock()

	switch {
	case !joined:
		t.sendJoin(orderID)
	case acked:
		// The membership already exists; no new ack will come.
		s.markActive(token)
	}
	return s, nil
}

// Sessions returns every session that has not been closed.
func (t *Tracker) Sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Close ends every session and leaves every joined order.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	orders := make([]string, 0, len(t.orders))
	for id := range t.orders {
		orders = append(orders, id)
	}
	t.sessions = make(map[sessionKey]*Session)
	t.orders = make(map[string]*orderState)
	detach := t.detach
	t.detach = nil
	t.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	for _, s := range sessions {
		s.markClosed()
	}
	for _, id := range orders {
		t.sendLeave(id)
	}
}

func (t *Tracker) release(s *Session) {
	if !s.markClosed() {
		return
	}

	t.mu.Lock()
	key := sessionKey{orderID: s.orderID, subscriberID: s.subscriberID}
	if t.sessions[key] == s {
		delete(t.sessions, key)
	}
	last := false
	if st, ok := t.orders[s.orderID]; ok {
		if _, member := st.sessions[s]; member {
			delete(st.sessions, s)
			if len(st.sessions) == 0 {
				delete(t.orders, s.orderID)
				last = true
			}
		}
	}
	t.mu.Unlock()

	if last {
		t.sendLeave(s.orderID)
	}
}

func (t *Tracker) sendJoin(orderID string) {
	t.send(protocol.TypeJoinOrder, &protocol.JoinOrder{OrderID: orderID})
}

func (t *Tracker) sendLeave(orderID string) {
	t.send(protocol.TypeLeaveOrder, &protocol.LeaveOrder{OrderID: orderID})
}

func (t *Tracker) send(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		t.logFn("tracker: build %s: %v", msgType, err)
		return
	}
	if err := t.sup.Send(env); err != nil {
		if errors.Is(err, ErrNotConnected) {
			// Joins are replayed on connect; memberships die with the connection.
			return
		}
		t.logFn("tracker: %v", err)
	}
}

// replayJoins re-establishes every live membership on a fresh connection.
func (t *Tracker) replayJoins() {
	t.mu.Lock()
	orders := make([]string, 0, len(t.orders))
	for id, st := range t.orders {
		st.acked = false
		orders = append(orders, id)
	}
	t.mu.Unlock()

	for _, id := range orders {
		t.sendJoin(id)
	}
	if len(orders) > 0 {
		t.logFn("tracker: replayed %d join(s)", len(orders))
	}
}

func (t *Tracker) onStateChange(state ConnState) {
	if state != StateDisconnected {
		return
	}
	for _, s := range t.liveSessions("") {
		s.markStale()
	}
	t.mu.Lock()
	for _, st := range t.orders {
		st.acked = false
	}
	t.mu.Unlock()
}

// liveSessions returns the sessions attached to orderID, or to every order
// when orderID is empty.
func (t *Tracker) liveSessions(orderID string) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Session
	for id, st := range t.orders {
		if orderID != "" && id != orderID {
			continue
		}
		for s := range st.sessions {
			out = append(out, s)
		}
	}
	return out
}

func (t *Tracker) HandleJoinAck(_ *protocol.Envelope, p *protocol.JoinAck) {
	t.mu.Lock()
	st, ok := t.orders[p.OrderID]
	if ok {
		st.acked = true
		st.token = p.Token
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range t.liveSessions(p.OrderID) {
		s.markActive(p.Token)
	}
}

func (t *Tracker) HandleJoinRejected(_ *protocol.Envelope, p *protocol.JoinRejected) {
	sessions := t.liveSessions(p.OrderID)
	t.mu.Lock()
	delete(t.orders, p.OrderID)
	t.mu.Unlock()

	for _, s := range sessions {
		s.markRejected(p.Reason)
	}
	t.logFn("tracker: join %s rejected: %s", p.OrderID, p.Reason)
}

func (t *Tracker) HandleLocationUpdated(_ *protocol.Envelope, raw json.RawMessage) {
	u, err := protocol.DecodeLocationUpdate(raw)
	if err != nil {
		t.logFn("tracker: dropped location update: %v", err)
		return
	}
	for _, s := range t.liveSessions(u.OrderID) {
		s.apply(u)
	}
}
