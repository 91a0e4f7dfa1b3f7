package client

import (
	"context"
	"sync"
	"time"

	"ordertrack/protocol"
	"ordertrack/tracking"
)

// SessionInfo is a snapshot of a session's identity and lifecycle.
type SessionInfo struct {
	OrderID      string
	SubscriberID string
	JoinedAt     time.Time
	Status       Status
	AckToken     string
	RejectReason string
}

// Session is one subscriber's view of one order's live location.
type Session struct {
	tracker      *Tracker
	orderID      string
	subscriberID string
	joinedAt     time.Time

	mu      sync.Mutex
	status  Status
	token   string
	reason  string
	acc     *tracking.Accumulator
	display Display
	changed chan struct{} // closed and replaced on every status change
}

func newSession(t *Tracker, orderID, subscriberID string, display Display, maxHistory int) *Session {
	return &Session{
		tracker:      t,
		orderID:      orderID,
		subscriberID: subscriberID,
		joinedAt:     time.Now(),
		status:       StatusConnecting,
		acc:          tracking.NewAccumulator(maxHistory),
		display:      display,
		changed:      make(chan struct{}),
	}
}

func (s *Session) OrderID() string { return s.orderID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		OrderID:      s.orderID,
		SubscriberID: s.subscriberID,
		JoinedAt:     s.joinedAt,
		Status:       s.status,
		AckToken:     s.token,
		RejectReason: s.reason,
	}
}

func (s *Session) State() TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() TrackingState {
	st := TrackingState{
		History: s.acc.History(),
		Status:  s.status,
	}
	if cur, ok := s.acc.Current(); ok {
		st.Current = &cur
	}
	return st
}

// Unsubscribe stops the session. It is safe to call more than once and from
// any goroutine; updates that arrive afterwards are ignored.
func (s *Session) Unsubscribe() {
	s.tracker.release(s)
}

// WaitActive blocks until the session is active. It returns ErrJoinRejected
// or ErrSessionClosed when the session reaches those states instead.
func (s *Session) WaitActive(ctx context.Context) error {
	for {
		s.mu.Lock()
		status, changed := s.status, s.changed
		s.mu.Unlock()
		switch status {
		case StatusActive:
			return nil
		case StatusRejected:
			return ErrJoinRejected
		case StatusClosed:
			return ErrSessionClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// transition moves the session to status when allowed by from and renders
// the new state. Closed sessions never change.
func (s *Session) transition(status Status, from ...Status) bool {
	s.mu.Lock()
	if s.status == StatusClosed || s.status == status {
		s.mu.Unlock()
		return false
	}
	if len(from) > 0 && !containsStatus(from, s.status) {
		s.mu.Unlock()
		return false
	}
	s.status = status
	close(s.changed)
	s.changed = make(chan struct{})
	state := s.stateLocked()
	display := s.display
	if status == StatusClosed {
		s.display = nil
	}
	s.mu.Unlock()

	if display != nil && status != StatusClosed {
		display.Render(state)
	}
	return true
}

func (s *Session) markActive(token string) {
	s.mu.Lock()
	if s.status.Live() {
		s.token = token
	}
	s.mu.Unlock()
	s.transition(StatusActive, StatusConnecting, StatusStale)
}

func (s *Session) markStale() {
	s.transition(StatusStale, StatusActive)
}

func (s *Session) markRejected(reason string) {
	s.mu.Lock()
	if s.status.Live() {
		s.reason = reason
	}
	s.mu.Unlock()
	s.transition(StatusRejected, StatusConnecting, StatusActive, StatusStale)
}

func (s *Session) markClosed() bool {
	return s.transition(StatusClosed)
}

// apply adds u to the path and renders when the path changed. ok is false
// when the session no longer accepts updates.
func (s *Session) apply(u protocol.LocationUpdate) (outcome tracking.Outcome, ok bool) {
	s.mu.Lock()
	if !s.status.Live() {
		s.mu.Unlock()
		return 0, false
	}
	outcome = s.acc.Append(u)
	if !outcome.Changed() {
		s.mu.Unlock()
		return outcome, true
	}
	state := s.stateLocked()
	display := s.display
	s.mu.Unlock()

	if display != nil {
		display.Render(state)
	}
	return outcome, true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
