package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ordertrack/protocol"
)

type LogFunc func(format string, args ...any)

type SupervisorConfig struct {
	Dialer  Dialer
	Backoff Backoff
	LogFunc LogFunc
}

// Supervisor owns the client's connection to the tracking server. It redials
// with exponential backoff after any drop and feeds every inbound message,
// in arrival order, to the registered handlers from a single goroutine.
type Supervisor struct {
	dialer  Dialer
	backoff Backoff
	logFn   LogFunc

	mu        sync.Mutex
	state     ConnState
	conn      Conn
	ingestors []*protocol.Ingestor
	listeners map[int]func(ConnState)
	hooks     map[int]func()
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSupervisor(c SupervisorConfig) *Supervisor {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	b := c.Backoff
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	return &Supervisor{
		dialer:    c.Dialer,
		backoff:   b,
		logFn:     logFn,
		listeners: make(map[int]func(ConnState)),
		hooks:     make(map[int]func()),
	}
}

// AddHandler routes inbound messages to h. Register handlers before Start.
func (s *Supervisor) AddHandler(h protocol.MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingestors = append(s.ingestors, protocol.NewIngestor(h, nil))
}

// OnStateChange registers fn for every state transition and returns a
// function that removes it.
func (s *Supervisor) OnStateChange(fn func(ConnState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// OnConnected registers fn to run after every successful connect, before
// the first inbound message of that connection is processed.
func (s *Supervisor) OnConnected(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.hooks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.hooks, id)
	}
}

func (s *Supervisor) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// Send writes env on the live connection. While disconnected it returns
// ErrNotConnected; nothing is queued.
func (s *Supervisor) Send(env *protocol.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Start begins connecting in the background. Calling Start on a running
// supervisor does nothing.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop closes the connection and waits for the supervisor goroutine to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateDisconnected)

	policy := s.backoff.policy()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := policy.NextBackOff()
			s.setState(StateDisconnected)
			s.logFn("supervisor: connect attempt %d failed: %v (retry in %v)", attempt, err, delay.Round(time.Millisecond))
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		policy.Reset()
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateConnected)
		s.logFn("supervisor: connected")
		s.runHooks()

		err = s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		delay := policy.NextBackOff()
		s.logFn("supervisor: connection lost: %v (reconnect in %v)", err, delay.Round(time.Millisecond))
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// readLoop is the single consumer of conn. It returns when the connection
// fails or ctx is cancelled.
func (s *Supervisor) readLoop(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.mu.Lock()
		ingestors := s.ingestors
		s.mu.Unlock()
		for _, ing := range ingestors {
			if err := ing.HandleRaw(data); err != nil {
				s.logFn("supervisor: dropped frame: %v", err)
				break
			}
		}
	}
}

func (s *Supervisor) setState(state ConnState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	fns := make([]func(ConnState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (s *Supervisor) runHooks() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.hooks))
	for _, fn := range s.hooks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
