package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// silentServer accepts websocket connections and then never writes, the way
// a peer behind a dead mobile link looks from this side.
func silentServer(t *testing.T) string {
	t.Helper()
	var mu sync.Mutex
	var held []*websocket.Conn
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		held = append(held, conn)
		mu.Unlock()
	}))
	t.Cleanup(func() {
		mu.Lock()
		for _, c := range held {
			c.Close()
		}
		mu.Unlock()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReadFailsOnSilentConnection(t *testing.T) {
	d := &WebSocketDialer{URL: silentServer(t), ReadWait: 100 * time.Millisecond}
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("read returned nil error on a silent connection")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("read still blocked after the read wait")
	}
}

func TestPingsKeepConnectionAlive(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Drain pongs so the write side never stalls.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for i := 0; i < 6; i++ {
			time.Sleep(40 * time.Millisecond)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	}))
	defer srv.Close()

	d := &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), ReadWait: 100 * time.Millisecond}
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want hello", data)
	}
}

func TestSupervisorRedialsSilentServer(t *testing.T) {
	d := &countingDialer{Dialer: &WebSocketDialer{URL: silentServer(t), ReadWait: 50 * time.Millisecond}}
	sup := newSupervisor(t, d)

	var mu sync.Mutex
	var states []ConnState
	sup.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	sup.Start(context.Background())

	waitFor(t, "redial after silent connection", func() bool { return d.count() >= 2 })
	mu.Lock()
	defer mu.Unlock()
	sawDrop := false
	for i := 1; i < len(states); i++ {
		if states[i-1] == StateConnected && states[i] == StateDisconnected {
			sawDrop = true
		}
	}
	if !sawDrop {
		t.Errorf("states = %v, want connected then disconnected", states)
	}
}

type countingDialer struct {
	Dialer
	mu    sync.Mutex
	dials int
}

func (d *countingDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return d.Dialer.Dial(ctx)
}

func (d *countingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
