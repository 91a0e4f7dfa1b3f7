package www

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ordertrack/broker"
	"ordertrack/config"
	"ordertrack/engine"
	"ordertrack/protocol"
)

func quiet(string, ...any) {}

func newTestServer(t *testing.T, authz broker.JoinAuthorizer) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.Config{AppConfig: config.Defaults(), Authorizer: authz, LogFunc: quiet})
	eng.Start()
	handler, stop := NewRouter(eng)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		stop()
		eng.Stop()
	})
	return srv, eng
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnv(t *testing.T, conn *websocket.Conn, msgType string, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	data, _ := env.Encode()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	return env
}

func readEnv(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func join(t *testing.T, conn *websocket.Conn, orderID string) protocol.JoinAck {
	t.Helper()
	req := sendEnv(t, conn, protocol.TypeJoinOrder, &protocol.JoinOrder{OrderID: orderID})
	env := readEnv(t, conn)
	if env.Type != protocol.TypeJoinAck {
		t.Fatalf("type = %q, want %q", env.Type, protocol.TypeJoinAck)
	}
	if env.CorID != req.ID {
		t.Errorf("cor = %q, want %q", env.CorID, req.ID)
	}
	var ack protocol.JoinAck
	if err := env.DecodePayload(&ack); err != nil {
		t.Fatalf("ack payload: %v", err)
	}
	return ack
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestJoinAndRelay(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	viewer := dial(t, srv)
	other := dial(t, srv)
	courier := dial(t, srv)

	ack := join(t, viewer, "A")
	if ack.OrderID != "A" || ack.Token == "" {
		t.Errorf("ack = %+v", ack)
	}
	again := join(t, viewer, "A")
	if again.Token != ack.Token {
		t.Errorf("re-join token = %q, want %q", again.Token, ack.Token)
	}
	join(t, other, "B")

	sendEnv(t, courier, protocol.TypeLocationUpdated, map[string]any{
		"orderId":  "A",
		"location": map[string]any{"latitude": 52.1, "longitude": 4.3, "timestamp": 1000},
	})

	env := readEnv(t, viewer)
	if env.Type != protocol.TypeLocationUpdated {
		t.Fatalf("type = %q, want %q", env.Type, protocol.TypeLocationUpdated)
	}
	u, err := protocol.DecodeLocationUpdate(env.Payload)
	if err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if u.OrderID != "A" || u.Timestamp != 1000 {
		t.Errorf("update = %+v", u)
	}

	// The B viewer must not see A's update.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("B viewer received a message for order A")
	}
}

func TestRejectedUpdateGoesBackToPublisher(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	viewer := dial(t, srv)
	courier := dial(t, srv)
	join(t, viewer, "A")

	sendEnv(t, courier, protocol.TypeLocationUpdated, map[string]any{
		"orderId":  "A",
		"location": map[string]any{"latitude": 123, "longitude": 4.3, "timestamp": 1000},
	})

	env := readEnv(t, courier)
	if env.Type != protocol.TypeUpdateRejected {
		t.Fatalf("type = %q, want %q", env.Type, protocol.TypeUpdateRejected)
	}
	var rej protocol.UpdateRejected
	env.DecodePayload(&rej)
	if rej.Reason != protocol.ReasonInvalidLatitude {
		t.Errorf("reason = %q, want %q", rej.Reason, protocol.ReasonInvalidLatitude)
	}

	viewer.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := viewer.ReadMessage(); err == nil {
		t.Error("viewer received a rejected update")
	}
}

func TestJoinRejectedByAuthorizer(t *testing.T) {
	deny := broker.AuthorizerFunc(func(_, orderID string) error {
		if orderID == "secret" {
			return errors.New("forbidden")
		}
		return nil
	})
	srv, eng := newTestServer(t, deny)
	conn := dial(t, srv)

	sendEnv(t, conn, protocol.TypeJoinOrder, &protocol.JoinOrder{OrderID: "secret"})
	env := readEnv(t, conn)
	if env.Type != protocol.TypeJoinRejected {
		t.Fatalf("type = %q, want %q", env.Type, protocol.TypeJoinRejected)
	}
	var rej protocol.JoinRejected
	env.DecodePayload(&rej)
	if rej.Reason != protocol.JoinReasonNotAuthorized {
		t.Errorf("reason = %q, want %q", rej.Reason, protocol.JoinReasonNotAuthorized)
	}
	if eng.Broker().RoomCount() != 0 {
		t.Errorf("rooms = %d, want 0", eng.Broker().RoomCount())
	}
}

func TestDisconnectLeavesRooms(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	conn := dial(t, srv)
	join(t, conn, "A")
	join(t, conn, "B")
	if eng.Broker().RoomCount() != 2 {
		t.Fatalf("rooms = %d, want 2", eng.Broker().RoomCount())
	}

	conn.Close()
	waitFor(t, func() bool { return eng.Broker().RoomCount() == 0 })
}

func TestLeaveOrder(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	conn := dial(t, srv)
	join(t, conn, "A")
	sendEnv(t, conn, protocol.TypeLeaveOrder, &protocol.LeaveOrder{OrderID: "A"})
	waitFor(t, func() bool { return eng.Broker().RoomCount() == 0 })
}

func TestRoomsAPI(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	conn := dial(t, srv)
	join(t, conn, "A")

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("get rooms: %v", err)
	}
	defer resp.Body.Close()
	var rooms []broker.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].OrderID != "A" || len(rooms[0].Members) != 1 {
		t.Errorf("rooms = %+v", rooms)
	}

	resp2, err := http.Get(srv.URL + "/api/rooms/A")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp2.StatusCode)
	}

	resp3, err := http.Get(srv.URL + "/api/rooms/missing")
	if err != nil {
		t.Fatalf("get missing room: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp3.StatusCode)
	}
}

func TestHealthAPI(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["messaging"] != false {
		t.Errorf("messaging = %v, want false", body["messaging"])
	}
}

func TestEventHubFanOut(t *testing.T) {
	hub := NewEventHub()
	hub.Start()
	defer hub.Stop()

	a := hub.AddClient("")
	b := hub.AddClient("")
	if hub.ClientCount() != 2 {
		t.Fatalf("clients = %d, want 2", hub.ClientCount())
	}
	hub.Broadcast(SSEEvent{Event: "room-opened", OrderID: "A", Data: `{"orderId":"A"}`})

	for _, ch := range []chan SSEEvent{a, b} {
		select {
		case evt := <-ch:
			if evt.Event != "room-opened" {
				t.Errorf("event = %q, want room-opened", evt.Event)
			}
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
	}
	hub.RemoveClient(a)
	if hub.ClientCount() != 1 {
		t.Errorf("clients = %d, want 1", hub.ClientCount())
	}
}

func TestEventHubOrderFilter(t *testing.T) {
	hub := NewEventHub()
	hub.Start()
	defer hub.Stop()

	ch := hub.AddClient("A")
	hub.Broadcast(SSEEvent{Event: "room-opened", OrderID: "B"})
	hub.Broadcast(SSEEvent{Event: "messaging-connected"})
	hub.Broadcast(SSEEvent{Event: "room-opened", OrderID: "A"})

	var got []string
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt.Event+"/"+evt.OrderID)
		case <-time.After(time.Second):
			t.Fatalf("got %v, want two events", got)
		}
	}
	if got[0] != "messaging-connected/" || got[1] != "room-opened/A" {
		t.Errorf("got = %v, want [messaging-connected/ room-opened/A]", got)
	}
}

func TestEventsStreamFollowsOrder(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/events?order=ORD-1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	other := dial(t, srv)
	join(t, other, "ORD-2")
	conn := dial(t, srv)
	join(t, conn, "ORD-1")

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if strings.HasPrefix(line, "data: ") && strings.Contains(line, "ORD-2") {
				t.Fatalf("filtered stream carried ORD-2: %s", line)
			}
			if line == "event: room-opened" {
				data := <-lines
				if !strings.Contains(data, `"orderId":"ORD-1"`) {
					t.Errorf("data = %s, want ORD-1", data)
				}
				return
			}
		case <-deadline:
			t.Fatal("no room-opened event for ORD-1")
		}
	}
}

func TestSendQueueDropsOldest(t *testing.T) {
	c := &wsConn{
		id:   "test",
		send: make(chan *protocol.Envelope, 2),
		quit: make(chan struct{}),
	}
	for _, typ := range []string{"one", "two", "three"} {
		if err := c.Send(&protocol.Envelope{Type: typ}); err != nil {
			t.Fatalf("send %s: %v", typ, err)
		}
	}
	if got := (<-c.send).Type; got != "two" {
		t.Errorf("first queued = %q, want two", got)
	}
	if got := (<-c.send).Type; got != "three" {
		t.Errorf("second queued = %q, want three", got)
	}
	if c.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", c.dropped.Load())
	}

	close(c.quit)
	if err := c.Send(&protocol.Envelope{Type: "late"}); err != errConnClosed {
		t.Errorf("send after close = %v, want errConnClosed", err)
	}
}

// upgradedConn returns the server side of a live websocket connection.
func upgradedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	select {
	case conn := <-conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no server connection")
		return nil
	}
}

func TestJoinAfterTeardownLeavesNoMember(t *testing.T) {
	b := broker.New(broker.Config{LogFunc: quiet})
	c := newWSConn(upgradedConn(t), b, config.Defaults().Broker)

	// The write pump closes the connection while the read pump is still
	// dispatching a join it has already read.
	c.close()
	req, err := protocol.NewEnvelope(protocol.TypeJoinOrder, &protocol.JoinOrder{OrderID: "O1"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	h := &connHandler{c: c}
	h.HandleJoinOrder(req, &protocol.JoinOrder{OrderID: "O1"})
	c.close()

	if m := b.Members("O1"); len(m) != 0 {
		t.Errorf("members of O1 = %v, want none", m)
	}
	if b.RoomCount() != 0 {
		t.Errorf("rooms = %d, want 0", b.RoomCount())
	}
}

func TestReadPumpExitSweepsLateJoin(t *testing.T) {
	b := broker.New(broker.Config{LogFunc: quiet})
	c := newWSConn(upgradedConn(t), b, config.Defaults().Broker)

	// Join lands after close, bypassing the handler's quit check.
	c.close()
	if _, err := b.Join(c, "O1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.readPump()

	if m := b.Members("O1"); len(m) != 0 {
		t.Errorf("members of O1 = %v, want none", m)
	}
}

func TestJoinFromLaggingClockIsAnswered(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	conn := dial(t, srv)

	env, err := protocol.NewEnvelope(protocol.TypeJoinOrder, &protocol.JoinOrder{OrderID: "O1"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	env.Timestamp = env.Timestamp.Add(-45 * time.Second)
	env.ExpiresAt = env.Timestamp.Add(30 * time.Second)
	data, _ := env.Encode()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply := readEnv(t, conn)
	if reply.Type != protocol.TypeJoinAck {
		t.Fatalf("type = %q, want %q", reply.Type, protocol.TypeJoinAck)
	}
	if reply.CorID != env.ID {
		t.Errorf("cor = %q, want %q", reply.CorID, env.ID)
	}
	if m := eng.Broker().Members("O1"); len(m) != 1 {
		t.Errorf("members = %v, want one", m)
	}
}
