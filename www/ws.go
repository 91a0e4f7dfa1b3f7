package www

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ordertrack/broker"
	"ordertrack/config"
	"ordertrack/protocol"
)

var errConnClosed = errors.New("connection closed")

// wsConn is one browser or device connection. It implements broker.Conn.
type wsConn struct {
	id       string
	conn     *websocket.Conn
	broker   *broker.Broker
	cfg      config.BrokerConfig
	ingestor *protocol.Ingestor

	send     chan *protocol.Envelope
	quit     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

func newWSConn(conn *websocket.Conn, b *broker.Broker, cfg config.BrokerConfig) *wsConn {
	c := &wsConn{
		id:     uuid.New().String(),
		conn:   conn,
		broker: b,
		cfg:    cfg,
		send:   make(chan *protocol.Envelope, cfg.SendBuffer),
		quit:   make(chan struct{}),
	}
	c.ingestor = protocol.NewIngestor(&connHandler{c: c}, func(hdr *protocol.RawHeader) bool {
		switch hdr.Type {
		case protocol.TypeJoinOrder, protocol.TypeLeaveOrder, protocol.TypeLocationUpdated:
			return true
		}
		return false
	})
	return c
}

func (c *wsConn) ID() string { return c.id }

// Send queues env for the write pump. When the queue is full the oldest
// queued message is dropped to make room.
func (c *wsConn) Send(env *protocol.Envelope) error {
	select {
	case <-c.quit:
		return errConnClosed
	default:
	}
	for {
		select {
		case c.send <- env:
			return nil
		default:
		}
		select {
		case old := <-c.send:
			n := c.dropped.Add(1)
			log.Printf("ws: %s send queue full, dropped %s (%d total)", c.id, old.Type, n)
		default:
		}
	}
}

func (c *wsConn) run() {
	go c.writePump()
	c.readPump()
}

func (c *wsConn) close() {
	c.stopOnce.Do(func() {
		close(c.quit)
		c.broker.Disconnect(c)
		c.conn.Close()
		log.Printf("ws: connection %s closed", c.id)
	})
}

func (c *wsConn) readPump() {
	defer func() {
		c.close()
		// A join dispatched while the write pump was tearing down can land
		// after close's Disconnect, so sweep once more.
		c.broker.Disconnect(c)
	}()

	pongWait := 2 * c.cfg.PingPeriod
	c.conn.SetReadLimit(c.cfg.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: %s read: %v", c.id, err)
			}
			return
		}
		if err := c.ingestor.HandleRaw(data); err != nil {
			log.Printf("ws: %s: dropped frame: %v", c.id, err)
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			data, err := env.Encode()
			if err != nil {
				log.Printf("ws: %s encode %s: %v", c.id, env.Type, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("ws: %s write: %v", c.id, err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.quit:
			return
		}
	}
}

// connHandler turns inbound client messages into broker calls.
type connHandler struct {
	protocol.NoOpHandler
	c *wsConn
}

func (h *connHandler) HandleJoinOrder(env *protocol.Envelope, p *protocol.JoinOrder) {
	token, err := h.c.broker.Join(h.c, p.OrderID)
	if err != nil {
		reason := protocol.JoinReasonInvalidOrderID
		if errors.Is(err, broker.ErrJoinRejected) {
			reason = protocol.JoinReasonNotAuthorized
		}
		h.reply(env, protocol.TypeJoinRejected, &protocol.JoinRejected{OrderID: p.OrderID, Reason: reason})
		return
	}
	select {
	case <-h.c.quit:
		// Closed while joining: the Disconnect in close ran before this Join.
		h.c.broker.Leave(h.c, p.OrderID)
		return
	default:
	}
	h.reply(env, protocol.TypeJoinAck, &protocol.JoinAck{OrderID: p.OrderID, Token: token})
}

func (h *connHandler) HandleLeaveOrder(_ *protocol.Envelope, p *protocol.LeaveOrder) {
	h.c.broker.Leave(h.c, p.OrderID)
}

func (h *connHandler) HandleLocationUpdated(_ *protocol.Envelope, raw json.RawMessage) {
	// Rejections are reported back to this connection by the broker.
	h.c.broker.Publish(h.c, raw)
}

func (h *connHandler) reply(req *protocol.Envelope, msgType string, payload any) {
	env, err := req.Reply(msgType, payload)
	if err != nil {
		log.Printf("ws: build %s: %v", msgType, err)
		return
	}
	if err := h.c.Send(env); err != nil {
		log.Printf("ws: %s send %s: %v", h.c.id, msgType, err)
	}
}

// wsHandler upgrades /ws requests and serves each connection until it drops.
type wsHandler struct {
	upgrader websocket.Upgrader
	broker   *broker.Broker
	cfg      config.BrokerConfig
}

func newWSHandler(b *broker.Broker, cfg config.BrokerConfig) *wsHandler {
	return &wsHandler{
		broker: b,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from other origins; auth is external.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	c := newWSConn(conn, h.broker, h.cfg)
	log.Printf("ws: connection %s from %s", c.id, r.RemoteAddr)
	c.run()
}
