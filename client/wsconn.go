package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live connection to the tracking server. The Supervisor is the
// only reader and the only one that closes it; writes may come from any
// goroutine.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn. Dial must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DefaultReadWait outlasts two of the server's default 30s ping periods.
const DefaultReadWait = 75 * time.Second

// WebSocketDialer dials the server's /ws endpoint.
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	// ReadWait is how long the connection may stay silent, server pings
	// included, before a read fails. It must exceed the server's ping period.
	ReadWait time.Duration
	Header   http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	readWait := d.ReadWait
	if readWait <= 0 {
		readWait = DefaultReadWait
	}
	return newWSConn(conn, writeWait, readWait), nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	writeWait time.Duration
	readWait  time.Duration
}

func newWSConn(conn *websocket.Conn, writeWait, readWait time.Duration) *wsConn {
	c := &wsConn{conn: conn, writeWait: writeWait, readWait: readWait}
	conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.readWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	})
	return c
}

// ReadMessage blocks for the next data frame. A half-open connection fails
// it once readWait passes without any frame, control frames included.
func (c *wsConn) ReadMessage() ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
