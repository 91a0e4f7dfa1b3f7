// Package broker groups connections into per-order rooms and relays location
// updates to room members only.
package broker

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ordertrack/protocol"
)

// ErrJoinRejected is returned when a JoinAuthorizer refuses a join.
var ErrJoinRejected = errors.New("join rejected")

// Conn is a subscriber connection handle. Send must not block for long; slow
// connections should queue or drop on their side.
type Conn interface {
	ID() string
	Send(env *protocol.Envelope) error
}

// JoinAuthorizer decides whether a connection may observe an order. A non-nil
// error rejects the join; Join wraps it with ErrJoinRejected.
type JoinAuthorizer interface {
	AuthorizeJoin(connID, orderID string) error
}

// AuthorizerFunc adapts a function to JoinAuthorizer.
type AuthorizerFunc func(connID, orderID string) error

func (f AuthorizerFunc) AuthorizeJoin(connID, orderID string) error { return f(connID, orderID) }

type LogFunc func(format string, args ...any)

type Config struct {
	Emitter    Emitter
	Authorizer JoinAuthorizer
	LogFunc    LogFunc
}

type member struct {
	conn  Conn
	token string
}

// room serializes join, leave and publish for one order. closed is set when the
// room has been dropped from the broker so a racing join retries on a fresh room.
type room struct {
	mu      sync.Mutex
	orderID string
	members map[string]*member
	order   []string // join order, used for deterministic fan-out
	closed  bool
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	OrderID string   `json:"orderId"`
	Members []string `json:"members"`
}

// Broker routes location updates to the connections that joined the matching
// order's room.
type Broker struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	byConn map[string]map[string]struct{} // connID -> orderIDs

	emitter    Emitter
	authorizer JoinAuthorizer
	logFn      LogFunc
}

func New(c Config) *Broker {
	b := &Broker{
		rooms:      make(map[string]*room),
		byConn:     make(map[string]map[string]struct{}),
		emitter:    c.Emitter,
		authorizer: c.Authorizer,
		logFn:      c.LogFunc,
	}
	if b.emitter == nil {
		b.emitter = nopEmitter{}
	}
	if b.logFn == nil {
		b.logFn = log.Printf
	}
	return b
}

// Join adds conn to orderID's room and returns the membership token. Joining
// again on the same connection is a no-op that returns the original token.
func (b *Broker) Join(conn Conn, orderID string) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("join: empty order id")
	}
	if b.authorizer != nil {
		if err := b.authorizer.AuthorizeJoin(conn.ID(), orderID); err != nil {
			b.logFn("broker: join %s by %s rejected: %v", orderID, conn.ID(), err)
			return "", fmt.Errorf("%w: %v", ErrJoinRejected, err)
		}
	}

	for {
		r := b.roomFor(orderID)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		if m, ok := r.members[conn.ID()]; ok {
			r.mu.Unlock()
			return m.token, nil
		}
		m := &member{conn: conn, token: uuid.New().String()}
		r.members[conn.ID()] = m
		r.order = append(r.order, conn.ID())
		count := len(r.members)

		b.mu.Lock()
		orders, ok := b.byConn[conn.ID()]
		if !ok {
			orders = make(map[string]struct{})
			b.byConn[conn.ID()] = orders
		}
		orders[orderID] = struct{}{}
		b.mu.Unlock()
		r.mu.Unlock()

		b.emitter.EmitMemberJoined(orderID, conn.ID(), count)
		return m.token, nil
	}
}

// roomFor returns the live room for orderID, creating it if needed.
func (b *Broker) roomFor(orderID string) *room {
	b.mu.RLock()
	r, ok := b.rooms[orderID]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	r, ok = b.rooms[orderID]
	if !ok {
		r = &room{orderID: orderID, members: make(map[string]*member)}
		b.rooms[orderID] = r
	}
	b.mu.Unlock()
	if !ok {
		b.logFn("broker: room %s opened", orderID)
		b.emitter.EmitRoomOpened(orderID)
	}
	return r
}

// Leave removes conn from orderID's room. Leaving a room the connection is not
// in is a no-op.
func (b *Broker) Leave(conn Conn, orderID string) {
	b.leave(conn.ID(), orderID)
}

func (b *Broker) leave(connID, orderID string) {
	b.mu.RLock()
	r, ok := b.rooms[orderID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, ok := r.members[connID]; !ok || r.closed {
		r.mu.Unlock()
		return
	}
	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	count := len(r.members)

	b.mu.Lock()
	if orders, ok := b.byConn[connID]; ok {
		delete(orders, orderID)
		if len(orders) == 0 {
			delete(b.byConn, connID)
		}
	}
	emptied := count == 0
	if emptied {
		r.closed = true
		delete(b.rooms, orderID)
	}
	b.mu.Unlock()
	r.mu.Unlock()

	b.emitter.EmitMemberLeft(orderID, connID, count)
	if emptied {
		b.logFn("broker: room %s closed", orderID)
		b.emitter.EmitRoomClosed(orderID)
	}
}

// Publish decodes raw as a location-updated payload and forwards it to every
// member of the order's room in the order the broker received it. A rejected
// update is reported to from only (when non-nil) and never broadcast.
func (b *Broker) Publish(from Conn, raw []byte) (protocol.LocationUpdate, error) {
	u, err := protocol.DecodeLocationUpdate(raw)
	if err != nil {
		b.reject(from, err)
		return protocol.LocationUpdate{}, err
	}

	env, err := protocol.NewEnvelope(protocol.TypeLocationUpdated, protocol.EncodeLocationUpdated(u))
	if err != nil {
		return protocol.LocationUpdate{}, fmt.Errorf("build envelope: %w", err)
	}

	b.mu.RLock()
	r, ok := b.rooms[u.OrderID]
	b.mu.RUnlock()
	if !ok {
		b.emitter.EmitUpdateRelayed(u, 0)
		return u, nil
	}

	r.mu.Lock()
	sent := 0
	if !r.closed {
		for _, id := range r.order {
			m := r.members[id]
			if err := m.conn.Send(env); err != nil {
				b.logFn("broker: relay %s to %s: %v", u.OrderID, id, err)
				continue
			}
			sent++
		}
	}
	r.mu.Unlock()

	b.emitter.EmitUpdateRelayed(u, sent)
	return u, nil
}

func (b *Broker) reject(from Conn, err error) {
	rej, _ := protocol.AsRejection(err)
	connID := ""
	if from != nil {
		connID = from.ID()
	}
	b.logFn("broker: dropped location update from %q: %v", connID, err)
	b.emitter.EmitUpdateRejected(rej.OrderID, rej.Reason, connID)
	if from == nil {
		return
	}
	env, envErr := protocol.NewEnvelope(protocol.TypeUpdateRejected, &protocol.UpdateRejected{
		OrderID: rej.OrderID,
		Reason:  rej.Reason,
		Field:   rej.Field,
	})
	if envErr != nil {
		return
	}
	if sendErr := from.Send(env); sendErr != nil {
		b.logFn("broker: send rejection to %s: %v", connID, sendErr)
	}
}

// Disconnect removes conn from every room it belongs to.
func (b *Broker) Disconnect(conn Conn) {
	connID := conn.ID()
	b.mu.RLock()
	orders := make([]string, 0, len(b.byConn[connID]))
	for id := range b.byConn[connID] {
		orders = append(orders, id)
	}
	b.mu.RUnlock()

	for _, orderID := range orders {
		b.leave(connID, orderID)
	}
	if len(orders) > 0 {
		b.logFn("broker: connection %s disconnected, left %d room(s)", connID, len(orders))
	}
}

// Members returns the connection IDs in orderID's room, in join order.
func (b *Broker) Members(orderID string) []string {
	b.mu.RLock()
	r, ok := b.rooms[orderID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RoomCount returns the number of live rooms.
func (b *Broker) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}

// Rooms returns a snapshot of every live room, sorted by order ID.
func (b *Broker) Rooms() []RoomInfo {
	b.mu.RLock()
	ids := make([]string, 0, len(b.rooms))
	for id := range b.rooms {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)

	out := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		if members := b.Members(id); members != nil {
			out = append(out, RoomInfo{OrderID: id, Members: members})
		}
	}
	return out
}

// ConnectionRooms returns the order IDs conn currently belongs to.
func (b *Broker) ConnectionRooms(connID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byConn[connID]))
	for id := range b.byConn[connID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
