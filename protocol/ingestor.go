package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrExpired            = errors.New("message expired")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnknownType        = errors.New("unknown message type")
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for all protocol message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	// Client -> Broker
	HandleJoinOrder(env *Envelope, p *JoinOrder)
	HandleLeaveOrder(env *Envelope, p *LeaveOrder)

	// Location payloads are handed over undecoded; DecodeLocationUpdate is the
	// only place they are trusted.
	HandleLocationUpdated(env *Envelope, raw json.RawMessage)

	// Broker -> Client
	HandleJoinAck(env *Envelope, p *JoinAck)
	HandleJoinRejected(env *Envelope, p *JoinRejected)
	HandleUpdateRejected(env *Envelope, p *UpdateRejected)
}

type route func(env *Envelope) error

// Ingestor decodes frames in two steps, header then payload, and dispatches
// them to a MessageHandler. It keeps no state between frames.
type Ingestor struct {
	filter FilterFunc
	routes map[string]route
	now    func() time.Time
}

func NewIngestor(h MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{
		filter: filter,
		now:    time.Now,
		routes: map[string]route{
			TypeJoinOrder:  decodeInto(h.HandleJoinOrder),
			TypeLeaveOrder: decodeInto(h.HandleLeaveOrder),
			TypeLocationUpdated: func(env *Envelope) error {
				h.HandleLocationUpdated(env, env.Payload)
				return nil
			},
			TypeJoinAck:        decodeInto(h.HandleJoinAck),
			TypeJoinRejected:   decodeInto(h.HandleJoinRejected),
			TypeUpdateRejected: decodeInto(h.HandleUpdateRejected),
		},
	}
}

// HandleRaw routes one frame. Filtered frames return nil; anything that
// could not be delivered returns an error for the caller to log.
func (ing *Ingestor) HandleRaw(data []byte) error {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if err := checkVersion(hdr.Version); err != nil {
		return err
	}
	if expires(hdr.Type) && hdr.Expired(ing.now()) {
		return fmt.Errorf("%w: %s %s", ErrExpired, hdr.Type, hdr.ID)
	}
	if ing.filter != nil && !ing.filter(&hdr) {
		return nil
	}

	r, ok := ing.routes[hdr.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("envelope %s: %w", hdr.ID, err)
	}
	return r(&env)
}

func decodeInto[T any](fn func(*Envelope, *T)) route {
	return func(env *Envelope) error {
		var p T
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("%s payload: %w", env.Type, err)
		}
		fn(env, &p)
		return nil
	}
}
