package protocol

import "time"

// A location fix is still worth placing in the path a little after it was
// sent. Control frames carry no deadline since the peer's clock may lag ours.
var defaultTTLs = map[string]time.Duration{
	TypeJoinOrder:       0,
	TypeLeaveOrder:      0,
	TypeJoinAck:         0,
	TypeJoinRejected:    0,
	TypeLocationUpdated: 2 * time.Minute,
	TypeUpdateRejected:  2 * time.Minute,
}

const FallbackTTL = time.Minute

// DefaultTTLFor returns the lifetime stamped on new envelopes of msgType.
// Zero means the envelope never expires.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// Expired reports whether the envelope's deadline is before now. A zero
// deadline never expires.
func (e *Envelope) Expired(now time.Time) bool {
	return expired(e.ExpiresAt, now)
}

func (h *RawHeader) Expired(now time.Time) bool {
	return expired(h.ExpiresAt, now)
}

// expires reports whether frames of msgType are subject to a deadline at all.
// Control frames are answered whatever exp the sender stamped on them.
func expires(msgType string) bool {
	return DefaultTTLFor(msgType) > 0
}

func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}
