package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message on the tracking socket and the bus. Short
// JSON keys keep location frames small.
type Envelope struct {
	Version   int             `json:"v"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"ts"`
	ExpiresAt time.Time       `json:"exp"`
	CorID     string          `json:"cor,omitempty"`
	Payload   json.RawMessage `json:"p"`
}

// RawHeader is decoded first so a frame can be routed or dropped without
// touching its payload.
type RawHeader struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"exp"`
}

func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	return newEnvelope(msgType, payload, DefaultTTLFor(msgType))
}

func newEnvelope(msgType string, payload any, ttl time.Duration) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	now := time.Now().UTC()
	env := &Envelope{
		Version:   Version,
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: now,
		Payload:   p,
	}
	if ttl > 0 {
		env.ExpiresAt = now.Add(ttl)
	}
	return env, nil
}

// Reply builds a response correlated to e.
func (e *Envelope) Reply(msgType string, payload any) (*Envelope, error) {
	r, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	r.CorID = e.ID
	return r, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e *Envelope) DecodePayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// DecodeEnvelope parses a full envelope and rejects versions newer than
// this build understands.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if err := checkVersion(env.Version); err != nil {
		return nil, err
	}
	return &env, nil
}

// Version 0 is accepted for bus publishers that leave "v" out.
func checkVersion(v int) error {
	if v < 0 || v > Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return nil
}
