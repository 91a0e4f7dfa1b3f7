package client

import (
	"errors"

	"ordertrack/protocol"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrSessionClosed = errors.New("session closed")
	ErrTrackerClosed = errors.New("tracker closed")
	ErrJoinRejected  = errors.New("join rejected")
)

// Status is the lifecycle of a tracking session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusStale      Status = "stale"
	StatusRejected   Status = "rejected"
	StatusClosed     Status = "closed"
)

// Live reports whether the session still wants updates.
func (s Status) Live() bool {
	return s == StatusConnecting || s == StatusActive || s == StatusStale
}

// ConnState is the Supervisor's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TrackingState is what a Display renders.
type TrackingState struct {
	Current *protocol.LocationUpdate
	History []protocol.LocationUpdate
	Status  Status
}
