package protocol

import "encoding/json"

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleJoinOrder(*Envelope, *JoinOrder)            {}
func (NoOpHandler) HandleLeaveOrder(*Envelope, *LeaveOrder)          {}
func (NoOpHandler) HandleLocationUpdated(*Envelope, json.RawMessage) {}
func (NoOpHandler) HandleJoinAck(*Envelope, *JoinAck)                {}
func (NoOpHandler) HandleJoinRejected(*Envelope, *JoinRejected)      {}
func (NoOpHandler) HandleUpdateRejected(*Envelope, *UpdateRejected)  {}

// Compile-time check that NoOpHandler implements MessageHandler.
var _ MessageHandler = NoOpHandler{}
