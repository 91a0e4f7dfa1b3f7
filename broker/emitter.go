package broker

import "ordertrack/protocol"

// Emitter is the interface adapters must satisfy to bridge broker activity to the engine.
type Emitter interface {
	EmitRoomOpened(orderID string)
	EmitRoomClosed(orderID string)
	EmitMemberJoined(orderID, connID string, members int)
	EmitMemberLeft(orderID, connID string, members int)
	EmitUpdateRelayed(u protocol.LocationUpdate, recipients int)
	EmitUpdateRejected(orderID, reason, connID string)
}

type nopEmitter struct{}

func (nopEmitter) EmitRoomOpened(string)                          {}
func (nopEmitter) EmitRoomClosed(string)                          {}
func (nopEmitter) EmitMemberJoined(string, string, int)           {}
func (nopEmitter) EmitMemberLeft(string, string, int)             {}
func (nopEmitter) EmitUpdateRelayed(protocol.LocationUpdate, int) {}
func (nopEmitter) EmitUpdateRejected(string, string, string)      {}
