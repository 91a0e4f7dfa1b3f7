package engine

import "ordertrack/protocol"

// brokerEmitter bridges the broker's emitter interface to the EventBus.
type brokerEmitter struct {
	bus *EventBus
}

func (e *brokerEmitter) EmitRoomOpened(orderID string) {
	e.bus.Emit(Event{Type: EventRoomOpened, OrderID: orderID, Payload: RoomEvent{OrderID: orderID}})
}

func (e *brokerEmitter) EmitRoomClosed(orderID string) {
	e.bus.Emit(Event{Type: EventRoomClosed, OrderID: orderID, Payload: RoomEvent{OrderID: orderID}})
}

func (e *brokerEmitter) EmitMemberJoined(orderID, connID string, members int) {
	e.bus.Emit(Event{Type: EventMemberJoined, OrderID: orderID, Payload: MemberEvent{
		OrderID: orderID,
		ConnID:  connID,
		Members: members,
	}})
}

func (e *brokerEmitter) EmitMemberLeft(orderID, connID string, members int) {
	e.bus.Emit(Event{Type: EventMemberLeft, OrderID: orderID, Payload: MemberEvent{
		OrderID: orderID,
		ConnID:  connID,
		Members: members,
	}})
}

func (e *brokerEmitter) EmitUpdateRelayed(u protocol.LocationUpdate, recipients int) {
	e.bus.Emit(Event{Type: EventUpdateRelayed, OrderID: u.OrderID, Payload: UpdateRelayedEvent{
		Update:     u,
		Recipients: recipients,
	}})
}

func (e *brokerEmitter) EmitUpdateRejected(orderID, reason, connID string) {
	e.bus.Emit(Event{Type: EventUpdateRejected, OrderID: orderID, Payload: UpdateRejectedEvent{
		OrderID: orderID,
		Reason:  reason,
		ConnID:  connID,
	}})
}
