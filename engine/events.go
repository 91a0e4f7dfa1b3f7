package engine

import "ordertrack/protocol"

const (
	EventRoomOpened EventType = iota + 1
	EventRoomClosed
	EventMemberJoined
	EventMemberLeft
	EventUpdateRelayed
	EventUpdateRejected
	EventMessagingConnected
	EventMessagingDisconnected
)

var eventNames = map[EventType]string{
	EventRoomOpened:            "room-opened",
	EventRoomClosed:            "room-closed",
	EventMemberJoined:          "member-joined",
	EventMemberLeft:            "member-left",
	EventUpdateRelayed:         "location-relayed",
	EventUpdateRejected:        "location-rejected",
	EventMessagingConnected:    "messaging-connected",
	EventMessagingDisconnected: "messaging-disconnected",
}

// String is the event's wire name on the activity stream.
func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// --- Event payloads ---

type RoomEvent struct {
	OrderID string
}

type MemberEvent struct {
	OrderID string
	ConnID  string
	Members int
}

type UpdateRelayedEvent struct {
	Update     protocol.LocationUpdate
	Recipients int
}

type UpdateRejectedEvent struct {
	OrderID string
	Reason  string
	ConnID  string // empty for bus ingress
}

type ConnectionEvent struct {
	Detail string
}
