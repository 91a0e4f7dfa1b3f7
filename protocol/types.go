package protocol

// Message type constants for the tracking protocol.
const (
	// Client -> Broker
	TypeJoinOrder  = "join-order"
	TypeLeaveOrder = "leave-order"

	// Publisher -> Broker -> room members
	TypeLocationUpdated = "location-updated"

	// Broker -> Client
	TypeJoinAck        = "join-ack"
	TypeJoinRejected   = "join-rejected"
	TypeUpdateRejected = "update-rejected"
)

// Protocol version.
const Version = 1

// Join rejection reasons.
const (
	JoinReasonNotAuthorized  = "not_authorized"
	JoinReasonInvalidOrderID = "invalid_order_id"
)
