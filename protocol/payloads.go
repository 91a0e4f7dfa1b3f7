package protocol

import "encoding/json"

// --- Client -> Broker payloads ---

// JoinOrder asks the broker to add the sending connection to an order's room.
type JoinOrder struct {
	OrderID string `json:"orderId"`
}

// LeaveOrder removes the sending connection from an order's room.
type LeaveOrder struct {
	OrderID string `json:"orderId"`
}

// --- Publisher <-> Broker <-> Client payloads ---

// LocationUpdated is the wire shape of a location fix. Fields are kept loose
// (pointers, raw timestamp) so the codec can tell missing from zero.
type LocationUpdated struct {
	OrderID  string        `json:"orderId"`
	Location *WireLocation `json:"location,omitempty"`

	// Flat form used by bus publishers that skip the nested location object.
	Latitude  *float64        `json:"latitude,omitempty"`
	Longitude *float64        `json:"longitude,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Accuracy  *float64        `json:"accuracy,omitempty"`
}

// WireLocation is the nested location object of a location-updated payload.
type WireLocation struct {
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Timestamp json.RawMessage `json:"timestamp"`
	Accuracy  *float64        `json:"accuracy,omitempty"`
}

// --- Broker -> Client payloads ---

// JoinAck confirms room membership. Token is stable across re-joins on the
// same connection.
type JoinAck struct {
	OrderID string `json:"orderId"`
	Token   string `json:"token"`
}

// JoinRejected tells a client its join was refused. Terminal for that order.
type JoinRejected struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// UpdateRejected is returned to a publisher whose location update failed
// validation. It is never broadcast.
type UpdateRejected struct {
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason"`
	Field   string `json:"field,omitempty"`
}
