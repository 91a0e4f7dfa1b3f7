package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Rejection reasons reported back to publishers.
const (
	ReasonMalformed        = "malformed"
	ReasonMissingOrderID   = "missing_order_id"
	ReasonInvalidLatitude  = "invalid_latitude"
	ReasonInvalidLongitude = "invalid_longitude"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonInvalidAccuracy  = "invalid_accuracy"
)

// LocationUpdate is a validated position fix for one order. Values are
// immutable once returned by DecodeLocationUpdate.
type LocationUpdate struct {
	OrderID   string   `json:"orderId" validate:"required"`
	Latitude  float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp int64    `json:"timestamp" validate:"gt=0"` // epoch millis
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// Time returns the fix timestamp as a time.Time.
func (u LocationUpdate) Time() time.Time {
	return time.UnixMilli(u.Timestamp).UTC()
}

// Rejection describes why an inbound update was refused at the codec boundary.
type Rejection struct {
	Reason  string
	Field   string
	OrderID string
	Detail  string
}

func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("location update rejected: %s (%s)", r.Reason, r.Detail)
	}
	return "location update rejected: " + r.Reason
}

// AsRejection extracts a *Rejection from err, if present.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	ok := errors.As(err, &rej)
	return rej, ok
}

var validate = validator.New()

var fieldReasons = map[string]string{
	"OrderID":   ReasonMissingOrderID,
	"Latitude":  ReasonInvalidLatitude,
	"Longitude": ReasonInvalidLongitude,
	"Timestamp": ReasonInvalidTimestamp,
	"Accuracy":  ReasonInvalidAccuracy,
}

// Validate checks an already constructed update. Decoded updates always pass;
// it exists so consumers can re-check values they did not decode themselves.
func Validate(u LocationUpdate) error {
	if strings.TrimSpace(u.OrderID) == "" {
		return &Rejection{Reason: ReasonMissingOrderID, Field: "orderId"}
	}
	err := validate.Struct(u)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &Rejection{
			Reason:  fieldReasons[fe.StructField()],
			Field:   jsonFieldName(fe.StructField()),
			OrderID: u.OrderID,
			Detail:  fmt.Sprintf("%v fails %s", fe.Value(), fe.Tag()),
		}
	}
	return &Rejection{Reason: ReasonMalformed, OrderID: u.OrderID, Detail: err.Error()}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "OrderID":
		return "orderId"
	default:
		return strings.ToLower(structField)
	}
}

// DecodeLocationUpdate validates and normalizes a raw location-updated payload.
// Both the nested {orderId, location:{...}} form and the flat form are accepted.
// The returned error is always a *Rejection.
func DecodeLocationUpdate(raw []byte) (LocationUpdate, error) {
	var w LocationUpdated
	if err := json.Unmarshal(raw, &w); err != nil {
		return LocationUpdate{}, rejectionFromJSON(err)
	}
	if strings.TrimSpace(w.OrderID) == "" {
		return LocationUpdate{}, &Rejection{Reason: ReasonMissingOrderID, Field: "orderId"}
	}

	lat, lon, ts, acc := w.Latitude, w.Longitude, w.Timestamp, w.Accuracy
	if w.Location != nil {
		lat, lon, ts, acc = w.Location.Latitude, w.Location.Longitude, w.Location.Timestamp, w.Location.Accuracy
	}
	if lat == nil {
		return LocationUpdate{}, &Rejection{Reason: ReasonInvalidLatitude, Field: "latitude", OrderID: w.OrderID, Detail: "missing"}
	}
	if lon == nil {
		return LocationUpdate{}, &Rejection{Reason: ReasonInvalidLongitude, Field: "longitude", OrderID: w.OrderID, Detail: "missing"}
	}
	millis, err := parseTimestamp(ts)
	if err != nil {
		return LocationUpdate{}, &Rejection{Reason: ReasonInvalidTimestamp, Field: "timestamp", OrderID: w.OrderID, Detail: err.Error()}
	}

	u := LocationUpdate{
		OrderID:   w.OrderID,
		Latitude:  *lat,
		Longitude: *lon,
		Timestamp: millis,
	}
	if acc != nil {
		a := *acc
		u.Accuracy = &a
	}
	if err := Validate(u); err != nil {
		return LocationUpdate{}, err
	}
	return u, nil
}

// EncodeLocationUpdated builds the nested wire payload for a validated update.
func EncodeLocationUpdated(u LocationUpdate) *LocationUpdated {
	lat, lon := u.Latitude, u.Longitude
	loc := &WireLocation{
		Latitude:  &lat,
		Longitude: &lon,
		Timestamp: json.RawMessage(strconv.FormatInt(u.Timestamp, 10)),
	}
	if u.Accuracy != nil {
		a := *u.Accuracy
		loc.Accuracy = &a
	}
	return &LocationUpdated{OrderID: u.OrderID, Location: loc}
}

func rejectionFromJSON(err error) *Rejection {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		field := ute.Field
		switch {
		case strings.HasSuffix(field, "latitude"):
			return &Rejection{Reason: ReasonInvalidLatitude, Field: "latitude", Detail: "non-numeric"}
		case strings.HasSuffix(field, "longitude"):
			return &Rejection{Reason: ReasonInvalidLongitude, Field: "longitude", Detail: "non-numeric"}
		case strings.HasSuffix(field, "accuracy"):
			return &Rejection{Reason: ReasonInvalidAccuracy, Field: "accuracy", Detail: "non-numeric"}
		case field == "orderId":
			return &Rejection{Reason: ReasonMissingOrderID, Field: "orderId", Detail: "not a string"}
		}
	}
	return &Rejection{Reason: ReasonMalformed, Detail: err.Error()}
}

// parseTimestamp accepts epoch millis as a JSON number or numeric string, or an
// RFC 3339 string.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, fmt.Errorf("not comparable: %q", s)
		}
		return t.UnixMilli(), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("not comparable: %s", raw)
	}
	// float64(MaxInt64) rounds up to 2^63, which does not fit.
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range: %s", raw)
	}
	// Truncating would fold distinct fixes into one millisecond.
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("fractional millis: %s", raw)
	}
	return int64(f), nil
}
