// Package signaling maintains the push connection to the event gateway and turns its frames into notifications.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidGatewayMessage is reported when a non-empty frame is not a JSON envelope.
	ErrInvalidGatewayMessage = errors.New("the JSON message received was malformed")
	// ErrGatewayConnectionFailed is reported when the push connection cannot be opened.
	ErrGatewayConnectionFailed = errors.New("could not connect to the event gateway")
)

// Notification names emitted by the transport.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventTokenExpired = "tokenExpired"

	EventWorkerActivityUpdated            = "workerActivityUpdated"
	EventWorkerAttributesUpdated          = "workerAttributesUpdated"
	EventWorkerCapacityUpdated            = "workerCapacityUpdated"
	EventWorkerChannelAvailabilityUpdated = "workerChannelAvailabilityUpdated"

	EventActivityUpdated = "activityUpdated"

	EventReservationCreated   = "reservationCreated"
	EventReservationAccepted  = "reservationAccepted"
	EventReservationRejected  = "reservationRejected"
	EventReservationTimedOut  = "reservationTimedOut"
	EventReservationCanceled  = "reservationCanceled"
	EventReservationRescinded = "reservationRescinded"
)

// wireEvents maps gateway event types to notification names.
var wireEvents = map[string]string{
	"worker.activity.update":             EventWorkerActivityUpdated,
	"worker.attributes.update":           EventWorkerAttributesUpdated,
	"worker.capacity.update":             EventWorkerCapacityUpdated,
	"worker.channel.availability.update": EventWorkerChannelAvailabilityUpdated,

	"activity.updated": EventActivityUpdated,

	"reservation.created":   EventReservationCreated,
	"reservation.accepted":  EventReservationAccepted,
	"reservation.rejected":  EventReservationRejected,
	"reservation.timeout":   EventReservationTimedOut,
	"reservation.canceled":  EventReservationCanceled,
	"reservation.rescinded": EventReservationRescinded,
}

// Notification is delivered to the transport's handler.
type Notification struct {
	Name    string
	Payload json.RawMessage // nil for structural notifications
	Err     error           // set for EventError
}

// Handler receives notifications.
type Handler func(Notification)

// Envelope is the inbound frame format.
type Envelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Map translates a gateway event into a notification. Unknown event types with a payload are
// dropped (ok is false). Without a payload the event type is passed through as the name.
func Map(eventType string, payload json.RawMessage) (Notification, bool) {
	if !hasPayload(payload) {
		if eventType == "" {
			return Notification{}, false
		}
		return Notification{Name: eventType}, true
	}
	name, ok := wireEvents[eventType]
	if !ok {
		return Notification{}, false
	}
	return Notification{Name: name, Payload: payload}, true
}

func hasPayload(p json.RawMessage) bool {
	p = bytes.TrimSpace(p)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}
