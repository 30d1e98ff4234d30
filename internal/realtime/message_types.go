package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Frame types exchanged over the realtime socket.
const (
	FrameTypeSubscribe   = "subscribe"   // client -> server: open a channel
	FrameTypeUnsubscribe = "unsubscribe" // client -> server: close a channel
	FrameTypeSubscribed  = "subscribed"  // server -> client: channel ack
	FrameTypeInsert      = "insert"      // server -> client: inserted row
	FrameTypeError       = "error"       // server -> client: protocol error
)

// TableMessages is the only table exposed for subscription.
const TableMessages = "messages"

// EventInsert is the only event type exposed for subscription.
const EventInsert = "INSERT"

// InboundFrame is a raw frame read from a client. Payload decoding is
// deferred until the type is known.
type InboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame is a frame written to a client.
type OutboundFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// SubscribePayload selects the channel: a table, an equality filter on the
// group id, and an event type.
type SubscribePayload struct {
	Table   string    `json:"table"`
	GroupID uuid.UUID `json:"groupId"`
	Event   string    `json:"event"`
}

// SubscribedPayload acknowledges an open channel.
type SubscribedPayload struct {
	Table   string    `json:"table"`
	GroupID uuid.UUID `json:"groupId"`
}

// ErrorPayload carries protocol error details.
type ErrorPayload struct {
	Message string `json:"message"`
}
