// Package v1 defines the relay wire protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and clients so the wire format stays authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the protocol version identifier.
const Version = "v1"

// Subprotocol is the optional WebSocket subprotocol offered by the server.
const Subprotocol = "relay.v1"

// Inbound event names (client -> server).
const (
	EventJoinDirectChat = "join_direct_chat"
	EventJoinGroup      = "join_group"
	EventLeaveGroup     = "leave_group"
	EventSendMessage    = "send_message"
	EventMarkDelivered  = "mark_delivered"
	EventMarkRead       = "mark_read"
)

// Outbound event names (server -> client).
const (
	EventConnected         = "connected"
	EventDirectChatJoined  = "direct_chat_joined"
	EventUserJoinedGroup   = "user_joined_group"
	EventGroupJoined       = "group_joined"
	EventUserLeftGroup     = "user_left_group"
	EventGroupLeft         = "group_left"
	EventReceiveMessage    = "receive_message"
	EventAck               = "ack"
	EventDeliveryConfirmed = "delivery_confirmed"
	EventReadConfirmed     = "read_confirmed"
	EventError             = "error"
)

// Limits enforced at the boundary.
const (
	MaxIDChars      = 100
	MaxMessageChars = 4000
	MaxURLChars     = 2048
)

var (
	// ErrMalformed is returned when a frame is not valid JSON or lacks an event name.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownEvent is returned for event names this protocol version does not define.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload is returned when an event payload fails validation.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Frame is the canonical wire wrapper in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a Frame for the given event.
func NewFrame(event string, data any) (Frame, error) {
	if strings.TrimSpace(event) == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	if data == nil {
		return Frame{Event: event}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return Frame{Event: event, Data: b}, nil
}

// Inbound is implemented by every client -> server payload.
type Inbound interface {
	EventName() string
	Validate() error
}

// Decode parses one inbound frame into its typed payload and validates it.
//
// The returned event name is set whenever the frame itself parsed, so callers can
// attribute payload errors to the right event.
func Decode(data []byte) (string, Inbound, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	event := strings.TrimSpace(f.Event)
	if event == "" {
		return "", nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	var in Inbound
	switch event {
	case EventJoinDirectChat:
		in = &JoinDirectChat{}
	case EventJoinGroup:
		in = &JoinGroup{}
	case EventLeaveGroup:
		in = &LeaveGroup{}
	case EventSendMessage:
		in = &SendMessage{}
	case EventMarkDelivered:
		in = &MarkDelivered{}
	case EventMarkRead:
		in = &MarkRead{}
	default:
		return event, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}

	if len(f.Data) == 0 || string(f.Data) == "null" {
		return event, nil, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(f.Data, in); err != nil {
		return event, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := in.Validate(); err != nil {
		return event, nil, err
	}
	return event, in, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

func requireID(field, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return invalid("missing field: %s", field)
	}
	if len([]rune(v)) > MaxIDChars {
		return invalid("%s too long: max=%d chars", field, MaxIDChars)
	}
	return nil
}
