package v1

import (
	"encoding/json"
	"strings"
	"time"
)

// JoinDirectChat opens (or reuses) the direct conversation with another user.
type JoinDirectChat struct {
	OtherUserID string `json:"other_user_id"`
}

func (JoinDirectChat) EventName() string { return EventJoinDirectChat }

func (p *JoinDirectChat) Validate() error {
	p.OtherUserID = strings.TrimSpace(p.OtherUserID)
	return requireID("other_user_id", p.OtherUserID)
}

// JoinGroup subscribes the connection to a group conversation.
type JoinGroup struct {
	GroupID string `json:"group_id"`
}

func (JoinGroup) EventName() string { return EventJoinGroup }

func (p *JoinGroup) Validate() error {
	p.GroupID = strings.TrimSpace(p.GroupID)
	return requireID("group_id", p.GroupID)
}

// LeaveGroup unsubscribes the connection from a group conversation.
type LeaveGroup struct {
	GroupID string `json:"group_id"`
}

func (LeaveGroup) EventName() string { return EventLeaveGroup }

func (p *LeaveGroup) Validate() error {
	p.GroupID = strings.TrimSpace(p.GroupID)
	return requireID("group_id", p.GroupID)
}

// SendMessage carries one chat message.
//
// The target is either ConversationID (a conversation the connection already
// joined) or To, which is a user id for direct chats and a group id for group chats.
// Type and MessageType are checked against their enumerations by the dispatcher.
type SendMessage struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	To             string          `json:"to,omitempty"`
	Message        string          `json:"message"`
	SenderID       string          `json:"sender_id"`
	Timestamp      json.RawMessage `json:"timestamp"`
	Type           string          `json:"type"`
	MessageType    string          `json:"message_type,omitempty"`
	URL            string          `json:"url,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

func (SendMessage) EventName() string { return EventSendMessage }

func (p *SendMessage) Validate() error {
	p.ConversationID = strings.TrimSpace(p.ConversationID)
	p.To = strings.TrimSpace(p.To)
	p.SenderID = strings.TrimSpace(p.SenderID)
	p.Type = strings.TrimSpace(p.Type)
	p.MessageType = strings.TrimSpace(p.MessageType)
	p.URL = strings.TrimSpace(p.URL)

	if p.ConversationID == "" && p.To == "" {
		return invalid("missing field: conversation_id or to")
	}
	if p.ConversationID != "" && p.To != "" {
		return invalid("conversation_id and to are mutually exclusive")
	}
	if p.To != "" {
		if err := requireID("to", p.To); err != nil {
			return err
		}
	}
	if err := requireID("sender_id", p.SenderID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Message) == "" {
		return invalid("missing field: message")
	}
	if len([]rune(p.Message)) > MaxMessageChars {
		return invalid("message too long: max=%d chars", MaxMessageChars)
	}
	if len(p.Timestamp) == 0 || string(p.Timestamp) == "null" {
		return invalid("missing field: timestamp")
	}
	if p.Type == "" {
		return invalid("missing field: type")
	}
	if len(p.URL) > MaxURLChars {
		return invalid("url too long: max=%d chars", MaxURLChars)
	}
	return nil
}

// MarkDelivered records that UserID received MessageID.
type MarkDelivered struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

func (MarkDelivered) EventName() string { return EventMarkDelivered }

func (p *MarkDelivered) Validate() error { return validateReceipt(&p.MessageID, &p.UserID) }

// MarkRead records that UserID read MessageID.
type MarkRead struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

func (MarkRead) EventName() string { return EventMarkRead }

func (p *MarkRead) Validate() error { return validateReceipt(&p.MessageID, &p.UserID) }

func validateReceipt(messageID, userID *string) error {
	*messageID = strings.TrimSpace(*messageID)
	*userID = strings.TrimSpace(*userID)
	if err := requireID("message_id", *messageID); err != nil {
		return err
	}
	return requireID("user_id", *userID)
}

// ---- outbound ----

// Status values used by acknowledgements.
const (
	StatusConnected = "connected"
	StatusSuccess   = "success"
	StatusSent      = "sent"
	StatusError     = "error"
)

type ConnectedPayload struct {
	Status       string `json:"status"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

type DirectChatJoinedPayload struct {
	Status         string `json:"status"`
	OtherUserID    string `json:"other_user_id"`
	ConversationID string `json:"conversation_id"`
	Room           string `json:"room"`
}

type UserJoinedGroupPayload struct {
	UserID         string `json:"user_id"`
	GroupID        string `json:"group_id"`
	ConversationID string `json:"conversation_id"`
}

type GroupJoinedPayload struct {
	Status         string `json:"status"`
	GroupID        string `json:"group_id"`
	ConversationID string `json:"conversation_id"`
	Room           string `json:"room"`
}

type UserLeftGroupPayload struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id"`
}

type GroupLeftPayload struct {
	Status  string `json:"status"`
	GroupID string `json:"group_id"`
}

// ReceiveMessagePayload is fanned out to every connection subscribed to the target room.
type ReceiveMessagePayload struct {
	From           string          `json:"from"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	MessageType    string          `json:"message_type"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	URL            string          `json:"url,omitempty"`
	MessageID      string          `json:"message_id"`
	CreatedAt      time.Time       `json:"created_at"`
	ConversationID string          `json:"conversation_id"`
	Room           string          `json:"room"`
	SavedToDB      bool            `json:"saved_to_db"`
}

// AckPayload answers send_message to the sender only.
type AckPayload struct {
	Status         string          `json:"status"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
	SenderID       string          `json:"sender_id,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	Type           string          `json:"type,omitempty"`
	MessageType    string          `json:"message_type,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        string          `json:"message,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	SavedToDB      *bool           `json:"saved_to_db,omitempty"`
}

// ReceiptConfirmedPayload answers mark_delivered and mark_read.
// The message id is echoed under both message_id and mensaje_id.
type ReceiptConfirmedPayload struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	MensajeID string `json:"mensaje_id"`
	UserID    string `json:"user_id"`
}

// ErrorPayload is the generic advisory error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
