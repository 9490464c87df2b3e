package chat

import (
	"context"
	"strings"
	"time"

	"relay/cmd/internal/ids"
)

// SaveInput describes a message to persist.
// ContentKind must already be validated; Save rejects anything outside the enumeration.
type SaveInput struct {
	ConversationID string
	SenderID       string
	ContentKind    ContentKind
	Content        string
	URL            string
	Metadata       map[string]any
}

// Messages persists messages and their delivery receipts.
type Messages struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewMessages constructs a Messages service. A zero timeout disables the per-call bound.
func NewMessages(store Store, timeout time.Duration) *Messages {
	return &Messages{
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Save persists a message and returns it with its assigned id and server timestamp.
func (m *Messages) Save(ctx context.Context, in SaveInput) (Message, error) {
	const op = "chat.Messages.Save"

	if strings.TrimSpace(in.ConversationID) == "" {
		return Message{}, invalid(op, "conversation id is required")
	}
	if strings.TrimSpace(in.SenderID) == "" {
		return Message{}, invalid(op, "sender id is required")
	}
	if !in.ContentKind.Valid() {
		return Message{}, invalid(op, "invalid content kind %q", in.ContentKind)
	}

	now := m.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, unavailable(op, err)
	}

	cctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	out, err := m.store.InsertMessage(cctx, Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ContentKind:    in.ContentKind,
		Content:        in.Content,
		URL:            in.URL,
		Metadata:       in.Metadata,
		CreatedAt:      now,
	})
	if err != nil {
		return Message{}, unavailable(op, err)
	}
	return out, nil
}

// MarkDelivered sets delivered-at for (messageID, recipientID).
// It returns false, without error, when the message does not exist.
func (m *Messages) MarkDelivered(ctx context.Context, messageID, recipientID string) (bool, error) {
	return m.mark(ctx, "chat.Messages.MarkDelivered", messageID, recipientID, m.store.MarkDelivered)
}

// MarkRead sets read-at, and delivered-at when it was never set, for (messageID, recipientID).
// It returns false, without error, when the message does not exist.
func (m *Messages) MarkRead(ctx context.Context, messageID, recipientID string) (bool, error) {
	return m.mark(ctx, "chat.Messages.MarkRead", messageID, recipientID, m.store.MarkRead)
}

type markFunc func(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error)

func (m *Messages) mark(ctx context.Context, op, messageID, recipientID string, fn markFunc) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	recipientID = strings.TrimSpace(recipientID)
	if messageID == "" || recipientID == "" {
		return false, invalid(op, "message id and recipient id are required")
	}

	cctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	ok, err := fn(cctx, messageID, recipientID, m.now())
	if err != nil {
		return false, unavailable(op, err)
	}
	return ok, nil
}
