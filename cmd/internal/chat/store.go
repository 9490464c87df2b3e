// Package chat holds the durable side of the relay: conversations, messages,
// delivery receipts and group membership, plus the services that sit on top of
// a Store (Directory, Authority, Messages).
package chat

import (
	"context"
	"time"
)

// Conversation is a durable direct or group chat context.
// ID is the public, shareable identifier (a UUID), not the store's row key.
type Conversation struct {
	ID        string
	Kind      Kind
	UserLow   string // direct only
	UserHigh  string // direct only
	GroupID   string // group only
	CreatedAt time.Time
}

// Includes reports whether userID is one of the two participants of a direct conversation.
func (c Conversation) Includes(userID string) bool {
	return c.Kind == KindDirect && (c.UserLow == userID || c.UserHigh == userID)
}

// Peer returns the other participant of a direct conversation.
func (c Conversation) Peer(userID string) string {
	switch userID {
	case c.UserLow:
		return c.UserHigh
	case c.UserHigh:
		return c.UserLow
	}
	return ""
}

// Message is an immutable persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ContentKind    ContentKind
	Content        string
	URL            string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Receipt is the per (message, recipient) delivery state.
// ReadAt set implies DeliveredAt set.
type Receipt struct {
	MessageID   string
	RecipientID string
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// Store is the persistence collaborator used by the chat services.
//
// Requirements:
//   - GetOrCreate* are atomic: a unique constraint plus conflict handling, never read-then-write.
//     newID is used only when a row is inserted.
//   - MarkDelivered/MarkRead upsert and return false (no error) for unknown messages.
//   - Unknown conversations/receipts are reported as ErrNotFound.
type Store interface {
	GetOrCreateDirect(ctx context.Context, userLow, userHigh, newID string) (Conversation, error)
	GetOrCreateGroup(ctx context.Context, groupID, newID string) (Conversation, error)
	ConversationByID(ctx context.Context, id string) (Conversation, error)

	InsertMessage(ctx context.Context, m Message) (Message, error)
	MarkDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error)
	MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error)
	Receipt(ctx context.Context, messageID, recipientID string) (Receipt, error)

	IsActiveMember(ctx context.Context, userID, groupID string) (bool, error)
	ActiveMembers(ctx context.Context, groupID string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// MemberWriter is implemented by stores that can record group membership.
// Membership is owned by the wider platform; the relay writes it only for seeding and tests.
type MemberWriter interface {
	SetMember(ctx context.Context, groupID, userID string, status MemberStatus) error
}

// withTimeout bounds a store call. A zero timeout leaves ctx unchanged.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
