package chat

import (
	"context"
	"strings"
	"time"

	"relay/cmd/internal/ids"

	"golang.org/x/sync/singleflight"
)

// DefaultStoreTimeout bounds every store call made by the chat services.
const DefaultStoreTimeout = 5 * time.Second

// Directory resolves user pairs and group ids to stable conversations,
// creating them on first use.
//
// Concurrent calls for the same key inside one process share a single store
// round trip. Across processes the store's unique constraints keep creation atomic.
type Directory struct {
	store   Store
	timeout time.Duration
	newID   func() string

	flight singleflight.Group
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithDirectoryTimeout overrides DefaultStoreTimeout. Zero disables the bound.
func WithDirectoryTimeout(d time.Duration) DirectoryOption {
	return func(dir *Directory) { dir.timeout = d }
}

// WithIDGenerator overrides the conversation id generator (UUID v4 by default).
func WithIDGenerator(fn func() string) DirectoryOption {
	return func(dir *Directory) {
		if fn != nil {
			dir.newID = fn
		}
	}
}

// NewDirectory constructs a Directory over store.
func NewDirectory(store Store, opts ...DirectoryOption) *Directory {
	d := &Directory{
		store:   store,
		timeout: DefaultStoreTimeout,
		newID:   ids.NewUUID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Direct returns the direct conversation between a and b, creating it if absent.
// Direct(a, b) and Direct(b, a) return the same conversation.
func (d *Directory) Direct(ctx context.Context, a, b string) (Conversation, error) {
	const op = "chat.Directory.Direct"

	low, high, err := NormalizePair(a, b)
	if err != nil {
		return Conversation{}, err
	}
	return d.resolve(ctx, op, "direct\x00"+low+"\x00"+high, func(ctx context.Context) (Conversation, error) {
		return d.store.GetOrCreateDirect(ctx, low, high, d.newID())
	})
}

// Group returns the conversation of groupID, creating it if absent.
// Callers must check membership with Authority before routing or persisting for it.
func (d *Directory) Group(ctx context.Context, groupID string) (Conversation, error) {
	const op = "chat.Directory.Group"

	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Conversation{}, invalid(op, "group id is required")
	}
	if len([]rune(groupID)) > MaxUserIDChars {
		return Conversation{}, invalid(op, "group id too long: max=%d chars", MaxUserIDChars)
	}
	return d.resolve(ctx, op, "group\x00"+groupID, func(ctx context.Context) (Conversation, error) {
		return d.store.GetOrCreateGroup(ctx, groupID, d.newID())
	})
}

// Lookup returns an existing conversation by its public id.
func (d *Directory) Lookup(ctx context.Context, conversationID string) (Conversation, error) {
	const op = "chat.Directory.Lookup"

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, invalid(op, "conversation id is required")
	}

	cctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	c, err := d.store.ConversationByID(cctx, conversationID)
	if err != nil {
		return Conversation{}, unavailable(op, err)
	}
	return c, nil
}

func (d *Directory) resolve(ctx context.Context, op, key string, fn func(context.Context) (Conversation, error)) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, unavailable(op, err)
	}

	// The shared call must not die with whichever caller happened to start it.
	ch := d.flight.DoChan(key, func() (any, error) {
		cctx, cancel := withTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		return fn(cctx)
	})

	select {
	case <-ctx.Done():
		return Conversation{}, unavailable(op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Conversation{}, unavailable(op, res.Err)
		}
		return res.Val.(Conversation), nil
	}
}
