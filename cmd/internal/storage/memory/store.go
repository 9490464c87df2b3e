// Package memory is the zero-config chat.Store used for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"relay/cmd/internal/chat"
)

const (
	maxMessages = 100_000
)

// Store keeps every table in process memory behind one mutex.
// Uniqueness per direct pair and per group id is enforced by map keys, so
// get-or-create is atomic by construction.
type Store struct {
	mu sync.Mutex

	byID     map[string]chat.Conversation
	directs  map[[2]string]string // (low, high) -> conversation id
	groups   map[string]string    // group id -> conversation id
	messages map[string]chat.Message
	order    []string // message ids, oldest first
	receipts map[receiptKey]chat.Receipt
	members  map[string]map[string]chat.MemberStatus // group id -> user id -> status
}

type receiptKey struct {
	messageID   string
	recipientID string
}

var (
	_ chat.Store        = (*Store)(nil)
	_ chat.MemberWriter = (*Store)(nil)
)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:     make(map[string]chat.Conversation),
		directs:  make(map[[2]string]string),
		groups:   make(map[string]string),
		messages: make(map[string]chat.Message),
		receipts: make(map[receiptKey]chat.Receipt),
		members:  make(map[string]map[string]chat.MemberStatus),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) GetOrCreateDirect(ctx context.Context, userLow, userHigh, newID string) (chat.Conversation, error) {
	if userLow == "" || userHigh == "" || newID == "" {
		return chat.Conversation{}, errors.New("memory: invalid input")
	}
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{userLow, userHigh}
	if id, ok := s.directs[key]; ok {
		return s.byID[id], nil
	}
	c := chat.Conversation{
		ID:        newID,
		Kind:      chat.KindDirect,
		UserLow:   userLow,
		UserHigh:  userHigh,
		CreatedAt: time.Now().UTC(),
	}
	s.byID[newID] = c
	s.directs[key] = newID
	return c, nil
}

func (s *Store) GetOrCreateGroup(ctx context.Context, groupID, newID string) (chat.Conversation, error) {
	if groupID == "" || newID == "" {
		return chat.Conversation{}, errors.New("memory: invalid input")
	}
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.groups[groupID]; ok {
		return s.byID[id], nil
	}
	c := chat.Conversation{
		ID:        newID,
		Kind:      chat.KindGroup,
		GroupID:   groupID,
		CreatedAt: time.Now().UTC(),
	}
	s.byID[newID] = c
	s.groups[groupID] = newID
	return c, nil
}

func (s *Store) ConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return chat.Conversation{}, chat.OpError{Op: "memory.ConversationByID", Kind: chat.ErrNotFound, Msg: id}
	}
	return c, nil
}

func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return chat.Message{}, errors.New("memory: invalid input")
	}
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Metadata = cloneMetadata(m.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[m.ConversationID]; !ok {
		return chat.Message{}, chat.OpError{Op: "memory.InsertMessage", Kind: chat.ErrNotFound, Msg: "conversation " + m.ConversationID}
	}
	if _, dup := s.messages[m.ID]; dup {
		return chat.Message{}, errors.New("memory: duplicate message id")
	}
	s.messages[m.ID] = m
	s.order = append(s.order, m.ID)

	// Bound memory in long-running dev processes.
	if len(s.order) > maxMessages {
		drop := s.order[:len(s.order)-maxMessages]
		for _, id := range drop {
			delete(s.messages, id)
		}
		s.order = append([]string(nil), s.order[len(drop):]...)
	}
	return m, nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	return s.upsertReceipt(ctx, messageID, recipientID, func(r *chat.Receipt) {
		t := at
		r.DeliveredAt = &t
	})
}

func (s *Store) MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	return s.upsertReceipt(ctx, messageID, recipientID, func(r *chat.Receipt) {
		t := at
		r.ReadAt = &t
		if r.DeliveredAt == nil {
			r.DeliveredAt = &t
		}
	})
}

func (s *Store) upsertReceipt(ctx context.Context, messageID, recipientID string, apply func(*chat.Receipt)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return false, nil
	}
	k := receiptKey{messageID: messageID, recipientID: recipientID}
	r, ok := s.receipts[k]
	if !ok {
		r = chat.Receipt{MessageID: messageID, RecipientID: recipientID}
	}
	apply(&r)
	s.receipts[k] = r
	return true, nil
}

func (s *Store) Receipt(ctx context.Context, messageID, recipientID string) (chat.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return chat.Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.receipts[receiptKey{messageID: messageID, recipientID: recipientID}]
	if !ok {
		return chat.Receipt{}, chat.OpError{Op: "memory.Receipt", Kind: chat.ErrNotFound, Msg: messageID + "/" + recipientID}
	}
	return r, nil
}

func (s *Store) IsActiveMember(ctx context.Context, userID, groupID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.members[groupID][userID] == chat.MemberActive, nil
}

func (s *Store) ActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]string, 0, len(s.members[groupID]))
	for u, st := range s.members[groupID] {
		if st == chat.MemberActive {
			out = append(out, u)
		}
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out, nil
}

// SetMember records (or updates) a group membership.
func (s *Store) SetMember(ctx context.Context, groupID, userID string, status chat.MemberStatus) error {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" || status == "" {
		return errors.New("memory: invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.members[groupID]
	if m == nil {
		m = make(map[string]chat.MemberStatus)
		s.members[groupID] = m
	}
	m[userID] = status
	return nil
}

// Counts reports table sizes; used by tests to assert "no row was created".
func (s *Store) Counts() (conversations, messages, receipts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID), len(s.messages), len(s.receipts)
}

func cloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
