// Package sqlite is a single-node chat.Store backed by an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"relay/cmd/internal/chat"
	"relay/cmd/internal/storage/sqlite/migrations"

	_ "modernc.org/sqlite"
)

// Store persists conversations, messages, receipts and memberships in SQLite.
//
// The database is opened with a single connection, so every statement is
// serialized; together with the unique indexes this makes get-or-create atomic.
type Store struct {
	db *sql.DB
}

var (
	_ chat.Store        = (*Store)(nil)
	_ chat.MemberWriter = (*Store)(nil)
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens (or creates) the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetOrCreateDirect(ctx context.Context, userLow, userHigh, newID string) (chat.Conversation, error) {
	if userLow == "" || userHigh == "" || newID == "" {
		return chat.Conversation{}, errors.New("sqlite: invalid input")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (public_id, kind, user_low, user_high, created_at)
		 VALUES (?, 'direct', ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		newID, userLow, userHigh, toMillis(time.Now()),
	); err != nil {
		return chat.Conversation{}, fmt.Errorf("insert direct: %w", err)
	}
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		  WHERE kind = 'direct' AND user_low = ? AND user_high = ?`,
		userLow, userHigh,
	))
}

func (s *Store) GetOrCreateGroup(ctx context.Context, groupID, newID string) (chat.Conversation, error) {
	if groupID == "" || newID == "" {
		return chat.Conversation{}, errors.New("sqlite: invalid input")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (public_id, kind, group_id, created_at)
		 VALUES (?, 'group', ?, ?)
		 ON CONFLICT DO NOTHING`,
		newID, groupID, toMillis(time.Now()),
	); err != nil {
		return chat.Conversation{}, fmt.Errorf("insert group: %w", err)
	}
	return scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		  WHERE kind = 'group' AND group_id = ?`,
		groupID,
	))
}

func (s *Store) ConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE public_id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, chat.OpError{Op: "sqlite.ConversationByID", Kind: chat.ErrNotFound, Msg: id}
	}
	return c, err
}

func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	const op = "sqlite.InsertMessage"

	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return chat.Message{}, errors.New("sqlite: invalid input")
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return chat.Message{}, chat.OpError{Op: op, Kind: chat.ErrValidation, Msg: "metadata is not JSON encodable"}
	}
	createdAt := time.Now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_pk, sender_id, content_kind, content, url, metadata, created_at)
		 SELECT ?, pk, ?, ?, ?, ?, ?, ? FROM conversations WHERE public_id = ?`,
		m.ID, m.SenderID, string(m.ContentKind), m.Content, m.URL, string(meta), toMillis(createdAt), m.ConversationID,
	)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.Message{}, chat.OpError{Op: op, Kind: chat.ErrNotFound, Msg: "conversation " + m.ConversationID}
	}
	m.CreatedAt = createdAt
	return m, nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_receipts (message_id, recipient_id, delivered_at)
		 SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM messages WHERE id = ?)
		 ON CONFLICT (message_id, recipient_id)
		 DO UPDATE SET delivered_at = excluded.delivered_at`,
		messageID, recipientID, toMillis(at), messageID,
	)
	if err != nil {
		return false, fmt.Errorf("upsert delivered: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	ms := toMillis(at)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_receipts (message_id, recipient_id, delivered_at, read_at)
		 SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM messages WHERE id = ?)
		 ON CONFLICT (message_id, recipient_id)
		 DO UPDATE SET read_at = excluded.read_at,
		               delivered_at = COALESCE(delivery_receipts.delivered_at, excluded.read_at)`,
		messageID, recipientID, ms, ms, messageID,
	)
	if err != nil {
		return false, fmt.Errorf("upsert read: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) Receipt(ctx context.Context, messageID, recipientID string) (chat.Receipt, error) {
	var delivered, read sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT delivered_at, read_at FROM delivery_receipts WHERE message_id = ? AND recipient_id = ?`,
		messageID, recipientID,
	).Scan(&delivered, &read)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Receipt{}, chat.OpError{Op: "sqlite.Receipt", Kind: chat.ErrNotFound, Msg: messageID + "/" + recipientID}
	}
	if err != nil {
		return chat.Receipt{}, err
	}

	r := chat.Receipt{MessageID: messageID, RecipientID: recipientID}
	if delivered.Valid {
		t := fromMillis(delivered.Int64)
		r.DeliveredAt = &t
	}
	if read.Valid {
		t := fromMillis(read.Int64)
		r.ReadAt = &t
	}
	return r, nil
}

func (s *Store) IsActiveMember(ctx context.Context, userID, groupID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ? AND status = 'active'`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? AND status = 'active' ORDER BY user_id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetMember records (or updates) a group membership.
func (s *Store) SetMember(ctx context.Context, groupID, userID string, status chat.MemberStatus) error {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" || status == "" {
		return errors.New("sqlite: invalid input")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (group_id, user_id)
		 DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		groupID, userID, string(status), toMillis(time.Now()),
	)
	return err
}

const conversationColumns = `public_id, kind, COALESCE(user_low, ''), COALESCE(user_high, ''), COALESCE(group_id, ''), created_at`

func scanConversation(row *sql.Row) (chat.Conversation, error) {
	var (
		c         chat.Conversation
		kind      string
		createdAt int64
	)
	if err := row.Scan(&c.ID, &kind, &c.UserLow, &c.UserHigh, &c.GroupID, &createdAt); err != nil {
		return chat.Conversation{}, err
	}
	c.Kind = chat.Kind(kind)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}
