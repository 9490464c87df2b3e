// Package postgres is the production chat.Store, backed by PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"relay/cmd/internal/chat"
	"relay/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is used when WithSchema is not given.
const DefaultSchema = "relay"

//go:embed schema.sql
var schemaSQL string

// Store is a chat.Store backed by PostgreSQL.
//
// Ownership model:
// - Store does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Uniqueness model:
//   - One conversation per (user_low, user_high) and per group_id, enforced by partial
//     unique indexes. Get-or-create is INSERT ... ON CONFLICT DO NOTHING followed by a
//     SELECT, so concurrent creators across processes converge on one row.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

var (
	_ chat.Store        = (*Store)(nil)
	_ chat.MemberWriter = (*Store)(nil)
)

// Option configures Store behavior.
type Option func(*Store) error

// WithSchema sets the DB schema used by this store (default: "relay").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) Option {
	return func(s *Store) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("postgres: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("postgres: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// New constructs a Postgres-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	st := &Store{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("postgres: nil pool")
	}
	return st, nil
}

// Schema returns the schema the store reads and writes.
func (s *Store) Schema() string { return s.schema }

// Migrate creates the schema and tables if they do not exist. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{s.schema}.Sanitize())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent migrators (several replicas starting at once).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "relay.migrate."+s.schema); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return tx.Commit(ctx)
}

// Close is a no-op because the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// Ping checks that a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetOrCreateDirect(ctx context.Context, userLow, userHigh, newID string) (chat.Conversation, error) {
	if userLow == "" || userHigh == "" || newID == "" {
		return chat.Conversation{}, errors.New("postgres: invalid input")
	}
	conversations := s.table("conversations")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (public_id, kind, user_low, user_high)
		 VALUES ($1::uuid, 'direct', $2, $3)
		 ON CONFLICT DO NOTHING`,
		newID, userLow, userHigh,
	); err != nil {
		return chat.Conversation{}, fmt.Errorf("insert direct: %w", err)
	}

	return scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+`
		  WHERE kind = 'direct' AND user_low = $1 AND user_high = $2`,
		userLow, userHigh,
	))
}

func (s *Store) GetOrCreateGroup(ctx context.Context, groupID, newID string) (chat.Conversation, error) {
	if groupID == "" || newID == "" {
		return chat.Conversation{}, errors.New("postgres: invalid input")
	}
	conversations := s.table("conversations")

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (public_id, kind, group_id)
		 VALUES ($1::uuid, 'group', $2)
		 ON CONFLICT DO NOTHING`,
		newID, groupID,
	); err != nil {
		return chat.Conversation{}, fmt.Errorf("insert group: %w", err)
	}

	return scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+conversations+`
		  WHERE kind = 'group' AND group_id = $1`,
		groupID,
	))
}

func (s *Store) ConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	const op = "postgres.ConversationByID"

	// Anything that is not a UUID cannot exist; skip the round trip and the cast error.
	if !ids.IsUUID(id) {
		return chat.Conversation{}, chat.OpError{Op: op, Kind: chat.ErrNotFound, Msg: id}
	}

	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+s.table("conversations")+` WHERE public_id = $1::uuid`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Conversation{}, chat.OpError{Op: op, Kind: chat.ErrNotFound, Msg: id}
	}
	return c, err
}

func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	const op = "postgres.InsertMessage"

	if m.ID == "" || m.ConversationID == "" || m.SenderID == "" {
		return chat.Message{}, errors.New("postgres: invalid input")
	}
	if !ids.IsUUID(m.ConversationID) {
		return chat.Message{}, chat.OpError{Op: op, Kind: chat.ErrNotFound, Msg: "conversation " + m.ConversationID}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}

	// created_at is assigned by the database.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("messages")+` (id, conversation_pk, sender_id, content_kind, content, url, metadata)
		 SELECT $1::text, c.pk, $3::text, $4::text, $5::text, $6::text, $7::jsonb
		   FROM `+s.table("conversations")+` c
		  WHERE c.public_id = $2::uuid
		 RETURNING created_at`,
		m.ID, m.ConversationID, m.SenderID, string(m.ContentKind), m.Content, m.URL, m.Metadata,
	).Scan(&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Message{}, chat.OpError{Op: op, Kind: chat.ErrNotFound, Msg: "conversation " + m.ConversationID}
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	receipts := s.table("delivery_receipts")

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+receipts+` AS r (message_id, recipient_id, delivered_at)
		 SELECT $1::text, $2::text, $3::timestamptz
		  WHERE EXISTS (SELECT 1 FROM `+s.table("messages")+` WHERE id = $1::text)
		 ON CONFLICT (message_id, recipient_id)
		 DO UPDATE SET delivered_at = EXCLUDED.delivered_at`,
		messageID, recipientID, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert delivered: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkRead(ctx context.Context, messageID, recipientID string, at time.Time) (bool, error) {
	receipts := s.table("delivery_receipts")

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+receipts+` AS r (message_id, recipient_id, delivered_at, read_at)
		 SELECT $1::text, $2::text, $3::timestamptz, $3::timestamptz
		  WHERE EXISTS (SELECT 1 FROM `+s.table("messages")+` WHERE id = $1::text)
		 ON CONFLICT (message_id, recipient_id)
		 DO UPDATE SET read_at = EXCLUDED.read_at,
		               delivered_at = COALESCE(r.delivered_at, EXCLUDED.read_at)`,
		messageID, recipientID, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Receipt(ctx context.Context, messageID, recipientID string) (chat.Receipt, error) {
	r := chat.Receipt{MessageID: messageID, RecipientID: recipientID}
	err := s.pool.QueryRow(ctx,
		`SELECT delivered_at, read_at FROM `+s.table("delivery_receipts")+`
		  WHERE message_id = $1 AND recipient_id = $2`,
		messageID, recipientID,
	).Scan(&r.DeliveredAt, &r.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Receipt{}, chat.OpError{Op: "postgres.Receipt", Kind: chat.ErrNotFound, Msg: messageID + "/" + recipientID}
	}
	if err != nil {
		return chat.Receipt{}, err
	}
	return r, nil
}

func (s *Store) IsActiveMember(ctx context.Context, userID, groupID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+s.table("group_members")+`
		  WHERE group_id = $1 AND user_id = $2 AND status = 'active'`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+s.table("group_members")+`
		  WHERE group_id = $1 AND status = 'active'
		  ORDER BY user_id`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SetMember records (or updates) a group membership.
func (s *Store) SetMember(ctx context.Context, groupID, userID string, status chat.MemberStatus) error {
	groupID = strings.TrimSpace(groupID)
	userID = strings.TrimSpace(userID)
	if groupID == "" || userID == "" || status == "" {
		return errors.New("postgres: invalid input")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("group_members")+` (group_id, user_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (group_id, user_id)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		groupID, userID, string(status),
	)
	return err
}

const conversationColumns = `public_id::text, kind, COALESCE(user_low, ''), COALESCE(user_high, ''), COALESCE(group_id, ''), created_at`

func scanConversation(row pgx.Row) (chat.Conversation, error) {
	var (
		c    chat.Conversation
		kind string
	)
	if err := row.Scan(&c.ID, &kind, &c.UserLow, &c.UserHigh, &c.GroupID, &c.CreatedAt); err != nil {
		return chat.Conversation{}, err
	}
	c.Kind = chat.Kind(kind)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) table(name string) string {
	return pgIdent(s.schema, name)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
