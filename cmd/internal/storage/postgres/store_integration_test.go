package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"relay/cmd/internal/chat"
	"relay/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when RELAY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestStore_GetOrCreateDirect_Idempotent(t *testing.T) {
	t.Parallel()

	store, pool, schema := mustNewMigratedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	first, err := store.GetOrCreateDirect(ctx, "1", "2", ids.NewUUID())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := store.GetOrCreateDirect(ctx, "1", "2", ids.NewUUID())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same id, got %q and %q", first.ID, second.ID)
	}
	if first.Kind != chat.KindDirect || first.UserLow != "1" || first.UserHigh != "2" {
		t.Fatalf("unexpected conversation: %+v", first)
	}
	if n := mustCount(t, pool, schema, "conversations"); n != 1 {
		t.Fatalf("expected 1 conversation row, got %d", n)
	}
}

func TestStore_GetOrCreateGroup_ConcurrentSingleRow(t *testing.T) {
	t.Parallel()

	store, pool, schema := mustNewMigratedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]struct{}{}
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := store.GetOrCreateGroup(ctx, "77", ids.NewUUID())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[c.ID] = struct{}{}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one conversation id, got %d", len(seen))
	}
	if n := mustCount(t, pool, schema, "conversations"); n != 1 {
		t.Fatalf("expected 1 conversation row, got %d", n)
	}
}

func TestStore_Messages_And_Receipts(t *testing.T) {
	t.Parallel()

	store, _, _ := mustNewMigratedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conv, err := store.GetOrCreateDirect(ctx, "1", "2", ids.NewUUID())
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	msgID := ids.MustULID(time.Now())
	saved, err := store.InsertMessage(ctx, chat.Message{
		ID:             msgID,
		ConversationID: conv.ID,
		SenderID:       "1",
		ContentKind:    chat.ContentText,
		Content:        "hello",
		Metadata:       map[string]any{"type": "direct"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatalf("expected created_at from the database")
	}

	readAt := time.Now().UTC().Truncate(time.Millisecond)
	ok, err := store.MarkRead(ctx, msgID, "2", readAt)
	if err != nil || !ok {
		t.Fatalf("mark read: ok=%v err=%v", ok, err)
	}
	r, err := store.Receipt(ctx, msgID, "2")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r.ReadAt == nil || r.DeliveredAt == nil {
		t.Fatalf("expected read and delivered set, got %+v", r)
	}
	if !r.DeliveredAt.Equal(*r.ReadAt) {
		t.Fatalf("expected delivered_at back-filled to read_at, got %v vs %v", r.DeliveredAt, r.ReadAt)
	}

	ok, err = store.MarkDelivered(ctx, "does-not-exist", "2", readAt)
	if err != nil {
		t.Fatalf("mark delivered unknown: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for unknown message")
	}

	_, err = store.InsertMessage(ctx, chat.Message{
		ID:             ids.MustULID(time.Now()),
		ConversationID: ids.NewUUID(),
		SenderID:       "1",
		ContentKind:    chat.ContentText,
		Content:        "orphan",
	})
	if !chat.IsNotFound(err) {
		t.Fatalf("expected not found for unknown conversation, got %v", err)
	}
}

func TestStore_Membership(t *testing.T) {
	t.Parallel()

	store, _, _ := mustNewMigratedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := store.SetMember(ctx, "77", "1", chat.MemberActive); err != nil {
		t.Fatalf("set member: %v", err)
	}
	if err := store.SetMember(ctx, "77", "3", chat.MemberBanned); err != nil {
		t.Fatalf("set member: %v", err)
	}

	tests := []struct {
		user string
		want bool
	}{
		{"1", true},
		{"3", false},
		{"9", false},
	}
	for _, tt := range tests {
		got, err := store.IsActiveMember(ctx, tt.user, "77")
		if err != nil {
			t.Fatalf("is member %s: %v", tt.user, err)
		}
		if got != tt.want {
			t.Fatalf("IsActiveMember(%q) = %v, want %v", tt.user, got, tt.want)
		}
	}

	members, err := store.ActiveMembers(ctx, "77")
	if err != nil {
		t.Fatalf("active members: %v", err)
	}
	if len(members) != 1 || members[0] != "1" {
		t.Fatalf("unexpected active members: %v", members)
	}
}

func TestStore_ConversationByID_NonUUID(t *testing.T) {
	t.Parallel()

	store, _, _ := mustNewMigratedStore(t)

	_, err := store.ConversationByID(context.Background(), "not-a-uuid")
	if !chat.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWithSchema_RejectsInvalidIdentifier(t *testing.T) {
	for _, s := range []string{"", "1abc", "bad-name", `x"; DROP`} {
		if _, err := New(&pgxpool.Pool{}, WithSchema(s)); err == nil {
			t.Fatalf("expected error for schema %q", s)
		}
	}
}

func mustNewMigratedStore(t *testing.T) (*Store, *pgxpool.Pool, string) {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "relay_it_" + strings.ToLower(ids.MustULID(time.Now())[16:])
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := New(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st, pool, schema
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RELAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RELAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse RELAY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustCount(t *testing.T, pool *pgxpool.Pool, schema, table string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgIdent(schema, table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
