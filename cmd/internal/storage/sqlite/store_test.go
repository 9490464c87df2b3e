package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"relay/cmd/internal/chat"
	"relay/cmd/internal/ids"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpen_ReappliesMigrationsIdempotently(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	var n int
	if err := second.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 migration row, got %d", n)
	}
}

func TestApplyMigrations_UpSectionOnly(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	fsys := fstest.MapFS{
		"001_items.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;"),
		},
	}
	if err := applyMigrations(context.Background(), db, fsys); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := applyMigrations(context.Background(), db, fsys); err != nil {
		t.Fatalf("re-apply: %v", err)
	}

	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'items'`).Scan(&name); err != nil {
		t.Fatalf("expected items table: %v", err)
	}
}

func TestDirect_IdempotentAndOrdered(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	dir := chat.NewDirectory(store)

	ab, err := dir.Direct(ctx, "10", "9")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	ba, err := dir.Direct(ctx, "9", "10")
	if err != nil {
		t.Fatalf("direct reversed: %v", err)
	}
	if ab.ID != ba.ID {
		t.Fatalf("expected same conversation, got %q and %q", ab.ID, ba.ID)
	}
	// Numeric ordering: 9 < 10.
	if ab.UserLow != "9" || ab.UserHigh != "10" {
		t.Fatalf("unexpected pair order: low=%q high=%q", ab.UserLow, ab.UserHigh)
	}
	if n := countRows(t, store, "conversations"); n != 1 {
		t.Fatalf("expected 1 conversation row, got %d", n)
	}
}

func TestGroup_ConcurrentFirstUseCreatesOneRow(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	const workers = 24
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]struct{}{}
	)
	// Bypass the directory's in-process collapsing so the store's own atomicity is exercised.
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := store.GetOrCreateGroup(ctx, "77", ids.NewUUID())
			if err != nil {
				t.Errorf("group: %v", err)
				return
			}
			mu.Lock()
			seen[c.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 1 {
		t.Fatalf("expected one conversation id, got %d", len(seen))
	}
	if n := countRows(t, store, "conversations"); n != 1 {
		t.Fatalf("expected 1 conversation row, got %d", n)
	}
}

func TestMessages_SaveAndReceipts(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	conv, err := store.GetOrCreateDirect(ctx, "1", "2", ids.NewUUID())
	if err != nil {
		t.Fatalf("direct: %v", err)
	}

	msgs := chat.NewMessages(store, time.Second)
	m, err := msgs.Save(ctx, chat.SaveInput{
		ConversationID: conv.ID,
		SenderID:       "1",
		ContentKind:    chat.ContentText,
		Content:        "hello",
		Metadata:       map[string]any{"client_timestamp": "2024-01-01T00:00:00Z", "type": "direct"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at, got %+v", m)
	}

	var meta string
	if err := store.db.QueryRow(`SELECT metadata FROM messages WHERE id = ?`, m.ID).Scan(&meta); err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta == "{}" {
		t.Fatalf("expected metadata to be persisted")
	}

	ok, err := msgs.MarkRead(ctx, m.ID, "2")
	if err != nil || !ok {
		t.Fatalf("mark read: ok=%v err=%v", ok, err)
	}
	r, err := store.Receipt(ctx, m.ID, "2")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r.ReadAt == nil || r.DeliveredAt == nil || !r.DeliveredAt.Equal(*r.ReadAt) {
		t.Fatalf("expected delivered_at back-filled to read_at, got %+v", r)
	}

	// A later delivery upserts the same row.
	ok, err = msgs.MarkDelivered(ctx, m.ID, "2")
	if err != nil || !ok {
		t.Fatalf("mark delivered: ok=%v err=%v", ok, err)
	}
	if n := countRows(t, store, "delivery_receipts"); n != 1 {
		t.Fatalf("expected 1 receipt row, got %d", n)
	}

	ok, err = msgs.MarkDelivered(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", "2")
	if err != nil {
		t.Fatalf("mark unknown: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for unknown message")
	}
}

func TestInsertMessage_UnknownConversation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)

	_, err := store.InsertMessage(context.Background(), chat.Message{
		ID:             ids.MustULID(time.Now()),
		ConversationID: ids.NewUUID(),
		SenderID:       "1",
		ContentKind:    chat.ContentText,
		Content:        "orphan",
	})
	if !chat.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMembership(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	for _, m := range []struct {
		user   string
		status chat.MemberStatus
	}{
		{"1", chat.MemberActive},
		{"2", chat.MemberActive},
		{"3", chat.MemberInactive},
	} {
		if err := store.SetMember(ctx, "77", m.user, m.status); err != nil {
			t.Fatalf("set member %s: %v", m.user, err)
		}
	}

	auth := chat.NewAuthority(store, time.Second)
	if err := auth.Require(ctx, "3", "77"); !chat.IsNotMember(err) {
		t.Fatalf("expected not member for inactive user, got %v", err)
	}
	if err := auth.Require(ctx, "1", "77"); err != nil {
		t.Fatalf("expected member: %v", err)
	}

	members, err := store.ActiveMembers(ctx, "77")
	if err != nil {
		t.Fatalf("active members: %v", err)
	}
	if len(members) != 2 || members[0] != "1" || members[1] != "2" {
		t.Fatalf("unexpected members: %v", members)
	}

	// Demote and re-check.
	if err := store.SetMember(ctx, "77", "2", chat.MemberBanned); err != nil {
		t.Fatalf("ban: %v", err)
	}
	ok, err := store.IsActiveMember(ctx, "2", "77")
	if err != nil || ok {
		t.Fatalf("expected banned user inactive, ok=%v err=%v", ok, err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()

	var n int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
