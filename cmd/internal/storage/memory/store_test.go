package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"relay/cmd/internal/chat"
)

func TestStore_GetOrCreateDirect_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	a, err := s.GetOrCreateDirect(ctx, "1", "2", "conv-a")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := s.GetOrCreateDirect(ctx, "1", "2", "conv-b")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.ID != "conv-a" || b.ID != "conv-a" {
		t.Fatalf("expected conv-a twice, got %q and %q", a.ID, b.ID)
	}
	if n, _, _ := s.Counts(); n != 1 {
		t.Fatalf("expected 1 conversation, got %d", n)
	}
}

func TestStore_GetOrCreateGroup_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	const workers = 32
	var wg sync.WaitGroup
	got := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.GetOrCreateGroup(ctx, "77", fmt.Sprintf("conv-%d", i))
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			got[i] = c.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if got[i] != got[0] {
			t.Fatalf("worker %d got %q want %q", i, got[i], got[0])
		}
	}
	if n, _, _ := s.Counts(); n != 1 {
		t.Fatalf("expected 1 conversation, got %d", n)
	}
}

func TestStore_Receipts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	c, err := s.GetOrCreateDirect(ctx, "1", "2", "conv-1")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if _, err := s.InsertMessage(ctx, chat.Message{ID: "m1", ConversationID: c.ID, SenderID: "1", ContentKind: chat.ContentText, Content: "hi"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ok, err := s.MarkRead(ctx, "m1", "2", at)
	if err != nil || !ok {
		t.Fatalf("MarkRead ok=%v err=%v", ok, err)
	}
	r, err := s.Receipt(ctx, "m1", "2")
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if r.ReadAt == nil || r.DeliveredAt == nil || !r.DeliveredAt.Equal(at) {
		t.Fatalf("expected both timestamps at %v, got %+v", at, r)
	}

	later := at.Add(time.Minute)
	if ok, err := s.MarkDelivered(ctx, "m1", "2", later); err != nil || !ok {
		t.Fatalf("MarkDelivered ok=%v err=%v", ok, err)
	}
	if _, _, n := s.Counts(); n != 1 {
		t.Fatalf("expected 1 receipt, got %d", n)
	}

	ok, err = s.MarkDelivered(ctx, "missing", "2", at)
	if err != nil || ok {
		t.Fatalf("unknown message: ok=%v err=%v", ok, err)
	}
}

func TestStore_InsertMessage_UnknownConversation(t *testing.T) {
	t.Parallel()

	_, err := New().InsertMessage(context.Background(), chat.Message{ID: "m1", ConversationID: "nope", SenderID: "1"})
	if !chat.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStore_Membership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	_ = s.SetMember(ctx, "77", "1", chat.MemberActive)
	_ = s.SetMember(ctx, "77", "3", chat.MemberInactive)
	_ = s.SetMember(ctx, "77", "2", chat.MemberActive)

	for _, tc := range []struct {
		user string
		want bool
	}{{"1", true}, {"2", true}, {"3", false}, {"4", false}} {
		got, err := s.IsActiveMember(ctx, tc.user, "77")
		if err != nil {
			t.Fatalf("IsActiveMember(%s): %v", tc.user, err)
		}
		if got != tc.want {
			t.Fatalf("IsActiveMember(%s)=%v want %v", tc.user, got, tc.want)
		}
	}

	members, err := s.ActiveMembers(ctx, "77")
	if err != nil {
		t.Fatalf("ActiveMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "1" || members[1] != "2" {
		t.Fatalf("ActiveMembers=%v", members)
	}
}
