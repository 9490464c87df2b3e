package realtime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"relay/cmd/internal/chat"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistry_RegisterJoinsPersonalChannel(t *testing.T) {
	reg := newTestRegistry()
	c := NewClient("1", "c1", 4)

	if old := reg.Register("1", c); old != nil {
		t.Fatalf("expected no replaced client, got %v", old.ConnID)
	}
	if !reg.HasChannel("1", PersonalChannel("1")) {
		t.Fatalf("expected personal channel")
	}
	if got, ok := reg.Client("1"); !ok || got != c {
		t.Fatalf("Client(1) = %v, %v", got, ok)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}

	// A user id shaped like a conversation channel keeps its own namespace.
	room := ChannelFor(chat.KindGroup, "abc")
	reg.Register(room, NewClient(room, "c2", 4))
	if len(reg.Members(room)) != 0 {
		t.Fatalf("user %q was placed in the group channel", room)
	}
}

func TestRegistry_LastWriterWins(t *testing.T) {
	reg := newTestRegistry()
	old := NewClient("1", "c1", 4)
	cur := NewClient("1", "c2", 4)

	reg.Register("1", old)
	reg.AddChannel("1", "direct:abc")

	replaced := reg.Register("1", cur)
	if replaced != old {
		t.Fatalf("expected old client to be returned")
	}
	if !old.Replaced() || !old.Closed() {
		t.Fatalf("replaced client must be marked and closed")
	}
	if cur.Closed() {
		t.Fatalf("new client must stay open")
	}

	// Channel memberships do not carry over to the new connection.
	if reg.HasChannel("1", "direct:abc") {
		t.Fatalf("expected channels of the replaced connection to be dropped")
	}
	if got := reg.ChannelsOf("1"); len(got) != 1 || got[0] != PersonalChannel("1") {
		t.Fatalf("unexpected channels: %v", got)
	}

	// A late unregister of the stale connection is a no-op.
	if userID, ok := reg.Unregister("c1"); ok || userID != "" {
		t.Fatalf("Unregister(stale) = %q, %v", userID, ok)
	}
	if !reg.Current(cur) {
		t.Fatalf("new client must stay registered")
	}

	if userID, ok := reg.Unregister("c2"); !ok || userID != "1" {
		t.Fatalf("Unregister(c2) = %q, %v", userID, ok)
	}
	if reg.Len() != 0 || len(reg.Members(PersonalChannel("1"))) != 0 {
		t.Fatalf("expected registry to be empty")
	}
}

func TestRegistry_RegisterSameClientTwice(t *testing.T) {
	reg := newTestRegistry()
	c := NewClient("1", "c1", 4)

	reg.Register("1", c)
	if old := reg.Register("1", c); old != nil {
		t.Fatalf("re-registering the same client must not replace it")
	}
	if c.Closed() {
		t.Fatalf("client must stay open")
	}
}

func TestRegistry_Channels(t *testing.T) {
	reg := newTestRegistry()
	reg.Register("1", NewClient("1", "c1", 4))
	reg.Register("2", NewClient("2", "c2", 4))

	reg.AddChannel("1", "group:g")
	reg.AddChannel("1", "group:g")
	reg.AddChannel("2", "group:g")
	reg.AddChannel("9", "group:g") // offline: ignored

	if n := len(reg.Members("group:g")); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}

	reg.RemoveChannel("1", "group:g")
	reg.RemoveChannel("1", "group:g")
	if reg.HasChannel("1", "group:g") {
		t.Fatalf("expected channel to be left")
	}
	members := reg.Members("group:g")
	if len(members) != 1 || members[0].UserID != "2" {
		t.Fatalf("unexpected members after leave: %v", members)
	}

	if got := reg.ChannelsOf("9"); len(got) != 0 {
		t.Fatalf("offline user must have no channels, got %v", got)
	}
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	reg := newTestRegistry()
	if _, ok := reg.Unregister("nope"); ok {
		t.Fatalf("expected ok=false for an unknown connection")
	}
	if _, ok := reg.Unregister(""); ok {
		t.Fatalf("expected ok=false for an empty connection id")
	}
}

func TestRegistry_ConcurrentRegisterKeepsOneConnection(t *testing.T) {
	reg := newTestRegistry()

	const n = 32
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = NewClient("1", fmt.Sprintf("c%d", i), 4)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			reg.Register("1", c)
			reg.AddChannel("1", "direct:x")
		}(c)
	}
	wg.Wait()

	live := 0
	for _, c := range clients {
		if reg.Current(c) {
			live++
			if c.Closed() {
				t.Fatalf("the registered client must not be closed")
			}
			continue
		}
		if !c.Replaced() {
			t.Fatalf("every other client must be replaced")
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live connection, got %d", live)
	}
}
