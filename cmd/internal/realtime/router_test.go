package realtime

import (
	"io"
	"log/slog"
	"testing"

	v1 "relay/shared/contracts/relay/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouter_PublishDedupesAcrossChannels(t *testing.T) {
	reg := newTestRegistry()
	a := NewClient("1", "c1", 8)
	b := NewClient("2", "c2", 8)
	reg.Register("1", a)
	reg.Register("2", b)
	reg.AddChannel("1", "direct:x")
	reg.AddChannel("2", "direct:x")

	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), reg, nil)

	// user 2 is reachable through both the room and the personal channel.
	n := r.Publish(v1.Frame{Event: v1.EventReceiveMessage}, []string{"direct:x", PersonalChannel("2")}, "")
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if len(a.Send) != 1 || len(b.Send) != 1 {
		t.Fatalf("expected one frame each, got a=%d b=%d", len(a.Send), len(b.Send))
	}
}

func TestRouter_PublishExcludesConnection(t *testing.T) {
	reg := newTestRegistry()
	a := NewClient("1", "c1", 8)
	b := NewClient("2", "c2", 8)
	reg.Register("1", a)
	reg.Register("2", b)
	reg.AddChannel("1", "group:g")
	reg.AddChannel("2", "group:g")

	r := NewRouter(nil, reg, nil)
	if n := r.Publish(v1.Frame{Event: v1.EventUserJoinedGroup}, []string{"group:g"}, "c1"); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(a.Send) != 0 {
		t.Fatalf("excluded connection received a frame")
	}
}

func TestRouter_FullQueueDrops(t *testing.T) {
	reg := newTestRegistry()
	slow := NewClient("1", "c1", 1)
	fast := NewClient("2", "c2", 8)
	reg.Register("1", slow)
	reg.Register("2", fast)
	reg.AddChannel("1", "group:g")
	reg.AddChannel("2", "group:g")

	m := NewMetrics(prometheus.NewRegistry())
	r := NewRouter(nil, reg, m)

	f := v1.Frame{Event: v1.EventReceiveMessage}
	r.Publish(f, []string{"group:g"}, "")
	n := r.Publish(f, []string{"group:g"}, "")

	if n != 1 {
		t.Fatalf("second publish delivered = %d, want 1", n)
	}
	if len(slow.Send) != 1 || len(fast.Send) != 2 {
		t.Fatalf("unexpected queue lengths: slow=%d fast=%d", len(slow.Send), len(fast.Send))
	}
	if got := testutil.ToFloat64(m.drops.WithLabelValues(v1.EventReceiveMessage)); got != 1 {
		t.Fatalf("dropped counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.fanouts.WithLabelValues(v1.EventReceiveMessage)); got != 3 {
		t.Fatalf("fanout counter = %v, want 3", got)
	}
}

func TestRouter_ClosedClientAndOfflineUser(t *testing.T) {
	reg := newTestRegistry()
	c := NewClient("1", "c1", 8)
	reg.Register("1", c)

	r := NewRouter(nil, reg, nil)
	c.Close()
	if r.ToClient(c, v1.Frame{Event: v1.EventAck}) {
		t.Fatalf("closed client must not accept frames")
	}
	if r.ToUser("404", v1.Frame{Event: v1.EventAck}) {
		t.Fatalf("offline user must not be reachable")
	}
}
