package realtime

import (
	"log/slog"

	v1 "relay/shared/contracts/relay/v1"
)

// Router resolves targets to live connections and delivers frames to them.
//
// Delivery is synchronous, best-effort and live-only: members are enumerated at
// the moment of sending, a full send queue drops the frame for that client, and
// offline users receive nothing.
type Router struct {
	log     *slog.Logger
	reg     *Registry
	metrics *Metrics
}

// NewRouter constructs a Router over reg. metrics may be nil.
func NewRouter(log *slog.Logger, reg *Registry, metrics *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log, reg: reg, metrics: metrics}
}

// Publish delivers f to every connection subscribed to any of channels, once per
// connection. excludeConnID, when set, is skipped. It returns the number of
// connections the frame was enqueued for.
func (r *Router) Publish(f v1.Frame, channels []string, excludeConnID string) int {
	seen := make(map[string]struct{})
	delivered := 0

	for _, ch := range channels {
		if ch == "" {
			continue
		}
		for _, c := range r.reg.Members(ch) {
			if c == nil || c.ConnID == excludeConnID {
				continue
			}
			if _, dup := seen[c.ConnID]; dup {
				continue
			}
			seen[c.ConnID] = struct{}{}

			if c.deliver(f) {
				delivered++
				continue
			}
			r.metrics.dropped(f.Event)
			r.log.Debug("router.drop", "event", f.Event, "conn_id", c.ConnID, "channel", ch)
		}
	}

	r.metrics.fanout(f.Event, delivered)
	return delivered
}

// ToClient delivers f to a single connection.
func (r *Router) ToClient(c *Client, f v1.Frame) bool {
	if c.deliver(f) {
		return true
	}
	r.metrics.dropped(f.Event)
	r.log.Debug("router.drop", "event", f.Event, "conn_id", c.ConnID)
	return false
}

// ToUser delivers f to the live connection of userID, if any.
func (r *Router) ToUser(userID string, f v1.Frame) bool {
	c, ok := r.reg.Client(userID)
	if !ok {
		return false
	}
	return r.ToClient(c, f)
}
