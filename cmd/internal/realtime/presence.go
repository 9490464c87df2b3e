package realtime

import "context"

// Presence mirrors registry connect/disconnect transitions to an external system.
// It is informational only and never used for fan-out.
type Presence interface {
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
}

type nopPresence struct{}

func (nopPresence) Online(context.Context, string, string) error  { return nil }
func (nopPresence) Offline(context.Context, string, string) error { return nil }
