package realtime

import (
	"sync"
	"sync/atomic"

	v1 "relay/shared/contracts/relay/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is never closed by the server, so concurrent fan-out cannot panic.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Client struct {
	ConnID string
	UserID string
	Send   chan v1.Frame

	done      chan struct{}
	closeOnce sync.Once
	replaced  atomic.Bool
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		Send:   make(chan v1.Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep fan-out safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Replace marks the client as superseded by a newer connection of the same user and closes it.
func (c *Client) Replace() {
	if c == nil {
		return
	}
	c.replaced.Store(true)
	c.Close()
}

// Replaced reports whether Replace was called.
func (c *Client) Replaced() bool {
	return c != nil && c.replaced.Load()
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// deliver enqueues f without blocking. It reports false when the queue is full
// or the client is shutting down.
func (c *Client) deliver(f v1.Frame) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}
