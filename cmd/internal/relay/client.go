package relay

import "sync"

// Client represents one connected websocket participant.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from
//   concurrent relayers.
// - done signals the connection goroutines to stop.
// - Close is idempotent.
type Client struct {
	ConnID string
	Send   chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize < minSendQueueSize {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan Frame, sendQueueSize),
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
// It does NOT close Send to keep relaying safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
