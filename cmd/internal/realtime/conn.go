package realtime

import (
	"sync"
	"time"

	"easel/cmd/internal/ids"
)

// Conn represents one connected websocket session, identified by its own id
// rather than by user: a user may hold several connections at once and each
// is registered, refreshed, and torn down independently.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Conn struct {
	ID     string
	UserID string
	Send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a Conn with a fresh ULID and a bounded send queue.
func NewConn(userID string, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Conn{
		ID:     ids.MustULID(time.Now().UTC()),
		UserID: userID,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the connection goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// TrySend enqueues msg without blocking. It reports false when the
// connection is shutting down or its queue is full.
func (c *Conn) TrySend(msg []byte) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}
