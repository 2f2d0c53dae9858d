package orchestrator

import (
	"context"
	"sync"

	"github.com/clive/pair/internal/model"
)

// Channel is an unbounded FIFO of messages with many producers and one
// consumer. Send never blocks on the consumer and never drops.
type Channel struct {
	mu     sync.Mutex
	queue  []model.Message
	seq    uint64
	closed bool
	notify chan struct{} // capacity 1; signalled when queue becomes non-empty
}

// NewChannel creates an empty channel
func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Send enqueues msg. Sends after Close are discarded.
func (c *Channel) Send(msg model.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seq++
	msg.Seq = c.seq
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued message in send order
func (c *Channel) Drain() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Len returns the number of queued messages
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Wait blocks until at least one message is queued and drains. It returns
// ok=false once the channel is closed and empty, or ctx is done.
func (c *Channel) Wait(ctx context.Context) (msgs []model.Message, ok bool) {
	for {
		if msgs := c.Drain(); len(msgs) > 0 {
			return msgs, true
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-c.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close wakes the consumer. Messages already queued remain drainable.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
