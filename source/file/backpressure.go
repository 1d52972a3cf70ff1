package file

import (
	"context"
	"errors"
	"sync"
)

// ErrControllerClosed reports an Acquire against a controller whose source
// has shut down.
var ErrControllerClosed = errors.New("file-source: backpressure controller closed")

// Controller caps the number of frames that are in flight between emission
// and acknowledgement. Acquire blocks the reader once the cap is reached;
// the ack path releases.
type Controller struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
}

func NewController(cap int64) *Controller {
	c := &Controller{capacity: cap, tokens: cap}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Controller) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.cond.Broadcast() })
	defer stop()

	c.mu.Lock()
	for c.tokens == 0 && ctx.Err() == nil && !c.closed {
		c.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	c.tokens--
	c.mu.Unlock()
	return nil
}

func (c *Controller) Release(n int64) {
	c.mu.Lock()
	c.tokens += n
	if c.tokens > c.capacity {
		c.tokens = c.capacity
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}
