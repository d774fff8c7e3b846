// Package refresh serializes access-token renewal: however many concurrent
// requests fail with 401, exactly one call is made to the refresh endpoint
// and every caller waits on its outcome.
package refresh

import (
	"context"
	"sync"

	"github.com/fleetops/console-client/internal/logger"
)

// Func performs one renewal attempt against the token endpoint. A nil return
// means a new token pair is in the credential store and waiting requests may
// replay. Func must honor the transport's own timeout; the coordinator adds
// none of its own.
type Func func(ctx context.Context) error

// Coordinator is the single-flight state machine. It is safe for concurrent
// use; all state lives behind one mutex so it can be constructed per client
// instance with no package-level leakage between tests.
type Coordinator struct {
	refresh Func

	mu       sync.Mutex
	inFlight bool
	waiters  []chan error
}

// New creates a coordinator in the idle state.
func New(fn Func) *Coordinator {
	return &Coordinator{refresh: fn}
}

// Await enqueues the caller behind the current renewal, starting one if none
// is in flight. It returns nil when the renewal succeeded (the caller should
// replay its request with the new token) or the renewal's error. If ctx is
// cancelled while queued, only this caller is removed; the renewal keeps
// running for the others.
func (c *Coordinator) Await(ctx context.Context) error {
	// Buffered so a resolution racing a cancelled waiter never blocks.
	ch := make(chan error, 1)

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	if !c.inFlight {
		c.inFlight = true
		// The renewal outlives any individual caller; detach it from the
		// triggering request's cancellation.
		go c.run(context.WithoutCancel(ctx))
	}
	queued := len(c.waiters)
	c.mu.Unlock()

	logger.Get().Debug().Int("queued", queued).Msg("waiting on token refresh")

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.drop(ch)
		return ctx.Err()
	}
}

// InFlight reports whether a renewal is currently running.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Waiting reports how many callers are queued on the current renewal.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Coordinator) run(ctx context.Context) {
	err := c.refresh(ctx)

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	if err != nil {
		logger.Get().Warn().Err(err).Int("waiters", len(waiters)).Msg("token refresh failed")
	} else {
		logger.Get().Debug().Int("waiters", len(waiters)).Msg("token refresh succeeded")
	}

	for _, ch := range waiters {
		ch <- err
	}
}

func (c *Coordinator) drop(target chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ch := range c.waiters {
		if ch == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
