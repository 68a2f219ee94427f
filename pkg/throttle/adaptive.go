// Package throttle implements the process-wide adaptive concurrency
// limiter for upstream model calls. The limit degrades from 4 to 2 after a
// run of connection-like failures and restores once a success streak
// accumulates after the cooldown window has elapsed.
package throttle

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultLimit is the healthy concurrency limit.
	DefaultLimit = 4
	// ReducedLimit is the degraded concurrency limit.
	ReducedLimit = 2
	// FailureThreshold is the consecutive connection-like failure count
	// that triggers degradation.
	FailureThreshold = 4
	// RecoveryStreak is the consecutive success count required to restore
	// the default limit once the cooldown has elapsed.
	RecoveryStreak = 6
	// CooldownWindow is the minimum time spent in the degraded state
	// before the success streak can restore the default limit.
	CooldownWindow = 120 * time.Second

	// pollInterval bounds how long a blocked Acquire waits before
	// rechecking its context.
	pollInterval = 200 * time.Millisecond
)

// connectionKeywords are matched as lowercase substrings to classify an
// error as connection-like. Only connection-like failures count toward
// degradation; model-side errors do not.
var connectionKeywords = []string{
	"connection error",
	"request timed out",
	"timeout",
	"connect",
	"network",
	"ssl",
	"tls",
}

// IsConnectionError reports whether err looks like a transport-level
// failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range connectionKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Controller is the shared adaptive limiter. One instance serves the whole
// process; all model calls across sessions acquire slots from it.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	limit    int
	inFlight int

	consecutiveFailures  int
	consecutiveSuccesses int

	degraded   bool
	degradedAt time.Time
}

// NewController returns a controller at the default limit.
func NewController() *Controller {
	c := &Controller{limit: DefaultLimit}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Acquire blocks until a slot is free or ctx is done. It returns the limit
// in effect at grant time so callers can surface degraded capacity.
func (c *Controller) Acquire(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.inFlight >= c.limit {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		waker := time.AfterFunc(pollInterval, c.cond.Broadcast)
		c.cond.Wait()
		waker.Stop()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.inFlight++
	return c.limit, nil
}

// Release frees a slot acquired with Acquire.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// RecordSuccess notes a successful model call. It returns (true, limit)
// when the call restored the default limit.
func (c *Controller) RecordSuccess() (restored bool, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
	c.consecutiveSuccesses++

	if c.degraded &&
		c.consecutiveSuccesses >= RecoveryStreak &&
		time.Since(c.degradedAt) >= CooldownWindow {
		c.degraded = false
		c.limit = DefaultLimit
		c.consecutiveSuccesses = 0
		c.cond.Broadcast()
		return true, c.limit
	}
	return false, c.limit
}

// RecordFailure notes a failed model call. Only connection-like errors
// count toward degradation. It returns (true, limit) when the call tripped
// the limiter into the degraded state.
func (c *Controller) RecordFailure(err error) (tripped bool, limit int) {
	if !IsConnectionError(err) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.consecutiveSuccesses = 0
		return false, c.limit
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveSuccesses = 0
	c.consecutiveFailures++

	if !c.degraded && c.consecutiveFailures >= FailureThreshold {
		c.degraded = true
		c.degradedAt = time.Now()
		c.limit = ReducedLimit
		return true, c.limit
	}
	return false, c.limit
}

// CurrentLimit returns the limit in effect.
func (c *Controller) CurrentLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Degraded reports whether the limiter is in the degraded state.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}
