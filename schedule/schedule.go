// Package schedule provides the wait policy used between capture attempts and
// between chat reconnects. A policy is a fixed interval plus optional random
// jitter, evaluated against an injectable clock so loops can be driven by a
// fake clock in tests.
package schedule

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy describes how long to wait before the next attempt.
type Policy struct {
	Interval time.Duration
	// Jitter adds a random extra delay in [0, Jitter).
	Jitter time.Duration
}

// Fixed returns a policy that always waits d.
func Fixed(d time.Duration) Policy { return Policy{Interval: d} }

// Immediate never waits.
var Immediate = Policy{}

// Delay returns the next wait duration.
func (p Policy) Delay() time.Duration {
	d := p.Interval
	if p.Jitter > 0 {
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks for the next delay on clock, or until ctx is done.
func (p Policy) Wait(ctx context.Context, clock clockwork.Clock) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
