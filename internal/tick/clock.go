// Package tick provides the coarse monotonic time base used for flush
// timeouts and periodic housekeeping.
package tick

import (
	"context"
	"sync/atomic"
	"time"
)

// Tick is a monotonic count of timer periods. It is not wall-clock time.
type Tick uint64

// DefaultHz is the default tick rate (1 ms per tick).
const DefaultHz = 1000

// Source reports the current tick.
type Source interface {
	Now() Tick
}

// Clock is an atomic tick counter. Advance is its only writer; readers never
// perform compound updates, so no lock is needed between the two sides.
type Clock struct {
	n atomic.Uint64
}

// Now returns the current tick.
func (c *Clock) Now() Tick { return Tick(c.n.Load()) }

// Advance adds d ticks and returns the new value.
func (c *Clock) Advance(d uint64) Tick { return Tick(c.n.Add(d)) }

// Run advances the clock hz times per second until ctx is done.
func (c *Clock) Run(ctx context.Context, hz int) {
	if hz <= 0 {
		hz = DefaultHz
	}
	t := time.NewTicker(time.Second / time.Duration(hz))
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Advance(1)
		case <-ctx.Done():
			return
		}
	}
}

// Ticks converts d to a tick count at rate hz, rounding up so a non-zero
// duration never becomes zero ticks.
func Ticks(d time.Duration, hz int) uint64 {
	if d <= 0 {
		return 0
	}
	if hz <= 0 {
		hz = DefaultHz
	}
	per := time.Second / time.Duration(hz)
	return uint64((d + per - 1) / per)
}
