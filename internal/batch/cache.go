// Package batch holds the bounded frame cache that coalesces CAN frames into
// datagrams under a capacity-or-timeout policy.
package batch

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/tick"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

const (
	DefaultCapacity = 32
	DefaultTimeout  = 4 // ticks
)

var ErrCapacity = errors.New("batch: invalid capacity")

// Reason explains why a flush is due.
type Reason int

const (
	NoFlush Reason = iota
	FlushFull
	FlushTimeout
	FlushShutdown // final flush when the poll loop stops
)

func (r Reason) String() string {
	switch r {
	case FlushFull:
		return "full"
	case FlushTimeout:
		return "timeout"
	case FlushShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Cache is a bounded, insertion-ordered frame buffer. It is not safe for
// concurrent use; the poll loop is its only owner.
type Cache struct {
	frames    []can.Frame
	timeout   uint64
	lastFlush tick.Tick
}

// New allocates a cache holding up to capacity frames. A datagram of
// capacity records must fit in wire.MaxPayload. A zero timeout flushes any
// non-empty cache on every check.
func New(capacity int, timeout uint64) (*Cache, error) {
	if capacity <= 0 || capacity > wire.MaxRecords {
		return nil, fmt.Errorf("%w: %d (1..%d)", ErrCapacity, capacity, wire.MaxRecords)
	}
	return &Cache{frames: make([]can.Frame, 0, capacity), timeout: timeout}, nil
}

func (c *Cache) Capacity() int            { return cap(c.frames) }
func (c *Cache) Len() int                 { return len(c.frames) }
func (c *Cache) Full() bool               { return len(c.frames) == cap(c.frames) }
func (c *Cache) Timeout() uint64          { return c.timeout }
func (c *Cache) LastFlush() tick.Tick     { return c.lastFlush }
func (c *Cache) SetLastFlush(t tick.Tick) { c.lastFlush = t }

// TryIngest appends f unless the cache is full.
func (c *Cache) TryIngest(f can.Frame) bool {
	if len(c.frames) == cap(c.frames) {
		return false
	}
	c.frames = append(c.frames, f)
	return true
}

// Due reports whether a flush is due at now and why.
func (c *Cache) Due(now tick.Tick) Reason {
	switch {
	case len(c.frames) == 0:
		return NoFlush
	case len(c.frames) == cap(c.frames):
		return FlushFull
	case uint64(now-c.lastFlush) >= c.timeout:
		return FlushTimeout
	default:
		return NoFlush
	}
}

// ShouldFlush is Due(now) != NoFlush.
func (c *Cache) ShouldFlush(now tick.Tick) bool { return c.Due(now) != NoFlush }

// TakeAndClear removes every buffered frame in insertion order and records
// now as the flush time. An empty cache returns nil and keeps the previous
// flush time.
func (c *Cache) TakeAndClear(now tick.Tick) []can.Frame {
	if len(c.frames) == 0 {
		return nil
	}
	out := make([]can.Frame, len(c.frames))
	copy(out, c.frames)
	c.frames = c.frames[:0]
	c.lastFlush = now
	return out
}
