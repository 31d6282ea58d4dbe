// Package source is the boundary between CAN backends running on their own
// goroutines and the single-threaded poll loop.
package source

import (
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// DefaultSize is the default queue depth in frames.
const DefaultSize = 1024

// Source delivers at most one newly received frame per call without blocking.
type Source interface {
	TryReceive() (can.Frame, bool)
}

// Queue is a bounded frame queue. Push never blocks: when the queue is full
// the newest frame is dropped and counted.
type Queue struct {
	ch chan can.Frame
}

// NewQueue creates a queue holding up to size frames.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{ch: make(chan can.Frame, size)}
}

// Push enqueues fr and reports whether it was accepted.
func (q *Queue) Push(fr can.Frame) bool {
	select {
	case q.ch <- fr:
		return true
	default:
		metrics.IncSourceDrop()
		return false
	}
}

// TryReceive returns the oldest queued frame, if any.
func (q *Queue) TryReceive() (can.Frame, bool) {
	select {
	case fr := <-q.ch:
		return fr, true
	default:
		return can.Frame{}, false
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Slice is a Source backed by a fixed list of frames. Useful in tests and replays.
type Slice struct {
	Frames []can.Frame
}

func (s *Slice) TryReceive() (can.Frame, bool) {
	if len(s.Frames) == 0 {
		return can.Frame{}, false
	}
	fr := s.Frames[0]
	s.Frames = s.Frames[1:]
	return fr, true
}
