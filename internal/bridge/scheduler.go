// Package bridge runs the cooperative poll loop that moves CAN frames from a
// source through the batch cache onto the network.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/batch"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/netstack"
	"github.com/kstaniek/go-can-bridge/internal/source"
	"github.com/kstaniek/go-can-bridge/internal/tick"
	"github.com/kstaniek/go-can-bridge/internal/transport"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

const (
	defaultIdle           = 100 * time.Microsecond
	defaultHeartbeatTicks = tick.DefaultHz     // 1 s at 1 kHz
	defaultMaintainTicks  = 5 * tick.DefaultHz // 5 s at 1 kHz
)

// Transmitter sends one encoded batch.
type Transmitter interface {
	Send(payload []byte) error
}

// StepResult summarizes one poll iteration.
type StepResult struct {
	Received    int          // inbound datagrams delivered to the stack
	Submitted   int          // outbound frames submitted by the driver
	LinkUp      bool         // link state after this step
	LinkChanged bool         // link state changed during this step
	Ingested    int          // CAN frames moved into the cache
	Rejected    int          // invalid CAN frames dropped before the cache
	Flushed     int          // records in the datagram built this step (0 = no flush)
	Reason      batch.Reason // why the flush happened
	SendErr     error        // transport failure for the flushed datagram
	Heartbeat   bool         // heartbeat timer fired
	Maintenance bool         // maintenance timer fired
}

// Idle reports whether the step found nothing to do.
func (r StepResult) Idle() bool {
	return r.Received == 0 && r.Submitted == 0 && r.Ingested == 0 && r.Rejected == 0 && r.Flushed == 0 && !r.LinkChanged
}

// Stats are cumulative counters safe to read from other goroutines.
type Stats struct {
	Iterations uint64
	Ingested   uint64
	Rejected   uint64
	Flushes    uint64
	Records    uint64
	SendErrors uint64
}

// Scheduler owns the batch cache and drives every collaborator once per
// iteration in fixed order. Step and Run must be called from one goroutine.
type Scheduler struct {
	cache  *batch.Cache
	src    source.Source
	stack  netstack.Stack
	tx     Transmitter
	codec  transport.FrameBatchEncoder
	clock  tick.Source
	logger *slog.Logger
	idle   func()

	heartbeat      tick.Timer
	heartbeatTicks uint64
	maintain       tick.Timer
	maintainTicks  uint64

	linkKnown bool
	linkUp    atomic.Bool
	lastOcc   int

	readyOnce sync.Once
	readyCh   chan struct{}

	iterations atomic.Uint64
	ingested   atomic.Uint64
	rejected   atomic.Uint64
	flushes    atomic.Uint64
	records    atomic.Uint64
	sendErrors atomic.Uint64
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIdle sets the pause taken after an iteration that found no work.
// Zero yields the processor without sleeping.
func WithIdle(d time.Duration) Option {
	return func(s *Scheduler) {
		if d <= 0 {
			s.idle = runtime.Gosched
			return
		}
		s.idle = func() { time.Sleep(d) }
	}
}

// WithIdleFunc replaces the idle hook entirely (tests).
func WithIdleFunc(fn func()) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.idle = fn
		}
	}
}

func WithHeartbeatTicks(n uint64) Option {
	return func(s *Scheduler) { s.heartbeatTicks = n }
}

func WithMaintenanceTicks(n uint64) Option {
	return func(s *Scheduler) { s.maintainTicks = n }
}

func WithEncoder(e transport.FrameBatchEncoder) Option {
	return func(s *Scheduler) {
		if e != nil {
			s.codec = e
		}
	}
}

// New wires a scheduler. Periodic timers are armed relative to clock.Now().
func New(cache *batch.Cache, src source.Source, stack netstack.Stack, tx Transmitter, clock tick.Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		cache:          cache,
		src:            src,
		stack:          stack,
		tx:             tx,
		codec:          &wire.Codec{},
		clock:          clock,
		logger:         logging.L(),
		heartbeatTicks: defaultHeartbeatTicks,
		maintainTicks:  defaultMaintainTicks,
		readyCh:        make(chan struct{}),
	}
	WithIdle(defaultIdle)(s)
	for _, o := range opts {
		o(s)
	}
	now := clock.Now()
	s.heartbeat.Prepare(now, s.heartbeatTicks)
	s.maintain.Prepare(now, s.maintainTicks)
	cache.SetLastFlush(now)
	return s
}

// Step runs one iteration at tick now:
//  1. service the driver receive and transmit queues
//  2. poll the link state
//  3. drain the CAN source into the cache until empty or full
//  4. flush the cache if due
//  5. fire periodic timers
func (s *Scheduler) Step(now tick.Tick) StepResult {
	var r StepResult
	s.iterations.Add(1)

	r.Received = s.stack.PollInput()
	r.Submitted = s.stack.FlushOutput()

	up, changed := s.stack.PollLink(now)
	r.LinkUp, r.LinkChanged = up, changed
	if changed {
		s.onLinkChange(up)
	}

	for !s.cache.Full() {
		fr, ok := s.src.TryReceive()
		if !ok {
			break
		}
		// a frame the record format cannot carry unchanged is dropped here
		if err := fr.Validate(); err != nil {
			metrics.IncRejected()
			r.Rejected++
			s.logger.Debug("frame_rejected", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len, "error", err)
			continue
		}
		s.cache.TryIngest(fr)
		metrics.IncIngested()
		r.Ingested++
	}
	s.ingested.Add(uint64(r.Ingested))
	s.rejected.Add(uint64(r.Rejected))

	if reason := s.cache.Due(now); reason != batch.NoFlush {
		r.Reason = reason
		r.Flushed, r.SendErr = s.flush(now, reason)
	}

	if occ := s.cache.Len(); occ != s.lastOcc {
		s.lastOcc = occ
		metrics.SetOccupancy(occ)
	}

	if s.heartbeat.Fire(now) {
		r.Heartbeat = true
		s.onHeartbeat(now)
	}
	if s.maintain.Fire(now) {
		r.Maintenance = true
		s.stack.Maintain()
	}
	return r
}

func (s *Scheduler) flush(now tick.Tick, reason batch.Reason) (int, error) {
	frames := s.cache.TakeAndClear(now)
	if len(frames) == 0 {
		return 0, nil
	}
	metrics.IncFlush(reason.String())
	s.flushes.Add(1)
	s.records.Add(uint64(len(frames)))
	if err := s.tx.Send(s.codec.Encode(frames)); err != nil {
		s.sendErrors.Add(1)
		return len(frames), err
	}
	return len(frames), nil
}

func (s *Scheduler) onLinkChange(up bool) {
	if s.linkKnown {
		metrics.IncLinkTransition()
	}
	s.linkKnown = true
	s.linkUp.Store(up)
	if up {
		s.logger.Info("link_up")
	} else {
		s.logger.Warn("link_down")
	}
}

func (s *Scheduler) onHeartbeat(now tick.Tick) {
	on := metrics.ToggleHeartbeat()
	st := s.Stats()
	s.logger.Debug("heartbeat",
		"tick", uint64(now),
		"led", on,
		"occupancy", s.cache.Len(),
		"flushes", st.Flushes,
		"records", st.Records,
		"send_errors", st.SendErrors,
	)
}

// Run repeats Step until ctx is done, then flushes whatever is still cached.
func (s *Scheduler) Run(ctx context.Context) error {
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("poll_loop_start",
		"capacity", s.cache.Capacity(),
		"timeout_ticks", s.cache.Timeout(),
		"heartbeat_ticks", s.heartbeatTicks,
		"maintenance_ticks", s.maintainTicks,
	)
	for ctx.Err() == nil {
		if r := s.Step(s.clock.Now()); r.Idle() {
			s.idle()
		}
	}
	if s.cache.Len() > 0 {
		n, err := s.flush(s.clock.Now(), batch.FlushShutdown)
		s.logger.Info("final_flush", "records", n, "error", err)
	}
	st := s.Stats()
	s.logger.Info("poll_loop_end", "iterations", st.Iterations, "ingested", st.Ingested, "rejected", st.Rejected, "flushes", st.Flushes, "records", st.Records, "send_errors", st.SendErrors)
	return nil
}

// Ready is closed once Run has started.
func (s *Scheduler) Ready() <-chan struct{} { return s.readyCh }

// LinkUp returns the last link state seen by the loop.
func (s *Scheduler) LinkUp() bool { return s.linkUp.Load() }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Iterations: s.iterations.Load(),
		Ingested:   s.ingested.Load(),
		Rejected:   s.rejected.Load(),
		Flushes:    s.flushes.Load(),
		Records:    s.records.Load(),
		SendErrors: s.sendErrors.Load(),
	}
}
