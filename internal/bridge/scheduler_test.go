package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/batch"
	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/source"
	"github.com/kstaniek/go-can-bridge/internal/tick"
	"github.com/kstaniek/go-can-bridge/internal/transport"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

var errNoBuffer = errors.New("no buffer")

// fakeStack records every interaction from the poll loop.
type fakeStack struct {
	mu        sync.Mutex
	calls     []string
	sent      [][]byte
	sendErr   error
	inbound   int
	link      []bool // successive link states; last one sticks
	prevLink  *bool
	maintains int
}

func (f *fakeStack) PollInput() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "input")
	n := f.inbound
	f.inbound = 0
	return n
}

func (f *fakeStack) FlushOutput() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "output")
	return 0
}

func (f *fakeStack) PollLink(tick.Tick) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "link")
	up := true
	if len(f.link) > 0 {
		up = f.link[0]
		if len(f.link) > 1 {
			f.link = f.link[1:]
		}
	}
	changed := f.prevLink == nil || *f.prevLink != up
	f.prevLink = &up
	return up, changed
}

func (f *fakeStack) SendUDP(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send")
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}

func (f *fakeStack) Maintain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "maintain")
	f.maintains++
}

func (f *fakeStack) datagrams() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type rig struct {
	clock *tick.Clock
	cache *batch.Cache
	src   *source.Queue
	stack *fakeStack
	s     *Scheduler
}

func newRig(t *testing.T, capacity int, timeout uint64, opts ...Option) *rig {
	t.Helper()
	c, err := batch.New(capacity, timeout)
	if err != nil {
		t.Fatalf("batch.New: %v", err)
	}
	r := &rig{clock: &tick.Clock{}, cache: c, src: source.NewQueue(256), stack: &fakeStack{}}
	tx := transport.New(r.stack, testLogger())
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	r.s = New(c, r.src, r.stack, tx, r.clock, opts...)
	return r
}

func (r *rig) push(frames ...can.Frame) {
	for _, f := range frames {
		r.src.Push(f)
	}
}

func seq(n int) []can.Frame {
	out := make([]can.Frame, n)
	for i := range out {
		out[i] = can.New(uint32(0x100+i), byte(i))
	}
	return out
}

func decode(t *testing.T, p []byte) []can.Frame {
	t.Helper()
	codec := wire.Codec{}
	frames, err := codec.DecodeDatagram(p)
	if err != nil {
		t.Fatalf("decode datagram: %v", err)
	}
	return frames
}

func TestStepOrder(t *testing.T) {
	r := newRig(t, 4, 0)
	r.push(can.New(1))
	r.s.Step(r.clock.Now())
	want := []string{"input", "output", "link", "send"}
	if len(r.stack.calls) != len(want) {
		t.Fatalf("calls=%v want %v", r.stack.calls, want)
	}
	for i := range want {
		if r.stack.calls[i] != want[i] {
			t.Fatalf("calls=%v want %v", r.stack.calls, want)
		}
	}
}

func TestCapacityFlushBeforeFrame33(t *testing.T) {
	r := newRig(t, 32, batch.DefaultTimeout)
	r.push(seq(33)...)

	res := r.s.Step(0)
	if res.Ingested != 32 || res.Flushed != 32 || res.Reason != batch.FlushFull {
		t.Fatalf("first step: %+v", res)
	}
	dgs := r.stack.datagrams()
	if len(dgs) != 1 || len(dgs[0]) != 32*wire.RecordSize {
		t.Fatalf("expected one 32-record datagram, got %d datagrams", len(dgs))
	}
	if r.src.Len() != 1 {
		t.Fatalf("frame #33 must wait in the source, queue len=%d", r.src.Len())
	}

	res = r.s.Step(0)
	if res.Ingested != 1 || res.Flushed != 0 {
		t.Fatalf("second step: %+v", res)
	}
	if r.cache.Len() != 1 {
		t.Fatalf("frame #33 not cached")
	}
}

func TestTimeoutFlushScenario(t *testing.T) {
	r := newRig(t, 32, 4)
	r.push(can.New(0x42, 1, 2, 3))
	if res := r.s.Step(0); res.Ingested != 1 || res.Flushed != 0 {
		t.Fatalf("tick 0: %+v", res)
	}
	for now := tick.Tick(1); now <= 3; now++ {
		if res := r.s.Step(now); res.Flushed != 0 {
			t.Fatalf("flushed early at tick %d", now)
		}
	}
	res := r.s.Step(4)
	if res.Flushed != 1 || res.Reason != batch.FlushTimeout {
		t.Fatalf("tick 4: %+v", res)
	}
	got := decode(t, r.stack.datagrams()[0])
	if len(got) != 1 || got[0] != can.New(0x42, 1, 2, 3) {
		t.Fatalf("unexpected datagram content %+v", got)
	}
}

func TestNoFlushWithoutFrames(t *testing.T) {
	r := newRig(t, 32, 4)
	for now := tick.Tick(0); now <= 1000; now++ {
		if res := r.s.Step(now); res.Flushed != 0 {
			t.Fatalf("flush at tick %d with empty cache", now)
		}
	}
	if n := len(r.stack.datagrams()); n != 0 {
		t.Fatalf("sent %d datagrams", n)
	}
}

func TestOrderAcrossDatagrams(t *testing.T) {
	r := newRig(t, 8, 4)
	in := seq(20)
	r.push(in...)
	for now := tick.Tick(0); now < 10; now++ {
		r.s.Step(now)
	}
	var out []can.Frame
	for _, d := range r.stack.datagrams() {
		out = append(out, decode(t, d)...)
	}
	if len(out) != len(in) {
		t.Fatalf("delivered %d of %d frames", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("frame %d reordered or duplicated", i)
		}
	}
}

func TestSendFailureDropsBatch(t *testing.T) {
	r := newRig(t, 2, 4)
	r.stack.sendErr = errNoBuffer
	r.push(seq(2)...)
	res := r.s.Step(0)
	if res.Flushed != 2 || !errors.Is(res.SendErr, transport.ErrDropped) {
		t.Fatalf("expected dropped flush, got %+v", res)
	}
	if r.cache.Len() != 0 {
		t.Fatalf("failed batch must not be retried (cache len %d)", r.cache.Len())
	}
	r.stack.sendErr = nil
	r.push(seq(2)...)
	if res := r.s.Step(1); res.SendErr != nil || res.Flushed != 2 {
		t.Fatalf("recovery step: %+v", res)
	}
	if st := r.s.Stats(); st.SendErrors != 1 || st.Flushes != 2 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestLinkDownDoesNotGateIngestion(t *testing.T) {
	r := newRig(t, 4, 4)
	r.stack.link = []bool{false}
	r.push(seq(3)...)
	res := r.s.Step(0)
	if res.LinkUp || !res.LinkChanged {
		t.Fatalf("expected initial link down, got %+v", res)
	}
	if res.Ingested != 3 {
		t.Fatalf("ingestion gated by link: %+v", res)
	}
	if r.s.LinkUp() {
		t.Fatalf("scheduler should report link down")
	}
}

func TestPeriodicTimers(t *testing.T) {
	r := newRig(t, 4, 4, WithHeartbeatTicks(10), WithMaintenanceTicks(25))
	heartbeats, maint := 0, 0
	for now := tick.Tick(0); now <= 50; now++ {
		res := r.s.Step(now)
		if res.Heartbeat {
			heartbeats++
		}
		if res.Maintenance {
			maint++
		}
	}
	if heartbeats != 5 || maint != 2 || r.stack.maintains != 2 {
		t.Fatalf("heartbeats=%d maintenance=%d (stack %d)", heartbeats, maint, r.stack.maintains)
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	idle := make(chan struct{}, 1)
	r := newRig(t, 32, 1_000_000, WithIdleFunc(func() {
		select {
		case idle <- struct{}{}:
		default:
		}
		time.Sleep(time.Millisecond)
	}))
	r.push(seq(5)...)
	before := metrics.Snap()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.s.Run(ctx) }()
	select {
	case <-r.s.Ready():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not start")
	}
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("scheduler never went idle")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	dgs := r.stack.datagrams()
	if len(dgs) != 1 || len(decode(t, dgs[0])) != 5 {
		t.Fatalf("expected final flush of 5 records, got %d datagrams", len(dgs))
	}
	after := metrics.Snap()
	if after.FlushShutdown-before.FlushShutdown != 1 {
		t.Fatalf("final flush not counted as shutdown")
	}
	if after.FlushTimeout != before.FlushTimeout {
		t.Fatalf("final flush counted as timeout")
	}
}

func TestDegenerateImmediatePolicy(t *testing.T) {
	r := newRig(t, 8, 0)
	r.push(seq(3)...)
	if res := r.s.Step(0); res.Flushed != 3 {
		t.Fatalf("zero timeout should send every iteration: %+v", res)
	}
	r.push(seq(10)...)
	if res := r.s.Step(0); res.Flushed != 8 || res.Reason != batch.FlushFull {
		t.Fatalf("zero timeout still capped at capacity: %+v", res)
	}
}

func TestInvalidFramesDroppedBeforeCache(t *testing.T) {
	r := newRig(t, 4, 0)
	good := can.New(0x123, 1, 2)
	badID := can.Frame{CANID: 0x923, Len: 2}                     // 11-bit frame with a 12-bit identifier
	badLen := can.Frame{CANID: 0x10, Len: 12}                    // longer than a classic frame
	errFrame := can.Frame{CANID: can.CAN_ERR_FLAG | 0x4, Len: 8} // controller error frame
	r.push(badID, good, badLen, errFrame)

	before := metrics.Snap().Rejected
	res := r.s.Step(0)
	if res.Rejected != 3 || res.Ingested != 1 || res.Flushed != 1 {
		t.Fatalf("step: %+v", res)
	}
	if got := metrics.Snap().Rejected - before; got != 3 {
		t.Fatalf("rejected counter advanced by %d, want 3", got)
	}
	if st := r.s.Stats(); st.Rejected != 3 {
		t.Fatalf("stats: %+v", st)
	}
	dgs := r.stack.datagrams()
	if len(dgs) != 1 {
		t.Fatalf("expected one datagram, got %d", len(dgs))
	}
	got := decode(t, dgs[0])
	if len(got) != 1 || got[0] != good {
		t.Fatalf("datagram carried %+v, want only %+v", got, good)
	}
}

func TestRejectedFramesDoNotFillCache(t *testing.T) {
	r := newRig(t, 2, 4)
	for i := 0; i < 5; i++ {
		r.push(can.Frame{CANID: 0x800 + uint32(i)})
	}
	r.push(seq(2)...)
	res := r.s.Step(0)
	if res.Rejected != 5 || res.Ingested != 2 || res.Reason != batch.FlushFull {
		t.Fatalf("step: %+v", res)
	}
	if got := decode(t, r.stack.datagrams()[0]); len(got) != 2 || got[0] != seq(1)[0] {
		t.Fatalf("unexpected datagram %+v", got)
	}
}
