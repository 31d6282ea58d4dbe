package netstack

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

var errReadFailed = errors.New("read failed")

// scriptedConn replays a fixed sequence of ReadFrom results, then reports
// the socket closed.
type scriptedConn struct {
	net.PacketConn
	mu    sync.Mutex
	reads []error // nil entries deliver a one-byte datagram
}

func (c *scriptedConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, nil, net.ErrClosed
	}
	err := c.reads[0]
	c.reads = c.reads[1:]
	if err != nil {
		return 0, nil, err
	}
	p[0] = 0x42
	return 1, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6000}, nil
}

func TestReadLoopBacksOffOnErrors(t *testing.T) {
	var mu sync.Mutex
	var slept []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	defer func() { sleepFn = time.Sleep }()

	reads := make([]error, 0, 12)
	for i := 0; i < 7; i++ {
		reads = append(reads, errReadFailed)
	}
	reads = append(reads, nil, errReadFailed)

	u := &UDP{conn: &scriptedConn{reads: reads}, logger: testLogger(), rx: make(chan inbound, 4)}
	u.wg.Add(1)
	go u.readLoop()
	u.wg.Wait()

	want := []time.Duration{
		readBackoffMin, 40 * time.Millisecond, 80 * time.Millisecond, 160 * time.Millisecond,
		320 * time.Millisecond, readBackoffMax, readBackoffMax,
		readBackoffMin, // reset after a successful read
	}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: got %v want %v (all %v)", i, slept[i], want[i], slept)
		}
	}
	if n := u.PollInput(); n != 1 {
		t.Fatalf("expected the successful datagram to be queued, got %d", n)
	}
}
