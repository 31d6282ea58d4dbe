package netstack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/addr"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/tick"
)

const (
	DefaultPort        = 6000
	defaultRxQueueSize = 16   // datagrams buffered between reader goroutine and poll loop
	rxBufSize          = 1600 // larger than any non-fragmented Ethernet payload
	readBackoffMin     = 20 * time.Millisecond
	readBackoffMax     = 500 * time.Millisecond
)

// sleepFn allows tests to intercept read error backoff.
var sleepFn = time.Sleep

// Config describes the UDP binding.
type Config struct {
	Local     string // bind address, e.g. ":6000"
	Dest      string // destination host:port; host is IPv4 text or a hostname
	LinkIf    string // interface whose link state is monitored ("" = none)
	LinkEvery uint64 // ticks between link flag reads
	RxQueue   int
	Logger    *slog.Logger
	// OnInput receives each inbound datagram on the poll loop. Nil discards.
	OnInput func(payload []byte, from net.Addr)
}

type inbound struct {
	payload []byte
	from    net.Addr
}

// UDP is the host-side network stack: one bound socket with a fixed peer.
type UDP struct {
	conn     net.PacketConn
	destHost string
	destPort int
	literal  bool // destination host is an IPv4 literal, never re-resolved
	link     *Link
	onInput  func([]byte, net.Addr)
	logger   *slog.Logger

	mu   sync.RWMutex
	dest *net.UDPAddr

	rx   chan inbound
	wg   sync.WaitGroup
	once sync.Once
}

// resolveFn is a hook for tests.
var resolveFn = func(host string, port int) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Open binds the local socket, resolves the destination and starts the reader.
func Open(ctx context.Context, cfg Config) (*UDP, error) {
	host, portStr, err := net.SplitHostPort(cfg.Dest)
	if err != nil {
		return nil, fmt.Errorf("%w: dest %q: %v", ErrResolve, cfg.Dest, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: dest port %q", ErrResolve, portStr)
	}
	local := cfg.Local
	if local == "" {
		local = ":" + strconv.Itoa(DefaultPort)
	}
	lc := net.ListenConfig{Control: socketControl}
	conn, err := lc.ListenPacket(ctx, "udp4", local)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}
	qsize := cfg.RxQueue
	if qsize <= 0 {
		qsize = defaultRxQueueSize
	}
	u := &UDP{
		conn:     conn,
		destHost: host,
		destPort: port,
		link:     NewLink(cfg.LinkIf, cfg.LinkEvery),
		onInput:  cfg.OnInput,
		logger:   cfg.Logger,
		rx:       make(chan inbound, qsize),
	}
	if u.logger == nil {
		u.logger = logging.L()
	}
	if ip, perr := addr.ParseIPv4(host); perr == nil {
		u.literal = true
		u.dest = &net.UDPAddr{IP: ip.AsSlice(), Port: port}
	} else if err := u.resolve(); err != nil {
		// A hostname that does not resolve yet is retried on every Maintain.
		u.logger.Warn("dest_resolve_failed", "dest", cfg.Dest, "error", err)
	}
	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

func (u *UDP) readLoop() {
	defer u.wg.Done()
	backoff := readBackoffMin
	for {
		buf := make([]byte, rxBufSize)
		n, from, err := u.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			metrics.IncError(metrics.ErrUDPRead)
			u.logger.Debug("udp_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff = min(backoff*2, readBackoffMax)
			continue
		}
		backoff = readBackoffMin
		select {
		case u.rx <- inbound{payload: buf[:n], from: from}:
		default:
			// poll loop is behind; inbound traffic is informational only
		}
	}
}

// PollInput drains datagrams queued by the reader, bounded by the queue size.
func (u *UDP) PollInput() int {
	n := 0
	for n < cap(u.rx) {
		select {
		case in := <-u.rx:
			metrics.IncDatagramReceived()
			if u.onInput != nil {
				u.onInput(in.payload, in.from)
			}
			n++
		default:
			return n
		}
	}
	return n
}

// FlushOutput is a no-op: the kernel owns the transmit queue.
func (u *UDP) FlushOutput() int { return 0 }

func (u *UDP) PollLink(now tick.Tick) (bool, bool) { return u.link.PollLink(now) }

// SendUDP writes payload to the destination in one datagram.
func (u *UDP) SendUDP(payload []byte) error {
	u.mu.RLock()
	dest := u.dest
	u.mu.RUnlock()
	if dest == nil {
		return fmt.Errorf("%w: %s", ErrNoDest, u.destHost)
	}
	if _, err := u.conn.WriteTo(payload, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

// Maintain re-resolves a hostname destination so address changes are
// picked up without a restart.
func (u *UDP) Maintain() {
	if u.literal {
		return
	}
	if err := u.resolve(); err != nil {
		metrics.IncError(metrics.ErrResolve)
		u.logger.Warn("dest_resolve_failed", "host", u.destHost, "error", err)
	}
}

func (u *UDP) resolve() error {
	a, err := resolveFn(u.destHost, u.destPort)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolve, err)
	}
	u.mu.Lock()
	prev := u.dest
	u.dest = a
	u.mu.Unlock()
	if prev == nil || !prev.IP.Equal(a.IP) {
		u.logger.Info("dest_resolved", "host", u.destHost, "addr", a.String())
	}
	return nil
}

// Dest returns the current destination, or nil if unresolved.
func (u *UDP) Dest() *net.UDPAddr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.dest
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Close shuts the socket and waits for the reader to exit.
func (u *UDP) Close() error {
	var err error
	u.once.Do(func() {
		err = u.conn.Close()
		u.wg.Wait()
	})
	return err
}
