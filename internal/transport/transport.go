package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/netstack"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

// FrameBatchEncoder serializes an ordered batch into one datagram payload.
type FrameBatchEncoder interface {
	Encode([]can.Frame) []byte
	EncodeTo(w io.Writer, frames []can.Frame) (int, error)
}

// DatagramDecoder parses a datagram payload back into frames.
type DatagramDecoder interface {
	DecodeDatagram([]byte) ([]can.Frame, error)
}

// Compile-time assertions that *wire.Codec satisfies both directions.
var (
	_ FrameBatchEncoder = (*wire.Codec)(nil)
	_ DatagramDecoder   = (*wire.Codec)(nil)
)

// ErrDropped wraps every failed send. The datagram is gone; nothing retries it.
var ErrDropped = errors.New("datagram dropped")

// Datagram is the lossy UDP send path for flushed batches. A failed send is
// counted and dropped so CAN ingestion never waits on the network.
type Datagram struct {
	sender  netstack.Sender
	logger  *slog.Logger
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New wraps sender. A nil logger uses the global one.
func New(sender netstack.Sender, l *slog.Logger) *Datagram {
	if l == nil {
		l = logging.L()
	}
	return &Datagram{sender: sender, logger: l}
}

// Send transmits payload once. An empty payload is a no-op.
func (d *Datagram) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if err := d.sender.SendUDP(payload); err != nil {
		d.dropped.Add(1)
		metrics.IncDatagramDropped()
		metrics.IncError(metrics.ErrUDPSend)
		d.logger.Debug("datagram_drop", "bytes", len(payload), "error", err)
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}
	d.sent.Add(1)
	metrics.AddDatagramSent(len(payload), len(payload)/wire.RecordSize)
	return nil
}

// Sent returns the number of datagrams handed to the network stack.
func (d *Datagram) Sent() uint64 { return d.sent.Load() }

// Dropped returns the number of datagrams lost to send failures.
func (d *Datagram) Dropped() uint64 { return d.dropped.Load() }
