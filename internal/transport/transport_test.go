package transport

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/netstack"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

var errLinkDown = errors.New("link down")

type fakeSender struct {
	sent [][]byte
	err  error
}

func (f *fakeSender) SendUDP(p []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDatagramSendSuccess(t *testing.T) {
	fs := &fakeSender{}
	d := New(fs, testLogger())
	before := metrics.Snap()
	codec := wire.Codec{}
	payload := codec.Encode([]can.Frame{can.New(1), can.New(2)})
	if err := d.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fs.sent) != 1 || d.Sent() != 1 {
		t.Fatalf("expected one datagram, got %d", len(fs.sent))
	}
	after := metrics.Snap()
	if after.TxDatagrams != before.TxDatagrams+1 || after.TxRecords != before.TxRecords+2 {
		t.Fatalf("metrics not updated: %+v", after)
	}
}

func TestDatagramSendFailureDrops(t *testing.T) {
	fs := &fakeSender{err: errLinkDown}
	d := New(fs, testLogger())
	before := metrics.Snap()
	err := d.Send([]byte{0})
	if !errors.Is(err, ErrDropped) || !errors.Is(err, errLinkDown) {
		t.Fatalf("expected wrapped drop error, got %v", err)
	}
	if d.Dropped() != 1 || d.Sent() != 0 {
		t.Fatalf("dropped=%d sent=%d", d.Dropped(), d.Sent())
	}
	after := metrics.Snap()
	if after.TxDropped != before.TxDropped+1 || after.Errors <= before.Errors {
		t.Fatalf("drop not counted")
	}
}

func TestDatagramSendEmptyIsNoop(t *testing.T) {
	fs := &fakeSender{}
	if err := New(fs, nil).Send(nil); err != nil || len(fs.sent) != 0 {
		t.Fatalf("empty send should be a no-op")
	}
}

func TestDatagramPreservesOrder(t *testing.T) {
	fs := &fakeSender{}
	d := New(fs, testLogger())
	for i := byte(0); i < 5; i++ {
		_ = d.Send([]byte{i})
	}
	for i, p := range fs.sent {
		if p[0] != byte(i) {
			t.Fatalf("datagram %d reordered", i)
		}
	}
}

var _ netstack.Sender = (*fakeSender)(nil)
