// Package serial decodes CAN frames received from a UART CAN adapter.
//
// Each frame arrives in an envelope:
//
//	2D D4 LEN ID(4, big endian) PAYLOAD(0..8) SUM
//
// LEN counts the ID, the payload and the checksum byte. SUM is
// 0x2D + LEN + sum(ID and payload bytes), modulo 256. Adapter IDs are
// always 29-bit.
package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

const (
	pre0 = 0x2D
	pre1 = 0xD4

	minLn = 4 + 0 + 1          // ID + empty payload + checksum
	maxLn = 4 + can.MaxLen + 1 // ID + 8 bytes + checksum
)

var preamble = []byte{pre0, pre1}

// CompactBuffer reclaims consumed prefix capacity when the buffer grew large
// relative to unread bytes. It returns true if compaction occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Envelope wraps id and payload into one adapter frame.
func Envelope(id uint32, payload []byte) []byte {
	n := len(payload)
	out := make([]byte, 3+4+n+1)
	out[0], out[1] = pre0, pre1
	out[2] = byte(4 + n + 1)
	binary.BigEndian.PutUint32(out[3:7], id&can.CAN_EFF_MASK)
	copy(out[7:], payload)
	sum := byte(pre0) + out[2]
	for _, b := range out[3 : 7+n] {
		sum += b
	}
	out[7+n] = sum
	return out
}

// Decoder reassembles frames from arbitrarily chunked reads.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends p to the pending stream and calls out for every complete
// frame, returning how many were emitted. Garbage and frames with a bad
// length or checksum are skipped one byte at a time until the next preamble.
func (d *Decoder) Feed(p []byte, out func(can.Frame)) int {
	d.buf.Write(p)
	return DecodeStream(&d.buf, out)
}

// Pending returns the number of buffered, not yet decoded bytes.
func (d *Decoder) Pending() int { return d.buf.Len() }

// Capacity returns the size of the reassembly buffer's backing array.
func (d *Decoder) Capacity() int { return d.buf.Cap() }

// DecodeStream consumes complete frames from in, leaving any partial frame
// buffered for the next call.
func DecodeStream(in *bytes.Buffer, out func(can.Frame)) int {
	emitted := 0
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 3 {
			return emitted
		}

		i := bytes.Index(data, preamble)
		if i < 0 {
			// keep the last byte: it may be the first half of a preamble
			if last := data[len(data)-1]; last == pre0 {
				in.Reset()
				_ = in.WriteByte(last)
			} else {
				in.Reset()
			}
			return emitted
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return emitted
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		payload := data[7 : req-1]
		var f can.Frame
		f.CANID = (binary.BigEndian.Uint32(data[3:7]) & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
		f.Len = uint8(len(payload))
		copy(f.Data[:], payload)

		in.Next(req)
		metrics.IncSerialRx()
		emitted++
		out(f)
	}
}
