package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

// Record layout (big-endian, 16 bytes, no datagram header):
//
//	0..3   identifier (11 or 29 bit, flag bits cleared)
//	4      flags: bit0 extended, bit1 RTR
//	5      len (0..8)
//	6..7   pad (zero)
//	8..15  data (bytes beyond len are zero)
const (
	RecordSize = 16

	FlagExtended = 0x01
	FlagRTR      = 0x02

	// MaxPayload is the largest UDP payload that avoids IP fragmentation on a 1500-byte MTU.
	MaxPayload = 1472
	// MaxRecords is the number of records that fit in MaxPayload.
	MaxRecords = MaxPayload / RecordSize
)

var (
	ErrInvalidLength  = errors.New("wire: invalid length")
	ErrInvalidFlags   = errors.New("wire: invalid flags")
	ErrInvalidID      = errors.New("wire: invalid identifier")
	ErrTruncatedFrame = errors.New("wire: truncated record")
)

// Codec encodes/decodes datagram records. Stateless and safe for concurrent use.
type Codec struct{}

// AppendRecord appends the record for f to dst.
func AppendRecord(dst []byte, f can.Frame) []byte {
	var rec [RecordSize]byte
	putRecord(rec[:], f)
	return append(dst, rec[:]...)
}

func putRecord(rec []byte, f can.Frame) {
	binary.BigEndian.PutUint32(rec[0:4], f.ID())
	var flags byte
	if f.Extended() {
		flags |= FlagExtended
	}
	if f.RTR() {
		flags |= FlagRTR
	}
	rec[4] = flags
	ln := min(int(f.Len), can.MaxLen)
	rec[5] = byte(ln)
	rec[6], rec[7] = 0, 0
	clear(rec[8:16])
	copy(rec[8:], f.Data[:ln])
}

// Encode packs frames into a single datagram payload in the given order.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(frames)*RecordSize)
	for _, f := range frames {
		buf = AppendRecord(buf, f)
	}
	return buf
}

// EncodeTo writes the records for frames to w and returns bytes written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	var rec [RecordSize]byte
	for _, f := range frames {
		putRecord(rec[:], f)
		n, err := w.Write(rec[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("wire encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one record from r.
// It returns io.EOF if called at a clean record boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var rec [RecordSize]byte
	if _, err := io.ReadFull(r, rec[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return can.Frame{}, fmt.Errorf("wire decode: %w", ErrTruncatedFrame)
		}
		return can.Frame{}, err
	}
	return parseRecord(rec[:])
}

func parseRecord(rec []byte) (can.Frame, error) {
	var f can.Frame
	id := binary.BigEndian.Uint32(rec[0:4])
	flags := rec[4]
	if flags&^(FlagExtended|FlagRTR) != 0 {
		metrics.IncMalformed()
		return f, fmt.Errorf("wire decode: %w (0x%02X)", ErrInvalidFlags, flags)
	}
	ln := int(rec[5])
	if ln > can.MaxLen {
		metrics.IncMalformed()
		return f, fmt.Errorf("wire decode: %w (%d)", ErrInvalidLength, ln)
	}
	if flags&FlagExtended != 0 {
		if id > can.CAN_EFF_MASK {
			metrics.IncMalformed()
			return f, fmt.Errorf("wire decode: %w (0x%X)", ErrInvalidID, id)
		}
		id |= can.CAN_EFF_FLAG
	} else if id > can.CAN_SFF_MASK {
		metrics.IncMalformed()
		return f, fmt.Errorf("wire decode: %w (0x%X)", ErrInvalidID, id)
	}
	if flags&FlagRTR != 0 {
		id |= can.CAN_RTR_FLAG
	}
	f.CANID = id
	f.Len = uint8(ln)
	copy(f.Data[:], rec[8:8+ln])
	return f, nil
}

// DecodeN decodes up to max records (if max>0) or until EOF (if max<=0) invoking onFrame for each.
// It returns the number of records decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}

// DecodeDatagram decodes a complete UDP payload. The payload length must be a
// multiple of RecordSize.
func (c *Codec) DecodeDatagram(p []byte) ([]can.Frame, error) {
	if len(p)%RecordSize != 0 {
		metrics.IncMalformed()
		return nil, fmt.Errorf("wire decode: %w (%d bytes)", ErrTruncatedFrame, len(p))
	}
	frames := make([]can.Frame, 0, len(p)/RecordSize)
	_, err := c.DecodeN(bytes.NewReader(p), 0, func(f can.Frame) { frames = append(frames, f) })
	if err != nil && !errors.Is(err, io.EOF) {
		return frames, err
	}
	return frames, nil
}
