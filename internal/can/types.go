package can

import "errors"

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
	ErrErrorFrame = errors.New("can: error frame")
)

// Frame is one captured classic CAN frame.
// CANID carries EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxLen]byte
}

// New builds a frame from a bare identifier. Identifiers above the 11-bit
// range are marked extended.
func New(id uint32, data ...byte) Frame {
	var f Frame
	if id > CAN_SFF_MASK {
		f.CANID = (id & CAN_EFF_MASK) | CAN_EFF_FLAG
	} else {
		f.CANID = id
	}
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	return f
}

// ID returns the identifier with flag bits stripped.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }
func (f Frame) RTR() bool      { return f.CANID&CAN_RTR_FLAG != 0 }

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte { return f.Data[:min(int(f.Len), MaxLen)] }

// Validate reports whether the identifier fits its format and Len is in range.
// Controller error frames are not data and are rejected.
func (f Frame) Validate() error {
	if f.Len > MaxLen {
		return ErrInvalidLen
	}
	if f.CANID&CAN_ERR_FLAG != 0 {
		return ErrErrorFrame
	}
	raw := f.CANID &^ (CAN_EFF_FLAG | CAN_RTR_FLAG | CAN_ERR_FLAG)
	if f.Extended() {
		if raw > CAN_EFF_MASK {
			return ErrInvalidID
		}
	} else if raw > CAN_SFF_MASK {
		return ErrInvalidID
	}
	return nil
}
