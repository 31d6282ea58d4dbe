//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

// Device is a raw CAN socket bound to one interface.
type Device struct {
	fd int
}

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// older kernels may not know this option
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

// SetReadTimeout bounds each ReadFrame call. Zero blocks indefinitely.
func (d *Device) SetReadTimeout(timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(d.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame. It returns ErrTimeout when a read
// timeout is set and expires, and ErrErrorFrame for controller error frames.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return ErrTimeout
		}
		return err
	}
	return decodeFrame(buf[:n], fr)
}

// decodeFrame parses struct can_frame (linux/can.h):
//
//	can_id  u32  [0:4]  host byte order, EFF/RTR/ERR flags included
//	len     u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func decodeFrame(b []byte, fr *can.Frame) error {
	if len(b) != unix.CAN_MTU {
		return fmt.Errorf("%w: %d", ErrShortRead, len(b))
	}
	id := binary.NativeEndian.Uint32(b[0:4])
	if id&can.CAN_ERR_FLAG != 0 {
		return ErrErrorFrame
	}
	dlc := int(b[4])
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	*fr = can.Frame{CANID: id, Len: uint8(dlc)}
	if id&can.CAN_RTR_FLAG == 0 {
		copy(fr.Data[:], b[8:8+dlc])
	}
	return nil
}
