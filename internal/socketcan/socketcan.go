// Package socketcan reads classic CAN frames from a Linux raw CAN socket.
package socketcan

import (
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

var (
	ErrTimeout     = errors.New("socketcan: read timeout")
	ErrShortRead   = errors.New("socketcan: short read")
	ErrErrorFrame  = errors.New("socketcan: error frame")
	ErrUnsupported = errors.New("socketcan: not supported on this platform")
)

// Dev is the minimal interface needed by the backend.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	Close() error
}
