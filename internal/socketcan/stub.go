//go:build !linux

package socketcan

import (
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (*Device) SetReadTimeout(time.Duration) error { return ErrUnsupported }
func (*Device) Close() error                       { return nil }
func (*Device) ReadFrame(*can.Frame) error         { return ErrUnsupported }
