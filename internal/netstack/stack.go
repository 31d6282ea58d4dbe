// Package netstack adapts the host network stack to the poll loop: a bound
// UDP socket stands in for the Ethernet driver and IP/UDP layers, and a link
// monitor stands in for the PHY status register.
package netstack

import (
	"errors"

	"github.com/kstaniek/go-can-bridge/internal/tick"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen   = errors.New("udp_listen")
	ErrResolve  = errors.New("resolve")
	ErrNoDest   = errors.New("no destination")
	ErrSend     = errors.New("udp_send")
	ErrLinkPoll = errors.New("link_poll")
)

// Driver services the receive and transmit queues.
type Driver interface {
	// PollInput delivers every datagram received so far and returns the count.
	PollInput() int
	// FlushOutput submits queued outbound frames and returns the count.
	FlushOutput() int
}

// LinkMonitor reports the physical link state.
type LinkMonitor interface {
	PollLink(now tick.Tick) (up bool, changed bool)
}

// Sender transmits one UDP payload to the configured destination.
type Sender interface {
	SendUDP(payload []byte) error
}

// Stack is everything the poll loop needs from the network side.
type Stack interface {
	Driver
	LinkMonitor
	Sender
	// Maintain performs periodic housekeeping (address cache refresh).
	Maintain()
}
