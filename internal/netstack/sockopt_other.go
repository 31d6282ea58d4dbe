//go:build !linux

package netstack

import "syscall"

// Go enables SO_BROADCAST on datagram sockets by default elsewhere.
var socketControl func(network, address string, c syscall.RawConn) error
