//go:build !linux

package netstack

import (
	"fmt"
	"net"
)

func readLink(iface string) (bool, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrLinkPoll, iface, err)
	}
	return ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagRunning != 0, nil
}
