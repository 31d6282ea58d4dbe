//go:build linux

package netstack

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// readLink reports whether iface is administratively up and has carrier.
func readLink(iface string) (bool, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return false, fmt.Errorf("%w: socket: %v", ErrLinkPoll, err)
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return false, fmt.Errorf("%w: ifreq %q: %v", ErrLinkPoll, iface, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return false, fmt.Errorf("%w: SIOCGIFFLAGS %q: %v", ErrLinkPoll, iface, err)
	}
	flags := ifr.Uint16()
	return flags&unix.IFF_UP != 0 && flags&unix.IFF_RUNNING != 0, nil
}
