package netstack

import (
	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/tick"
)

// DefaultLinkPollTicks bounds how often the interface flags are read.
const DefaultLinkPollTicks = 100

// readLinkFn is a hook for tests (overridden in unit tests).
var readLinkFn = readLink

// Link polls the up/running flags of a network interface. An empty name
// means no interface is monitored and the link is always up.
type Link struct {
	name  string
	every uint64
	last  tick.Tick
	read  bool
	up    bool
}

// NewLink monitors iface, reading its flags at most once per every ticks.
func NewLink(iface string, every uint64) *Link {
	if every == 0 {
		every = DefaultLinkPollTicks
	}
	return &Link{name: iface, every: every}
}

// PollLink returns the current state and whether it changed since the last
// read. The first read always reports a change.
func (l *Link) PollLink(now tick.Tick) (bool, bool) {
	if l.read && uint64(now-l.last) < l.every {
		return l.up, false
	}
	up := true
	if l.name != "" {
		var err error
		up, err = readLinkFn(l.name)
		if err != nil {
			metrics.IncError(metrics.ErrLinkPoll)
			logging.L().Debug("link_poll_error", "if", l.name, "error", err)
			up = false
		}
	}
	changed := !l.read || up != l.up
	l.read, l.last, l.up = true, now, up
	if changed {
		metrics.SetLinkUp(up)
	}
	return up, changed
}

// Up returns the last observed state.
func (l *Link) Up() bool { return l.up }
