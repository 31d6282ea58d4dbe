package tick

// Timer is an edge-triggered periodic deadline checked from the poll loop.
type Timer struct {
	deadline Tick
	period   uint64
}

// Prepare arms the timer to first fire period ticks after now.
func (t *Timer) Prepare(now Tick, period uint64) {
	t.period = period
	t.deadline = now + Tick(period)
}

// Fire reports whether the deadline has passed. When it has, the deadline
// advances by one period, so a loop that falls behind catches up one period
// per call. A zero-period timer never fires.
func (t *Timer) Fire(now Tick) bool {
	if t.period == 0 || now < t.deadline {
		return false
	}
	t.deadline += Tick(t.period)
	return true
}

// Deadline returns the next firing tick.
func (t *Timer) Deadline() Tick { return t.deadline }
