package main

import "time"

const (
	serialReadBufSize = 4096 // per read() buffer for serial backend
	// largeBufferReclaimThreshold is the capacity above which the serial
	// reassembly buffer is discarded once drained, so a burst of line noise
	// does not pin a large backing array.
	largeBufferReclaimThreshold = 16 * 1024
	// socketCANReadTimeout bounds each raw socket read so the RX loop
	// observes shutdown.
	socketCANReadTimeout = 200 * time.Millisecond
	rxBackoffMin         = 20 * time.Millisecond
	rxBackoffMax         = 500 * time.Millisecond
)

// nextBackoff doubles d up to rxBackoffMax.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
