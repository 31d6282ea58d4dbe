package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-bridge/internal/source"
)

// initBackend selects the CAN backend and starts its RX loop feeding q.
// It returns a cleanup that releases the device; the RX goroutine exits
// once ctx is cancelled and is tracked by wg.
func initBackend(ctx context.Context, cfg *appConfig, q *source.Queue, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, q, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, q, l, wg)
	default:
		return func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
