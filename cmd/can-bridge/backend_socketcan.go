package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/can"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/socketcan"
	"github.com/kstaniek/go-can-bridge/internal/source"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = defaultOpenSocketCAN

func defaultOpenSocketCAN(iface string, readTimeout time.Duration) (socketcan.Dev, error) {
	dev, err := socketcan.Open(iface)
	if err != nil {
		return nil, err
	}
	if err := dev.SetReadTimeout(readTimeout); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return dev, nil
}

// initSocketCANBackend opens the raw CAN socket and launches the RX loop.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, q *source.Queue, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf, socketCANReadTimeout)
	if err != nil {
		return func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	var closeOnce sync.Once
	closeDev := func() { closeOnce.Do(func() { _ = dev.Close() }) }
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				switch {
				case errors.Is(err, socketcan.ErrTimeout):
					continue
				case errors.Is(err, socketcan.ErrErrorFrame):
					l.Debug("socketcan_error_frame", "if", cfg.canIf)
					continue
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			metrics.IncSocketCANRx()
			q.Push(fr)
			backoff = rxBackoffMin
		}
	}()
	return closeDev, nil
}
