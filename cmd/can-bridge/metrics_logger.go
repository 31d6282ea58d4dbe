package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"socketcan_rx", snap.SocketCANRx,
					"source_drops", snap.SourceDrops,
					"ingested", snap.Ingested,
					"occupancy", snap.Occupancy,
					"flush_full", snap.FlushFull,
					"flush_timeout", snap.FlushTimeout,
					"udp_tx", snap.TxDatagrams,
					"udp_tx_records", snap.TxRecords,
					"udp_tx_dropped", snap.TxDropped,
					"udp_rx", snap.RxDatagrams,
					"link_up", snap.LinkUp,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
