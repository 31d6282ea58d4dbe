package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-can-bridge/internal/addr"
	"github.com/kstaniek/go-can-bridge/internal/batch"
	"github.com/kstaniek/go-can-bridge/internal/bridge"
	"github.com/kstaniek/go-can-bridge/internal/metrics"
	"github.com/kstaniek/go-can-bridge/internal/netstack"
	"github.com/kstaniek/go-can-bridge/internal/source"
	"github.com/kstaniek/go-can-bridge/internal/tick"
	"github.com/kstaniek/go-can-bridge/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l, logCloser := setupLogger(cfg)
	defer func() { _ = logCloser.Close() }()
	if err := run(cfg, l); err != nil {
		l.Error("startup_failed", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *appConfig, l *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	cache, err := batch.New(cfg.cacheSize, uint64(cfg.cacheTimeout))
	if err != nil {
		return err
	}

	clock := &tick.Clock{}
	wg.Add(1)
	go func() { defer wg.Done(); clock.Run(ctx, cfg.tickRate) }()
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	queue := source.NewQueue(cfg.sourceQueue)
	cleanup, err := initBackend(ctx, cfg, queue, l, &wg)
	if err != nil {
		return fmt.Errorf("backend init: %w", err)
	}
	defer cleanup()

	stack, err := netstack.Open(ctx, netstack.Config{
		Local:     cfg.localAddr,
		Dest:      cfg.dest,
		LinkIf:    cfg.linkIf,
		LinkEvery: tick.Ticks(cfg.linkPoll, cfg.tickRate),
		Logger:    l,
		OnInput: func(p []byte, from net.Addr) {
			l.Debug("udp_rx_discarded", "from", from.String(), "bytes", len(p))
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close() }()
	logStartup(l, cfg, stack)

	sched := bridge.New(cache, queue, stack, transport.New(stack, l), clock,
		bridge.WithLogger(l),
		bridge.WithIdle(cfg.pollIdle),
		bridge.WithHeartbeatTicks(tick.Ticks(cfg.heartbeat, cfg.tickRate)),
		bridge.WithMaintenanceTicks(tick.Ticks(cfg.maintenance, cfg.tickRate)),
	)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = sched.Run(ctx)
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-sched.Ready():
		case <-ctx.Done():
			return
		}
		port := 0
		if ua, ok := stack.LocalAddr().(*net.UDPAddr); ok {
			port = ua.Port
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready once the poll loop runs and a destination is known.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-sched.Ready():
		default:
			return false
		}
		return ctx.Err() == nil && stack.Dest() != nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-loopDone:
	}
	cancel()
	<-loopDone
	return nil
}

// logStartup reports the effective network parameters the way they are
// configured on the wire.
func logStartup(l *slog.Logger, cfg *appConfig, stack *netstack.UDP) {
	dest := "(unresolved)"
	if d := stack.Dest(); d != nil {
		if a, ok := netip.AddrFromSlice(d.IP); ok {
			dest = fmt.Sprintf("%s:%d", addr.FormatIPv4(a.Unmap()), d.Port)
		}
	}
	attrs := []any{
		"backend", cfg.backend,
		"local", stack.LocalAddr().String(),
		"dest", dest,
		"cache_size", cfg.cacheSize,
		"cache_timeout_ticks", cfg.cacheTimeout,
		"tick_rate_hz", cfg.tickRate,
	}
	if cfg.linkIf != "" {
		if ifi, err := net.InterfaceByName(cfg.linkIf); err == nil && len(ifi.HardwareAddr) == 6 {
			attrs = append(attrs, "link_if", cfg.linkIf, "mac", addr.FormatMAC(ifi.HardwareAddr))
		} else {
			attrs = append(attrs, "link_if", cfg.linkIf)
		}
	}
	l.Info("bridge_start", attrs...)
}
