package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_can-bridge._udp"

// mdnsMeta builds the TXT records announced with the service.
func mdnsMeta(cfg *appConfig) []string {
	return []string{
		"backend=" + cfg.backend,
		"version=" + version,
		"commit=" + commit,
		"dest=" + cfg.dest,
		"records=" + strconv.Itoa(cfg.cacheSize),
	}
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("can-bridge-%s", host)
}

// startMDNS registers the bridge's UDP port via mDNS and returns a cleanup
// function. It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	svc, err := zeroconf.Register(mdnsInstance(cfg), mdnsServiceType, "local.", port, mdnsMeta(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
