package main

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate_Defaults(t *testing.T) {
	if err := defaultConfig().validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"noCanIf", func(c *appConfig) { c.canIf = "" }},
		{"noSerial", func(c *appConfig) { c.backend, c.serialDev = "serial", "" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badQueue", func(c *appConfig) { c.sourceQueue = 0 }},
		{"cacheZero", func(c *appConfig) { c.cacheSize = 0 }},
		{"cacheTooBig", func(c *appConfig) { c.cacheSize = 93 }},
		{"negTimeout", func(c *appConfig) { c.cacheTimeout = -1 }},
		{"badTickRate", func(c *appConfig) { c.tickRate = 0 }},
		{"badLinkPoll", func(c *appConfig) { c.linkPoll = 0 }},
		{"badHeartbeat", func(c *appConfig) { c.heartbeat = 0 }},
		{"badMaintenance", func(c *appConfig) { c.maintenance = 0 }},
		{"negIdle", func(c *appConfig) { c.pollIdle = -time.Millisecond }},
		{"badLocal", func(c *appConfig) { c.localAddr = "6000" }},
		{"destNoPort", func(c *appConfig) { c.dest = "10.0.0.9" }},
		{"destNoHost", func(c *appConfig) { c.dest = ":6000" }},
		{"destBadPort", func(c *appConfig) { c.dest = "10.0.0.9:70000" }},
		{"destBadIPv4", func(c *appConfig) { c.dest = "10.0.300.9:6000" }},
		{"destShortIPv4", func(c *appConfig) { c.dest = "10.0.9:6000" }},
		{"negLogSize", func(c *appConfig) { c.logMaxSizeMB = -1 }},
		{"negMetricsLog", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := defaultConfig()
			tc.mod(c)
			if err := c.validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfigValidate_DestForms(t *testing.T) {
	for _, d := range []string{"10.0.0.9:6000", "255.255.255.255:6000", "collector.local:6000", "host-1:1"} {
		c := defaultConfig()
		c.dest = d
		if err := c.validate(); err != nil {
			t.Fatalf("%s: %v", d, err)
		}
	}
}

func TestConfigValidate_ZeroTimeoutAllowed(t *testing.T) {
	c := defaultConfig()
	c.cacheTimeout = 0
	if err := c.validate(); err != nil {
		t.Fatalf("zero cache-timeout should be valid: %v", err)
	}
}

func TestParseArgs_Flags(t *testing.T) {
	cfg, ver, err := parseArgs([]string{
		"-backend", "serial", "-serial", "/dev/ttyACM0",
		"-dest", "10.0.0.9:6001", "-cache-size", "16", "-cache-timeout", "0",
		"-poll-idle", "0s",
	}, io.Discard)
	if err != nil || ver {
		t.Fatalf("parseArgs: %v ver=%v", err, ver)
	}
	if cfg.backend != "serial" || cfg.serialDev != "/dev/ttyACM0" || cfg.dest != "10.0.0.9:6001" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.cacheSize != 16 || cfg.cacheTimeout != 0 || cfg.pollIdle != 0 {
		t.Fatalf("unexpected batching config %+v", cfg)
	}
}

func TestParseArgs_Version(t *testing.T) {
	_, ver, err := parseArgs([]string{"-version"}, io.Discard)
	if err != nil || !ver {
		t.Fatalf("expected version request, err=%v", err)
	}
}

func TestParseArgs_Invalid(t *testing.T) {
	_, _, err := parseArgs([]string{"-cache-size", "500"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "cache-size") {
		t.Fatalf("expected cache-size error, got %v", err)
	}
	if _, _, err := parseArgs([]string{"-no-such-flag"}, io.Discard); err == nil {
		t.Fatalf("expected unknown flag error")
	}
}
