package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// setter applies values to config fields unless the matching flag was set
// on the command line. The first parse error is kept.
type setter struct {
	set    map[string]struct{}
	source string
	err    error
}

func (s *setter) skip(flagName string) bool {
	_, ok := s.set[flagName]
	return ok
}

func (s *setter) fail(key string, err error) {
	if s.err == nil {
		s.err = fmt.Errorf("invalid %s %s: %w", s.source, key, err)
	}
}

func (s *setter) str(flagName, v string, dst *string) {
	if v == "" || s.skip(flagName) {
		return
	}
	*dst = v
}

func (s *setter) num(flagName, key, v string, dst *int) {
	if v == "" || s.skip(flagName) {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.fail(key, err)
		return
	}
	*dst = n
}

func (s *setter) dur(flagName, key, v string, dst *time.Duration) {
	if v == "" || s.skip(flagName) {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		s.fail(key, err)
		return
	}
	*dst = d
}

func (s *setter) boolean(flagName, key, v string, dst *bool) {
	if v == "" || s.skip(flagName) {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		s.fail(key, fmt.Errorf("not a boolean: %q", v))
	}
}

// applyEnvOverrides maps CAN_BRIDGE_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored.
// Durations use time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	s := &setter{set: set, source: "env"}
	get := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }

	s.str("backend", get("CAN_BRIDGE_BACKEND"), &c.backend)
	s.str("can-if", get("CAN_BRIDGE_IF"), &c.canIf)
	s.str("serial", get("CAN_BRIDGE_SERIAL"), &c.serialDev)
	s.num("baud", "CAN_BRIDGE_BAUD", get("CAN_BRIDGE_BAUD"), &c.baud)
	s.dur("serial-read-timeout", "CAN_BRIDGE_SERIAL_READ_TIMEOUT", get("CAN_BRIDGE_SERIAL_READ_TIMEOUT"), &c.serialReadTO)
	s.num("source-queue", "CAN_BRIDGE_SOURCE_QUEUE", get("CAN_BRIDGE_SOURCE_QUEUE"), &c.sourceQueue)

	s.str("local", get("CAN_BRIDGE_LOCAL"), &c.localAddr)
	s.str("dest", get("CAN_BRIDGE_DEST"), &c.dest)
	s.str("link-if", get("CAN_BRIDGE_LINK_IF"), &c.linkIf)
	s.dur("link-poll-interval", "CAN_BRIDGE_LINK_POLL_INTERVAL", get("CAN_BRIDGE_LINK_POLL_INTERVAL"), &c.linkPoll)

	s.num("cache-size", "CAN_BRIDGE_CACHE_SIZE", get("CAN_BRIDGE_CACHE_SIZE"), &c.cacheSize)
	s.num("cache-timeout", "CAN_BRIDGE_CACHE_TIMEOUT", get("CAN_BRIDGE_CACHE_TIMEOUT"), &c.cacheTimeout)
	s.num("tick-rate", "CAN_BRIDGE_TICK_RATE", get("CAN_BRIDGE_TICK_RATE"), &c.tickRate)
	s.dur("heartbeat-interval", "CAN_BRIDGE_HEARTBEAT_INTERVAL", get("CAN_BRIDGE_HEARTBEAT_INTERVAL"), &c.heartbeat)
	s.dur("maintenance-interval", "CAN_BRIDGE_MAINTENANCE_INTERVAL", get("CAN_BRIDGE_MAINTENANCE_INTERVAL"), &c.maintenance)
	s.dur("poll-idle", "CAN_BRIDGE_POLL_IDLE", get("CAN_BRIDGE_POLL_IDLE"), &c.pollIdle)

	s.str("log-format", get("CAN_BRIDGE_LOG_FORMAT"), &c.logFormat)
	s.str("log-level", get("CAN_BRIDGE_LOG_LEVEL"), &c.logLevel)
	s.str("log-file", get("CAN_BRIDGE_LOG_FILE"), &c.logFile)
	s.num("log-max-size-mb", "CAN_BRIDGE_LOG_MAX_SIZE_MB", get("CAN_BRIDGE_LOG_MAX_SIZE_MB"), &c.logMaxSizeMB)
	s.num("log-max-backups", "CAN_BRIDGE_LOG_MAX_BACKUPS", get("CAN_BRIDGE_LOG_MAX_BACKUPS"), &c.logMaxBackups)
	s.num("log-max-age-days", "CAN_BRIDGE_LOG_MAX_AGE_DAYS", get("CAN_BRIDGE_LOG_MAX_AGE_DAYS"), &c.logMaxAgeDays)
	// an explicitly empty CAN_BRIDGE_METRICS disables the endpoint
	if v, ok := os.LookupEnv("CAN_BRIDGE_METRICS"); ok && !s.skip("metrics-addr") {
		c.metricsAddr = strings.TrimSpace(v)
	}
	s.dur("log-metrics-interval", "CAN_BRIDGE_LOG_METRICS_INTERVAL", get("CAN_BRIDGE_LOG_METRICS_INTERVAL"), &c.logMetricsEvery)
	s.boolean("mdns-enable", "CAN_BRIDGE_MDNS_ENABLE", get("CAN_BRIDGE_MDNS_ENABLE"), &c.mdnsEnable)
	s.str("mdns-name", get("CAN_BRIDGE_MDNS_NAME"), &c.mdnsName)
	return s.err
}
