package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors appConfig with string durations so both TOML and YAML
// stay readable. Unset keys leave the default in place.
type fileConfig struct {
	Backend             string `toml:"backend" yaml:"backend"`
	CANIf               string `toml:"can_if" yaml:"can_if"`
	Serial              string `toml:"serial" yaml:"serial"`
	Baud                int    `toml:"baud" yaml:"baud"`
	SerialReadTimeout   string `toml:"serial_read_timeout" yaml:"serial_read_timeout"`
	SourceQueue         int    `toml:"source_queue" yaml:"source_queue"`
	Local               string `toml:"local" yaml:"local"`
	Dest                string `toml:"dest" yaml:"dest"`
	LinkIf              string `toml:"link_if" yaml:"link_if"`
	LinkPollInterval    string `toml:"link_poll_interval" yaml:"link_poll_interval"`
	CacheSize           int    `toml:"cache_size" yaml:"cache_size"`
	CacheTimeout        *int   `toml:"cache_timeout" yaml:"cache_timeout"`
	TickRate            int    `toml:"tick_rate" yaml:"tick_rate"`
	HeartbeatInterval   string `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaintenanceInterval string `toml:"maintenance_interval" yaml:"maintenance_interval"`
	PollIdle            string `toml:"poll_idle" yaml:"poll_idle"`
	Log                 struct {
		Format     string `toml:"format" yaml:"format"`
		Level      string `toml:"level" yaml:"level"`
		File       string `toml:"file" yaml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	} `toml:"log" yaml:"log"`
	MetricsAddr        string `toml:"metrics_addr" yaml:"metrics_addr"`
	LogMetricsInterval string `toml:"log_metrics_interval" yaml:"log_metrics_interval"`
	MDNS               struct {
		Enable *bool  `toml:"enable" yaml:"enable"`
		Name   string `toml:"name" yaml:"name"`
	} `toml:"mdns" yaml:"mdns"`
}

// loadFileConfig parses path as TOML or YAML depending on its extension.
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		return fc, fmt.Errorf("unsupported config extension %q (use .toml, .yaml or .yml)", filepath.Ext(path))
	}
	return fc, err
}

// applyFileConfig copies values from fc into cfg, skipping flags that were
// set explicitly.
func applyFileConfig(cfg *appConfig, fc fileConfig, set map[string]struct{}) error {
	s := &setter{set: set, source: "file"}
	itoa := func(n int) string {
		if n == 0 {
			return ""
		}
		return strconv.Itoa(n)
	}

	s.str("backend", fc.Backend, &cfg.backend)
	s.str("can-if", fc.CANIf, &cfg.canIf)
	s.str("serial", fc.Serial, &cfg.serialDev)
	s.num("baud", "baud", itoa(fc.Baud), &cfg.baud)
	s.dur("serial-read-timeout", "serial_read_timeout", fc.SerialReadTimeout, &cfg.serialReadTO)
	s.num("source-queue", "source_queue", itoa(fc.SourceQueue), &cfg.sourceQueue)

	s.str("local", fc.Local, &cfg.localAddr)
	s.str("dest", fc.Dest, &cfg.dest)
	s.str("link-if", fc.LinkIf, &cfg.linkIf)
	s.dur("link-poll-interval", "link_poll_interval", fc.LinkPollInterval, &cfg.linkPoll)

	s.num("cache-size", "cache_size", itoa(fc.CacheSize), &cfg.cacheSize)
	if fc.CacheTimeout != nil {
		s.num("cache-timeout", "cache_timeout", strconv.Itoa(*fc.CacheTimeout), &cfg.cacheTimeout)
	}
	s.num("tick-rate", "tick_rate", itoa(fc.TickRate), &cfg.tickRate)
	s.dur("heartbeat-interval", "heartbeat_interval", fc.HeartbeatInterval, &cfg.heartbeat)
	s.dur("maintenance-interval", "maintenance_interval", fc.MaintenanceInterval, &cfg.maintenance)
	s.dur("poll-idle", "poll_idle", fc.PollIdle, &cfg.pollIdle)

	s.str("log-format", fc.Log.Format, &cfg.logFormat)
	s.str("log-level", fc.Log.Level, &cfg.logLevel)
	s.str("log-file", fc.Log.File, &cfg.logFile)
	s.num("log-max-size-mb", "log.max_size_mb", itoa(fc.Log.MaxSizeMB), &cfg.logMaxSizeMB)
	s.num("log-max-backups", "log.max_backups", itoa(fc.Log.MaxBackups), &cfg.logMaxBackups)
	s.num("log-max-age-days", "log.max_age_days", itoa(fc.Log.MaxAgeDays), &cfg.logMaxAgeDays)

	s.str("metrics-addr", fc.MetricsAddr, &cfg.metricsAddr)
	s.dur("log-metrics-interval", "log_metrics_interval", fc.LogMetricsInterval, &cfg.logMetricsEvery)
	if fc.MDNS.Enable != nil && !s.skip("mdns-enable") {
		cfg.mdnsEnable = *fc.MDNS.Enable
	}
	s.str("mdns-name", fc.MDNS.Name, &cfg.mdnsName)
	return s.err
}
