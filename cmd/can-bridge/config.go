package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-bridge/internal/addr"
	"github.com/kstaniek/go-can-bridge/internal/batch"
	"github.com/kstaniek/go-can-bridge/internal/netstack"
	"github.com/kstaniek/go-can-bridge/internal/source"
	"github.com/kstaniek/go-can-bridge/internal/tick"
	"github.com/kstaniek/go-can-bridge/internal/wire"
)

type appConfig struct {
	backend      string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	sourceQueue  int

	localAddr string
	dest      string
	linkIf    string
	linkPoll  time.Duration

	cacheSize     int
	cacheTimeout  int // ticks
	tickRate      int // Hz
	heartbeat     time.Duration
	maintenance   time.Duration
	pollIdle      time.Duration
	configPath    string
	logFormat     string
	logLevel      string
	logFile       string
	logMaxSizeMB  int
	logMaxBackups int
	logMaxAgeDays int

	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		backend:       "socketcan",
		canIf:         "can0",
		serialDev:     "/dev/ttyUSB0",
		baud:          115200,
		serialReadTO:  50 * time.Millisecond,
		sourceQueue:   source.DefaultSize,
		localAddr:     ":" + strconv.Itoa(netstack.DefaultPort),
		dest:          "255.255.255.255:" + strconv.Itoa(netstack.DefaultPort),
		linkPoll:      100 * time.Millisecond,
		cacheSize:     batch.DefaultCapacity,
		cacheTimeout:  batch.DefaultTimeout,
		tickRate:      tick.DefaultHz,
		heartbeat:     time.Second,
		maintenance:   5 * time.Second,
		pollIdle:      100 * time.Microsecond,
		logFormat:     "text",
		logLevel:      "info",
		logMaxSizeMB:  10,
		logMaxBackups: 3,
		logMaxAgeDays: 28,
	}
}

func parseFlags() (*appConfig, bool) {
	cfg, showVersion, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, showVersion
	}
	return cfg, showVersion
}

// parseArgs resolves configuration with precedence flag > env > file > default.
func parseArgs(args []string, out io.Writer) (*appConfig, bool, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("can-bridge", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.backend, "backend", cfg.backend, "CAN backend: serial|socketcan")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface (when -backend=socketcan)")
	fs.StringVar(&cfg.serialDev, "serial", cfg.serialDev, "Serial device path (when -backend=serial)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial read timeout")
	fs.IntVar(&cfg.sourceQueue, "source-queue", cfg.sourceQueue, "Frames buffered between the CAN backend and the poll loop")
	fs.StringVar(&cfg.localAddr, "local", cfg.localAddr, "Local UDP bind address")
	fs.StringVar(&cfg.dest, "dest", cfg.dest, "Destination host:port for batched datagrams")
	fs.StringVar(&cfg.linkIf, "link-if", cfg.linkIf, "Network interface whose link state is monitored (empty = assume up)")
	fs.DurationVar(&cfg.linkPoll, "link-poll-interval", cfg.linkPoll, "Link state poll interval")
	fs.IntVar(&cfg.cacheSize, "cache-size", cfg.cacheSize, fmt.Sprintf("Frames per datagram (1..%d)", wire.MaxRecords))
	fs.IntVar(&cfg.cacheTimeout, "cache-timeout", cfg.cacheTimeout, "Ticks since last flush before a partial batch is sent (0 = every iteration)")
	fs.IntVar(&cfg.tickRate, "tick-rate", cfg.tickRate, "Tick clock rate in Hz")
	fs.DurationVar(&cfg.heartbeat, "heartbeat-interval", cfg.heartbeat, "Heartbeat period")
	fs.DurationVar(&cfg.maintenance, "maintenance-interval", cfg.maintenance, "Destination re-resolution period")
	fs.DurationVar(&cfg.pollIdle, "poll-idle", cfg.pollIdle, "Pause after an idle poll iteration (0 = yield only)")
	fs.StringVar(&cfg.configPath, "config", "", "Optional config file (.toml, .yaml or .yml)")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Also write logs to this rotating file")
	fs.IntVar(&cfg.logMaxSizeMB, "log-max-size-mb", cfg.logMaxSizeMB, "Log file size before rotation")
	fs.IntVar(&cfg.logMaxBackups, "log-max-backups", cfg.logMaxBackups, "Rotated log files to keep")
	fs.IntVar(&cfg.logMaxAgeDays, "log-max-age-days", cfg.logMaxAgeDays, "Days to keep rotated log files")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default can-bridge-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	path := cfg.configPath
	if v, ok := os.LookupEnv("CAN_BRIDGE_CONFIG"); ok && path == "" {
		path = strings.TrimSpace(v)
	}
	if path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return nil, false, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := applyFileConfig(cfg, fc, setFlags); err != nil {
			return nil, false, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// validate performs semantic validation of the parsed configuration.
// It does not open devices or sockets, and only checks values and ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.backend == "socketcan" && c.canIf == "" {
		return errors.New("can-if must be set for the socketcan backend")
	}
	if c.backend == "serial" && c.serialDev == "" {
		return errors.New("serial must be set for the serial backend")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.sourceQueue <= 0 {
		return fmt.Errorf("source-queue must be > 0 (got %d)", c.sourceQueue)
	}
	if c.cacheSize < 1 || c.cacheSize > wire.MaxRecords {
		return fmt.Errorf("cache-size must be in 1..%d (got %d)", wire.MaxRecords, c.cacheSize)
	}
	if c.cacheTimeout < 0 {
		return fmt.Errorf("cache-timeout must be >= 0 (got %d)", c.cacheTimeout)
	}
	if c.tickRate <= 0 || c.tickRate > 100_000 {
		return fmt.Errorf("tick-rate must be in 1..100000 (got %d)", c.tickRate)
	}
	if c.linkPoll <= 0 {
		return fmt.Errorf("link-poll-interval must be > 0")
	}
	if c.heartbeat <= 0 {
		return fmt.Errorf("heartbeat-interval must be > 0")
	}
	if c.maintenance <= 0 {
		return fmt.Errorf("maintenance-interval must be > 0")
	}
	if c.pollIdle < 0 {
		return fmt.Errorf("poll-idle must be >= 0")
	}
	if _, _, err := net.SplitHostPort(c.localAddr); err != nil {
		return fmt.Errorf("invalid local address %q: %v", c.localAddr, err)
	}
	if err := validateDest(c.dest); err != nil {
		return err
	}
	if c.logMaxSizeMB < 0 || c.logMaxBackups < 0 || c.logMaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// validateDest accepts host:port where host is an IPv4 literal or a
// hostname. Text that looks numeric must be a well-formed IPv4 address.
func validateDest(dest string) error {
	host, port, err := net.SplitHostPort(dest)
	if err != nil {
		return fmt.Errorf("invalid dest %q: %v", dest, err)
	}
	if host == "" {
		return fmt.Errorf("invalid dest %q: missing host", dest)
	}
	if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid dest port %q", port)
	}
	if strings.Trim(host, "0123456789.") == "" {
		if _, err := addr.ParseIPv4(host); err != nil {
			return fmt.Errorf("invalid dest: %w", err)
		}
	}
	return nil
}
