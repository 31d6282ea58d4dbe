package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-can-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SourceDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "source_dropped_frames_total",
		Help: "Total CAN frames dropped because the source queue was full.",
	})
	CacheIngestedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_ingested_frames_total",
		Help: "Total CAN frames accepted into the batch cache.",
	})
	CacheRejectedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_rejected_frames_total",
		Help: "Total CAN frames refused by a full batch cache.",
	})
	CacheOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_occupancy",
		Help: "Frames buffered in the batch cache after the last poll iteration.",
	})
	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_flushes_total",
		Help: "Batch cache flushes by trigger.",
	}, []string{"reason"})
	DatagramsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_datagrams_total",
		Help: "Total datagrams handed to the UDP socket.",
	})
	DatagramBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_bytes_total",
		Help: "Total UDP payload bytes sent.",
	})
	DatagramRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_records_total",
		Help: "Total CAN records carried by sent datagrams.",
	})
	DatagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_tx_dropped_datagrams_total",
		Help: "Total datagrams dropped because the send failed.",
	})
	DatagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_rx_datagrams_total",
		Help: "Total inbound datagrams received on the bound port (discarded).",
	})
	LinkUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_up",
		Help: "1 when the monitored network link is up.",
	})
	LinkTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_transitions_total",
		Help: "Total observed link up/down transitions.",
	})
	Heartbeat = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heartbeat",
		Help: "Toggles every heartbeat period while the poll loop is alive.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid length, flags, checksum, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrUDPSend       = "udp_send"
	ErrUDPRead       = "udp_read"
	ErrResolve       = "resolve"
	ErrLinkPoll      = "link_poll"
	ErrSerialRead    = "serial_read"
	ErrSocketCANRead = "socketcan_read"
)

// Flush reason label values.
const (
	FlushFull     = "full"
	FlushTimeout  = "timeout"
	FlushShutdown = "shutdown"
)

// Handler serves Prometheus metrics at /metrics and readiness at /ready.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	return mux
}

// StartHTTP serves Handler on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: Handler(),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx     uint64
	localSocketCANRx  uint64
	localSourceDrop   uint64
	localIngested     uint64
	localRejected     uint64
	localOccupancy    uint64
	localFlushFull    uint64
	localFlushTimeout uint64
	localFlushStop    uint64
	localTxDatagrams  uint64
	localTxBytes      uint64
	localTxRecords    uint64
	localTxDropped    uint64
	localRxDatagrams  uint64
	localLinkUp       uint64
	localLinkChanges  uint64
	localErrors       uint64
	localMalformed    uint64
	localHeartbeat    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx        uint64
	SocketCANRx     uint64
	SourceDrops     uint64
	Ingested        uint64
	Rejected        uint64
	Occupancy       uint64
	FlushFull       uint64
	FlushTimeout    uint64
	FlushShutdown   uint64
	TxDatagrams     uint64
	TxBytes         uint64
	TxRecords       uint64
	TxDropped       uint64
	RxDatagrams     uint64
	LinkUp          bool
	LinkTransitions uint64
	Errors          uint64 // sum across error labels
	Malformed       uint64
	Heartbeats      uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:        atomic.LoadUint64(&localSerialRx),
		SocketCANRx:     atomic.LoadUint64(&localSocketCANRx),
		SourceDrops:     atomic.LoadUint64(&localSourceDrop),
		Ingested:        atomic.LoadUint64(&localIngested),
		Rejected:        atomic.LoadUint64(&localRejected),
		Occupancy:       atomic.LoadUint64(&localOccupancy),
		FlushFull:       atomic.LoadUint64(&localFlushFull),
		FlushTimeout:    atomic.LoadUint64(&localFlushTimeout),
		FlushShutdown:   atomic.LoadUint64(&localFlushStop),
		TxDatagrams:     atomic.LoadUint64(&localTxDatagrams),
		TxBytes:         atomic.LoadUint64(&localTxBytes),
		TxRecords:       atomic.LoadUint64(&localTxRecords),
		TxDropped:       atomic.LoadUint64(&localTxDropped),
		RxDatagrams:     atomic.LoadUint64(&localRxDatagrams),
		LinkUp:          atomic.LoadUint64(&localLinkUp) == 1,
		LinkTransitions: atomic.LoadUint64(&localLinkChanges),
		Errors:          atomic.LoadUint64(&localErrors),
		Malformed:       atomic.LoadUint64(&localMalformed),
		Heartbeats:      atomic.LoadUint64(&localHeartbeat),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

// IncSocketCANRx increments SocketCAN receive counters.
func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSourceDrop() {
	SourceDroppedFrames.Inc()
	atomic.AddUint64(&localSourceDrop, 1)
}

func IncIngested() {
	CacheIngestedFrames.Inc()
	atomic.AddUint64(&localIngested, 1)
}

func IncRejected() {
	CacheRejectedFrames.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func SetOccupancy(n int) {
	CacheOccupancy.Set(float64(n))
	atomic.StoreUint64(&localOccupancy, uint64(n))
}

// IncFlush counts a flush under reason (FlushFull, FlushTimeout or FlushShutdown).
func IncFlush(reason string) {
	Flushes.WithLabelValues(reason).Inc()
	switch reason {
	case FlushFull:
		atomic.AddUint64(&localFlushFull, 1)
	case FlushTimeout:
		atomic.AddUint64(&localFlushTimeout, 1)
	case FlushShutdown:
		atomic.AddUint64(&localFlushStop, 1)
	}
}

// AddDatagramSent records one successfully sent datagram.
func AddDatagramSent(bytes, records int) {
	DatagramsSent.Inc()
	DatagramBytes.Add(float64(bytes))
	DatagramRecords.Add(float64(records))
	atomic.AddUint64(&localTxDatagrams, 1)
	atomic.AddUint64(&localTxBytes, uint64(bytes))
	atomic.AddUint64(&localTxRecords, uint64(records))
}

func IncDatagramDropped() {
	DatagramsDropped.Inc()
	atomic.AddUint64(&localTxDropped, 1)
}

func IncDatagramReceived() {
	DatagramsReceived.Inc()
	atomic.AddUint64(&localRxDatagrams, 1)
}

// SetLinkUp records the current link state; transitions are counted by the caller via IncLinkTransition.
func SetLinkUp(up bool) {
	var v uint64
	if up {
		v = 1
	}
	LinkUp.Set(float64(v))
	atomic.StoreUint64(&localLinkUp, v)
}

func IncLinkTransition() {
	LinkTransitions.Inc()
	atomic.AddUint64(&localLinkChanges, 1)
}

// ToggleHeartbeat flips the heartbeat gauge and returns the new state.
func ToggleHeartbeat() bool {
	n := atomic.AddUint64(&localHeartbeat, 1)
	on := n%2 == 1
	if on {
		Heartbeat.Set(1)
	} else {
		Heartbeat.Set(0)
	}
	return on
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrUDPSend, ErrUDPRead, ErrResolve, ErrLinkPoll,
		ErrSerialRead, ErrSocketCANRead,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	Flushes.WithLabelValues(FlushFull).Add(0)
	Flushes.WithLabelValues(FlushTimeout).Add(0)
	Flushes.WithLabelValues(FlushShutdown).Add(0)
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
