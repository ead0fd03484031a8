// Package metrics exposes Prometheus metrics for the endpoint and world,
// adapted from the teacher's ws/metrics.go: the same package-global
// counter/gauge/histogram layout and init-time MustRegister pattern,
// retargeted from WebSocket broadcast metrics to connection-channel and
// ECS frame metrics.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neutronium_connections_total",
		Help: "Total number of connections accepted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_connections_active",
		Help: "Current number of connected channels",
	})

	ConnectionsMax = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_connections_max",
		Help: "Maximum allowed connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neutronium_connections_rejected_total",
		Help: "Total connection attempts rejected, by reason",
	}, []string{"reason"})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neutronium_disconnects_total",
		Help: "Total disconnects by reason",
	}, []string{"reason"})

	ConnectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neutronium_connection_duration_seconds",
		Help:    "Connection duration before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	})

	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neutronium_frames_sent_total",
		Help: "Total frames sent, by category",
	}, []string{"category"})

	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neutronium_frames_received_total",
		Help: "Total frames received, by category",
	}, []string{"category"})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neutronium_bytes_sent_total",
		Help: "Total bytes sent to channels",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neutronium_bytes_received_total",
		Help: "Total bytes received from channels",
	})

	FrameErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neutronium_frame_errors_total",
		Help: "Total fatal frame/channel errors, by kind",
	}, []string{"kind"})

	WorldStepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neutronium_world_step_duration_seconds",
		Help:    "Wall-clock duration of one ECS World.Step call",
		Buckets: prometheus.DefBuckets,
	})

	HousekeepingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "neutronium_endpoint_housekeeping_duration_seconds",
		Help:    "Wall-clock duration of one Endpoint housekeeping sweep",
		Buckets: prometheus.DefBuckets,
	})

	WorldEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_world_entities",
		Help: "Current number of live entities",
	})

	WorldShards = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_world_shards",
		Help: "Current number of populated shards",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_memory_bytes",
		Help: "Current process memory usage",
	})

	MemoryLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_memory_limit_bytes",
		Help: "Memory limit, from cgroup when containerized",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_cpu_usage_percent",
		Help: "Current CPU usage as a percentage of the container/host allocation",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neutronium_goroutines_active",
		Help: "Current number of goroutines",
	})

	BridgeMessagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neutronium_bridge_messages_published_total",
		Help: "Total messages published to the NATS relay bridge",
	})

	BridgeMessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "neutronium_bridge_messages_received_total",
		Help: "Total messages received from the NATS relay bridge",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsMax,
		ConnectionsRejected,
		DisconnectsTotal,
		ConnectionDuration,
		FramesSent,
		FramesReceived,
		BytesSent,
		BytesReceived,
		FrameErrors,
		WorldStepDuration,
		HousekeepingDuration,
		WorldEntities,
		WorldShards,
		MemoryUsageBytes,
		MemoryLimitBytes,
		CPUUsagePercent,
		GoroutinesActive,
		BridgeMessagesPublished,
		BridgeMessagesReceived,
	)
}

// Handler returns the HTTP handler that serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CollectRuntime samples Go runtime stats into the relevant gauges. The
// server calls it on a ticker from its runtime-metrics goroutine.
func CollectRuntime() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryUsageBytes.Set(float64(mem.Alloc))
	GoroutinesActive.Set(float64(runtime.NumGoroutine()))
}

// RecordFrameError increments the frame error counter for kind.
func RecordFrameError(kind string) {
	FrameErrors.WithLabelValues(kind).Inc()
}

// RecordDisconnect increments the disconnect counter and duration
// histogram for reason.
func RecordDisconnect(reason string, duration time.Duration) {
	DisconnectsTotal.WithLabelValues(reason).Inc()
	ConnectionDuration.Observe(duration.Seconds())
}
