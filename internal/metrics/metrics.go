package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry wraps the Prometheus collectors used by the dredigo server.
type Registry struct {
	Connections gaugeVec
	Commands    counterVec
	PubSub      pubsubCounterVec
	Store       storeCounterVec
	Process     processGaugeVec
}

type gaugeVec struct {
	ActiveConnections prometheus.Gauge
}

type counterVec struct {
	Total          prometheus.Counter
	ProtocolErrors prometheus.Counter
	UnknownVerb    prometheus.Counter
	AcceptErrors   prometheus.Counter
}

type pubsubCounterVec struct {
	Published prometheus.Counter
	Delivered prometheus.Counter
	Dropped   prometheus.Counter
}

type storeCounterVec struct {
	KeysExpiredTotal prometheus.Counter
}

type processGaugeVec struct {
	CPUPercent prometheus.Gauge
	RSSBytes   prometheus.Gauge
}

// NewRegistry creates the Prometheus collectors for the server.
func NewRegistry() *Registry {
	return &Registry{
		Connections: gaugeVec{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "dredigo_connections_active",
				Help: "Number of active client connections.",
			}),
		},
		Commands: counterVec{
			Total: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_commands_total",
				Help: "Total number of commands dispatched.",
			}),
			ProtocolErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_protocol_errors_total",
				Help: "Total number of structured protocol errors returned to clients.",
			}),
			UnknownVerb: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_unknown_command_total",
				Help: "Total number of commands with an unrecognized verb.",
			}),
			AcceptErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_accept_errors_total",
				Help: "Total number of TCP accept errors.",
			}),
		},
		PubSub: pubsubCounterVec{
			Published: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_pubsub_published_total",
				Help: "Total number of PUBLISH commands processed.",
			}),
			Delivered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_pubsub_delivered_total",
				Help: "Total number of pub/sub frames successfully queued for delivery.",
			}),
			Dropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_pubsub_dropped_total",
				Help: "Total number of pub/sub frames dropped due to a full send queue or a full fan-out job queue.",
			}),
		},
		Store: storeCounterVec{
			KeysExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dredigo_keys_expired_total",
				Help: "Total number of keys reaped by the active expirer.",
			}),
		},
		Process: processGaugeVec{
			CPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "dredigo_process_cpu_percent",
				Help: "Process CPU usage percent, sampled periodically.",
			}),
			RSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "dredigo_process_rss_bytes",
				Help: "Process resident set size in bytes, sampled periodically.",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// SampleProcess periodically refreshes process CPU/RSS gauges using gopsutil
// until ctx is canceled. This is ambient diagnostics, not part of the RESP
// protocol surface.
func (r *Registry) SampleProcess(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pct, err := proc.CPUPercent(); err == nil {
				r.Process.CPUPercent.Set(pct)
			}
			if info, err := proc.MemoryInfo(); err == nil && info != nil {
				r.Process.RSSBytes.Set(float64(info.RSS))
			}
		}
	}
}
