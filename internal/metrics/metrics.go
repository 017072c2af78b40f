// Package metrics exposes Prometheus instrumentation for the engine:
// kernel open/close latency, persistence queue depth and circuit
// breaker state, gateway connection and dropped-frame counts, and
// trigger engine fire counts per reason.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric the engine updates during operation and
// the prometheus.Registerer they are registered against.
type Registry struct {
	OpenLatencyMs  prometheus.Histogram
	CloseLatencyMs prometheus.Histogram

	QueueDepth     *prometheus.GaugeVec
	CircuitBreaker *prometheus.GaugeVec // 0 = closed, 1 = open, per queue name

	GatewayConnections  prometheus.Gauge
	GatewayFramesDropped *prometheus.CounterVec

	TriggerFires *prometheus.CounterVec // labels: engine, reason
}

// New creates and registers every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		OpenLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_open_latency_ms",
			Help:    "Order Executor end-to-end latency in milliseconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
		}),
		CloseLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_close_latency_ms",
			Help:    "Close Executor end-to-end latency in milliseconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_persistence_queue_depth",
			Help: "Current depth of a bounded persistence queue.",
		}, []string{"queue"}),
		CircuitBreaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_persistence_circuit_breaker_open",
			Help: "1 if a persistence queue's circuit breaker is tripped, 0 otherwise.",
		}, []string{"queue"}),
		GatewayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_gateway_connections",
			Help: "Number of live Session Gateway connections.",
		}),
		GatewayFramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_gateway_frames_dropped_total",
			Help: "Outbound frames dropped for backpressure, by frame type.",
		}, []string{"type"}),
		TriggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trigger_fires_total",
			Help: "Trigger engine fires, by engine and close/warn reason.",
		}, []string{"engine", "reason"}),
	}

	reg.MustRegister(
		m.OpenLatencyMs, m.CloseLatencyMs,
		m.QueueDepth, m.CircuitBreaker,
		m.GatewayConnections, m.GatewayFramesDropped,
		m.TriggerFires,
	)
	return m
}
