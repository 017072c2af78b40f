package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersEveryMetric(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OpenLatencyMs.Observe(1.5)
	m.QueueDepth.WithLabelValues("write").Set(3)
	m.TriggerFires.WithLabelValues("tpsl", "TP").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	for _, name := range []string{
		"engine_open_latency_ms",
		"engine_close_latency_ms",
		"engine_persistence_queue_depth",
		"engine_persistence_circuit_breaker_open",
		"engine_gateway_connections",
		"engine_gateway_frames_dropped_total",
		"engine_trigger_fires_total",
	} {
		if _, ok := byName[name]; !ok {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestTriggerFiresLabelled(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TriggerFires.WithLabelValues("liquidation", "LIQUIDATION").Inc()
	m.TriggerFires.WithLabelValues("liquidation", "LIQUIDATION").Inc()

	if got := testutilCounterValue(t, m.TriggerFires.WithLabelValues("liquidation", "LIQUIDATION")); got != 2 {
		t.Errorf("counter value = %v, want 2", got)
	}
}

func testutilCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
