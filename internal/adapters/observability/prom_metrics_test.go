package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := NewPromObs()

	obs.IncCounter(ports.MetricFramesSampled, 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricFramesSampled]); got != 5 {
		t.Fatalf("expected frames counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricDeliveredFallback, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricDeliveredFallback]); got != 2 {
		t.Fatalf("expected fallback counter 2, got %f", got)
	}

	obs.SetGauge(ports.GaugeBlackboxBytes, 42)
	if got := testutil.ToFloat64(obs.gauges[ports.GaugeBlackboxBytes]); got != 42 {
		t.Fatalf("expected blackbox gauge 42, got %f", got)
	}

	obs.ObserveLatency(ports.LatencyTick, 0.005)
	hCollector := obs.histos[ports.LatencyTick].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected tick histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("unknown_metric", 1)
	obs.SetGauge("unknown_gauge", 1)

	obs.RecordCrash(&domain.CrashPackage{ID: "c-1", Severity: domain.SeverityHigh}, "delivered_primary")
	if got := testutil.ToFloat64(obs.outcomes.WithLabelValues("HIGH", "delivered_primary")); got != 1 {
		t.Fatalf("expected outcome counter 1, got %f", got)
	}
	obs.RecordCrash(nil, "failed_both")
}

func TestPromObsStructuredLogs(t *testing.T) {
	var buf bytes.Buffer
	obs := NewPromObsWith(prometheus.NewRegistry(), slog.New(slog.NewJSONHandler(&buf, nil)))

	obs.LogError("radio_send_failed", errors.New("port closed"), ports.Field{Key: "bytes", Value: 88})
	obs.LogCritical("blackbox_unhealthy", errors.New("disk full"))

	out := buf.String()
	for _, want := range []string{`"msg":"radio_send_failed"`, `"bytes":88`, `"err":"port closed"`, `"critical":true`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %s, got %s", want, out)
		}
	}
}
