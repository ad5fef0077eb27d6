package observability

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

// PromObs exports node metrics to Prometheus and writes structured logs.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
	outcomes *prometheus.CounterVec
}

// NewPromObs registers on the default registry and logs JSON to stderr.
func NewPromObs() *PromObs {
	return NewPromObsWith(prometheus.DefaultRegisterer, slog.New(slog.NewJSONHandler(os.Stderr, nil)))
}

func NewPromObsWith(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PromObs{
		log:      logger,
		counters: map[string]prometheus.Counter{},
		gauges:   map[string]prometheus.Gauge{},
		histos:   map[string]prometheus.Observer{},
	}

	counter := func(name, help string) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		p.counters[name] = c
	}
	gauge := func(name, help string) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		p.gauges[name] = g
	}
	histo := func(name, help string, buckets []float64) {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
		reg.MustRegister(h)
		p.histos[name] = h
	}

	counter(ports.MetricFramesSampled, "Sensor frames sampled by the acquisition loop.")
	counter(ports.MetricCrashesConfirmed, "Impacts confirmed by trigger and acceleration correlation.")
	counter(ports.MetricDeliveryAttempts, "Publish attempts on the primary transport.")
	counter(ports.MetricDeliveredPrimary, "Crash packages delivered over the primary transport.")
	counter(ports.MetricDeliveredFallback, "Crash summaries sent over the radio fallback.")
	counter(ports.MetricDeliveryFailed, "Crash packages that failed on both transports.")
	counter(ports.MetricBlackboxFailures, "Failed blackbox appends.")
	counter(ports.MetricBlackboxRotations, "Blackbox log rotations.")
	counter(ports.MetricSensorReadErrors, "Individual sensor reads that failed and fell back to defaults.")

	gauge(ports.GaugePrimaryConnected, "1 when the primary transport reports a live session.")
	gauge(ports.GaugePayloadBytes, "Size of the last crash payload handed to the primary transport.")
	gauge(ports.GaugeBlackboxBytes, "Size of the active blackbox log.")
	gauge(ports.GaugeBlackboxHealthy, "0 once consecutive blackbox failures reach the threshold.")
	gauge(ports.GaugePreEventFrames, "Frames currently held in the pre-event buffer.")
	gauge(ports.GaugeSensorHealth, "Sensors currently reporting healthy.")

	histo(ports.LatencyTick, "Duration of one acquisition tick.", prometheus.ExponentialBuckets(0.0001, 2, 12))
	histo(ports.LatencyDelivery, "Time from confirmation to delivery outcome.", prometheus.ExponentialBuckets(0.01, 2, 12))

	p.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshtrace_crash_outcomes_total",
		Help: "Crash packages by severity and delivery outcome.",
	}, []string{"severity", "outcome"})
	reg.MustRegister(p.outcomes)

	return p
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordCrash(pkg *domain.CrashPackage, outcome string) {
	if pkg == nil {
		return
	}
	p.outcomes.WithLabelValues(string(pkg.Severity), outcome).Inc()
	p.log.Info("crash_recorded",
		slog.String("crash_id", pkg.ID),
		slog.String("severity", string(pkg.Severity)),
		slog.Float64("magnitude", pkg.Magnitude),
		slog.Float64("confidence", pkg.Confidence),
		slog.String("outcome", outcome),
	)
}

var _ ports.Observability = (*PromObs)(nil)
