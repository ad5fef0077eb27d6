package meshtrace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/MeshTrace/internal/adapters/blackbox"
	"github.com/ghalamif/MeshTrace/internal/adapters/codec"
	"github.com/ghalamif/MeshTrace/internal/adapters/mqtt"
	"github.com/ghalamif/MeshTrace/internal/adapters/observability"
	"github.com/ghalamif/MeshTrace/internal/adapters/queue"
	"github.com/ghalamif/MeshTrace/internal/adapters/radio"
	"github.com/ghalamif/MeshTrace/internal/adapters/sensors"
	"github.com/ghalamif/MeshTrace/internal/app/correlator"
	"github.com/ghalamif/MeshTrace/internal/app/pipeline"
	"github.com/ghalamif/MeshTrace/internal/app/publisher"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

// ErrNoSource is returned when neither simulation nor an injected FrameSource
// is available.
var ErrNoSource = errors.New("meshtrace: no frame source; enable simulation or use WithSource")

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source   FrameSource
	impact   []ImpactChannel
	simulate bool
	primary  PrimaryTransport
	fallback FallbackTransport
	key      []byte
	eventLog EventLog
	obs      Observability
	registry *prometheus.Registry
	logger   *slog.Logger
}

// WithSource drives the node from custom hardware drivers. The impact
// channels are the lines the correlator polls; at most four.
func WithSource(src FrameSource, impact ...ImpactChannel) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.source = src
		o.impact = impact
	}
}

// WithSimulation replaces the IMU, thermometer and GNSS with the bench
// simulator. Configured GPIO impact lines still replace the simulated line.
func WithSimulation() RuntimeOption {
	return func(o *runtimeOverrides) {
		o.simulate = true
	}
}

// WithPrimary replaces the MQTT client.
func WithPrimary(p PrimaryTransport) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.primary = p
	}
}

// WithFallback replaces the serial radio. Frames are sealed with key.
func WithFallback(f FallbackTransport, key []byte) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.fallback = f
		o.key = key
	}
}

// WithEventLog replaces the on-disk blackbox.
func WithEventLog(l EventLog) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.eventLog = l
	}
}

// WithObservability plugs in a custom logs and metrics backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.obs = obs
	}
}

// WithRegistry registers the default Prometheus metrics on reg instead of the
// global registry and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithLogger sets the logger behind the default observability backend.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// Runtime wires sensors -> pre-event buffer -> blackbox -> correlator ->
// failover publisher and serves /metrics and /healthz next to the sampling loop.
type Runtime struct {
	cfg       *Config
	obs       ports.Observability
	gatherer  prometheus.Gatherer
	source    ports.FrameSource
	composite *sensors.Composite
	sim       *sensors.Simulator
	log       ports.EventLog
	primary   ports.PrimaryTransport
	fallback  ports.FallbackTransport
	agent     *pipeline.Agent
	closers   []func() error

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRuntime builds the default adapters (composite sensors, file blackbox,
// MQTT client, serial radio when configured, Prometheus observability). Any
// of them can be replaced with a RuntimeOption.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	r := &Runtime{cfg: cfg}
	r.obs, r.gatherer = buildObservability(cfg, o)

	impact, err := r.buildSource(o)
	if err != nil {
		return nil, err
	}

	det, err := correlator.New(cfg.Correlator, impact...)
	if err != nil {
		return nil, fmt.Errorf("correlator: %w", err)
	}
	buf, err := queue.NewPreEventBuffer(cfg.Sampling.SampleRateHz, cfg.Sampling.PreEventSeconds)
	if err != nil {
		return nil, err
	}

	if err := r.buildTransports(o); err != nil {
		r.closeAll()
		return nil, err
	}
	var (
		fallback ports.FallbackTransport
		sealer   publisher.Sealer
	)
	if r.fallback != nil {
		key := o.key
		if o.fallback == nil {
			if key, err = cfg.RadioKey(); err != nil {
				r.closeAll()
				return nil, err
			}
		}
		c, err := codec.New(key)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("radio key: %w", err)
		}
		fallback, sealer = r.fallback, c
	}
	pub, err := publisher.New(cfg.PublisherSettings(), r.primary, fallback, sealer, r.obs)
	if err != nil {
		r.closeAll()
		return nil, err
	}

	r.log = o.eventLog
	if r.log == nil {
		bb, err := blackbox.Open(cfg.Blackbox, r.obs)
		if err != nil {
			r.closeAll()
			return nil, err
		}
		r.log = bb
	}

	r.agent, err = pipeline.New(
		pipeline.Config{SampleRateHz: cfg.Sampling.SampleRateHz, Bands: cfg.Severity},
		pipeline.Deps{
			Source:    r.source,
			Buffer:    buf,
			Log:       r.log,
			Detector:  det,
			Scorer:    correlator.NewScorer(cfg.Sampling.SampleRateHz),
			Publisher: pub,
			Obs:       r.obs,
		},
	)
	if err != nil {
		_ = r.log.Close()
		r.closeAll()
		return nil, err
	}
	return r, nil
}

func buildObservability(cfg *Config, o runtimeOverrides) (ports.Observability, prometheus.Gatherer) {
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if o.registry != nil {
		reg, gatherer = o.registry, o.registry
	}
	if o.obs != nil {
		return o.obs, gatherer
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return observability.NewPromObsWith(reg, logger.With("node", cfg.Node.ID)), gatherer
}

func (r *Runtime) buildSource(o runtimeOverrides) ([]ports.ImpactChannel, error) {
	if o.source != nil {
		r.source = o.source
		return o.impact, nil
	}
	if !o.simulate {
		return nil, ErrNoSource
	}

	r.sim = sensors.NewSimulator(r.cfg.Sensors.Simulation)
	hw := r.sim.Hardware()
	if len(r.cfg.Sensors.ImpactLines) > 0 {
		hw.Impact = sensors.GPIOLines(r.cfg.Sensors.ImpactLines, r.cfg.Sensors.ImpactActiveLow)
	}
	r.composite = sensors.NewComposite(r.cfg.Node.ID, hw, r.obs)
	r.source = r.composite
	return hw.Impact, nil
}

func (r *Runtime) buildTransports(o runtimeOverrides) error {
	r.primary = o.primary
	if r.primary == nil {
		client, err := mqtt.New(r.cfg.MQTTSettings(), r.obs)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		r.primary = client
		r.closers = append(r.closers, func() error {
			client.Close()
			return nil
		})
	}

	switch {
	case o.fallback != nil:
		r.fallback = o.fallback
	case r.cfg.Radio.Port != "":
		sr, err := radio.Open(r.cfg.Radio, r.obs)
		if err != nil {
			return fmt.Errorf("radio: %w", err)
		}
		r.fallback = sr
		r.closers = append(r.closers, sr.Close)
	}
	return nil
}

// TriggerImpact fires the simulated impact line. It reports false when the
// node is not simulated.
func (r *Runtime) TriggerImpact() bool {
	if r.sim == nil {
		return false
	}
	r.sim.TriggerImpact()
	return true
}

// Run starts sampling and blocks until ctx is cancelled or the metrics server
// fails, then shuts the node down. The first broker connect runs alongside the
// sampling loop so the blackbox records from the first tick.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.agent.Run(gctx) })
	g.Go(func() error {
		r.connectPrimary()
		return nil
	})

	if r.cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: r.cfg.Metrics.Addr, Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	return errors.Join(err, r.Shutdown())
}

// connectPrimary is not fatal on failure: the publisher reconnects before
// every delivery attempt.
func (r *Runtime) connectPrimary() {
	if r.primary.IsConnected() {
		return
	}
	if err := r.primary.Reconnect(); err != nil {
		r.obs.LogError("primary_connect_failed", err)
	}
}

// Shutdown closes the blackbox and both transports. Safe to call more than once.
func (r *Runtime) Shutdown() error {
	r.shutdownOnce.Do(func() {
		errs := []error{r.agent.Shutdown()}
		errs = append(errs, r.closeAll())
		r.shutdownErr = errors.Join(errs...)
	})
	return r.shutdownErr
}

func (r *Runtime) closeAll() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Health is the /healthz document.
type Health struct {
	Status           string        `json:"status"`
	PrimaryConnected bool          `json:"primary_connected"`
	Blackbox         EventLogStats `json:"blackbox"`
	Sensors          *HealthReport `json:"sensors,omitempty"`
}

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	// HealthFailing means the blackbox has crossed its consecutive failure threshold.
	HealthFailing = "failing"
)

func (r *Runtime) Health() Health {
	h := Health{
		Status:           HealthOK,
		PrimaryConnected: r.primary.IsConnected(),
		Blackbox:         r.log.Stats(),
	}
	if r.composite != nil {
		rep := r.composite.Health().Report()
		h.Sensors = &rep
		if rep.Overall != sensors.StatusHealthy {
			h.Status = HealthDegraded
		}
	}
	if !h.PrimaryConnected {
		h.Status = HealthDegraded
	}
	if h.Blackbox.ConsecutiveFailures >= uint64(r.cfg.Blackbox.FailureThreshold) {
		h.Status = HealthFailing
	}
	return h
}

// Handler serves /metrics and /healthz. /healthz answers 503 only when the
// blackbox is failing.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h := r.Health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status == HealthFailing {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	return mux
}
