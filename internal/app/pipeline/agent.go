package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/MeshTrace/internal/adapters/queue"
	"github.com/ghalamif/MeshTrace/internal/app/correlator"
	"github.com/ghalamif/MeshTrace/internal/app/publisher"
	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

type Detector interface {
	DetectImpact(magnitude float64, now time.Time) (domain.ImpactTrigger, bool)
}

type Deliverer interface {
	Deliver(ctx context.Context, pkg *domain.CrashPackage) publisher.Outcome
}

type Config struct {
	SampleRateHz int
	Bands        domain.SeverityBands
}

type Deps struct {
	Source    ports.FrameSource
	Buffer    *queue.PreEventBuffer
	Log       ports.EventLog
	Detector  Detector
	Scorer    *correlator.Scorer
	Publisher Deliverer
	Obs       ports.Observability
}

// Agent is the single sampling loop: read, buffer, persist, correlate and, on
// a confirmed crash, persist again then deliver. Delivery runs on the loop's
// goroutine, so a crash stalls sampling for at most the publisher's retry
// ceiling.
type Agent struct {
	cfg      Config
	deps     Deps
	interval time.Duration
	now      func() time.Time

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config, deps Deps) (*Agent, error) {
	if cfg.SampleRateHz <= 0 {
		return nil, errors.New("pipeline: sample rate must be > 0")
	}
	if deps.Source == nil || deps.Buffer == nil || deps.Log == nil || deps.Detector == nil || deps.Publisher == nil || deps.Obs == nil {
		return nil, errors.New("pipeline: source, buffer, log, detector, publisher and observability are required")
	}
	if deps.Scorer == nil {
		deps.Scorer = correlator.NewScorer(cfg.SampleRateHz)
	}
	return &Agent{
		cfg:      cfg,
		deps:     deps,
		interval: time.Second / time.Duration(cfg.SampleRateHz),
		now:      time.Now,
	}, nil
}

// OnTick runs one sampling step and returns the crash package it confirmed,
// if any.
func (a *Agent) OnTick(ctx context.Context) *domain.CrashPackage {
	start := a.now()
	defer func() {
		a.deps.Obs.ObserveLatency(ports.LatencyTick, a.now().Sub(start).Seconds())
	}()

	frame := a.deps.Source.ReadFrame()
	a.deps.Buffer.Push(frame)
	a.deps.Obs.IncCounter(ports.MetricFramesSampled, 1)
	a.deps.Obs.SetGauge(ports.GaugePreEventFrames, float64(a.deps.Buffer.Len()))

	// Storage failures are counted by the log; sampling goes on.
	_ = a.deps.Log.Append(domain.RecordSensor, frame)

	confidence := a.deps.Scorer.Observe(frame)
	trig, ok := a.deps.Detector.DetectImpact(frame.Acceleration.Magnitude, frame.Timestamp)
	if !ok {
		return nil
	}

	pkg := domain.NewCrashPackage(frame, trig, confidence, a.cfg.Bands, a.deps.Buffer.Snapshot(), frame.Timestamp)
	a.deps.Obs.IncCounter(ports.MetricCrashesConfirmed, 1)
	a.deps.Obs.LogInfo("crash_confirmed",
		ports.Field{Key: "crash_id", Value: pkg.ID},
		ports.Field{Key: "severity", Value: string(pkg.Severity)},
		ports.Field{Key: "magnitude", Value: pkg.Magnitude},
		ports.Field{Key: "confidence", Value: pkg.Confidence},
		ports.Field{Key: "channel", Value: pkg.Channel},
		ports.Field{Key: "trigger_ts", Value: trig.Timestamp},
	)
	a.HandleConfirmedCrash(ctx, pkg)
	return pkg
}

// HandleConfirmedCrash persists the package before any delivery attempt. A
// failed append is loud but does not stop delivery.
func (a *Agent) HandleConfirmedCrash(ctx context.Context, pkg *domain.CrashPackage) publisher.Outcome {
	if err := a.deps.Log.AppendCrash(pkg); err != nil {
		a.deps.Obs.LogCritical("crash_persist_failed", err, ports.Field{Key: "crash_id", Value: pkg.ID})
	}
	outcome := a.deps.Publisher.Deliver(ctx, pkg)
	a.deps.Obs.LogInfo("crash_delivery_outcome",
		ports.Field{Key: "crash_id", Value: pkg.ID},
		ports.Field{Key: "outcome", Value: outcome.String()},
	)
	return outcome
}

// Run ticks at the sample rate until ctx is cancelled. Ticks that overrun are
// dropped by the ticker rather than queued.
func (a *Agent) Run(ctx context.Context) error {
	t := time.NewTicker(a.interval)
	defer t.Stop()

	a.deps.Obs.LogInfo("sampling_started",
		ports.Field{Key: "sample_rate_hz", Value: a.cfg.SampleRateHz},
		ports.Field{Key: "pre_event_frames", Value: a.deps.Buffer.Cap()},
	)
	for {
		select {
		case <-ctx.Done():
			a.deps.Obs.LogInfo("sampling_stopped")
			return nil
		case <-t.C:
			a.OnTick(ctx)
		}
	}
}

// Shutdown flushes and closes the event log. It is safe to call more than once.
func (a *Agent) Shutdown() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.deps.Log.Close()
		if a.closeErr != nil {
			a.deps.Obs.LogError("blackbox_close_failed", a.closeErr)
		}
	})
	return a.closeErr
}
