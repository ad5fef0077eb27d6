package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

// Outcome is the terminal result of one Deliver call.
type Outcome int

const (
	DeliveredPrimary Outcome = iota
	DeliveredFallback
	FailedBoth
)

func (o Outcome) String() string {
	switch o {
	case DeliveredPrimary:
		return "delivered_primary"
	case DeliveredFallback:
		return "delivered_fallback"
	default:
		return "failed_both"
	}
}

type Config struct {
	Topic           string        `yaml:"-"`
	QoS             byte          `yaml:"-"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	ReconnectSettle time.Duration `yaml:"reconnect_settle"`
}

func (c *Config) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = time.Second
	}
	if c.ReconnectSettle == 0 {
		c.ReconnectSettle = 2 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Topic == "" {
		return errors.New("publisher topic is required")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be >= 1")
	}
	if c.BaseBackoff < 0 || c.ReconnectSettle < 0 {
		return errors.New("backoff and settle must not be negative")
	}
	if c.QoS > 2 {
		return errors.New("qos must be 0, 1 or 2")
	}
	return nil
}

// Sealer produces the authenticated fallback frame.
type Sealer interface {
	Encode(plaintext []byte) ([]byte, error)
}

// FailoverPublisher delivers crash packages over the primary transport with
// bounded retries, then seals a summary for the fallback transport.
type FailoverPublisher struct {
	cfg      Config
	primary  ports.PrimaryTransport
	fallback ports.FallbackTransport
	sealer   Sealer
	obs      ports.Observability
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func New(cfg Config, primary ports.PrimaryTransport, fallback ports.FallbackTransport, sealer Sealer, obs ports.Observability) (*FailoverPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, errors.New("publisher: primary transport is required")
	}
	if fallback != nil && sealer == nil {
		return nil, errors.New("publisher: fallback transport requires a sealer")
	}
	return &FailoverPublisher{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		sealer:   sealer,
		obs:      obs,
		sleep:    sleepCtx,
		now:      time.Now,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver never fails loudly. Cancelling ctx interrupts settle and backoff
// sleeps and skips straight to the fallback.
func (p *FailoverPublisher) Deliver(ctx context.Context, pkg *domain.CrashPackage) Outcome {
	start := p.now()
	outcome := p.deliver(ctx, pkg)

	p.obs.ObserveLatency(ports.LatencyDelivery, p.now().Sub(start).Seconds())
	switch outcome {
	case DeliveredPrimary:
		p.obs.IncCounter(ports.MetricDeliveredPrimary, 1)
	case DeliveredFallback:
		p.obs.IncCounter(ports.MetricDeliveredFallback, 1)
	default:
		p.obs.IncCounter(ports.MetricDeliveryFailed, 1)
	}
	p.obs.RecordCrash(pkg, outcome.String())
	return outcome
}

func (p *FailoverPublisher) deliver(ctx context.Context, pkg *domain.CrashPackage) Outcome {
	payload, err := json.Marshal(pkg)
	if err != nil {
		p.obs.LogError("crash_encode_failed", err, ports.Field{Key: "crash_id", Value: pkg.ID})
	} else if p.publishWithRetry(ctx, pkg.ID, payload) {
		return DeliveredPrimary
	}
	if p.sendFallback(pkg) {
		return DeliveredFallback
	}
	return FailedBoth
}

// publishWithRetry walks the reconnect, publish and backoff states until the
// primary accepts or attempts run out.
func (p *FailoverPublisher) publishWithRetry(ctx context.Context, id string, payload []byte) bool {
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			p.obs.LogInfo("delivery_cancelled", ports.Field{Key: "crash_id", Value: id}, ports.Field{Key: "attempt", Value: attempt})
			return false
		}

		rc, err := p.attempt(ctx, payload)
		p.obs.IncCounter(ports.MetricDeliveryAttempts, 1)
		if err == nil && rc == ports.ResultAccepted {
			p.obs.LogInfo("delivery_attempt",
				ports.Field{Key: "crash_id", Value: id},
				ports.Field{Key: "attempt", Value: attempt},
				ports.Field{Key: "result", Value: rc.String()},
			)
			return true
		}
		if err != nil {
			p.obs.LogError("delivery_attempt", err,
				ports.Field{Key: "crash_id", Value: id},
				ports.Field{Key: "attempt", Value: attempt},
			)
		} else {
			p.obs.LogError("delivery_attempt", nil,
				ports.Field{Key: "crash_id", Value: id},
				ports.Field{Key: "attempt", Value: attempt},
				ports.Field{Key: "result", Value: rc.String()},
			)
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		backoff := p.cfg.BaseBackoff << (attempt - 1)
		if err := p.sleep(ctx, backoff); err != nil {
			return false
		}
	}
	p.obs.LogError("primary_exhausted", nil,
		ports.Field{Key: "crash_id", Value: id},
		ports.Field{Key: "attempts", Value: p.cfg.MaxAttempts},
	)
	return false
}

func (p *FailoverPublisher) attempt(ctx context.Context, payload []byte) (ports.ResultCode, error) {
	connected := p.primary.IsConnected()
	p.obs.SetGauge(ports.GaugePayloadBytes, float64(len(payload)))
	p.obs.SetGauge(ports.GaugePrimaryConnected, boolGauge(connected))
	if !connected {
		if err := p.primary.Reconnect(); err != nil {
			return ports.ResultNoConnection, err
		}
		if err := p.sleep(ctx, p.cfg.ReconnectSettle); err != nil {
			return ports.ResultNoConnection, err
		}
		connected = p.primary.IsConnected()
		p.obs.SetGauge(ports.GaugePrimaryConnected, boolGauge(connected))
	}
	return p.primary.Publish(p.cfg.Topic, payload, p.cfg.QoS), nil
}

// sendFallback is attempted once per delivery.
func (p *FailoverPublisher) sendFallback(pkg *domain.CrashPackage) bool {
	if p.fallback == nil {
		return false
	}
	summary, err := json.Marshal(pkg.Summary())
	if err != nil {
		p.obs.LogError("fallback_encode_failed", err, ports.Field{Key: "crash_id", Value: pkg.ID})
		return false
	}
	frame, err := p.sealer.Encode(summary)
	if err != nil {
		p.obs.LogError("fallback_seal_failed", err, ports.Field{Key: "crash_id", Value: pkg.ID})
		return false
	}
	if !p.fallback.Send(frame) {
		p.obs.LogError("fallback_send_failed", nil,
			ports.Field{Key: "crash_id", Value: pkg.ID},
			ports.Field{Key: "frame_bytes", Value: len(frame)},
		)
		return false
	}
	p.obs.LogInfo("fallback_sent",
		ports.Field{Key: "crash_id", Value: pkg.ID},
		ports.Field{Key: "frame_bytes", Value: len(frame)},
	)
	return true
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
