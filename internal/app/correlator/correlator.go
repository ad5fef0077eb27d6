package correlator

import (
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

const (
	// MaxChannels is the number of discrete impact lines the correlator accepts.
	MaxChannels = 4
	// TriggerWindowSize bounds the recent-trigger history.
	TriggerWindowSize = 10
)

// Config holds the correlator thresholds. A zero Debounce or Cooldown
// disables that filter; DefaultConfig carries the production values.
type Config struct {
	ThresholdMS2      float64       `yaml:"threshold_ms2"`
	CorrelationWindow time.Duration `yaml:"correlation_window"`
	Debounce          time.Duration `yaml:"debounce"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

func DefaultConfig() Config {
	return Config{
		ThresholdMS2:      7,
		CorrelationWindow: 200 * time.Millisecond,
		Debounce:          50 * time.Millisecond,
		Cooldown:          time.Second,
	}
}

// ApplyDefaults fills the fields that have no valid zero value.
func (c *Config) ApplyDefaults() {
	if c.ThresholdMS2 == 0 {
		c.ThresholdMS2 = 7
	}
	if c.CorrelationWindow == 0 {
		c.CorrelationWindow = 200 * time.Millisecond
	}
}

func (c *Config) Validate() error {
	if c.ThresholdMS2 <= 0 {
		return errors.New("threshold_ms2 must be > 0")
	}
	if c.CorrelationWindow <= 0 {
		return errors.New("correlation_window must be > 0")
	}
	if c.Debounce < 0 || c.Cooldown < 0 {
		return errors.New("debounce and cooldown must not be negative")
	}
	return nil
}

// Correlator confirms a crash only when a digital impact trigger and an
// acceleration magnitude above threshold fall inside the same correlation window.
// It is single-writer: only the sampling goroutine may call it.
type Correlator struct {
	cfg      Config
	channels []ports.ImpactChannel

	lastConfirmed time.Time
	lastTrigger   []time.Time
	recent        []domain.ImpactTrigger
}

func New(cfg Config, channels ...ports.ImpactChannel) (*Correlator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(channels) > MaxChannels {
		return nil, fmt.Errorf("at most %d impact channels supported, got %d", MaxChannels, len(channels))
	}
	return &Correlator{
		cfg:         cfg,
		channels:    channels,
		lastTrigger: make([]time.Time, len(channels)),
		recent:      make([]domain.ImpactTrigger, 0, TriggerWindowSize),
	}, nil
}

// PollChannels samples every channel not inside its debounce interval and
// records the active ones. A channel that fails to read counts as inactive.
func (c *Correlator) PollChannels(now time.Time) []domain.ImpactTrigger {
	var out []domain.ImpactTrigger
	for i, ch := range c.channels {
		// Debounce is inclusive: a trigger exactly one interval after the last is still bounce.
		if last := c.lastTrigger[i]; !last.IsZero() && now.Sub(last) <= c.cfg.Debounce {
			continue
		}
		active, err := ch.Triggered()
		if err != nil || !active {
			continue
		}
		trig := domain.ImpactTrigger{Timestamp: now, Channel: i}
		c.lastTrigger[i] = now
		c.remember(trig)
		out = append(out, trig)
	}
	return out
}

// DetectImpact runs one correlation step. On confirmation it returns the
// matching trigger and starts the cooldown.
func (c *Correlator) DetectImpact(magnitude float64, now time.Time) (domain.ImpactTrigger, bool) {
	if !c.lastConfirmed.IsZero() && now.Sub(c.lastConfirmed) < c.cfg.Cooldown {
		return domain.ImpactTrigger{}, false
	}

	c.PollChannels(now)

	if magnitude < c.cfg.ThresholdMS2 {
		return domain.ImpactTrigger{}, false
	}

	for _, trig := range c.recent {
		if absDuration(now.Sub(trig.Timestamp)) <= c.cfg.CorrelationWindow {
			c.lastConfirmed = now
			return trig, true
		}
	}
	return domain.ImpactTrigger{}, false
}

// RecentTriggers returns a copy of the trigger window, oldest first.
func (c *Correlator) RecentTriggers() []domain.ImpactTrigger {
	out := make([]domain.ImpactTrigger, len(c.recent))
	copy(out, c.recent)
	return out
}

func (c *Correlator) remember(t domain.ImpactTrigger) {
	if len(c.recent) == TriggerWindowSize {
		copy(c.recent, c.recent[1:])
		c.recent = c.recent[:TriggerWindowSize-1]
	}
	c.recent = append(c.recent, t)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
