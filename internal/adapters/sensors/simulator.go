package sensors

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

const (
	gravityMS2 = 9.81

	impactPulse = 150 * time.Millisecond
	impactLine  = 30 * time.Millisecond
)

// SimulatorConfig drives the bench node used by `run --simulate`.
type SimulatorConfig struct {
	// ImpactEvery schedules a synthetic collision at this period. Zero means
	// impacts happen only through TriggerImpact.
	ImpactEvery time.Duration   `yaml:"impact_every"`
	PeakMS2     float64         `yaml:"peak_ms2"`
	Home        domain.Location `yaml:"home"`
	Seed        int64           `yaml:"seed"`
}

func (c *SimulatorConfig) ApplyDefaults() {
	if c.PeakMS2 == 0 {
		c.PeakMS2 = 30
	}
	if c.Home.FixQuality == 0 {
		c.Home = domain.Location{Latitude: 52.52, Longitude: 13.405, Altitude: 34, Satellites: 8, FixQuality: 1}
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
}

// Simulator fakes an IMU, thermometer, GNSS receiver and one impact line. At
// rest it reports 1 g on Z with a little noise.
type Simulator struct {
	mu       sync.Mutex
	cfg      SimulatorConfig
	now      func() time.Time
	rng      *rand.Rand
	start    time.Time
	impactAt time.Time
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	return newSimulator(cfg, time.Now)
}

func newSimulator(cfg SimulatorConfig, now func() time.Time) *Simulator {
	cfg.ApplyDefaults()
	return &Simulator{
		cfg:   cfg,
		now:   now,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		start: now(),
	}
}

// Hardware exposes the simulator as a full set of node capabilities.
func (s *Simulator) Hardware() Hardware {
	return Hardware{
		Accel:       s,
		Gyro:        s,
		Thermometer: s,
		GPS:         s,
		Impact:      []ports.ImpactChannel{s.Line()},
	}
}

// TriggerImpact starts a collision pulse now.
func (s *Simulator) TriggerImpact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impactAt = s.now()
}

// sinceImpact reports time since the latest impact, scheduled or triggered.
func (s *Simulator) sinceImpact(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ImpactEvery > 0 {
		elapsed := now.Sub(s.start)
		if n := elapsed / s.cfg.ImpactEvery; n > 0 {
			if at := s.start.Add(n * s.cfg.ImpactEvery); at.After(s.impactAt) {
				s.impactAt = at
			}
		}
	}
	if s.impactAt.IsZero() || now.Before(s.impactAt) {
		return 0, false
	}
	return now.Sub(s.impactAt), true
}

func (s *Simulator) noise(scale float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (s.rng.Float64()*2 - 1) * scale
}

func (s *Simulator) ReadAcceleration() (domain.Vector, error) {
	x, y, z := s.noise(0.05), s.noise(0.05), gravityMS2+s.noise(0.05)
	if d, ok := s.sinceImpact(s.now()); ok && d < impactPulse {
		// Decaying half-sine along the direction of travel.
		decay := 1 - float64(d)/float64(impactPulse)
		x += s.cfg.PeakMS2 * decay
	}
	return domain.NewVector(x, y, z), nil
}

func (s *Simulator) ReadAngularRate() (domain.Vector, error) {
	r := domain.NewVector(s.noise(0.5), s.noise(0.5), s.noise(0.5))
	if d, ok := s.sinceImpact(s.now()); ok && d < impactPulse {
		r = domain.NewVector(r.X, r.Y, r.Z+450)
	}
	return r, nil
}

func (s *Simulator) ReadCelsius() (float64, error) {
	return 24 + s.noise(0.2), nil
}

func (s *Simulator) Position() (domain.Location, error) {
	return s.cfg.Home, nil
}

// Line returns the simulated impact switch.
func (s *Simulator) Line() ports.ImpactChannel { return simLine{s} }

type simLine struct{ s *Simulator }

func (l simLine) Triggered() (bool, error) {
	d, ok := l.s.sinceImpact(l.s.now())
	return ok && d < impactLine, nil
}
