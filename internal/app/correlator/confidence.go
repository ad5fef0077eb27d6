package correlator

import (
	"math"

	"github.com/ghalamif/MeshTrace/internal/domain"
)

// Reference levels at which each feature saturates its share of the score.
const (
	refAccelMS2    = 15.0
	refGyroDegS    = 600.0
	refJerkMS3     = 50.0
	refImpactLevel = 5.0

	weightAccel  = 0.4
	weightGyro   = 0.3
	weightJerk   = 0.2
	weightImpact = 0.1

	swingMS2   = 10.0
	swingBoost = 1.2
)

// Scorer turns the live frame stream into a crash confidence in [0, 1]. It
// only reports; confirmation is decided by the Correlator.
type Scorer struct {
	sampleRateHz float64
	history      [3]float64
	seen         int
}

func NewScorer(sampleRateHz int) *Scorer {
	if sampleRateHz <= 0 {
		sampleRateHz = 1
	}
	return &Scorer{sampleRateHz: float64(sampleRateHz)}
}

// Observe must be called once per tick, in order.
func (s *Scorer) Observe(f domain.SensorFrame) float64 {
	mag := f.Acceleration.Magnitude

	var jerk float64
	if s.seen > 0 {
		prev := s.history[(s.seen-1)%len(s.history)]
		jerk = math.Abs(mag-prev) * s.sampleRateHz
	}
	s.history[s.seen%len(s.history)] = mag
	s.seen++

	impact := 0.0
	if f.Impact != nil {
		impact = *f.Impact
	}

	score := saturate(mag/refAccelMS2)*weightAccel +
		saturate(f.AngularRate.Magnitude/refGyroDegS)*weightGyro +
		saturate(jerk/refJerkMS3)*weightJerk +
		saturate(impact/refImpactLevel)*weightImpact

	if s.seen >= len(s.history) {
		lo, hi := s.history[0], s.history[0]
		for _, v := range s.history[1:] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo > swingMS2 {
			score *= swingBoost
		}
	}
	return saturate(score)
}

func saturate(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
