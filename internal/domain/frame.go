package domain

import (
	"math"
	"time"
)

// Vector is a three-axis reading with its precomputed Euclidean magnitude.
type Vector struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Magnitude float64 `json:"magnitude"`
}

// NewVector builds a Vector and fills in Magnitude.
func NewVector(x, y, z float64) Vector {
	return Vector{X: x, Y: y, Z: z, Magnitude: math.Sqrt(x*x + y*y + z*z)}
}

// Location is the last known GNSS position. FixQuality <= 0 means no fix.
type Location struct {
	Latitude   float64 `json:"latitude" yaml:"latitude"`
	Longitude  float64 `json:"longitude" yaml:"longitude"`
	Altitude   float64 `json:"altitude" yaml:"altitude"`
	Satellites int     `json:"satellites" yaml:"satellites"`
	FixQuality int     `json:"fix_quality" yaml:"fix_quality"`
}

// HasFix reports whether the location carries a usable fix.
func (l *Location) HasFix() bool {
	return l != nil && l.FixQuality > 0
}

// SensorFrame is the canonical per-tick reading in MeshTrace. Frames are never
// mutated after creation; the pre-event buffer and correlator only hold references.
type SensorFrame struct {
	Monotonic    time.Duration `json:"monotonic_ns"`
	Timestamp    time.Time     `json:"ts"`
	NodeID       string        `json:"node_id"`
	Acceleration Vector        `json:"accel"`
	AngularRate  Vector        `json:"gyro"`
	Impact       *float64      `json:"impact,omitempty"`
	TemperatureC *float64      `json:"temperature_c,omitempty"`
	Location     *Location     `json:"location,omitempty"`
}

// ImpactTrigger is a single accepted activation of a discrete impact channel.
type ImpactTrigger struct {
	Timestamp time.Time `json:"ts"`
	Channel   int       `json:"channel"`
}
