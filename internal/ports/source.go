package ports

import "github.com/ghalamif/MeshTrace/internal/domain"

// FrameSource supplies one reading per sampling tick. It never fails; hardware
// errors surface as zeroed vectors and nil optional fields.
type FrameSource interface {
	ReadFrame() domain.SensorFrame
}

// ImpactChannel is one discrete impact line.
type ImpactChannel interface {
	Triggered() (bool, error)
}

type Accelerometer interface {
	ReadAcceleration() (domain.Vector, error)
}

type Gyroscope interface {
	ReadAngularRate() (domain.Vector, error)
}

type Thermometer interface {
	ReadCelsius() (float64, error)
}

// Locator returns the current GNSS reading. A reading with FixQuality <= 0 is
// not a fix.
type Locator interface {
	Position() (domain.Location, error)
}
