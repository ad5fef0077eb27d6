package sensors

import (
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusWarning  Status = "warning"
	StatusNoFix    Status = "no_fix"
	StatusError    Status = "error"
)

type Quality string

const (
	QualityGood        Quality = "good"
	QualityNoData      Quality = "no_data"
	QualitySuspicious  Quality = "suspicious"
	QualityOutOfRange  Quality = "out_of_range"
	QualitySearching   Quality = "searching"
	QualityReadFailure Quality = "error"
)

// Sensor names used in health reports.
const (
	SensorIMU         = "imu"
	SensorImpact      = "impact"
	SensorTemperature = "temperature"
	SensorGPS         = "gps"
)

// Plausibility limits for raw readings.
const (
	MinTemperatureC = -40.0
	MaxTemperatureC = 85.0
	MaxAccelMS2     = 100.0
)

type SensorHealth struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Quality    Quality   `json:"data_quality"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

type HealthReport struct {
	Overall  Status         `json:"overall_status"`
	Sensors  []SensorHealth `json:"sensors"`
	Warnings []string       `json:"warnings,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
}

// HealthMonitor keeps the latest status of every sensor. Error counts reset on
// the first healthy reading.
type HealthMonitor struct {
	mu      sync.Mutex
	sensors map[string]*SensorHealth
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{sensors: map[string]*SensorHealth{}}
}

func (m *HealthMonitor) record(name string, status Status, quality Quality, err error, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.sensors[name]
	if !ok {
		h = &SensorHealth{Name: name}
		m.sensors[name] = h
	}
	h.Status, h.Quality, h.CheckedAt = status, quality, at
	h.LastError = ""
	if err != nil {
		h.LastError = err.Error()
	}
	if status == StatusHealthy {
		h.ErrorCount = 0
	} else {
		h.ErrorCount++
	}
}

// Report rolls sensor statuses up: any error wins, more than one warning is a
// warning, all healthy (a missing fix included) is healthy, else degraded.
func (m *HealthMonitor) Report() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := HealthReport{Overall: StatusHealthy}
	names := make([]string, 0, len(m.sensors))
	for name := range m.sensors {
		names = append(names, name)
	}
	sort.Strings(names)

	var errCount, warnCount int
	allHealthy := true
	for _, name := range names {
		h := *m.sensors[name]
		r.Sensors = append(r.Sensors, h)
		switch h.Status {
		case StatusError:
			errCount++
			msg := h.LastError
			if msg == "" {
				msg = "unknown error"
			}
			r.Errors = append(r.Errors, name+": "+msg)
		case StatusWarning, StatusDegraded:
			warnCount++
			r.Warnings = append(r.Warnings, name+": "+string(h.Quality))
		}
		if h.Status != StatusHealthy && h.Status != StatusNoFix {
			allHealthy = false
		}
	}

	switch {
	case errCount > 0:
		r.Overall = StatusError
	case warnCount > 1:
		r.Overall = StatusWarning
	case allHealthy:
		r.Overall = StatusHealthy
	default:
		r.Overall = StatusDegraded
	}
	return r
}

// Healthy counts sensors currently reporting healthy.
func (r HealthReport) Healthy() int {
	n := 0
	for _, s := range r.Sensors {
		if s.Status == StatusHealthy {
			n++
		}
	}
	return n
}
