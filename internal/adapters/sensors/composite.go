// Package sensors assembles SensorFrames from individual hardware capabilities
// and tracks their health.
package sensors

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

// ImpactLevel is the raw impact reading reported while any line is active.
const ImpactLevel = 10.0

// Hardware lists the capabilities a node has. Nil members are simply absent.
type Hardware struct {
	Accel       ports.Accelerometer
	Gyro        ports.Gyroscope
	Thermometer ports.Thermometer
	GPS         ports.Locator
	Impact      []ports.ImpactChannel
}

// Composite is the node's FrameSource. ReadFrame never fails: read errors
// become zero vectors or nil fields and are counted by the health monitor.
type Composite struct {
	nodeID  string
	hw      Hardware
	obs     ports.Observability
	health  *HealthMonitor
	now     func() time.Time
	start   time.Time
	lastFix *domain.Location
	overall Status
	diag    rate.Sometimes
}

func NewComposite(nodeID string, hw Hardware, obs ports.Observability) *Composite {
	return newComposite(nodeID, hw, obs, time.Now)
}

func newComposite(nodeID string, hw Hardware, obs ports.Observability, now func() time.Time) *Composite {
	return &Composite{
		nodeID: nodeID,
		hw:     hw,
		obs:    obs,
		health: NewHealthMonitor(),
		now:    now,
		start:  now(),
		diag:   rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

func (c *Composite) Health() *HealthMonitor { return c.health }

func (c *Composite) ReadFrame() domain.SensorFrame {
	ts := c.now()
	f := domain.SensorFrame{
		Monotonic: ts.Sub(c.start),
		Timestamp: ts,
		NodeID:    c.nodeID,
	}

	f.Acceleration, f.AngularRate = c.readIMU(ts)
	f.Impact = c.readImpact(ts)
	f.TemperatureC = c.readTemperature(ts)
	f.Location = c.readLocation(ts)

	c.publishHealth()
	return f
}

func (c *Composite) readIMU(ts time.Time) (accel, gyro domain.Vector) {
	if c.hw.Accel == nil {
		return accel, gyro
	}
	a, err := c.hw.Accel.ReadAcceleration()
	if err != nil {
		c.readFailed(SensorIMU, err)
		c.health.record(SensorIMU, StatusError, QualityReadFailure, err, ts)
		return accel, gyro
	}
	accel = domain.NewVector(a.X, a.Y, a.Z)

	status, quality := StatusHealthy, QualityGood
	var gyroErr error
	if c.hw.Gyro != nil {
		g, err := c.hw.Gyro.ReadAngularRate()
		if err != nil {
			gyroErr = err
			c.readFailed(SensorIMU, err)
			status, quality = StatusDegraded, QualityNoData
		} else {
			gyro = domain.NewVector(g.X, g.Y, g.Z)
		}
	}
	if accel.Magnitude <= 0 || accel.Magnitude >= MaxAccelMS2 {
		status, quality = StatusDegraded, QualitySuspicious
	}
	c.health.record(SensorIMU, status, quality, gyroErr, ts)
	return accel, gyro
}

func (c *Composite) readImpact(ts time.Time) *float64 {
	if len(c.hw.Impact) == 0 {
		return nil
	}
	var ok, active bool
	var lastErr error
	for _, ch := range c.hw.Impact {
		on, err := ch.Triggered()
		if err != nil {
			lastErr = err
			continue
		}
		ok = true
		active = active || on
	}
	if !ok {
		c.readFailed(SensorImpact, lastErr)
		c.health.record(SensorImpact, StatusDegraded, QualityNoData, lastErr, ts)
		return nil
	}
	c.health.record(SensorImpact, StatusHealthy, QualityGood, nil, ts)
	level := 0.0
	if active {
		level = ImpactLevel
	}
	return &level
}

func (c *Composite) readTemperature(ts time.Time) *float64 {
	if c.hw.Thermometer == nil {
		return nil
	}
	v, err := c.hw.Thermometer.ReadCelsius()
	if err != nil {
		c.readFailed(SensorTemperature, err)
		c.health.record(SensorTemperature, StatusDegraded, QualityNoData, err, ts)
		return nil
	}
	if v < MinTemperatureC || v > MaxTemperatureC {
		c.health.record(SensorTemperature, StatusWarning, QualityOutOfRange, nil, ts)
	} else {
		c.health.record(SensorTemperature, StatusHealthy, QualityGood, nil, ts)
	}
	return &v
}

// readLocation carries the most recent fix forward indefinitely. Every frame
// gets its own copy.
func (c *Composite) readLocation(ts time.Time) *domain.Location {
	if c.hw.GPS != nil {
		loc, err := c.hw.GPS.Position()
		switch {
		case err != nil:
			c.readFailed(SensorGPS, err)
			c.health.record(SensorGPS, StatusError, QualityReadFailure, err, ts)
		case loc.HasFix():
			c.lastFix = &loc
			c.health.record(SensorGPS, StatusHealthy, QualityGood, nil, ts)
		default:
			c.health.record(SensorGPS, StatusNoFix, QualitySearching, nil, ts)
		}
	}
	if c.lastFix == nil {
		return nil
	}
	l := *c.lastFix
	return &l
}

// readFailed counts every failure but logs at most one every few seconds; a
// dead sensor would otherwise log at the sample rate.
func (c *Composite) readFailed(sensor string, err error) {
	c.obs.IncCounter(ports.MetricSensorReadErrors, 1)
	c.diag.Do(func() {
		c.obs.LogError("sensor_read_failed", err, ports.Field{Key: "sensor", Value: sensor})
	})
}

func (c *Composite) publishHealth() {
	r := c.health.Report()
	c.obs.SetGauge(ports.GaugeSensorHealth, float64(r.Healthy()))
	if r.Overall == c.overall {
		return
	}
	prev := c.overall
	c.overall = r.Overall
	fields := []ports.Field{
		{Key: "from", Value: string(prev)},
		{Key: "to", Value: string(r.Overall)},
	}
	if len(r.Warnings) > 0 {
		fields = append(fields, ports.Field{Key: "warnings", Value: r.Warnings})
	}
	if len(r.Errors) > 0 {
		fields = append(fields, ports.Field{Key: "errors", Value: r.Errors})
	}
	c.obs.LogInfo("sensor_health_changed", fields...)
}

var _ ports.FrameSource = (*Composite)(nil)
