package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// AlertTag labels every crash package on the wire.
const AlertTag = "crash_alert"

// Severity is the coarse impact class derived from acceleration magnitude.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SeverityBands holds the lower bounds (m/s²) of the MEDIUM and HIGH classes.
type SeverityBands struct {
	MediumMS2 float64 `yaml:"medium_ms2"`
	HighMS2   float64 `yaml:"high_ms2"`
}

// DefaultSeverityBands returns the 15/25 m/s² calibration.
func DefaultSeverityBands() SeverityBands {
	return SeverityBands{MediumMS2: 15, HighMS2: 25}
}

// Classify maps an acceleration magnitude onto a severity class.
func (b SeverityBands) Classify(magnitude float64) Severity {
	switch {
	case magnitude < b.MediumMS2:
		return SeverityLow
	case magnitude < b.HighMS2:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// CrashPackage is built exactly once per confirmed crash. Consumers serialize
// their own copy; nothing mutates a package after NewCrashPackage returns.
type CrashPackage struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	NodeID     string        `json:"node_id"`
	Severity   Severity      `json:"severity"`
	Magnitude  float64       `json:"magnitude"`
	Confidence float64       `json:"confidence"`
	Channel    int           `json:"channel"`
	Location   *Location     `json:"location,omitempty"`
	Timestamp  time.Time     `json:"ts"`
	Trigger    SensorFrame   `json:"crash_data"`
	PreEvent   []SensorFrame `json:"pre_crash_buffer"`
}

// NewCrashPackage assembles a package from the triggering frame and a buffer snapshot.
// The snapshot must already be an independent copy.
func NewCrashPackage(frame SensorFrame, trigger ImpactTrigger, confidence float64, bands SeverityBands, snapshot []SensorFrame, now time.Time) *CrashPackage {
	var loc *Location
	if frame.Location != nil {
		l := *frame.Location
		loc = &l
	}
	return &CrashPackage{
		ID:         uuid.NewString(),
		Type:       AlertTag,
		NodeID:     frame.NodeID,
		Severity:   bands.Classify(frame.Acceleration.Magnitude),
		Magnitude:  frame.Acceleration.Magnitude,
		Confidence: confidence,
		Channel:    trigger.Channel,
		Location:   loc,
		Timestamp:  now,
		Trigger:    frame,
		PreEvent:   snapshot,
	}
}

// ShortIDLen is the prefix of CrashPackage.ID carried in a CrashSummary.
const ShortIDLen = 8

// CrashSummary is the compact form relayed over the radio link. ID is the
// package ID prefix; the collector matches it against the crash log.
type CrashSummary struct {
	ID         string   `json:"id"`
	NodeID     string   `json:"n"`
	Severity   Severity `json:"s"`
	Magnitude  float64  `json:"m"`
	Confidence float64  `json:"c"`
	Latitude   *float64 `json:"la,omitempty"`
	Longitude  *float64 `json:"lo,omitempty"`
	Unix       int64    `json:"t"`
}

// Summary strips the package down to what fits a single radio frame.
func (p *CrashPackage) Summary() CrashSummary {
	s := CrashSummary{
		ID:         p.ID,
		NodeID:     p.NodeID,
		Severity:   p.Severity,
		Magnitude:  roundTo(p.Magnitude, 2),
		Confidence: roundTo(p.Confidence, 2),
		Unix:       p.Timestamp.Unix(),
	}
	if len(s.ID) > ShortIDLen {
		s.ID = s.ID[:ShortIDLen]
	}
	if p.Location != nil {
		lat, lon := roundTo(p.Location.Latitude, 5), roundTo(p.Location.Longitude, 5)
		s.Latitude, s.Longitude = &lat, &lon
	}
	return s
}

// WidestSummaryLen is the encoded size of the largest summary a node with this
// ID can produce.
func WidestSummaryLen(nodeID string) int {
	lat, lon := -89.99999, -179.99999
	raw, _ := json.Marshal(CrashSummary{
		ID:         "ffffffff",
		NodeID:     nodeID,
		Severity:   SeverityMedium,
		Magnitude:  9999.99,
		Confidence: 0.99,
		Latitude:   &lat,
		Longitude:  &lon,
		Unix:       9999999999,
	})
	return len(raw)
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
