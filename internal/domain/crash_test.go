package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeverityBandsClassify(t *testing.T) {
	b := DefaultSeverityBands()
	cases := []struct {
		mag  float64
		want Severity
	}{
		{0, SeverityLow},
		{14.99, SeverityLow},
		{15, SeverityMedium},
		{24.99, SeverityMedium},
		{25, SeverityHigh},
		{80, SeverityHigh},
	}
	for _, tc := range cases {
		if got := b.Classify(tc.mag); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.mag, got, tc.want)
		}
	}

	custom := SeverityBands{MediumMS2: 12, HighMS2: 18}
	if got := custom.Classify(13); got != SeverityMedium {
		t.Fatalf("expected custom bands to classify 13 as MEDIUM, got %s", got)
	}
}

func TestNewCrashPackageOwnsItsLocation(t *testing.T) {
	loc := &Location{Latitude: 52.52, Longitude: 13.405, FixQuality: 1}
	frame := SensorFrame{NodeID: "node-1", Acceleration: NewVector(20, 0, 0), Location: loc}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	pkg := NewCrashPackage(frame, ImpactTrigger{Channel: 2}, 0.8, DefaultSeverityBands(), nil, now)
	loc.Latitude = 0

	if pkg.Location.Latitude != 52.52 {
		t.Fatalf("package location must not alias the frame location")
	}
	if pkg.Type != AlertTag || pkg.Severity != SeverityMedium || pkg.Channel != 2 || pkg.ID == "" {
		t.Fatalf("unexpected package %+v", pkg)
	}
}

func TestSummaryStaysCompact(t *testing.T) {
	frame := SensorFrame{
		NodeID:       "node-vehicle-0001",
		Acceleration: NewVector(27.4321, 3.1, 1.2),
		Location:     &Location{Latitude: -33.868820123, Longitude: 151.209296456, FixQuality: 1},
	}
	pkg := NewCrashPackage(frame, ImpactTrigger{}, 0.91234, DefaultSeverityBands(), make([]SensorFrame, 500), time.Now())

	s := pkg.Summary()
	if len(s.ID) != ShortIDLen || s.ID != pkg.ID[:ShortIDLen] {
		t.Fatalf("expected ID prefix %q, got %q", pkg.ID[:ShortIDLen], s.ID)
	}
	if *s.Latitude != -33.86882 || s.Confidence != 0.91 {
		t.Fatalf("unexpected rounding lat=%v c=%v", *s.Latitude, s.Confidence)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	// 127 bytes of plaintext seal into a 236 byte radio frame.
	if len(raw) > 127 {
		t.Fatalf("summary too large for one radio frame: %d bytes: %s", len(raw), raw)
	}
}

func TestWidestSummaryBoundsRealSummaries(t *testing.T) {
	id := "node-vehicle-0001-abcdef"
	lat := -89.123456
	pkg := &CrashPackage{
		ID:         "3f2a9c1e-1111-2222-3333-444455556666",
		NodeID:     id,
		Severity:   SeverityMedium,
		Magnitude:  157.91234,
		Confidence: 0.87654,
		Location:   &Location{Latitude: lat, Longitude: -179.123456, FixQuality: 1},
		Timestamp:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(pkg.Summary())
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	if widest := WidestSummaryLen(id); len(raw) > widest {
		t.Fatalf("summary %d bytes exceeds widest estimate %d: %s", len(raw), widest, raw)
	}
	if WidestSummaryLen(id+"x") != WidestSummaryLen(id)+1 {
		t.Fatalf("expected the estimate to grow with the node id")
	}
}
