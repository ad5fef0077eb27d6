package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/MeshTrace/internal/adapters/queue"
	"github.com/ghalamif/MeshTrace/internal/app/correlator"
	"github.com/ghalamif/MeshTrace/internal/app/publisher"
	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

// journal records the order in which collaborators are called.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type scriptedSource struct {
	mu     sync.Mutex
	frames []domain.SensorFrame
	reads  int
}

func (s *scriptedSource) ReadFrame() domain.SensorFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frames[min(s.reads, len(s.frames)-1)]
	s.reads++
	return f
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type mockLog struct {
	ports.EventLog
	j        *journal
	crashErr error
	crashes  []*domain.CrashPackage
	closes   int
}

func (m *mockLog) Append(kind domain.RecordKind, _ any) error {
	m.j.add("append:" + string(kind))
	return nil
}

func (m *mockLog) AppendCrash(pkg *domain.CrashPackage) error {
	m.j.add("append_crash")
	m.crashes = append(m.crashes, pkg)
	return m.crashErr
}

func (m *mockLog) Close() error {
	m.closes++
	return nil
}

type mockDeliverer struct {
	j       *journal
	outcome publisher.Outcome
}

func (m *mockDeliverer) Deliver(context.Context, *domain.CrashPackage) publisher.Outcome {
	m.j.add("deliver")
	return m.outcome
}

type mockObs struct {
	mu        sync.Mutex
	criticals []string
	counters  map[string]float64
}

func newMockObs() *mockObs { return &mockObs{counters: map[string]float64{}} }

func (m *mockObs) LogInfo(string, ...ports.Field)         {}
func (m *mockObs) LogError(string, error, ...ports.Field) {}
func (m *mockObs) LogCritical(msg string, _ error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criticals = append(m.criticals, msg)
}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, float64)           {}
func (m *mockObs) SetGauge(string, float64)                 {}
func (m *mockObs) RecordCrash(*domain.CrashPackage, string) {}

type stubChannel struct{ active bool }

func (s *stubChannel) Triggered() (bool, error) { return s.active, nil }

// toggledChannel is active only on its first read.
type toggledChannel struct{ reads int }

func (c *toggledChannel) Triggered() (bool, error) {
	c.reads++
	return c.reads == 1, nil
}

func frameAt(ms int64, mag float64) domain.SensorFrame {
	return domain.SensorFrame{
		NodeID:       "node-1",
		Timestamp:    time.Unix(10, 0).Add(time.Duration(ms) * time.Millisecond),
		Acceleration: domain.NewVector(mag, 0, 0),
	}
}

type fixture struct {
	agent  *Agent
	source *scriptedSource
	log    *mockLog
	obs    *mockObs
	j      *journal
}

func newFixture(t *testing.T, frames []domain.SensorFrame, channels ...ports.ImpactChannel) *fixture {
	t.Helper()
	j := &journal{}
	det, err := correlator.New(correlator.DefaultConfig(), channels...)
	if err != nil {
		t.Fatalf("correlator: %v", err)
	}
	buf, err := queue.NewPreEventBufferWithCapacity(500)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	f := &fixture{
		source: &scriptedSource{frames: frames},
		log:    &mockLog{j: j},
		obs:    newMockObs(),
		j:      j,
	}
	f.agent, err = New(Config{SampleRateHz: 100, Bands: domain.DefaultSeverityBands()}, Deps{
		Source:    f.source,
		Buffer:    buf,
		Log:       f.log,
		Detector:  det,
		Publisher: &mockDeliverer{j: j, outcome: publisher.DeliveredPrimary},
		Obs:       f.obs,
	})
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return f
}

func TestOnTickPersistsCrashBeforeDelivery(t *testing.T) {
	f := newFixture(t, []domain.SensorFrame{frameAt(0, 1.0), frameAt(50, 20)}, &toggledChannel{})

	if pkg := f.agent.OnTick(context.Background()); pkg != nil {
		t.Fatalf("rest frame must not confirm")
	}
	pkg := f.agent.OnTick(context.Background())
	if pkg == nil {
		t.Fatalf("expected a confirmed crash on the second tick")
	}

	want := []string{"append:sensor", "append:sensor", "append_crash", "deliver"}
	got := f.j.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	if pkg.Severity != domain.SeverityMedium || pkg.Type != domain.AlertTag {
		t.Fatalf("unexpected package %+v", pkg)
	}
	if len(pkg.PreEvent) != 2 || pkg.PreEvent[1].Acceleration.Magnitude != 20 {
		t.Fatalf("expected the buffer snapshot to end with the triggering frame, got %d frames", len(pkg.PreEvent))
	}
	if pkg.Confidence <= 0 || pkg.Confidence > 1 {
		t.Fatalf("expected confidence in (0,1], got %f", pkg.Confidence)
	}
	if f.obs.counters[ports.MetricCrashesConfirmed] != 1 || f.obs.counters[ports.MetricFramesSampled] != 2 {
		t.Fatalf("unexpected counters %v", f.obs.counters)
	}
}

func TestOnTickIgnoresAccelerationWithoutTrigger(t *testing.T) {
	f := newFixture(t, []domain.SensorFrame{frameAt(0, 40)}, &stubChannel{})

	for i := 0; i < 5; i++ {
		if pkg := f.agent.OnTick(context.Background()); pkg != nil {
			t.Fatalf("acceleration alone must not confirm")
		}
	}
	if len(f.log.crashes) != 0 {
		t.Fatalf("expected no crash records")
	}
}

func TestHandleConfirmedCrashDeliversEvenIfPersistFails(t *testing.T) {
	f := newFixture(t, []domain.SensorFrame{frameAt(0, 0)})
	f.log.crashErr = errors.New("no space left on device")

	pkg := &domain.CrashPackage{ID: "c-1"}
	if got := f.agent.HandleConfirmedCrash(context.Background(), pkg); got != publisher.DeliveredPrimary {
		t.Fatalf("expected delivery outcome to pass through, got %s", got)
	}
	if len(f.obs.criticals) != 1 || f.obs.criticals[0] != "crash_persist_failed" {
		t.Fatalf("expected a critical persist log, got %v", f.obs.criticals)
	}
	if got := f.j.snapshot(); len(got) != 2 || got[0] != "append_crash" || got[1] != "deliver" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRunStopsOnCancelAndShutdownClosesOnce(t *testing.T) {
	f := newFixture(t, []domain.SensorFrame{frameAt(0, 9.8)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.agent.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for f.source.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected the loop to tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}

	if err := f.agent.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_ = f.agent.Shutdown()
	if f.log.closes != 1 {
		t.Fatalf("expected one close, got %d", f.log.closes)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatalf("expected zero sample rate to fail")
	}
	if _, err := New(Config{SampleRateHz: 100}, Deps{}); err == nil {
		t.Fatalf("expected missing deps to fail")
	}
}
