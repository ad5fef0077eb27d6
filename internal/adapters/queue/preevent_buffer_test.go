package queue

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ghalamif/MeshTrace/internal/domain"
)

func frameAt(i int) domain.SensorFrame {
	return domain.SensorFrame{
		NodeID:    "node1",
		Monotonic: time.Duration(i) * 10 * time.Millisecond,
	}
}

func TestPreEventBufferEvictsOldestFirst(t *testing.T) {
	b, err := NewPreEventBufferWithCapacity(500)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}

	for i := 1; i <= 501; i++ {
		b.Push(frameAt(i))
	}

	snap := b.Snapshot()
	if len(snap) != 500 {
		t.Fatalf("expected 500 frames, got %d", len(snap))
	}
	if snap[0].Monotonic != frameAt(2).Monotonic {
		t.Fatalf("expected frame #2 first, got %s", snap[0].Monotonic)
	}
	if snap[499].Monotonic != frameAt(501).Monotonic {
		t.Fatalf("expected frame #501 last, got %s", snap[499].Monotonic)
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Monotonic <= snap[i-1].Monotonic {
			t.Fatalf("order broken at %d", i)
		}
	}
}

func TestPreEventBufferSnapshotIsIndependent(t *testing.T) {
	b, err := NewPreEventBufferWithCapacity(3)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	b.Push(frameAt(1))
	b.Push(frameAt(2))

	snap := b.Snapshot()
	want := []domain.SensorFrame{frameAt(1), frameAt(2)}

	b.Push(frameAt(3))
	b.Push(frameAt(4))

	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot changed after push (-want +got):\n%s", diff)
	}
	if b.Len() != 3 || b.Cap() != 3 {
		t.Fatalf("expected len=cap=3, got len=%d cap=%d", b.Len(), b.Cap())
	}
}

func TestPreEventBufferCapacityFromRate(t *testing.T) {
	b, err := NewPreEventBuffer(100, 5)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	if b.Cap() != 500 {
		t.Fatalf("expected capacity 500, got %d", b.Cap())
	}

	if _, err := NewPreEventBuffer(100, 0); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
	if _, err := NewPreEventBufferWithCapacity(-1); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
}

func TestPreEventBufferEmptySnapshot(t *testing.T) {
	b, _ := NewPreEventBufferWithCapacity(2)
	if snap := b.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d", len(snap))
	}
}
