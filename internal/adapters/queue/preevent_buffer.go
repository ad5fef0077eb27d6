package queue

import (
	"fmt"
	"sync"

	"github.com/ghalamif/MeshTrace/internal/domain"
)

// PreEventBuffer is a fixed-capacity ring of the most recent frames. Pushing
// into a full buffer evicts the oldest frame.
type PreEventBuffer struct {
	mu    sync.Mutex
	data  []domain.SensorFrame
	head  int // index of the oldest frame
	count int
}

// NewPreEventBuffer sizes the ring for sampleRateHz × seconds frames.
func NewPreEventBuffer(sampleRateHz, seconds int) (*PreEventBuffer, error) {
	return NewPreEventBufferWithCapacity(sampleRateHz * seconds)
}

func NewPreEventBufferWithCapacity(capacity int) (*PreEventBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pre-event buffer capacity must be > 0, got %d", capacity)
	}
	return &PreEventBuffer{data: make([]domain.SensorFrame, capacity)}, nil
}

func (b *PreEventBuffer) Push(f domain.SensorFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	capacity := len(b.data)
	if b.count == capacity {
		b.data[b.head] = f
		b.head = (b.head + 1) % capacity
		return
	}
	b.data[(b.head+b.count)%capacity] = f
	b.count++
}

// Snapshot returns an oldest-first copy that later pushes do not affect.
func (b *PreEventBuffer) Snapshot() []domain.SensorFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.SensorFrame, b.count)
	capacity := len(b.data)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%capacity]
	}
	return out
}

func (b *PreEventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *PreEventBuffer) Cap() int { return len(b.data) }
