package meshtrace

import (
	"errors"
	"sync"
)

// PublishFunc handles one primary publish. A nil error means the broker accepted it.
type PublishFunc func(topic string, payload []byte, qos byte) error

// NewCallbackPrimary adapts a function into an always-connected
// PrimaryTransport, so packages can be routed into any bus or test harness.
// Any error from fn is reported as a rejected publish.
func NewCallbackPrimary(fn PublishFunc) PrimaryTransport {
	return &callbackPrimary{fn: fn}
}

type callbackPrimary struct {
	fn PublishFunc
}

func (c *callbackPrimary) Publish(topic string, payload []byte, qos byte) ResultCode {
	if c.fn == nil {
		return ResultNoConnection
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if err := c.fn(topic, buf, qos); err != nil {
		return ResultRejected
	}
	return ResultAccepted
}

func (c *callbackPrimary) IsConnected() bool { return c.fn != nil }

func (c *callbackPrimary) Reconnect() error {
	if c.fn == nil {
		return errors.New("meshtrace: callback primary has no handler")
	}
	return nil
}

// NewChannelFallback exposes sealed radio frames on a channel. Send reports
// false when the buffer is full or the fallback is closed; it never blocks.
// The returned func closes the channel and should run during shutdown.
func NewChannelFallback(buffer int) (FallbackTransport, <-chan []byte, func()) {
	if buffer < 1 {
		buffer = 1
	}
	f := &channelFallback{
		ch:     make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
	return f, f.ch, f.close
}

type channelFallback struct {
	mu     sync.Mutex
	ch     chan []byte
	closed chan struct{}
	once   sync.Once
}

func (f *channelFallback) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.closed:
		return false
	default:
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case f.ch <- buf:
		return true
	default:
		return false
	}
}

func (f *channelFallback) close() {
	f.once.Do(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		close(f.closed)
		close(f.ch)
	})
}
