// Package radio drives an AT-command LoRa modem attached to a UART. It is the
// fallback transport: one best-effort send per call, no retries.
package radio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/ghalamif/MeshTrace/internal/ports"
)

// Port is the subset of serial.Port the modem needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

type Config struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud"`
	Address    int           `yaml:"address"`
	MaxPayload int           `yaml:"max_payload"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = 240
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 2 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("radio port is required")
	}
	if c.Address < 0 || c.Address > 65535 {
		return fmt.Errorf("radio address %d out of range", c.Address)
	}
	if c.MaxPayload <= 0 {
		return errors.New("radio max_payload must be > 0")
	}
	return nil
}

// SerialRadio sends frames as AT+SEND commands and waits for +OK.
type SerialRadio struct {
	mu   sync.Mutex
	cfg  Config
	port Port
	obs  ports.Observability
}

// Open opens the UART at 8N1.
func Open(cfg Config, obs ports.Observability) (*SerialRadio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("radio open %s: %w", cfg.Port, err)
	}
	return New(cfg, p, obs)
}

func New(cfg Config, port Port, obs ports.Observability) (*SerialRadio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Short reads let the ack loop observe its own deadline.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("radio read timeout: %w", err)
	}
	return &SerialRadio{cfg: cfg, port: port, obs: obs}, nil
}

// Send reports false for oversized frames, write errors, modem errors and
// missing acks.
func (r *SerialRadio) Send(frame []byte) bool {
	if len(frame) > r.cfg.MaxPayload {
		r.obs.LogError("radio_frame_oversized", nil,
			ports.Field{Key: "frame_bytes", Value: len(frame)},
			ports.Field{Key: "max_payload", Value: r.cfg.MaxPayload},
		)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := fmt.Sprintf("AT+SEND=%d,%d,%s\r\n", r.cfg.Address, len(frame), frame)
	if _, err := io.WriteString(r.port, cmd); err != nil {
		r.obs.LogError("radio_write_failed", err)
		return false
	}

	reply, err := r.readLine(r.cfg.AckTimeout)
	if err != nil {
		r.obs.LogError("radio_ack_failed", err)
		return false
	}
	if reply != "+OK" {
		r.obs.LogError("radio_modem_error", nil, ports.Field{Key: "reply", Value: reply})
		return false
	}
	return true
}

func (r *SerialRadio) readLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var line []byte
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := r.port.Read(buf)
		line = append(line, buf[:n]...)
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			return strings.TrimSpace(string(line[:i])), nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no reply within %s", timeout)
}

func (r *SerialRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port.Close()
}

var _ ports.FallbackTransport = (*SerialRadio)(nil)
