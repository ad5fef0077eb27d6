package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/MeshTrace/internal/adapters/blackbox"
	"github.com/ghalamif/MeshTrace/internal/adapters/codec"
	"github.com/ghalamif/MeshTrace/internal/adapters/mqtt"
	"github.com/ghalamif/MeshTrace/internal/adapters/radio"
	"github.com/ghalamif/MeshTrace/internal/adapters/sensors"
	"github.com/ghalamif/MeshTrace/internal/app/correlator"
	"github.com/ghalamif/MeshTrace/internal/app/publisher"
	"github.com/ghalamif/MeshTrace/internal/domain"
)

type Config struct {
	Node       NodeConfig           `yaml:"node"`
	Sampling   SamplingConfig       `yaml:"sampling"`
	Correlator correlator.Config    `yaml:"correlator"`
	Severity   domain.SeverityBands `yaml:"severity"`
	Publisher  publisher.Config     `yaml:"publisher"`
	MQTT       mqtt.Config          `yaml:"mqtt"`
	Radio      radio.Config         `yaml:"radio"`
	Blackbox   blackbox.Config      `yaml:"blackbox"`
	Security   SecurityConfig       `yaml:"security"`
	Sensors    SensorsConfig        `yaml:"sensors"`
	Metrics    MetricsConfig        `yaml:"metrics"`
}

type NodeConfig struct {
	ID string `yaml:"id"`
}

type SamplingConfig struct {
	SampleRateHz    int `yaml:"sample_rate_hz"`
	PreEventSeconds int `yaml:"pre_event_seconds"`
}

type SecurityConfig struct {
	// KeyFile holds the hex-encoded 32-byte radio key, provisioned out of band.
	KeyFile string `yaml:"key_file"`
}

type SensorsConfig struct {
	ImpactLines     []string                `yaml:"impact_lines"`
	ImpactActiveLow bool                    `yaml:"impact_active_low"`
	Simulation      sensors.SimulatorConfig `yaml:"simulation"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	// Seeded before decoding: qos 0, debounce 0 and cooldown 0 are valid
	// explicit choices.
	cfg := Config{MQTT: mqtt.Config{QoS: 1}, Correlator: correlator.DefaultConfig()}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration for a bench node.
func Default() *Config {
	cfg := Config{
		MQTT:       mqtt.Config{QoS: 1, Broker: "tcp://127.0.0.1:1883"},
		Correlator: correlator.DefaultConfig(),
	}
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = "node1"
	}
	if c.Sampling.SampleRateHz == 0 {
		c.Sampling.SampleRateHz = 100
	}
	if c.Sampling.PreEventSeconds == 0 {
		c.Sampling.PreEventSeconds = 5
	}
	if c.Severity == (domain.SeverityBands{}) {
		c.Severity = domain.DefaultSeverityBands()
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}

	c.Correlator.ApplyDefaults()
	c.MQTT.ApplyDefaults()
	c.Radio.ApplyDefaults()
	c.Blackbox.ApplyDefaults()
	c.Sensors.Simulation.ApplyDefaults()
	c.Publisher.ApplyDefaults()
}

func (c *Config) validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Sampling.SampleRateHz <= 0 {
		return fmt.Errorf("sampling.sample_rate_hz must be > 0")
	}
	if c.Sampling.PreEventSeconds <= 0 {
		return fmt.Errorf("sampling.pre_event_seconds must be > 0")
	}
	if err := c.Correlator.Validate(); err != nil {
		return fmt.Errorf("correlator config: %w", err)
	}
	if n := len(c.Sensors.ImpactLines); n > correlator.MaxChannels {
		return fmt.Errorf("sensors.impact_lines: at most %d lines, got %d", correlator.MaxChannels, n)
	}
	if c.Severity.MediumMS2 <= 0 || c.Severity.HighMS2 <= c.Severity.MediumMS2 {
		return fmt.Errorf("severity: need 0 < medium_ms2 < high_ms2, got %v/%v", c.Severity.MediumMS2, c.Severity.HighMS2)
	}
	pub := c.PublisherSettings()
	if err := pub.Validate(); err != nil {
		return fmt.Errorf("publisher config: %w", err)
	}
	mq := c.MQTTSettings()
	if err := mq.Validate(); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}
	if c.Radio.Port != "" {
		if err := c.Radio.Validate(); err != nil {
			return fmt.Errorf("radio config: %w", err)
		}
		if c.Security.KeyFile == "" {
			return fmt.Errorf("security.key_file is required when radio.port is set")
		}
		if n := codec.SealedLen(domain.WidestSummaryLen(c.Node.ID)); n > c.Radio.MaxPayload {
			return fmt.Errorf("node.id %q: sealed crash summary needs %d bytes, radio.max_payload is %d", c.Node.ID, n, c.Radio.MaxPayload)
		}
	}
	if err := c.Blackbox.Validate(); err != nil {
		return fmt.Errorf("blackbox config: %w", err)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}

// MQTTSettings returns the MQTT section with the client ID and topic derived
// from the node ID when they are not set explicitly.
func (c *Config) MQTTSettings() mqtt.Config {
	m := c.MQTT
	if m.ClientID == "" {
		m.ClientID = c.Node.ID
	}
	if m.Topic == "" {
		m.Topic = CrashTopic(c.Node.ID)
	}
	return m
}

// PublisherSettings returns the publisher section bound to the MQTT topic and QoS.
func (c *Config) PublisherSettings() publisher.Config {
	p := c.Publisher
	m := c.MQTTSettings()
	p.Topic, p.QoS = m.Topic, m.QoS
	return p
}

func CrashTopic(nodeID string) string {
	return fmt.Sprintf("mesh-trace/%s/crash", nodeID)
}

// Validate re-checks a configuration assembled in code.
func (c *Config) Validate() error {
	return c.validate()
}

// LoadKey reads a hex-encoded radio key. Surrounding whitespace is ignored.
func LoadKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != codec.KeySize {
		return nil, fmt.Errorf("%w: %s holds %d bytes", codec.ErrInvalidKey, path, len(key))
	}
	return key, nil
}

// ErrNoRadio reports that no fallback transport is configured.
var ErrNoRadio = errors.New("meshtrace: no radio configured")

// RadioKey loads the key for the configured radio.
func (c *Config) RadioKey() ([]byte, error) {
	if c.Radio.Port == "" {
		return nil, ErrNoRadio
	}
	return LoadKey(c.Security.KeyFile)
}
