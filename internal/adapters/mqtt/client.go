package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/MeshTrace/internal/ports"
)

type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	CAFile         string        `yaml:"ca_file"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
}

func (c *Config) ApplyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 60 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if c.ClientID == "" {
		return errors.New("mqtt client_id is required")
	}
	if c.QoS > 2 {
		return errors.New("mqtt qos must be 0, 1 or 2")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("mqtt cert_file and key_file must be set together")
	}
	return nil
}

// Client is the primary transport. The connected flag is written from paho's
// network goroutine and read from the sampling loop.
type Client struct {
	cfg       Config
	client    paho.Client
	obs       ports.Observability
	connected atomic.Bool
	dial      sync.Mutex
}

// New prepares the session but does not dial; the first Reconnect does.
func New(cfg Config, obs ports.Observability) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tlsCfg, err := loadTLS(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, obs: obs}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(c.handleConnectionLost)
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	c.client = paho.NewClient(opts)
	return c, nil
}

func newWithClient(cfg Config, client paho.Client, obs ports.Observability) *Client {
	return &Client{cfg: cfg, client: client, obs: obs}
}

func loadTLS(cfg Config) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mqtt ca: no certificates in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (c *Client) handleConnect(paho.Client) {
	c.connected.Store(true)
	c.obs.SetGauge(ports.GaugePrimaryConnected, 1)
	c.obs.LogInfo("mqtt_connected", ports.Field{Key: "broker", Value: c.cfg.Broker})
}

func (c *Client) handleConnectionLost(_ paho.Client, err error) {
	c.connected.Store(false)
	c.obs.SetGauge(ports.GaugePrimaryConnected, 0)
	c.obs.LogError("mqtt_connection_lost", err, ports.Field{Key: "broker", Value: c.cfg.Broker})
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Reconnect dials the broker and waits at most ConnectTimeout for the CONNACK.
// Concurrent callers share one dial.
func (c *Client) Reconnect() error {
	c.dial.Lock()
	defer c.dial.Unlock()
	if c.connected.Load() {
		return nil
	}
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect %s: timed out after %s", c.cfg.Broker, c.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}
	return nil
}

// Publish blocks for at most PublishTimeout.
func (c *Client) Publish(topic string, payload []byte, qos byte) ports.ResultCode {
	if !c.connected.Load() {
		return ports.ResultNoConnection
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return ports.ResultTimeout
	}
	if err := token.Error(); err != nil {
		if errors.Is(err, paho.ErrNotConnected) {
			c.connected.Store(false)
			return ports.ResultNoConnection
		}
		c.obs.LogError("mqtt_publish_failed", err, ports.Field{Key: "topic", Value: topic})
		return ports.ResultRejected
	}
	return ports.ResultAccepted
}

func (c *Client) Close() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.connected.Store(false)
}

var _ ports.PrimaryTransport = (*Client)(nil)
