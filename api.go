package meshtrace

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	base "github.com/ghalamif/MeshTrace/pkg/meshtrace"
)

// Re-exported errors for convenience.
var (
	ErrNoSource            = base.ErrNoSource
	ErrFrameAuthentication = base.ErrFrameAuthentication
	ErrFrameFormat         = base.ErrFrameFormat
	ErrInvalidKey          = base.ErrInvalidKey
)

// Type aliases so consumers can import github.com/ghalamif/MeshTrace directly.
type (
	Config            = base.Config
	MQTTConfig        = base.MQTTConfig
	RadioConfig       = base.RadioConfig
	BlackboxConfig    = base.BlackboxConfig
	CorrelatorConfig  = base.CorrelatorConfig
	PublisherConfig   = base.PublisherConfig
	SimulatorConfig   = base.SimulatorConfig
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Health            = base.Health
	HealthReport      = base.HealthReport
	SensorFrame       = base.SensorFrame
	CrashPackage      = base.CrashPackage
	CrashSummary      = base.CrashSummary
	LogRecord         = base.LogRecord
	Location          = base.Location
	Outcome           = base.Outcome
	FrameSource       = base.FrameSource
	ImpactChannel     = base.ImpactChannel
	PrimaryTransport  = base.PrimaryTransport
	FallbackTransport = base.FallbackTransport
	ResultCode        = base.ResultCode
	EventLog          = base.EventLog
	Observability     = base.Observability
	PublishFunc       = base.PublishFunc
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

func LoadKey(path string) ([]byte, error) {
	return base.LoadKey(path)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSource(src FrameSource, impact ...ImpactChannel) RuntimeOption {
	return base.WithSource(src, impact...)
}

func WithSimulation() RuntimeOption {
	return base.WithSimulation()
}

func WithPrimary(p PrimaryTransport) RuntimeOption {
	return base.WithPrimary(p)
}

func WithFallback(f FallbackTransport, key []byte) RuntimeOption {
	return base.WithFallback(f, key)
}

func WithEventLog(l EventLog) RuntimeOption {
	return base.WithEventLog(l)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}

// Transport adapters.
func NewCallbackPrimary(fn PublishFunc) PrimaryTransport {
	return base.NewCallbackPrimary(fn)
}

func NewChannelFallback(buffer int) (FallbackTransport, <-chan []byte, func()) {
	return base.NewChannelFallback(buffer)
}

// Offline tools.
func DecodeSummary(key, frame []byte) (CrashSummary, error) {
	return base.DecodeSummary(key, frame)
}

func ReadCrashLog(dir string, count int) ([]LogRecord, error) {
	return base.ReadCrashLog(dir, count)
}
