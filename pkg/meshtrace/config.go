package meshtrace

import (
	"github.com/ghalamif/MeshTrace/internal/adapters/blackbox"
	"github.com/ghalamif/MeshTrace/internal/adapters/mqtt"
	"github.com/ghalamif/MeshTrace/internal/adapters/radio"
	"github.com/ghalamif/MeshTrace/internal/adapters/sensors"
	"github.com/ghalamif/MeshTrace/internal/app/config"
	"github.com/ghalamif/MeshTrace/internal/app/correlator"
	"github.com/ghalamif/MeshTrace/internal/app/publisher"
	"github.com/ghalamif/MeshTrace/internal/domain"
)

// Config re-exports the node configuration so embedding programs can build or
// tweak it in code.
type Config = config.Config

// Section types. An empty RadioConfig.Port disables the fallback link.
type (
	NodeConfig       = config.NodeConfig
	SamplingConfig   = config.SamplingConfig
	CorrelatorConfig = correlator.Config
	SeverityBands    = domain.SeverityBands
	PublisherConfig  = publisher.Config
	MQTTConfig       = mqtt.Config
	RadioConfig      = radio.Config
	BlackboxConfig   = blackbox.Config
	SecurityConfig   = config.SecurityConfig
	SensorsConfig    = config.SensorsConfig
	SimulatorConfig  = sensors.SimulatorConfig
	MetricsConfig    = config.MetricsConfig
)

// LoadConfig reads, defaults and validates a YAML file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a bench configuration pointing at a local broker.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadKey reads a hex-encoded 32-byte radio key.
func LoadKey(path string) ([]byte, error) {
	return config.LoadKey(path)
}
