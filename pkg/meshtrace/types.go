package meshtrace

import (
	"github.com/ghalamif/MeshTrace/internal/adapters/sensors"
	"github.com/ghalamif/MeshTrace/internal/app/publisher"
	"github.com/ghalamif/MeshTrace/internal/domain"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

// SensorFrame is one sampling tick's reading.
type SensorFrame = domain.SensorFrame

type (
	Vector        = domain.Vector
	Location      = domain.Location
	ImpactTrigger = domain.ImpactTrigger
	Severity      = domain.Severity
	LogRecord     = domain.LogRecord
)

// CrashPackage is the full crash report delivered over MQTT.
type CrashPackage = domain.CrashPackage

// CrashSummary is the compact report carried by the radio fallback.
type CrashSummary = domain.CrashSummary

// Outcome is the terminal result of delivering one crash package.
type Outcome = publisher.Outcome

const (
	DeliveredPrimary  = publisher.DeliveredPrimary
	DeliveredFallback = publisher.DeliveredFallback
	FailedBoth        = publisher.FailedBoth
)

// FrameSource supplies one frame per tick. Inject one to drive the node from
// custom hardware drivers.
type FrameSource = ports.FrameSource

// ImpactChannel is a discrete impact line fed to the correlator.
type ImpactChannel = ports.ImpactChannel

// PrimaryTransport publishes full crash packages.
type PrimaryTransport = ports.PrimaryTransport

// ResultCode is a primary transport's verdict on one publish.
type ResultCode = ports.ResultCode

const (
	ResultAccepted     = ports.ResultAccepted
	ResultNoConnection = ports.ResultNoConnection
	ResultTimeout      = ports.ResultTimeout
	ResultRejected     = ports.ResultRejected
)

// FallbackTransport sends one sealed frame over the constrained link.
type FallbackTransport = ports.FallbackTransport

// EventLog is the durable local blackbox.
type EventLog = ports.EventLog

type EventLogStats = ports.EventLogStats

// Observability receives the node's logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// HealthReport is the sensor health snapshot served on /healthz.
type HealthReport = sensors.HealthReport
