package ports

import "github.com/ghalamif/MeshTrace/internal/domain"

// EventLog is the durable local blackbox. Appends must finish before any
// network delivery for the same record is attempted.
type EventLog interface {
	Append(kind domain.RecordKind, payload any) error
	AppendCrash(pkg *domain.CrashPackage) error
	Stats() EventLogStats
	Close() error
}

type EventLogStats struct {
	ActiveSizeBytes     int64  `json:"active_size_bytes"`
	Rotations           uint64 `json:"rotations"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`
}
