package domain

import (
	"encoding/json"
	"time"
)

// RecordKind tags each blackbox line.
type RecordKind string

const (
	RecordSensor     RecordKind = "sensor"
	RecordCrash      RecordKind = "crash"
	// RecordCrashEvent tags lines of the crash-only log.
	RecordCrashEvent RecordKind = "crash_event"
)

// LogRecord is one JSON line in the blackbox.
type LogRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      RecordKind      `json:"type"`
	Payload   json.RawMessage `json:"data"`
}
