package ports

// Metric names shared by the core and the Prometheus adapter.
const (
	MetricFramesSampled     = "meshtrace_frames_sampled_total"
	MetricCrashesConfirmed  = "meshtrace_crashes_confirmed_total"
	MetricDeliveryAttempts  = "meshtrace_delivery_attempts_total"
	MetricDeliveredPrimary  = "meshtrace_delivered_primary_total"
	MetricDeliveredFallback = "meshtrace_delivered_fallback_total"
	MetricDeliveryFailed    = "meshtrace_delivery_failed_total"
	MetricBlackboxFailures  = "meshtrace_blackbox_failures_total"
	MetricBlackboxRotations = "meshtrace_blackbox_rotations_total"
	MetricSensorReadErrors  = "meshtrace_sensor_read_errors_total"

	GaugePrimaryConnected = "meshtrace_primary_connected"
	GaugePayloadBytes     = "meshtrace_payload_bytes"
	GaugeBlackboxBytes    = "meshtrace_blackbox_active_bytes"
	GaugeBlackboxHealthy  = "meshtrace_blackbox_healthy"
	GaugePreEventFrames   = "meshtrace_pre_event_frames"
	GaugeSensorHealth     = "meshtrace_sensor_health"

	LatencyTick     = "meshtrace_tick_duration_seconds"
	LatencyDelivery = "meshtrace_delivery_latency_seconds"
)
