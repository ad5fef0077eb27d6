package ports

// ResultCode is the primary transport's verdict on a single publish.
type ResultCode int

const (
	ResultAccepted     ResultCode = 0
	ResultNoConnection ResultCode = 4
	ResultTimeout      ResultCode = 16
	ResultRejected     ResultCode = 17
)

func (rc ResultCode) String() string {
	switch rc {
	case ResultAccepted:
		return "accepted"
	case ResultNoConnection:
		return "no_connection"
	case ResultTimeout:
		return "timeout"
	case ResultRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PrimaryTransport is the network publisher. Each Publish must be bounded by
// the transport's own timeout. IsConnected reflects lifecycle callbacks that may
// run on the transport's I/O goroutine.
type PrimaryTransport interface {
	Publish(topic string, payload []byte, qos byte) ResultCode
	IsConnected() bool
	Reconnect() error
}

// FallbackTransport is the constrained radio link. It is best effort and has no
// retry contract of its own.
type FallbackTransport interface {
	Send(frame []byte) bool
}
