package mqtt

import (
	"errors"
	"fmt"

	"github.com/screenmon-io/screenmon/pkg/mqtt/packet"
)

// Sentinel errors reported by the client. Test for them with errors.Is.
var (
	// ErrNotConnected is returned when an operation needs an established
	// session and there is none.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectTimeout is returned when no CONNACK arrives within the
	// configured connect timeout.
	ErrConnectTimeout = errors.New("mqtt: timed out waiting for CONNACK")

	// ErrConnectPending is returned when Connect is called while another
	// connect attempt is still in flight.
	ErrConnectPending = errors.New("mqtt: connect already in progress")

	// ErrInvalidQoS is returned for QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic is returned when a topic name or filter fails
	// validation.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)

// TransportError wraps an I/O failure on the underlying byte stream. It is
// fatal to the current connection; a fresh Connect may recover.
type TransportError struct {
	Op  string // "dial", "send", "receive", "handshake"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mqtt: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConnectionRejectedError reports that the broker answered the handshake
// with a non-zero CONNACK return code.
type ConnectionRejectedError struct {
	Code packet.ReturnCode
}

func (e *ConnectionRejectedError) Error() string {
	return "mqtt: connection rejected: " + e.Code.String()
}
