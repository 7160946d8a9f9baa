package mqtt

import (
	"context"
)

// MessageHandler is the callback invoked for each inbound PUBLISH. It runs
// on the receive loop's goroutine: a handler that blocks stalls delivery
// of every following message on this session.
type MessageHandler func(topic string, payload []byte)

// Client is one logical MQTT 3.1.1 session with a broker.
// It abstracts the underlying driver: the built-in engine or Eclipse Paho.
type Client interface {
	// Connect dials the broker and performs the CONNECT/CONNACK
	// handshake. It returns nil only after the broker accepts the
	// session. Rejection surfaces as *ConnectionRejectedError, a silent
	// broker as ErrConnectTimeout, and stream failures as
	// *TransportError. Connecting while already connected is a no-op;
	// a second call while an attempt is in flight returns
	// ErrConnectPending.
	Connect(ctx context.Context) error

	// Disconnect stops the receive loop, sends a best-effort DISCONNECT,
	// and closes the transport. It is idempotent and safe in any state,
	// but must not be called from inside a MessageHandler.
	Disconnect()

	// IsConnected reports whether the session currently holds an
	// accepted connection.
	IsConnected() bool

	// Publish sends one message to a topic. QoS 1 and 2 frames carry a
	// packet identifier but the session does not track acknowledgements;
	// delivery confirmation beyond the transport write is not provided.
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error

	// Subscribe sends a SUBSCRIBE for one topic filter. Messages
	// matching the filter are delivered to the registered handler once
	// the receive loop runs. The broker's SUBACK is not awaited.
	Subscribe(ctx context.Context, filter string, qos byte) error

	// SetMessageHandler registers the callback for inbound messages,
	// replacing any previous one. Replacement cannot race an in-flight
	// invocation. A nil handler drops messages.
	SetMessageHandler(handler MessageHandler)

	// Start launches the background receive loop. Starting while the
	// loop already runs is a no-op.
	Start() error

	// Stop halts the receive loop and waits for it to exit; once Stop
	// returns, no further handler invocation happens. Stopping a stopped
	// client is a no-op. Like Disconnect, it must not be called from
	// inside a MessageHandler.
	Stop()
}
