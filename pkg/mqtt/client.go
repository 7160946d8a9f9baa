// Package mqtt provides a small MQTT 3.1.1 client: a built-in session
// engine over a pluggable transport, plus an Eclipse Paho adapter behind
// the same interface.
package mqtt

import (
	"errors"
	"fmt"
)

// New creates a Client for the given configuration with the default TCP
// transport. The Driver field selects the implementation.
func New(cfg *ClientConfig) (Client, error) {
	return NewWithTransport(cfg, nil)
}

// NewWithTransport creates a Client over a caller-supplied Transport; a
// nil transport selects plain TCP. The paho driver manages its own network
// stack and rejects a custom transport.
func NewWithTransport(cfg *ClientConfig, tr Transport) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	switch cfg.Driver {
	case DriverPaho:
		if tr != nil {
			return nil, errors.New("the paho driver does not accept a custom transport")
		}
		return newPahoClient(cfg), nil
	default:
		if tr == nil {
			tr = NewTCPTransport(cfg.ConnectTimeout)
		}
		return newSession(cfg, tr), nil
	}
}
