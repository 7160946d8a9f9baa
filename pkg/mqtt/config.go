package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Driver names accepted by ClientConfig.Driver.
const (
	// DriverNano selects the built-in session engine.
	DriverNano = "nano"

	// DriverPaho selects the Eclipse Paho adapter.
	DriverPaho = "paho"
)

// Defaults applied by setDefaultConfig.
const (
	// DefaultPort is the standard unencrypted MQTT port.
	DefaultPort = 1883

	// DefaultKeepAlive is the keep-alive interval in seconds.
	DefaultKeepAlive uint16 = 60

	// DefaultConnectTimeout bounds the CONNECT/CONNACK handshake.
	DefaultConnectTimeout = 10 * time.Second
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	// Broker is the broker's host name or IP address.
	Broker string

	// Port is the broker's TCP port. Default is 1883.
	Port int

	// ClientID identifies the session to the broker. It may be left
	// empty, in which case the broker assigns one (3.1.1 requires a
	// clean session for that).
	ClientID string

	Username string
	Password string

	// KeepAlive in seconds. Default is 60. Zero after defaulting would
	// disable the keep-alive probe entirely.
	KeepAlive uint16

	// ConnectTimeout bounds the whole handshake: dial plus the wait for
	// CONNACK. Default is 10s.
	ConnectTimeout time.Duration

	// CleanSession asks the broker to discard prior session state. The
	// screenmon daemons always connect clean.
	CleanSession bool

	// Driver selects the client implementation. Default is DriverNano.
	Driver string
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverNano
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("broker address is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", c.Port)
	}
	switch c.Driver {
	case DriverNano, DriverPaho:
	default:
		return fmt.Errorf("unsupported driver %q (supported: %s, %s)", c.Driver, DriverNano, DriverPaho)
	}
	return nil
}

// Addr renders the broker endpoint as host:port.
func (c *ClientConfig) Addr() string {
	return net.JoinHostPort(c.Broker, strconv.Itoa(c.Port))
}
