package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/screenmon-io/screenmon/pkg/mqtt"
	"github.com/screenmon-io/screenmon/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the MQTT client and topics.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	CleanSession   bool          `json:"clean-session" mapstructure:"clean-session"`

	// Driver selects the client implementation, "nano" or "paho".
	Driver string `json:"driver" mapstructure:"driver"`

	// Topic is the topic (or topic filter, for subscribers) that switch
	// events travel on.
	Topic string `json:"topic" mapstructure:"topic"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "localhost",
		Port:           mqtt.DefaultPort,
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 10 * time.Second,
		CleanSession:   true,
		Driver:         mqtt.DriverNano,
		Topic:          "synergy",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Broker == "" {
		errors = append(errors, fmt.Errorf("mqtt broker must not be empty"))
	}

	if o.Port < 1 || o.Port > 65535 {
		errors = append(errors, fmt.Errorf("mqtt port %d is out of range 1..65535", o.Port))
	}

	if o.Driver != mqtt.DriverNano && o.Driver != mqtt.DriverPaho {
		errors = append(errors, fmt.Errorf("unknown mqtt driver %q", o.Driver))
	}

	if err := topic.ValidateFilter(o.Topic); err != nil {
		errors = append(errors, fmt.Errorf("invalid mqtt topic: %w", err))
	}

	return errors
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The host name or IP address of the MQTT broker.")
	fs.IntVar(&o.Port, "mqtt.port", o.Port, "The TCP port of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (optional, usually generated).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.BoolVar(&o.CleanSession, "mqtt.clean-session", o.CleanSession, "Ask the broker to discard any previous session state.")
	fs.StringVar(&o.Driver, "mqtt.driver", o.Driver, "MQTT client implementation to use ('nano' or 'paho').")

	// Topics
	fs.StringVar(&o.Topic, "mqtt.topic", o.Topic, "Topic that desktop switch events travel on.")
}

// ToClientConfig converts the options into a client configuration.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		Broker:         o.Broker,
		Port:           o.Port,
		Username:       o.Username,
		Password:       o.Password,
		ClientID:       o.ClientID,
		KeepAlive:      uint16(o.KeepAlive.Seconds()),
		ConnectTimeout: o.ConnectTimeout,
		CleanSession:   o.CleanSession,
		Driver:         o.Driver,
	}
}
