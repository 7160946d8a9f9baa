// Package options holds the flag and configuration surface of the waldo
// command.
package options

import (
	"errors"
	"fmt"
	"io"

	"github.com/fsnotify/fsnotify"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/screenmon-io/screenmon/internal/waldo"
	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/options"
)

// envBindings maps configuration keys to the environment variables that
// may supply them.
var envBindings = map[string]string{
	"mqtt.broker": "MQTT_BROKER",
	"mqtt.port":   "MQTT_PORT",
	"mqtt.topic":  "MQTT_TOPIC",
	"mqtt.driver": "MQTT_CLIENT_TYPE",
	"log.level":   "LOG_LEVEL",
	"follow":      "SYNERGY_LOG_PATH",
}

// MonitorOptions contains everything needed to run the waldo daemon.
type MonitorOptions struct {
	MqttOptions *options.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions *options.HttpOptions `json:"http" mapstructure:"http"`
	Log         *log.Options         `json:"log" mapstructure:"log"`

	// Follow tails this file instead of reading stdin.
	Follow string `json:"follow" mapstructure:"follow"`

	ConfigFile string `json:"-" mapstructure:"-"`
	ShowConfig bool   `json:"-" mapstructure:"-"`
}

func NewMonitorOptions() *MonitorOptions {
	return &MonitorOptions{
		MqttOptions: options.NewMqttOptions(),
		HttpOptions: options.NewHttpOptions(),
		Log:         log.NewOptions(),
	}
}

// AddFlags binds the full waldo flag surface to fs.
func (o *MonitorOptions) AddFlags(fs *pflag.FlagSet) {
	o.MqttOptions.AddFlags(fs)
	o.HttpOptions.AddFlags(fs)
	o.Log.AddFlags(fs)

	fs.StringVar(&o.Follow, "follow", o.Follow, "Tail this synergy log file instead of reading stdin.")
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Read configuration from this file.")
	fs.BoolVar(&o.ShowConfig, "show-config", o.ShowConfig, "Print the effective configuration and exit.")
}

// Complete layers the configuration sources: explicit flags win, then
// environment variables, then the config file, then built-in defaults.
func (o *MonitorOptions) Complete(cmd *cobra.Command) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}

	if o.ConfigFile != "" {
		v.SetConfigFile(o.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", o.ConfigFile, err)
		}

		// Pick up log level changes without a restart.
		v.OnConfigChange(func(e fsnotify.Event) {
			level := v.GetString("log.level")
			if err := log.SetLevel(level); err != nil {
				log.Warn("Ignoring config change", "file", e.Name, "err", err)
				return
			}
			log.Info("Reloaded log level", "file", e.Name, "level", level)
		})
		v.WatchConfig()
	}

	return v.Unmarshal(o)
}

// Validate checks the full option surface.
func (o *MonitorOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

// Config builds the runtime configuration for the monitor.
func (o *MonitorOptions) Config() (*waldo.Config, error) {
	return &waldo.Config{
		MqttOptions: o.MqttOptions,
		HttpOptions: o.HttpOptions,
		FollowPath:  o.Follow,
	}, nil
}

// PrintSummary renders the effective configuration as a table.
func (o *MonitorOptions) PrintSummary(w io.Writer) {
	source := o.Follow
	if source == "" {
		source = "stdin"
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("SETTING", "VALUE")
	table.AddRow("mqtt.broker", fmt.Sprintf("%s:%d", o.MqttOptions.Broker, o.MqttOptions.Port))
	table.AddRow("mqtt.topic", o.MqttOptions.Topic)
	table.AddRow("mqtt.driver", o.MqttOptions.Driver)
	table.AddRow("http.addr", o.HttpOptions.Addr)
	table.AddRow("log.level", o.Log.Level)
	table.AddRow("source", source)

	fmt.Fprintln(w, table)
}
