// Package options holds the flag and configuration surface of the
// found-him command.
package options

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/screenmon-io/screenmon/internal/foundhim"
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
}

// WatcherOptions contains everything needed to run the found-him daemon.
type WatcherOptions struct {
	MqttOptions *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions *options.HttpOptions    `json:"http" mapstructure:"http"`
	S3Options   *options.S3Options      `json:"s3" mapstructure:"s3"`
	Archive     *options.ArchiveOptions `json:"archive" mapstructure:"archive"`
	Log         *log.Options            `json:"log" mapstructure:"log"`

	// Key is the JSON field inspected in received events.
	Key string `json:"key" mapstructure:"key"`

	// Target is resolved from the positional argument, TARGET_DESKTOP,
	// or the lowercased hostname, in that order. It is never a flag.
	Target string `json:"-" mapstructure:"-"`

	ConfigFile string `json:"-" mapstructure:"-"`
	ShowConfig bool   `json:"-" mapstructure:"-"`
}

func NewWatcherOptions() *WatcherOptions {
	return &WatcherOptions{
		MqttOptions: options.NewMqttOptions(),
		HttpOptions: options.NewHttpOptions(),
		S3Options:   options.NewS3Options(),
		Archive:     options.NewArchiveOptions(),
		Log:         log.NewOptions(),
		Key:         "current_desktop",
	}
}

// AddFlags binds the full found-him flag surface to fs.
func (o *WatcherOptions) AddFlags(fs *pflag.FlagSet) {
	o.MqttOptions.AddFlags(fs)
	o.HttpOptions.AddFlags(fs)
	o.S3Options.AddFlags(fs)
	o.Archive.AddFlags(fs)
	o.Log.AddFlags(fs)

	fs.StringVarP(&o.Key, "key", "k", o.Key, "JSON key to check in received events.")
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Read configuration from this file.")
	fs.BoolVar(&o.ShowConfig, "show-config", o.ShowConfig, "Print the effective configuration and exit.")
}

// Complete layers the configuration sources: explicit flags win, then
// environment variables, then the config file, then built-in defaults.
func (o *WatcherOptions) Complete(cmd *cobra.Command, args []string) error {
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

	if err := v.Unmarshal(o); err != nil {
		return err
	}

	return o.resolveTarget(args)
}

// resolveTarget picks the desktop name to match. The positional argument
// wins, then TARGET_DESKTOP, then the machine's own hostname so that a
// bare invocation watches for itself.
func (o *WatcherOptions) resolveTarget(args []string) error {
	if len(args) > 0 {
		o.Target = args[0]
		return nil
	}

	if v := os.Getenv("TARGET_DESKTOP"); v != "" {
		o.Target = v
		return nil
	}

	host, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("cannot derive target desktop from hostname: %w", err)
	}
	o.Target = strings.ToLower(host)

	return nil
}

// Validate checks the full option surface.
func (o *WatcherOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Archive.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	if o.Key == "" {
		errs = append(errs, fmt.Errorf("key must not be empty"))
	}

	if o.Target == "" {
		errs = append(errs, fmt.Errorf("target desktop must not be empty"))
	}

	if o.S3Options.Endpoint != "" && o.Archive.Dir == "" {
		errs = append(errs, fmt.Errorf("s3.endpoint is set but archive.dir is empty, nothing would be shipped"))
	}

	return errors.Join(errs...)
}

// Config builds the runtime configuration for the watcher.
func (o *WatcherOptions) Config() (*foundhim.Config, error) {
	return &foundhim.Config{
		MqttOptions:    o.MqttOptions,
		HttpOptions:    o.HttpOptions,
		S3Options:      o.S3Options,
		ArchiveOptions: o.Archive,
		Key:            o.Key,
		Target:         o.Target,
	}, nil
}

// PrintSummary renders the effective configuration as a table.
func (o *WatcherOptions) PrintSummary(w io.Writer) {
	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("SETTING", "VALUE")
	table.AddRow("mqtt.broker", fmt.Sprintf("%s:%d", o.MqttOptions.Broker, o.MqttOptions.Port))
	table.AddRow("mqtt.topic", o.MqttOptions.Topic)
	table.AddRow("mqtt.driver", o.MqttOptions.Driver)
	table.AddRow("key", o.Key)
	table.AddRow("target", o.Target)
	table.AddRow("archive.dir", o.Archive.Dir)
	table.AddRow("s3.endpoint", o.S3Options.Endpoint)
	table.AddRow("http.addr", o.HttpOptions.Addr)
	table.AddRow("log.level", o.Log.Level)

	fmt.Fprintln(w, table)
}
