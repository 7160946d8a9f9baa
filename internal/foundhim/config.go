// Package foundhim implements the subscriber daemon. It watches the
// switch-event topic and rings a bell when the configured desktop
// becomes active.
package foundhim

import (
	"time"

	"github.com/screenmon-io/screenmon/internal/archive"
	"github.com/screenmon-io/screenmon/internal/pkg/metrics"
	"github.com/screenmon-io/screenmon/internal/pkg/server"
	"github.com/screenmon-io/screenmon/internal/pkg/util/retry"
	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/mqtt"
	"github.com/screenmon-io/screenmon/pkg/options"
)

type Config struct {
	MqttOptions    *options.MqttOptions
	HttpOptions    *options.HttpOptions
	S3Options      *options.S3Options
	ArchiveOptions *options.ArchiveOptions

	// Key is the JSON field inspected in received events.
	Key string

	// Target is the value that rings the bell.
	Target string
}

// NewWatcher wires a Watcher from the configuration.
func (cfg *Config) NewWatcher() (*Watcher, error) {
	// A fresh client per attempt gives every session a unique identity.
	// An explicit client ID from the flags wins over the generated one.
	factory := func(clientID string) (mqtt.Client, error) {
		clientCfg := cfg.MqttOptions.ToClientConfig()
		if clientCfg.ClientID == "" {
			clientCfg.ClientID = clientID
		}
		return mqtt.New(clientCfg)
	}

	w := &Watcher{
		factory: factory,
		topic:   cfg.MqttOptions.Topic,
		key:     cfg.Key,
		target:  cfg.Target,
		broker:  cfg.MqttOptions.Broker,
		port:    cfg.MqttOptions.Port,
		bell:    SystemBell(),

		heartbeatEvery: heartbeatInterval,
		staleAfter:     heartbeatStale,

		connectBackoff: retry.Backoff{
			Initial: time.Second,
			Factor:  2,
			Max:     60 * time.Second,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				metrics.Reconnects.Inc()
				log.Warn("Connection failed, will retry", "attempt", attempt, "delay", delay, "err", err)
			},
		},
	}

	if cfg.ArchiveOptions != nil && cfg.ArchiveOptions.Dir != "" {
		var uploader archive.Uploader
		if cfg.S3Options != nil && cfg.S3Options.Endpoint != "" {
			up, err := archive.NewMinIOUploader(cfg.S3Options)
			if err != nil {
				return nil, err
			}
			uploader = up
		}

		journal, err := archive.Open(cfg.ArchiveOptions.Dir, cfg.ArchiveOptions.SegmentBytes, uploader)
		if err != nil {
			return nil, err
		}
		w.journal = journal
	}

	w.srv = server.NewServer(cfg.HttpOptions, server.Probes{
		Ready: w.IsConnected,
		Vars:  w.stats,
	})

	return w, nil
}
