// Package waldo implements the publisher daemon. It scans the synergy
// server log for screen switch events and publishes each one to the
// MQTT broker.
package waldo

import (
	"time"

	"github.com/screenmon-io/screenmon/internal/pkg/metrics"
	"github.com/screenmon-io/screenmon/internal/pkg/server"
	"github.com/screenmon-io/screenmon/internal/pkg/util/retry"
	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/mqtt"
	"github.com/screenmon-io/screenmon/pkg/options"
)

type Config struct {
	MqttOptions *options.MqttOptions
	HttpOptions *options.HttpOptions

	// FollowPath, when set, tails this file instead of reading stdin.
	FollowPath string
}

// NewMonitor wires a Monitor from the configuration.
func (cfg *Config) NewMonitor() (*Monitor, error) {
	client, err := mqtt.New(cfg.MqttOptions.ToClientConfig())
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		client:     client,
		topic:      cfg.MqttOptions.Topic,
		broker:     cfg.MqttOptions.Broker,
		port:       cfg.MqttOptions.Port,
		followPath: cfg.FollowPath,

		// The broker may come up long after the daemon; keep dialing.
		connectBackoff: retry.Backoff{
			Initial: time.Second,
			Factor:  2,
			Max:     60 * time.Second,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				metrics.Reconnects.Inc()
				log.Warn("Connection failed, will retry", "attempt", attempt, "delay", delay, "err", err)
			},
		},

		// A switch event is stale after a few seconds, so publishing
		// gives up quickly and moves on to the next line.
		publishBackoff: retry.Backoff{
			Initial:  2 * time.Second,
			Factor:   2,
			Attempts: 3,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				metrics.PublishRetries.Inc()
				log.Debug("Publish retry", "attempt", attempt, "delay", delay, "err", err)
			},
		},
	}

	m.srv = server.NewServer(cfg.HttpOptions, server.Probes{
		Ready: client.IsConnected,
		Vars:  m.stats,
	})

	return m, nil
}
