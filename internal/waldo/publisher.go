package waldo

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/screenmon-io/screenmon/internal/pkg/metrics"
	"github.com/screenmon-io/screenmon/internal/pkg/server"
	"github.com/screenmon-io/screenmon/internal/pkg/util/retry"
	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/mqtt"
)

// Monitor reads synergy log lines, extracts screen switches, and
// publishes them to the broker.
type Monitor struct {
	client     mqtt.Client
	topic      string
	broker     string
	port       int
	followPath string

	srv *server.Server

	connectBackoff retry.Backoff
	publishBackoff retry.Backoff

	// source overrides the log stream. Nil selects FollowPath or stdin.
	source io.Reader

	// out receives the name of every published desktop. Nil means stdout.
	out io.Writer

	linesScanned  atomic.Uint64
	eventsParsed  atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

// Run connects to the broker and processes the log stream until it ends
// or ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	source := m.source
	if source == nil {
		if m.followPath != "" {
			f, err := newFollower(runCtx, m.followPath)
			if err != nil {
				return fmt.Errorf("failed to follow synergy log: %w", err)
			}
			defer f.Close()

			source = f
			log.Info("Following synergy log", "path", m.followPath)
		} else {
			source = os.Stdin
			log.Info("Reading synergy log from stdin")
		}
	}

	if err := m.connect(runCtx); err != nil {
		return err
	}
	defer func() {
		m.client.Disconnect()
		metrics.MqttConnected.Set(0)
	}()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return m.srv.Start(gctx)
	})

	g.Go(func() error {
		// Once the stream ends the server has nothing left to report.
		defer cancel()
		return m.process(gctx, source)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// connectOnce dials the broker and starts the receive loop that keeps
// the session alive.
func (m *Monitor) connectOnce(ctx context.Context) error {
	if err := m.client.Connect(ctx); err != nil {
		return err
	}

	return m.client.Start()
}

// connect dials until the broker accepts, backing off between attempts.
func (m *Monitor) connect(ctx context.Context) error {
	if err := retry.Do(ctx, m.connectBackoff, m.connectOnce); err != nil {
		return err
	}

	metrics.MqttConnected.Set(1)
	log.Info("Connected to MQTT broker", "broker", m.broker, "port", m.port)

	return nil
}

// process scans the log stream line by line until it ends.
func (m *Monitor) process(ctx context.Context, source io.Reader) error {
	scanner := bufio.NewScanner(source)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.handleLine(ctx, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log stream: %w", err)
	}

	log.Info("Log stream ended")

	return nil
}

// handleLine parses one log line and publishes any switch event in it.
func (m *Monitor) handleLine(ctx context.Context, line string) {
	m.linesScanned.Add(1)
	metrics.LogLinesScanned.Inc()

	name, ok := ParseSwitch(line)
	if !ok {
		return
	}

	m.eventsParsed.Add(1)
	metrics.SwitchEventsParsed.Inc()
	log.Debug("Parsed switch event", "desktop", name)

	payload, err := json.Marshal(NewEvent(name))
	if err != nil {
		log.Error(err, "Failed to encode switch event", "desktop", name)
		return
	}

	if err := m.publish(ctx, payload); err != nil {
		m.publishErrors.Add(1)
		metrics.EventsPublished.WithLabelValues("failed").Inc()
		log.Error(err, "Failed to publish switch event", "desktop", name)
		return
	}

	m.published.Add(1)
	metrics.EventsPublished.WithLabelValues("success").Inc()

	// Print the active desktop so shell consumers can chain on it.
	fmt.Fprintln(m.stdout(), name)
}

// publish sends one event, reconnecting first if the session dropped.
func (m *Monitor) publish(ctx context.Context, payload []byte) error {
	return retry.Do(ctx, m.publishBackoff, func(ctx context.Context) error {
		if !m.client.IsConnected() {
			metrics.MqttConnected.Set(0)

			if err := m.connectOnce(ctx); err != nil {
				return err
			}

			metrics.MqttConnected.Set(1)
			log.Info("Reconnected to MQTT broker", "broker", m.broker)
		}

		return m.client.Publish(ctx, m.topic, 0, false, payload)
	})
}

func (m *Monitor) stdout() io.Writer {
	if m.out != nil {
		return m.out
	}
	return os.Stdout
}

// stats feeds the /varz endpoint.
func (m *Monitor) stats() any {
	return map[string]any{
		"lines_scanned":  m.linesScanned.Load(),
		"events_parsed":  m.eventsParsed.Load(),
		"published":      m.published.Load(),
		"publish_errors": m.publishErrors.Load(),
		"connected":      m.client.IsConnected(),
	}
}
