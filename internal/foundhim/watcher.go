package foundhim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/screenmon-io/screenmon/internal/archive"
	"github.com/screenmon-io/screenmon/internal/pkg/metrics"
	"github.com/screenmon-io/screenmon/internal/pkg/server"
	"github.com/screenmon-io/screenmon/internal/pkg/util/retry"
	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/mqtt"
)

const (
	// heartbeatInterval is how often the monitor inspects the session.
	heartbeatInterval = 10 * time.Second

	// heartbeatStale marks the session suspect once no message arrived
	// for this long.
	heartbeatStale = 2 * time.Minute
)

// ClientFactory builds a session client for one connection attempt.
type ClientFactory func(clientID string) (mqtt.Client, error)

// clientID is unique per attempt: synergy-found-him-<pid>-<unix>.
func clientID() string {
	return fmt.Sprintf("synergy-found-him-%d-%d", os.Getpid(), time.Now().Unix())
}

// Watcher subscribes to the switch-event topic and reacts to events
// naming the watched desktop.
type Watcher struct {
	factory ClientFactory
	topic   string
	key     string
	target  string
	broker  string
	port    int

	bell BellFunc

	// out receives match announcements. Nil means stdout.
	out io.Writer

	srv     *server.Server
	journal *archive.Journal

	connectBackoff retry.Backoff

	heartbeatEvery time.Duration
	staleAfter     time.Duration

	mu          sync.Mutex
	client      mqtt.Client
	lastMessage time.Time

	received atomic.Uint64
	matches  atomic.Uint64
	bells    atomic.Uint64
}

// Run connects, then keeps the subscription alive until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info("Watching for desktop activation", "topic", w.topic, "key", w.key, "value", w.target)

	if err := w.connect(runCtx); err != nil {
		return err
	}
	defer w.closeJournal()
	defer w.disconnect()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return w.srv.Start(gctx)
	})

	g.Go(func() error {
		return w.monitor(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// connect dials until a session sticks, backing off between attempts.
func (w *Watcher) connect(ctx context.Context) error {
	if err := retry.Do(ctx, w.connectBackoff, w.connectOnce); err != nil {
		return err
	}

	metrics.MqttConnected.Set(1)
	w.touch()
	log.Info("Connected and subscribed", "broker", w.broker, "port", w.port, "topic", w.topic)

	return nil
}

// connectOnce builds a fresh client, dials, subscribes, and starts the
// receive loop. The previous client, if any, is torn down afterwards.
func (w *Watcher) connectOnce(ctx context.Context) error {
	client, err := w.factory(clientID())
	if err != nil {
		return err
	}

	// The handler must be in place before the loop starts so the first
	// message cannot slip through.
	client.SetMessageHandler(w.handleMessage)

	if err := client.Connect(ctx); err != nil {
		return err
	}

	if err := client.Subscribe(ctx, w.topic, 1); err != nil {
		client.Disconnect()
		return err
	}

	if err := client.Start(); err != nil {
		client.Disconnect()
		return err
	}

	w.mu.Lock()
	old := w.client
	w.client = client
	w.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	return nil
}

// handleMessage runs on the client's receive loop for every message on
// the watched topic.
func (w *Watcher) handleMessage(topic string, payload []byte) {
	w.touch()
	w.received.Add(1)
	metrics.MessagesReceived.Inc()

	if w.journal != nil {
		if err := w.journal.Append(payload); err != nil {
			log.Warn("Failed to journal event", "err", err)
		}
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		log.Debug("Failed to parse JSON message", "payload", string(payload))
		return
	}

	value, ok := data[w.key].(string)
	if !ok || value != w.target {
		return
	}

	w.matches.Add(1)
	metrics.DesktopMatches.Inc()

	if w.bell != nil {
		w.bell()
		w.bells.Add(1)
		metrics.BellsRung.Inc()
	}

	fmt.Fprintf(w.stdout(), "Match found! %s = %s\n", w.key, value)
}

// monitor periodically checks message freshness. A quiet topic is fine
// as long as the session is up; a quiet topic on a dead session means
// the broker went away, so a new session is built.
func (w *Watcher) monitor(ctx context.Context) error {
	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		age := w.heartbeatAge()
		metrics.HeartbeatAge.Set(age.Seconds())

		if age <= w.staleAfter {
			continue
		}

		if w.IsConnected() {
			// Quiet but alive: nobody is switching screens.
			continue
		}

		log.Warn("No recent messages and the session is down, reconnecting", "age", age)
		metrics.MqttConnected.Set(0)

		if err := w.connect(ctx); err != nil {
			return err
		}
	}
}

func (w *Watcher) touch() {
	w.mu.Lock()
	w.lastMessage = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) heartbeatAge() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.lastMessage)
}

// IsConnected reports whether the current session is alive.
func (w *Watcher) IsConnected() bool {
	w.mu.Lock()
	client := w.client
	w.mu.Unlock()

	return client != nil && client.IsConnected()
}

func (w *Watcher) disconnect() {
	w.mu.Lock()
	client := w.client
	w.client = nil
	w.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}

	metrics.MqttConnected.Set(0)
}

func (w *Watcher) closeJournal() {
	if w.journal == nil {
		return
	}

	if err := w.journal.Close(); err != nil {
		log.Error(err, "Failed to close event journal")
	}
}

func (w *Watcher) stdout() io.Writer {
	if w.out != nil {
		return w.out
	}
	return os.Stdout
}

// stats feeds the /varz endpoint.
func (w *Watcher) stats() any {
	return map[string]any{
		"received":              w.received.Load(),
		"matches":               w.matches.Load(),
		"bells_rung":            w.bells.Load(),
		"heartbeat_age_seconds": w.heartbeatAge().Seconds(),
		"connected":             w.IsConnected(),
	}
}
