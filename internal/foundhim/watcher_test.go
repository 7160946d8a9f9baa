package foundhim

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/screenmon-io/screenmon/internal/archive"
	"github.com/screenmon-io/screenmon/internal/pkg/server"
	"github.com/screenmon-io/screenmon/internal/pkg/util/retry"
	"github.com/screenmon-io/screenmon/pkg/mqtt"
	"github.com/screenmon-io/screenmon/pkg/options"
)

// fakeClient is an in-memory stand-in for one broker session.
type fakeClient struct {
	mu                      sync.Mutex
	connected               bool
	connectErr              error
	subscribeErr            error
	handler                 mqtt.MessageHandler
	handlerSetBeforeConnect bool
	subscriptions           []string
	subQoS                  []byte
	startCalls              int
	disconnects             int
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlerSetBeforeConnect = f.handler != nil
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, filter string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscriptions = append(f.subscriptions, filter)
	f.subQoS = append(f.subQoS, qos)
	return nil
}

func (f *fakeClient) SetMessageHandler(handler mqtt.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeClient) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (f *fakeClient) Stop() {}

// fakeFactory hands out fakeClients and remembers every identity asked for.
type fakeFactory struct {
	mu           sync.Mutex
	ids          []string
	clients      []*fakeClient
	err          error
	subscribeErr error
	failConnects int
}

func (f *fakeFactory) make(id string) (mqtt.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.ids = append(f.ids, id)
	c := &fakeClient{subscribeErr: f.subscribeErr}
	if len(f.clients) < f.failConnects {
		c.connectErr = errors.New("connection refused")
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func (f *fakeFactory) id(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[i]
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestWatcher(factory ClientFactory, out io.Writer) *Watcher {
	w := &Watcher{
		factory:        factory,
		topic:          "synergy",
		key:            "current_desktop",
		target:         "office",
		broker:         "127.0.0.1",
		port:           1883,
		out:            out,
		heartbeatEvery: 5 * time.Millisecond,
		staleAfter:     20 * time.Millisecond,
		connectBackoff: retry.Backoff{
			Initial:  time.Millisecond,
			Attempts: 3,
			Sleep:    noSleep,
		},
	}
	w.srv = server.NewServer(options.NewHttpOptions(), server.Probes{
		Ready: w.IsConnected,
		Vars:  w.stats,
	})
	return w
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConnectOnceWiresSession(t *testing.T) {
	factory := &fakeFactory{}
	w := newTestWatcher(factory.make, io.Discard)

	if err := w.connectOnce(context.Background()); err != nil {
		t.Fatalf("connectOnce() error = %v", err)
	}

	if got := factory.count(); got != 1 {
		t.Fatalf("factory built %d clients, want 1", got)
	}

	matched, err := regexp.MatchString(`^synergy-found-him-\d+-\d+$`, factory.id(0))
	if err != nil || !matched {
		t.Fatalf("client id = %q, want synergy-found-him-<pid>-<unix>", factory.id(0))
	}

	c := factory.client(0)
	if !c.handlerSetBeforeConnect {
		t.Fatal("message handler was not installed before Connect")
	}
	if len(c.subscriptions) != 1 || c.subscriptions[0] != "synergy" {
		t.Fatalf("subscriptions = %v, want [synergy]", c.subscriptions)
	}
	if c.subQoS[0] != 1 {
		t.Fatalf("subscribe QoS = %d, want 1", c.subQoS[0])
	}
	if c.startCalls != 1 {
		t.Fatalf("Start() called %d times, want 1", c.startCalls)
	}
	if !w.IsConnected() {
		t.Fatal("watcher does not report connected")
	}
}

func TestConnectOnceReplacesPreviousSession(t *testing.T) {
	factory := &fakeFactory{}
	w := newTestWatcher(factory.make, io.Discard)

	if err := w.connectOnce(context.Background()); err != nil {
		t.Fatalf("first connectOnce() error = %v", err)
	}
	if err := w.connectOnce(context.Background()); err != nil {
		t.Fatalf("second connectOnce() error = %v", err)
	}

	if got := factory.count(); got != 2 {
		t.Fatalf("factory built %d clients, want 2", got)
	}
	if got := factory.client(0).disconnects; got != 1 {
		t.Fatalf("first client disconnected %d times, want 1", got)
	}
	if !factory.client(1).IsConnected() {
		t.Fatal("replacement client is not connected")
	}
}

func TestConnectOnceSubscribeFailureTearsDown(t *testing.T) {
	factory := &fakeFactory{subscribeErr: errors.New("subscription refused")}
	w := newTestWatcher(factory.make, io.Discard)

	if err := w.connectOnce(context.Background()); err == nil {
		t.Fatal("connectOnce() succeeded despite subscribe failure")
	}

	if got := factory.client(0).disconnects; got != 1 {
		t.Fatalf("failed client disconnected %d times, want 1", got)
	}
	if w.IsConnected() {
		t.Fatal("watcher reports connected after a failed attempt")
	}
}

func TestConnectRetriesUntilAccepted(t *testing.T) {
	factory := &fakeFactory{failConnects: 1}
	w := newTestWatcher(factory.make, io.Discard)

	if err := w.connect(context.Background()); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	if got := factory.count(); got != 2 {
		t.Fatalf("factory built %d clients, want 2 (one per attempt)", got)
	}
	if !w.IsConnected() {
		t.Fatal("watcher does not report connected")
	}
	if age := w.heartbeatAge(); age > time.Second {
		t.Fatalf("heartbeat age = %v, want freshly touched", age)
	}
}

func TestHandleMessageMatchRingsBellAndAnnounces(t *testing.T) {
	var out bytes.Buffer
	var rings atomic.Uint64

	w := newTestWatcher(nil, &out)
	w.bell = func() { rings.Add(1) }

	w.handleMessage("synergy", []byte(`{"current_desktop":"office","timestamp":"2026-08-21T10:00:00Z"}`))

	if got := w.received.Load(); got != 1 {
		t.Fatalf("received = %d, want 1", got)
	}
	if got := w.matches.Load(); got != 1 {
		t.Fatalf("matches = %d, want 1", got)
	}
	if got := rings.Load(); got != 1 {
		t.Fatalf("bell rang %d times, want 1", got)
	}
	if got := out.String(); got != "Match found! current_desktop = office\n" {
		t.Fatalf("announcement = %q, want %q", got, "Match found! current_desktop = office\n")
	}
}

func TestHandleMessageOtherDesktop(t *testing.T) {
	var out bytes.Buffer
	var rings atomic.Uint64

	w := newTestWatcher(nil, &out)
	w.bell = func() { rings.Add(1) }

	w.handleMessage("synergy", []byte(`{"current_desktop":"kitchen"}`))

	if got := w.received.Load(); got != 1 {
		t.Fatalf("received = %d, want 1", got)
	}
	if got := w.matches.Load(); got != 0 {
		t.Fatalf("matches = %d, want 0", got)
	}
	if rings.Load() != 0 || out.Len() != 0 {
		t.Fatalf("non-matching event rang the bell or announced: %q", out.String())
	}
}

func TestHandleMessageMalformedJSON(t *testing.T) {
	var out bytes.Buffer

	w := newTestWatcher(nil, &out)
	w.bell = func() {}

	w.handleMessage("synergy", []byte("not json{"))

	if got := w.received.Load(); got != 1 {
		t.Fatalf("received = %d, want 1 (malformed still counts)", got)
	}
	if got := w.matches.Load(); got != 0 {
		t.Fatalf("matches = %d, want 0", got)
	}
	if age := w.heartbeatAge(); age > time.Second {
		t.Fatalf("heartbeat age = %v, malformed message must still touch it", age)
	}
}

func TestHandleMessageNonStringValueNeverMatches(t *testing.T) {
	var out bytes.Buffer

	w := newTestWatcher(nil, &out)
	w.target = "42"
	w.bell = func() {}

	w.handleMessage("synergy", []byte(`{"current_desktop":42}`))

	if got := w.matches.Load(); got != 0 {
		t.Fatalf("matches = %d, want 0 for a numeric value", got)
	}
}

func TestHandleMessageMissingKey(t *testing.T) {
	w := newTestWatcher(nil, io.Discard)
	w.bell = func() {}

	w.handleMessage("synergy", []byte(`{"other":"office"}`))

	if got := w.matches.Load(); got != 0 {
		t.Fatalf("matches = %d, want 0 when the key is absent", got)
	}
}

func TestHandleMessageJournalsEveryEvent(t *testing.T) {
	dir := t.TempDir()

	journal, err := archive.Open(dir, 0, nil)
	if err != nil {
		t.Fatalf("archive.Open() error = %v", err)
	}

	w := newTestWatcher(nil, io.Discard)
	w.bell = func() {}
	w.journal = journal

	w.handleMessage("synergy", []byte(`{"current_desktop":"kitchen"}`))
	w.handleMessage("synergy", []byte("not json{"))
	w.closeJournal()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal wrote %d segments, want 1", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "{\"current_desktop\":\"kitchen\"}\nnot json{\n"
	if string(data) != want {
		t.Fatalf("journal content = %q, want %q", data, want)
	}
}

func TestMonitorRebuildsDeadSession(t *testing.T) {
	factory := &fakeFactory{}
	w := newTestWatcher(factory.make, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.connect(ctx); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	// Kill the session and backdate the heartbeat past the stale mark.
	factory.client(0).Disconnect()
	w.mu.Lock()
	w.lastMessage = time.Now().Add(-time.Minute)
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- w.monitor(ctx) }()

	waitFor(t, func() bool { return factory.count() >= 2 }, 2*time.Second, "monitor did not rebuild the session")
	waitFor(t, w.IsConnected, 2*time.Second, "rebuilt session is not connected")

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("monitor() error = %v, want %v", err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestMonitorLeavesQuietButLiveSessionAlone(t *testing.T) {
	factory := &fakeFactory{}
	w := newTestWatcher(factory.make, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.connect(ctx); err != nil {
		t.Fatalf("connect() error = %v", err)
	}

	// Stale heartbeat, but the session is still up.
	w.mu.Lock()
	w.lastMessage = time.Now().Add(-time.Minute)
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- w.monitor(ctx) }()

	// Give the monitor a few ticks to (wrongly) rebuild.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got := factory.count(); got != 1 {
		t.Fatalf("factory built %d clients, want 1 (no rebuild for a live session)", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	factory := &fakeFactory{}
	w := newTestWatcher(factory.make, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, w.IsConnected, 2*time.Second, "watcher did not connect")

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	if w.IsConnected() {
		t.Fatal("client still connected after Run returned")
	}
}

func TestStatsSnapshot(t *testing.T) {
	var out bytes.Buffer

	w := newTestWatcher(nil, &out)
	w.bell = func() {}

	w.handleMessage("synergy", []byte(`{"current_desktop":"office"}`))

	stats, ok := w.stats().(map[string]any)
	if !ok {
		t.Fatalf("stats() returned %T, want map", w.stats())
	}
	if stats["received"] != uint64(1) {
		t.Fatalf("stats received = %v, want 1", stats["received"])
	}
	if stats["matches"] != uint64(1) {
		t.Fatalf("stats matches = %v, want 1", stats["matches"])
	}
	if stats["connected"] != false {
		t.Fatalf("stats connected = %v, want false", stats["connected"])
	}
}
