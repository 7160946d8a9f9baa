package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/screenmon-io/screenmon/pkg/options"
)

func newTestServer(probes Probes) *Server {
	opts := options.NewHttpOptions()
	opts.Addr = "127.0.0.1:0"
	return NewServer(opts, probes)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(Probes{})

	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); body != "ok" {
		t.Fatalf("GET /healthz body = %q, want %q", body, "ok")
	}
}

func TestReadyzFollowsProbe(t *testing.T) {
	ready := false
	s := newTestServer(Probes{Ready: func() bool { return ready }})

	if rec := get(t, s, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	ready = true

	if rec := get(t, s, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("GET /readyz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzWithoutProbeIsAlwaysReady(t *testing.T) {
	s := newTestServer(Probes{})

	if rec := get(t, s, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("GET /readyz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestVarzServesCounters(t *testing.T) {
	s := newTestServer(Probes{
		Vars: func() any {
			return map[string]any{"lines_scanned": 42}
		},
	})

	rec := get(t, s, "/varz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /varz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("GET /varz Content-Type = %q, want %q", ct, "application/json")
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("GET /varz returned invalid JSON: %v", err)
	}
	if got["lines_scanned"] != float64(42) {
		t.Fatalf("varz lines_scanned = %v, want 42", got["lines_scanned"])
	}
}

func TestVarzWithoutProviderServesEmptyObject(t *testing.T) {
	s := newTestServer(Probes{})

	rec := get(t, s, "/varz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /varz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "{}" {
		t.Fatalf("GET /varz body = %q, want %q", body, "{}")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(Probes{})

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "screenmon_mqtt_connected") {
		t.Fatalf("GET /metrics body does not expose screenmon collectors")
	}
}

func TestProbesRejectNonGet(t *testing.T) {
	s := newTestServer(Probes{})

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
