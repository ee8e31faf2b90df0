package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scada-hub/internal/controller"
	"github.com/nerrad567/scada-hub/internal/infrastructure/config"
	"github.com/nerrad567/scada-hub/internal/infrastructure/logging"
	"github.com/nerrad567/scada-hub/internal/schedule"
)

// ─── Helpers ────────────────────────────────────────────────────────

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")
}

// MockSaver records every snapshot handed to it. Its Save method lets it
// double as the store behind a real Persister.
type MockSaver struct {
	mu    sync.Mutex
	snaps []controller.Snapshot
	err   error
}

func (m *MockSaver) Submit(snap controller.Snapshot) {
	_ = m.Save(context.Background(), snap)
}

func (m *MockSaver) Save(_ context.Context, snap controller.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *MockSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func (m *MockSaver) last() controller.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[len(m.snaps)-1]
}

// fakeRegistry counts calls so tests can assert the registry was not touched.
type fakeRegistry struct {
	mu        sync.Mutex
	snapshots int
	updates   int
}

func (f *fakeRegistry) Snapshot() controller.Snapshot {
	f.mu.Lock()
	f.snapshots++
	f.mu.Unlock()
	return controller.Snapshot{}
}

func (f *fakeRegistry) Update(string, func(*controller.State)) (controller.Snapshot, error) {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
	return controller.Snapshot{}, controller.ErrNotFound
}

func (f *fakeRegistry) Len() int { return 0 }

func (f *fakeRegistry) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots + f.updates
}

type fakeTicks struct{ stats schedule.Stats }

func (f fakeTicks) Stats() schedule.Stats { return f.stats }

// testServer creates a Server over a real registry with three controllers.
func testServer(t *testing.T) (*Server, *controller.Registry, *MockSaver) {
	t.Helper()

	reg := controller.NewRegistry(map[string]controller.State{
		"ctrl1": {Temperature: 21, Level: 50, Enabled: true},
		"ctrl2": {Temperature: 22, Level: 60, Enabled: false},
		"ctrl3": {Enabled: true},
	})
	saver := &MockSaver{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Host:           "127.0.0.1",
			Port:           0,
			Path:           "/",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    testLogger(),
		Registry:  reg,
		Persister: saver,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, reg, saver
}

func doRequest(t *testing.T, h http.Handler, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ─── Construction ───────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Registry: &fakeRegistry{}}); err == nil {
		t.Error("New() without logger expected error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without registry expected error")
	}
}

// ─── Middleware ─────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/all", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/all", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want client value echoed", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/controller/set", nil)
	req.Header.Set("Origin", "http://hmi.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://hmi.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://allowed.local"}

	req := httptest.NewRequest(http.MethodGet, "/all", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _, _ := testServer(t)

	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))
	rec := doRequest(t, h, http.MethodGet, "/", nil)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body Error
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
		t.Errorf("body = %q, want JSON error", rec.Body.String())
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _, saver := testServer(t)

	form := url.Values{"id": {"ctrl1"}, "pad": {strings.Repeat("x", maxRequestBodySize)}}
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/controller/set", form)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if saver.count() != 0 {
		t.Error("oversized request was persisted")
	}
}

// ─── Health ─────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	srv.ticks = fakeTicks{stats: schedule.Stats{Runs: 7, LastRun: last}}

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" || resp.Controllers != 3 || resp.Subscribers != 0 {
		t.Errorf("health = %+v", resp)
	}
	if resp.Ticks != 7 || resp.LastTick != "2026-03-01T09:00:00Z" {
		t.Errorf("tick fields = %d, %q", resp.Ticks, resp.LastTick)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// checkedConn is an MQTT connection that also answers health checks.
type checkedConn struct{ err error }

func (p checkedConn) IsConnected() bool { return p.err == nil }

func (p checkedConn) HealthCheck(context.Context) error { return p.err }

// checkedDB is a database that answers health checks.
type checkedDB struct {
	fakeDBStats
	err error
}

func (p checkedDB) HealthCheck(context.Context) error { return p.err }

func TestHealth_DependencyChecks(t *testing.T) {
	tests := []struct {
		name       string
		mqttErr    error
		dbErr      error
		wantCode   int
		wantStatus string
		wantMQTT   string
		wantDB     string
	}{
		{"all up", nil, nil, http.StatusOK, "ok", "ok", "ok"},
		{"broker away", errors.New("mqtt: not connected"), nil, http.StatusServiceUnavailable, "degraded", "mqtt: not connected", "ok"},
		{"database closed", nil, errors.New("database ping failed"), http.StatusServiceUnavailable, "degraded", "ok", "database ping failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := testServer(t)
			srv.mqtt = checkedConn{err: tt.mqttErr}
			srv.db = checkedDB{err: tt.dbErr}

			rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Checks["mqtt"] != tt.wantMQTT || resp.Checks["database"] != tt.wantDB {
				t.Errorf("Checks = %v", resp.Checks)
			}
		})
	}
}

func TestHealth_NoChecks(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.mqtt = fakeConn(true) // no HealthCheck method

	var resp HealthResponse
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Checks != nil {
		t.Errorf("status = %d, Checks = %v; want 200 and none", rec.Code, resp.Checks)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	srv, _, _ := testServer(t)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + srv.APIAddr() + "/all")
	if err != nil {
		t.Fatalf("GET /all: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /all status = %d, want 200", resp.StatusCode)
	}

	if srv.WSAddr() == "" || srv.WSAddr() == srv.APIAddr() {
		t.Errorf("WSAddr() = %q, APIAddr() = %q; want two distinct listeners", srv.WSAddr(), srv.APIAddr())
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Second Close is a no-op
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if _, err := http.Get("http://" + srv.APIAddr() + "/all"); err == nil {
		t.Error("GET after Close() succeeded")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, _, _ := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Close()

	second, _, _ := testServer(t)
	_, port, err := net.SplitHostPort(first.APIAddr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	second.cfg.Port, _ = strconv.Atoi(port)

	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Fatal("Start() on a bound port expected error")
	}
}

