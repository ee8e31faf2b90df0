package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/nerrad567/scada-hub/internal/audit"
	"github.com/nerrad567/scada-hub/internal/controller"
	"github.com/nerrad567/scada-hub/internal/infrastructure/config"
)

// MockAudit is an in-memory audit.Repository.
type MockAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	filter  audit.Filter
	listErr error
}

func (m *MockAudit) Create(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MockAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &audit.ListResult{Entries: append([]audit.Entry{}, m.entries...), Total: len(m.entries), Limit: 50}, nil
}

func (m *MockAudit) recorded() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry{}, m.entries...)
}

func auditServer(t *testing.T) (*Server, *MockAudit) {
	t.Helper()

	repo := &MockAudit{}
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:     config.WebSocketConfig{Host: "127.0.0.1", Path: "/"},
		Logger: testLogger(),
		Registry: controller.NewRegistry(map[string]controller.State{
			"ctrl1": {Enabled: true},
		}),
		Audit:   repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, repo
}

// queued drains entries waiting in the audit channel of a server that was
// never started.
func queued(srv *Server) []*audit.Entry {
	var out []*audit.Entry
	for {
		select {
		case e := <-srv.auditCh:
			out = append(out, e)
		default:
			return out
		}
	}
}

// ─── Recording ─────────────────────────────────────────────────────

func TestAudit_RecordsAcceptedCommands(t *testing.T) {
	srv, _ := auditServer(t)
	h := srv.Handler()

	doRequest(t, h, http.MethodPost, "/controller/set",
		url.Values{"id": {"ctrl1"}, "temperature": {"42.5"}, "level": {"7"}})
	doRequest(t, h, http.MethodPost, "/controller/state",
		url.Values{"id": {"ctrl1"}, "enable": {"false"}})

	entries := queued(srv)
	if len(entries) != 2 {
		t.Fatalf("queued %d entries, want 2", len(entries))
	}

	set := entries[0]
	if set.Action != audit.ActionSetValues || set.Controller != "ctrl1" {
		t.Errorf("first entry = %+v", set)
	}
	if set.Source != "192.0.2.1" {
		t.Errorf("Source = %q, want httptest remote host", set.Source)
	}
	if set.RequestID == "" {
		t.Error("RequestID should be set")
	}
	if set.Details["temperature"] != 42.5 || set.Details["level"] != 7.0 {
		t.Errorf("Details = %v", set.Details)
	}

	state := entries[1]
	if state.Action != audit.ActionSetState || state.Details["enabled"] != false {
		t.Errorf("second entry = %+v", state)
	}
}

func TestAudit_SkipsRejectedCommands(t *testing.T) {
	srv, _ := auditServer(t)
	h := srv.Handler()

	doRequest(t, h, http.MethodPost, "/controller/set", url.Values{"id": {"nope"}})
	doRequest(t, h, http.MethodPost, "/controller/set", url.Values{"id": {"ctrl1"}, "level": {"abc"}})
	doRequest(t, h, http.MethodPost, "/controller/state", url.Values{"id": {"ctrl1"}, "enable": {"maybe"}})

	if n := len(queued(srv)); n != 0 {
		t.Errorf("queued %d entries for rejected commands, want 0", n)
	}
}

func TestAudit_FullChannelDropsEntry(t *testing.T) {
	srv, _ := auditServer(t)
	for range auditChanSize {
		srv.auditCh <- &audit.Entry{}
	}

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/controller/state",
		url.Values{"id": {"ctrl1"}, "enable": {"true"}})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(srv.auditCh) != auditChanSize {
		t.Errorf("channel length = %d, want %d", len(srv.auditCh), auditChanSize)
	}
}

func TestAudit_CloseFlushesQueue(t *testing.T) {
	srv, repo := auditServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h := srv.Handler()
	for _, enable := range []string{"false", "true", "false"} {
		doRequest(t, h, http.MethodPost, "/controller/state", url.Values{"id": {"ctrl1"}, "enable": {enable}})
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := repo.recorded()
	if len(got) != 3 {
		t.Fatalf("recorded %d entries, want 3", len(got))
	}
	for i, want := range []bool{false, true, false} {
		if got[i].Details["enabled"] != want {
			t.Errorf("entry %d enabled = %v, want %v", i, got[i].Details["enabled"], want)
		}
	}
}

// ─── GET /audit ────────────────────────────────────────────────────

func TestAudit_List(t *testing.T) {
	srv, repo := auditServer(t)
	repo.entries = []audit.Entry{{ID: "aud-1", Action: audit.ActionSetState, Controller: "ctrl1"}}

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/audit?controller=ctrl1&action=set_state&limit=10&offset=2", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want := audit.Filter{Action: "set_state", Controller: "ctrl1", Limit: 10, Offset: 2}
	if repo.filter != want {
		t.Errorf("filter = %+v, want %+v", repo.filter, want)
	}

	var body audit.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Total != 1 || body.Entries[0].ID != "aud-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestAudit_ListIgnoresBadPaging(t *testing.T) {
	srv, repo := auditServer(t)

	doRequest(t, srv.Handler(), http.MethodGet, "/audit?limit=ten&offset=-", nil)

	if repo.filter.Limit != 0 || repo.filter.Offset != 0 {
		t.Errorf("filter = %+v, want zero paging", repo.filter)
	}
}

func TestAudit_ListError(t *testing.T) {
	srv, repo := auditServer(t)
	repo.listErr = errors.New("disk on fire")

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/audit", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAudit_RouteAbsentWithoutRepository(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/audit", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRemoteHost(t *testing.T) {
	tests := []struct{ in, want string }{
		{"10.0.0.1:5555", "10.0.0.1"},
		{"[::1]:80", "::1"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		if got := remoteHost(tt.in); got != tt.want {
			t.Errorf("remoteHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
