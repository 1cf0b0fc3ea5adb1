package internal

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/memory-talk/internal/cli"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

func TestResolveBasePath_MTalkHomeSet(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MTALK_HOME", tmpDir)

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FindsConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "sub", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(tmpDir, ".mtalkconfig.yaml")
	if err := os.WriteFile(configPath, []byte("chat:\n  style_mode: rag\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(origDir) }()
	if err := os.Chdir(subDir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MTALK_HOME", "")

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should find .mtalkconfig.yaml in parent)", got, tmpDir)
	}
}

func TestResolveBasePath_FallbackToCwd(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(origDir) }()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MTALK_HOME", "")

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should fall back to cwd)", got, tmpDir)
	}
}

func newTestApp(t *testing.T, baseURL string) *App {
	t.Helper()
	t.Setenv("MTALK_BASE_URL", "")
	t.Setenv("MTALK_BACKEND_BASE_URL", "")

	tmpDir := t.TempDir()
	if baseURL != "" {
		cfg := "backend:\n  base_url: " + baseURL + "\n  timeout: 2s\n"
		if err := os.WriteFile(filepath.Join(tmpDir, ".mtalkconfig.yaml"), []byte(cfg), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewApp_Success(t *testing.T) {
	app := newTestApp(t, "")

	if app.Config == nil {
		t.Fatal("app.Config is nil")
	}
	if app.Backend == nil || app.Poller == nil || app.AgentPoller == nil || app.Settings == nil {
		t.Error("core services are not wired")
	}
	if app.EventLog == nil || app.MetricsCalc == nil || app.AlertEngine == nil {
		t.Error("observability is not wired")
	}
	if app.Notifier != nil {
		t.Error("notifier should be nil without a webhook")
	}

	if cli.Backend != app.Backend {
		t.Error("cli.Backend not wired")
	}
	if cli.Poller != app.Poller {
		t.Error("cli.Poller not wired")
	}
	if cli.NewChat == nil || cli.NewFlow == nil {
		t.Error("cli factories not wired")
	}
	if cli.ClientMetrics != app.ClientMetrics {
		t.Error("cli.ClientMetrics not wired")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	t.Setenv("MTALK_BASE_URL", "")
	tmpDir := t.TempDir()
	cfg := "chat:\n  style_mode: poetic\npolling:\n  retries: -1\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".mtalkconfig.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewApp(tmpDir)
	if err == nil {
		t.Fatal("expected error for invalid configuration")
	}
	for _, want := range []string{"chat.style_mode", "polling.retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNewApp_NotifierWhenEnabled(t *testing.T) {
	t.Setenv("MTALK_BASE_URL", "")
	tmpDir := t.TempDir()
	cfg := "notifications:\n  enabled: true\n  slack_webhook_url: https://hooks.example.com/x\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".mtalkconfig.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	if app.Notifier == nil {
		t.Error("expected notifier when notifications are enabled")
	}
}

func TestNewChat_UsesBackendAgentSetting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/settings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"agent_enabled": false}`))
	}))
	defer srv.Close()

	app := newTestApp(t, srv.URL)
	session := app.NewChat("j1", "")

	if session.AgentEnabled {
		t.Error("AgentEnabled = true, want the backend's false")
	}
	if session.PersonaName != core.DefaultPersonaName {
		t.Errorf("PersonaName = %q, want %q", session.PersonaName, core.DefaultPersonaName)
	}
	if session.StyleMode != models.DefaultStyleMode {
		t.Errorf("StyleMode = %q, want %q", session.StyleMode, models.DefaultStyleMode)
	}
	if session.JobID != "j1" {
		t.Errorf("JobID = %q, want j1", session.JobID)
	}
}

func TestNewChat_FallsBackToConfiguredAgentSetting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	app := newTestApp(t, srv.URL)
	session := app.NewChat("j1", "Alice")

	if !session.AgentEnabled {
		t.Error("AgentEnabled = false, want the configured default true")
	}
	if session.PersonaName != "Alice" {
		t.Errorf("PersonaName = %q, want Alice", session.PersonaName)
	}
}

func TestNewChat_SessionsHaveDistinctIDs(t *testing.T) {
	app := newTestApp(t, "http://127.0.0.1:1")
	a := app.NewChat("j1", "")
	b := app.NewChat("j1", "")
	if a.ID == b.ID {
		t.Errorf("two sessions share id %q", a.ID)
	}
}

func TestNewFlow_StartsIdle(t *testing.T) {
	app := newTestApp(t, "")
	flow := app.NewFlow()
	defer flow.Close()

	if got := flow.State(); got != core.StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}
}

// --- Adapter tests ---

func TestEventLogAdapter_WritesEvents(t *testing.T) {
	app := newTestApp(t, "")
	adapter := &eventLogAdapter{log: app.EventLog}

	if err := adapter.LogEvent(core.EventJobUploaded, map[string]any{"job_id": "j1", "file": "chat.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := adapter.LogEvent(core.EventJobStatusChanged, map[string]any{"job_id": "j1", "old_status": "running", "new_status": "error"}); err != nil {
		t.Fatal(err)
	}

	events, err := app.EventLog.Read(observability.EventFilter{JobID: "j1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != core.EventJobUploaded || events[0].Level != observability.LevelInfo {
		t.Errorf("first event = %s/%s", events[0].Type, events[0].Level)
	}
	if events[1].Level != observability.LevelError {
		t.Errorf("failed status level = %s, want ERROR", events[1].Level)
	}
	if time.Since(events[0].Time) > time.Minute {
		t.Errorf("event time %v is not current", events[0].Time)
	}
}

func TestEventLevel(t *testing.T) {
	tests := []struct {
		eventType string
		data      map[string]any
		want      string
	}{
		{core.EventStreamFailed, map[string]any{"error": "boom"}, observability.LevelWarn},
		{core.EventJobStatusChanged, map[string]any{"new_status": "error"}, observability.LevelError},
		{core.EventJobStatusChanged, map[string]any{"new_status": "done"}, observability.LevelInfo},
		{core.EventPersonaConfirmed, nil, observability.LevelInfo},
	}
	for _, tt := range tests {
		if got := eventLevel(tt.eventType, tt.data); got != tt.want {
			t.Errorf("eventLevel(%s, %v) = %s, want %s", tt.eventType, tt.data, got, tt.want)
		}
	}
}
