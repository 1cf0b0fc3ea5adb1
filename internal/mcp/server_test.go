package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// --- Fake implementations ---

type fakeBackend struct {
	mu        sync.Mutex
	jobs      map[string]string
	uploaded  map[string]string
	analyzed  map[string]string
	confirmed map[string]models.PersonaProfile
	settings  models.Settings
	healthy   bool
	failWith  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		jobs:      make(map[string]string),
		uploaded:  make(map[string]string),
		analyzed:  make(map[string]string),
		confirmed: make(map[string]models.PersonaProfile),
		healthy:   true,
	}
}

func (f *fakeBackend) Upload(_ context.Context, name string, r io.Reader) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[name] = string(data)
	return "job-1", nil
}

func (f *fakeBackend) AnalyzeJob(_ context.Context, jobID, speaker string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed[jobID] = speaker
	return nil
}

func (f *fakeBackend) ConfirmPersona(_ context.Context, jobID string, p models.PersonaProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed[jobID] = p
	return nil
}

func (f *fakeBackend) FetchJob(_ context.Context, jobID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.New("get job: HTTP 404: job not found")
	}
	return []byte(body), nil
}

func (f *fakeBackend) GetSettings(context.Context) (models.Settings, error) {
	return f.settings, nil
}

func (f *fakeBackend) UpdateSettings(_ context.Context, s models.Settings) (models.Settings, error) {
	f.settings = s
	return s, nil
}

func (f *fakeBackend) Health(context.Context) (bool, error) {
	return f.healthy, nil
}

// fakeStreamer replies with fixed chunks and records requests.
type fakeStreamer struct {
	mu     sync.Mutex
	chunks []string
	reqs   []models.ChatRequest
}

func (s *fakeStreamer) Send(_ context.Context, req models.ChatRequest, onChunk func(string), onComplete func(), _ func(error)) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	for _, c := range s.chunks {
		onChunk(c)
	}
	onComplete()
}

func (s *fakeStreamer) Stop()         {}
func (s *fakeStreamer) Loading() bool { return false }

const doneJob = `{
	"job_id": "job-1",
	"status": "done",
	"progress": 100,
	"speakers": ["Alice", "Bob"],
	"selected_speaker": "Alice",
	"report": {
		"summary": "warm and brief",
		"profile": {
			"nickname_rules": ["first names only"],
			"favorite_topics": ["food"],
			"taboo_topics": [],
			"typical_patterns": ["haha"],
			"speech_style": {"endings": ["~"], "honorific_level": "informal", "emoji_usage": "high", "punctuation": "many"},
			"response_length": "short",
			"few_shot_examples": [{"user": "hi", "persona": "hey!"}]
		}
	}
}`

func newTestServer(t *testing.T) (*Server, *fakeBackend, *fakeStreamer) {
	t.Helper()
	backend := newFakeBackend()
	backend.jobs["job-1"] = doneJob
	streamer := &fakeStreamer{chunks: []string{"hel", "lo"}}
	poller := core.NewJobPoller(backend, core.JobPollerOptions{})

	srv := NewServer(Deps{
		Backend:  backend,
		Poller:   poller,
		Settings: core.NewSettingsManager(backend, nil, nil),
		NewChat: func(jobID, personaName string) *core.ChatSession {
			return core.NewChatSession(core.ChatSessionOptions{
				JobID:       jobID,
				PersonaName: personaName,
				Streamer:    streamer,
			})
		},
		Health: backend,
	}, "test")
	return srv, backend, streamer
}

// callTool connects an in-memory client to the server and calls a tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := gomcp.NewInMemoryTransports()

	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

// decodeStructured unmarshals the structured tool output into out.
func decodeStructured(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	var data []byte
	if result.StructuredContent != nil {
		data, _ = json.Marshal(result.StructuredContent)
	} else {
		data = []byte(extractText(result))
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decoding tool output %s: %v", data, err)
	}
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// --- Tests ---

func TestUploadChatLog(t *testing.T) {
	srv, backend, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "kakao.txt")
	if err := os.WriteFile(path, []byte("Alice: hi\nBob: hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := callTool(t, srv, "upload_chat_log", map[string]any{"path": path})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	var out uploadOutput
	decodeStructured(t, result, &out)
	if out.JobID != "job-1" {
		t.Errorf("job_id = %q, want job-1", out.JobID)
	}
	if backend.uploaded["kakao.txt"] != "Alice: hi\nBob: hello\n" {
		t.Errorf("uploaded content = %q", backend.uploaded["kakao.txt"])
	}
}

func TestUploadChatLogRejectsNonText(t *testing.T) {
	srv, backend, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}

	result := callTool(t, srv, "upload_chat_log", map[string]any{"path": path})
	if !result.IsError {
		t.Fatal("expected error for a non-text file")
	}
	if len(backend.uploaded) != 0 {
		t.Error("nothing should be uploaded")
	}
}

func TestGetJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result := callTool(t, srv, "get_job", map[string]any{"job_id": "job-1"})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	var out jobOutput
	decodeStructured(t, result, &out)
	if out.Status != "done" || out.Progress != 100 {
		t.Errorf("unexpected job %+v", out)
	}
	if out.Report == nil || out.Report.Summary != "warm and brief" {
		t.Fatalf("expected report, got %+v", out.Report)
	}
	if got := out.Report.Profile.SpeechStyle.EmojiUsage; got != models.EmojiHigh {
		t.Errorf("emoji usage = %q", got)
	}
}

func TestGetJobUnknownIsSyntheticError(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result := callTool(t, srv, "get_job", map[string]any{"job_id": "missing"})
	if result.IsError {
		t.Fatalf("poll failures are reported as error jobs, got %s", extractText(result))
	}
	var out jobOutput
	decodeStructured(t, result, &out)
	if out.Status != "error" || out.JobID != "missing" || out.Error == "" {
		t.Errorf("unexpected job %+v", out)
	}
}

func TestAnalyzeJob(t *testing.T) {
	srv, backend, _ := newTestServer(t)

	result := callTool(t, srv, "analyze_job", map[string]any{"job_id": "job-1", "target_speaker": "Bob"})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	if backend.analyzed["job-1"] != "Bob" {
		t.Errorf("analyzed speaker = %q", backend.analyzed["job-1"])
	}

	result = callTool(t, srv, "analyze_job", map[string]any{"job_id": "job-1", "target_speaker": ""})
	if !result.IsError {
		t.Error("expected error for empty speaker")
	}
}

func TestConfirmPersonaUsesReportProfile(t *testing.T) {
	srv, backend, _ := newTestServer(t)

	result := callTool(t, srv, "confirm_persona", map[string]any{"job_id": "job-1"})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	p, ok := backend.confirmed["job-1"]
	if !ok {
		t.Fatal("expected persona to be confirmed")
	}
	if len(p.FavoriteTopics) != 1 || p.FavoriteTopics[0] != "food" || p.ResponseLength != models.ResponseShort {
		t.Errorf("unexpected profile %+v", p)
	}
}

func TestChatContinuesSession(t *testing.T) {
	srv, _, streamer := newTestServer(t)

	result := callTool(t, srv, "chat", map[string]any{"job_id": "job-1", "message": "hi", "style_mode": "rag"})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	var first chatOutput
	decodeStructured(t, result, &first)
	if first.Reply != "hello" {
		t.Errorf("reply = %q, want hello", first.Reply)
	}
	if first.SessionID == "" {
		t.Fatal("expected a session id")
	}

	result = callTool(t, srv, "chat", map[string]any{"job_id": "job-1", "message": "again", "session_id": first.SessionID})
	var second chatOutput
	decodeStructured(t, result, &second)
	if second.SessionID != first.SessionID {
		t.Errorf("session changed: %s != %s", second.SessionID, first.SessionID)
	}

	if len(streamer.reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(streamer.reqs))
	}
	for _, req := range streamer.reqs {
		if req.SessionID != first.SessionID || req.StyleMode != models.StyleRAG {
			t.Errorf("unexpected request %+v", req)
		}
	}
}

func TestChatUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	result := callTool(t, srv, "chat", map[string]any{"job_id": "job-1", "message": "hi", "session_id": "nope"})
	if !result.IsError {
		t.Fatal("expected error for unknown session")
	}
}

func TestSettingsAndHealth(t *testing.T) {
	srv, backend, _ := newTestServer(t)

	result := callTool(t, srv, "update_settings", map[string]any{"agent_enabled": true})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	if !backend.settings.AgentEnabled {
		t.Error("backend settings not updated")
	}

	var s settingsOutput
	decodeStructured(t, callTool(t, srv, "get_settings", map[string]any{}), &s)
	if !s.AgentEnabled {
		t.Error("get_settings should report agent_enabled")
	}

	backend.healthy = false
	var h healthOutput
	decodeStructured(t, callTool(t, srv, "health", map[string]any{}), &h)
	if h.OK {
		t.Error("health should be false")
	}
}

func TestMetricsAndAlertsUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if !callTool(t, srv, "get_metrics", map[string]any{}).IsError {
		t.Error("expected error without a metrics calculator")
	}
	if !callTool(t, srv, "get_alerts", map[string]any{}).IsError {
		t.Error("expected error without an alert engine")
	}
}

func TestGetMetrics(t *testing.T) {
	log, err := observability.NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	_ = log.Write(observability.Event{Type: "job.uploaded", Data: map[string]any{"job_id": "j"}})

	srv := NewServer(Deps{
		Metrics: observability.NewMetricsCalculator(log),
		Alerts:  observability.NewAlertEngine(log, observability.DefaultAlertThresholds()),
	}, "")

	result := callTool(t, srv, "get_metrics", map[string]any{"since": "1d"})
	if result.IsError {
		t.Fatalf("expected success, got %s", extractText(result))
	}
	var m metricsOutput
	decodeStructured(t, result, &m)
	if m.JobsUploaded != 1 {
		t.Errorf("jobs_uploaded = %d, want 1", m.JobsUploaded)
	}

	var alerts getAlertsOutput
	decodeStructured(t, callTool(t, srv, "get_alerts", map[string]any{}), &alerts)
	if alerts.Count != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"7d", now.AddDate(0, 0, -7), false},
		{"24h", now.Add(-24 * time.Hour), false},
		{"0d", now, false},
		{"d", time.Time{}, true},
		{"5w", time.Time{}, true},
		{"xd", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSince(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("ParseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if tt.wantErr && !strings.Contains(err.Error(), "invalid duration") {
			t.Errorf("unexpected error text %v", err)
		}
	}
}
