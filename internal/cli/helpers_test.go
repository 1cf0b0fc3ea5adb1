package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/integration"
	"github.com/valter-silva-au/memory-talk/internal/storage"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// captureStdout captures stdout output during fn execution.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		out, _ := io.ReadAll(r)
		done <- out
	}()

	fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done)
}

// fakeBackend implements integration.BackendClient in memory.
type fakeBackend struct {
	mu sync.Mutex

	uploadID   string
	uploadErr  error
	uploaded   map[string]string
	jobs       map[string]string
	analyzed   []string
	analyzeErr error
	// afterAnalyze replaces the job body once analysis is requested.
	afterAnalyze string
	confirmed  map[string]models.PersonaProfile
	confirmErr error
	settings   models.Settings
	settingErr error
	healthy    bool
	healthErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		uploadID:  "j1",
		uploaded:  make(map[string]string),
		jobs:      make(map[string]string),
		confirmed: make(map[string]models.PersonaProfile),
		healthy:   true,
	}
}

func (f *fakeBackend) setJob(id, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id] = body
}

func (f *fakeBackend) Upload(_ context.Context, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded[filename] = string(data)
	return f.uploadID, nil
}

func (f *fakeBackend) FetchJob(_ context.Context, jobID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.jobs[jobID]
	if !ok {
		return nil, &integration.APIError{Op: "get job", StatusCode: http.StatusNotFound, Message: "Job not found"}
	}
	return []byte(body), nil
}

func (f *fakeBackend) AnalyzeJob(_ context.Context, jobID, targetSpeaker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyzeErr != nil {
		return f.analyzeErr
	}
	f.analyzed = append(f.analyzed, jobID+":"+targetSpeaker)
	if f.afterAnalyze != "" {
		f.jobs[jobID] = f.afterAnalyze
	}
	return nil
}

func (f *fakeBackend) ConfirmPersona(_ context.Context, jobID string, profile models.PersonaProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirmed[jobID] = profile
	return nil
}

func (f *fakeBackend) GetSettings(context.Context) (models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, f.settingErr
}

func (f *fakeBackend) UpdateSettings(_ context.Context, s models.Settings) (models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settingErr != nil {
		return models.Settings{}, f.settingErr
	}
	f.settings = s
	return s, nil
}

func (f *fakeBackend) PollAgent(context.Context, string) (models.AgentPollResult, error) {
	return models.AgentPollResult{ShouldSend: false}, nil
}

func (f *fakeBackend) Health(context.Context) (bool, error) {
	return f.healthy, f.healthErr
}

func (f *fakeBackend) BaseURL() string {
	return "http://backend.test"
}

// eventRecorder implements core.EventLogger.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *eventRecorder) LogEvent(eventType string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// useServices points the package-level services at be and restores the
// previous values when the test ends.
func useServices(t *testing.T, be *fakeBackend) *eventRecorder {
	t.Helper()
	origBackend, origPoller, origSettings, origDrafts, origEvents := Backend, Poller, Settings, Drafts, Events
	t.Cleanup(func() {
		Backend, Poller, Settings, Drafts, Events = origBackend, origPoller, origSettings, origDrafts, origEvents
	})

	rec := &eventRecorder{}
	Backend = be
	Poller = core.NewJobPoller(be, core.JobPollerOptions{
		InitialInterval: time.Millisecond,
		Interval:        time.Millisecond,
		RetryBackoff:    time.Millisecond,
	})
	Settings = core.NewSettingsManager(be, storage.NewQueryCache(time.Minute), rec)
	Drafts = storage.NewDraftStoreManager(t.TempDir())
	Events = rec
	return rec
}

const doneJobJSON = `{
  "job_id": "j1",
  "status": "done",
  "progress": 100,
  "selected_speaker": "Alice",
  "report": {
    "summary": "Cheerful and brief.",
    "profile": {
      "nickname_rules": ["calls you buddy"],
      "favorite_topics": ["hiking"],
      "taboo_topics": ["politics"],
      "typical_patterns": ["asks questions back"],
      "speech_style": {"endings": ["!"], "honorific_level": "informal", "emoji_usage": "high", "punctuation": "many"},
      "response_length": "short",
      "few_shot_examples": [{"user": "hi", "persona": "hey buddy!"}]
    }
  }
}`

const awaitingJobJSON = `{"job_id": "j1", "status": "awaiting_selection", "progress": 0, "speakers": ["Alice", "Bob"]}`

func writeChatLog(t *testing.T, name, content string) string {
	t.Helper()
	path := t.TempDir() + "/" + name
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func containsAll(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}
