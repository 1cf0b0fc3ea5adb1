package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/memory-talk/pkg/models"
)

func newTestBackend(t *testing.T, h http.HandlerFunc) BackendClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBackendClient(srv.URL+"/", 5*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestBackendClient_BaseURLTrimmed(t *testing.T) {
	c := NewBackendClient("http://localhost:5000///", time.Second)
	if c.BaseURL() != "http://localhost:5000" {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}
}

func TestBackendClient_Upload(t *testing.T) {
	var gotName, gotContent, gotType string
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/upload" {
			http.NotFound(w, r)
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, `{"detail": "no file"}`)
			return
		}
		data, _ := io.ReadAll(file)
		gotName, gotContent, gotType = hdr.Filename, string(data), hdr.Header.Get("Content-Type")
		writeJSON(w, http.StatusOK, `{"job_id": "job-42"}`)
	})

	id, err := c.Upload(context.Background(), "family chat.txt", strings.NewReader("Mom: hi\nMe: hey\n"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if id != "job-42" {
		t.Errorf("job id = %q", id)
	}
	if gotName != "family chat.txt" || gotContent != "Mom: hi\nMe: hey\n" || gotType != "text/plain" {
		t.Errorf("server saw %q %q %q", gotName, gotContent, gotType)
	}
}

func TestBackendClient_UploadMissingJobID(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	_, err := c.Upload(context.Background(), "a.txt", strings.NewReader("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, "job_id") {
		t.Errorf("Upload() error = %v", err)
	}
}

func TestBackendClient_FetchJobReturnsRawBody(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/j 1" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, `{"status": "running", "progress": "not a number"}`)
	})

	body, err := c.FetchJob(context.Background(), "j 1")
	if err != nil {
		t.Fatalf("FetchJob() error = %v", err)
	}
	if string(body) != `{"status": "running", "progress": "not a number"}` {
		t.Errorf("body = %s", body)
	}
}

func TestBackendClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"proxy message", http.StatusBadGateway, `{"message": "Backend unreachable"}`, "get job: HTTP 502: Backend unreachable"},
		{"backend detail", http.StatusNotFound, `{"detail": "Job not found"}`, "get job: HTTP 404: Job not found"},
		{"validation detail", http.StatusUnprocessableEntity, `{"detail": [{"msg": "field required"}, {"msg": "bad speaker"}]}`, "get job: HTTP 422: field required; bad speaker"},
		{"plain text", http.StatusInternalServerError, "boom\n", "get job: HTTP 500: boom"},
		{"empty body", http.StatusServiceUnavailable, "", "get job: HTTP 503: Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.FetchJob(context.Background(), "j1")
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("error is not an APIError with status %d: %#v", tt.status, err)
			}
		})
	}
}

func TestBackendClient_AnalyzeJob(t *testing.T) {
	var got models.AnalyzeRequest
	var path string
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, `{"ok": true}`)
	})

	if err := c.AnalyzeJob(context.Background(), "j1", "Alice"); err != nil {
		t.Fatalf("AnalyzeJob() error = %v", err)
	}
	if path != "/api/jobs/j1/analyze" || got.TargetSpeaker != "Alice" {
		t.Errorf("server saw %s %+v", path, got)
	}
}

func TestBackendClient_OKFlagRequired(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status": "accepted"}`)
	})
	err := c.AnalyzeJob(context.Background(), "j1", "Alice")
	if err == nil || !strings.Contains(err.Error(), "no ok flag") {
		t.Errorf("AnalyzeJob() error = %v", err)
	}
}

func TestBackendClient_MalformedBody(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `<html>`)
	})
	err := c.ConfirmPersona(context.Background(), "j1", models.PersonaProfile{})
	if err == nil || !strings.Contains(err.Error(), "malformed response") {
		t.Errorf("ConfirmPersona() error = %v", err)
	}
}

func TestBackendClient_ConfirmPersona(t *testing.T) {
	var got map[string]any
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/persona/confirm" || r.Header.Get("Content-Type") != "application/json" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, `{"ok": true}`)
	})

	profile := models.PersonaProfile{
		NicknameRules:   []string{},
		FavoriteTopics:  []string{"tea"},
		TabooTopics:     []string{},
		TypicalPatterns: []string{},
		SpeechStyle:     models.SpeechStyle{Endings: []string{}, HonorificLevel: models.HonorificPolite, EmojiUsage: models.EmojiLow, Punctuation: models.PunctuationNormal},
		ResponseLength:  models.ResponseMedium,
		FewShotExamples: []models.FewShotExample{},
	}
	if err := c.ConfirmPersona(context.Background(), "j1", profile); err != nil {
		t.Fatalf("ConfirmPersona() error = %v", err)
	}
	if got["job_id"] != "j1" {
		t.Errorf("job_id = %v", got["job_id"])
	}
	pp, ok := got["persona_profile"].(map[string]any)
	if !ok {
		t.Fatalf("persona_profile = %v", got["persona_profile"])
	}
	if pp["response_length"] != "medium" {
		t.Errorf("response_length = %v", pp["response_length"])
	}
	style := pp["speech_style"].(map[string]any)
	if style["honorific_level"] != "polite" {
		t.Errorf("speech_style = %v", style)
	}
}

func TestBackendClient_Settings(t *testing.T) {
	enabled := true
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/settings" {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodPost {
			var body models.Settings
			_ = json.NewDecoder(r.Body).Decode(&body)
			enabled = body.AgentEnabled
		}
		if enabled {
			writeJSON(w, http.StatusOK, `{"agent_enabled": true}`)
		} else {
			writeJSON(w, http.StatusOK, `{"agent_enabled": false}`)
		}
	})

	s, err := c.GetSettings(context.Background())
	if err != nil || !s.AgentEnabled {
		t.Fatalf("GetSettings() = %+v, %v", s, err)
	}
	s, err = c.UpdateSettings(context.Background(), models.Settings{AgentEnabled: false})
	if err != nil || s.AgentEnabled {
		t.Fatalf("UpdateSettings() = %+v, %v", s, err)
	}
}

func TestBackendClient_SettingsMissingField(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})
	if _, err := c.GetSettings(context.Background()); err == nil || !strings.Contains(err.Error(), "agent_enabled") {
		t.Errorf("GetSettings() error = %v", err)
	}
}

func TestBackendClient_PollAgent(t *testing.T) {
	var session string
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agent/poll" {
			http.NotFound(w, r)
			return
		}
		session = r.URL.Query().Get("session_id")
		writeJSON(w, http.StatusOK, `{"should_send": true, "message": "did you eat?"}`)
	})

	res, err := c.PollAgent(context.Background(), "s 1&x")
	if err != nil {
		t.Fatalf("PollAgent() error = %v", err)
	}
	if session != "s 1&x" {
		t.Errorf("session_id = %q", session)
	}
	if !res.ShouldSend || res.Message != "did you eat?" {
		t.Errorf("result = %+v", res)
	}
}

func TestBackendClient_PollAgentMissingFlag(t *testing.T) {
	c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"message": "hi"}`)
	})
	if _, err := c.PollAgent(context.Background(), "s1"); err == nil || !strings.Contains(err.Error(), "should_send") {
		t.Errorf("PollAgent() error = %v", err)
	}
}

func TestBackendClient_Health(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"ok": true}`, true},
		{`{"ok": false}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		c := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, tt.body)
		})
		got, err := c.Health(context.Background())
		if err != nil {
			t.Fatalf("Health(%s) error = %v", tt.body, err)
		}
		if got != tt.want {
			t.Errorf("Health(%s) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestBackendClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewBackendClient(url, time.Second)
	_, err := c.FetchJob(context.Background(), "j1")
	if err == nil || !strings.HasPrefix(err.Error(), "get job: ") {
		t.Errorf("FetchJob() error = %v", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Error("transport failure reported as APIError")
	}
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{Op: "upload", Message: "response has no job_id"}
	if e.Error() != "upload: response has no job_id" {
		t.Errorf("Error() = %q", e.Error())
	}
	e.StatusCode = 413
	e.Message = "too large"
	if e.Error() != "upload: HTTP 413: too large" {
		t.Errorf("Error() = %q", e.Error())
	}
}
