package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a labeled failure of a backend call: a non-2xx status or a
// response body that does not match the expected shape.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// BackendClient speaks the memory-talk HTTP API.
type BackendClient interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
	FetchJob(ctx context.Context, jobID string) ([]byte, error)
	AnalyzeJob(ctx context.Context, jobID, targetSpeaker string) error
	ConfirmPersona(ctx context.Context, jobID string, profile models.PersonaProfile) error
	GetSettings(ctx context.Context) (models.Settings, error)
	UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error)
	PollAgent(ctx context.Context, sessionID string) (models.AgentPollResult, error)
	Health(ctx context.Context) (bool, error)
	BaseURL() string
}

type httpBackendClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBackendClient creates a BackendClient for the API at baseURL (the
// origin serving /api).
func NewBackendClient(baseURL string, timeout time.Duration) BackendClient {
	return &httpBackendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: NewPooledHTTPClient(8, timeout),
	}
}

func (c *httpBackendClient) BaseURL() string {
	return c.baseURL
}

func (c *httpBackendClient) url(path string) string {
	return c.baseURL + "/api" + path
}

// Upload sends a chat log as the multipart field "file" and returns the new job id.
func (c *httpBackendClient) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	const op = "upload"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", "text/plain")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("%s: creating form: %w", op, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("%s: reading %s: %w", op, filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%s: closing form: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/upload"), &body)
	if err != nil {
		return "", fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out models.UploadResponse
	if err := c.do(req, op, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &APIError{Op: op, StatusCode: http.StatusOK, Message: "response has no job_id"}
	}
	return out.JobID, nil
}

// FetchJob returns the raw job body so the caller can validate and
// normalize it.
func (c *httpBackendClient) FetchJob(ctx context.Context, jobID string) ([]byte, error) {
	const op = "get job"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/jobs/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(op, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading body: %w", op, err)
	}
	return data, nil
}

// AnalyzeJob starts persona extraction for the given speaker.
func (c *httpBackendClient) AnalyzeJob(ctx context.Context, jobID, targetSpeaker string) error {
	const op = "analyze job"
	req, err := c.jsonRequest(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/analyze",
		models.AnalyzeRequest{TargetSpeaker: targetSpeaker})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.doOK(req, op)
}

// ConfirmPersona submits the reviewed profile for a job.
func (c *httpBackendClient) ConfirmPersona(ctx context.Context, jobID string, profile models.PersonaProfile) error {
	const op = "confirm persona"
	req, err := c.jsonRequest(ctx, http.MethodPost, "/persona/confirm",
		models.ConfirmRequest{JobID: jobID, PersonaProfile: profile})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.doOK(req, op)
}

type settingsBody struct {
	AgentEnabled *bool `json:"agent_enabled"`
}

func (c *httpBackendClient) GetSettings(ctx context.Context) (models.Settings, error) {
	const op = "get settings"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/settings"), nil)
	if err != nil {
		return models.Settings{}, fmt.Errorf("%s: building request: %w", op, err)
	}
	return c.doSettings(req, op)
}

func (c *httpBackendClient) UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error) {
	const op = "update settings"
	req, err := c.jsonRequest(ctx, http.MethodPost, "/settings", settings)
	if err != nil {
		return models.Settings{}, fmt.Errorf("%s: %w", op, err)
	}
	return c.doSettings(req, op)
}

func (c *httpBackendClient) doSettings(req *http.Request, op string) (models.Settings, error) {
	var out settingsBody
	if err := c.do(req, op, &out); err != nil {
		return models.Settings{}, err
	}
	if out.AgentEnabled == nil {
		return models.Settings{}, &APIError{Op: op, StatusCode: http.StatusOK, Message: "response has no agent_enabled"}
	}
	return models.Settings{AgentEnabled: *out.AgentEnabled}, nil
}

type agentPollBody struct {
	ShouldSend *bool  `json:"should_send"`
	Message    string `json:"message"`
}

// PollAgent asks whether the persona has a proactive message for the session.
func (c *httpBackendClient) PollAgent(ctx context.Context, sessionID string) (models.AgentPollResult, error) {
	const op = "agent poll"
	u := c.url("/agent/poll") + "?" + url.Values{"session_id": {sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.AgentPollResult{}, fmt.Errorf("%s: building request: %w", op, err)
	}
	var out agentPollBody
	if err := c.do(req, op, &out); err != nil {
		return models.AgentPollResult{}, err
	}
	if out.ShouldSend == nil {
		return models.AgentPollResult{}, &APIError{Op: op, StatusCode: http.StatusOK, Message: "response has no should_send"}
	}
	return models.AgentPollResult{ShouldSend: *out.ShouldSend, Message: out.Message}, nil
}

// Health reports the backend's own health flag.
func (c *httpBackendClient) Health(ctx context.Context) (bool, error) {
	const op = "health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/health"), nil)
	if err != nil {
		return false, fmt.Errorf("%s: building request: %w", op, err)
	}
	var out okBody
	if err := c.do(req, op, &out); err != nil {
		return false, err
	}
	return out.OK != nil && *out.OK, nil
}

func (c *httpBackendClient) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type okBody struct {
	OK *bool `json:"ok"`
}

// doOK performs req and requires an {ok: boolean} response body.
func (c *httpBackendClient) doOK(req *http.Request, op string) error {
	var out okBody
	if err := c.do(req, op, &out); err != nil {
		return err
	}
	if out.OK == nil {
		return &APIError{Op: op, StatusCode: http.StatusOK, Message: "response has no ok flag"}
	}
	return nil
}

// do performs req and decodes a 2xx JSON body into out.
func (c *httpBackendClient) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

// responseError builds an APIError from a non-2xx response, preferring the
// {message} body of the proxy layer and then the {detail} body of the backend.
func responseError(op string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(data)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}

func errorMessage(data []byte) string {
	var body struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if body.Message != "" {
		return body.Message
	}
	if len(body.Detail) == 0 {
		return ""
	}

	var detail string
	if err := json.Unmarshal(body.Detail, &detail); err == nil {
		return detail
	}
	// Validation failures carry a list of {msg} entries.
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(body.Detail)
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
