// Package mcp provides an MCP (Model Context Protocol) server that exposes
// memory-talk operations as tools, so an assistant can upload chat logs,
// follow analysis jobs and talk to a confirmed persona.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// HealthChecker reports whether the backend is up.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}

// Deps are the services behind the tools. Any of them may be nil; the tools
// that need a missing service report an error result.
type Deps struct {
	Backend  core.FlowBackend
	Poller   *core.JobPoller
	Settings *core.SettingsManager
	NewChat  core.ChatFactory
	Health   HealthChecker
	Metrics  observability.MetricsCalculator
	Alerts   observability.AlertEngine
}

// Server exposes memory-talk services as MCP tools.
type Server struct {
	server *gomcp.Server
	deps   Deps

	mu       sync.Mutex
	sessions map[string]*core.ChatSession
}

// NewServer creates an MCP server over deps.
func NewServer(deps Deps, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		deps:     deps,
		sessions: make(map[string]*core.ChatSession),
	}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "mtalk", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeSessions()
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, id)
	}
}

// --- Tool input/output types ---

type uploadInput struct {
	Path string `json:"path" jsonschema:"required,path of a plain-text chat log export"`
}

type uploadOutput struct {
	JobID string `json:"job_id"`
}

type jobInput struct {
	JobID string `json:"job_id" jsonschema:"required,the analysis job id returned by upload_chat_log"`
}

type jobOutput struct {
	JobID           string                `json:"job_id"`
	Status          string                `json:"status"`
	Progress        float64               `json:"progress"`
	Speakers        []string              `json:"speakers,omitempty"`
	SelectedSpeaker string                `json:"selected_speaker,omitempty"`
	Error           string                `json:"error,omitempty"`
	Report          *models.PersonaReport `json:"report,omitempty"`
}

type analyzeInput struct {
	JobID         string `json:"job_id" jsonschema:"required,the analysis job id"`
	TargetSpeaker string `json:"target_speaker" jsonschema:"required,the speaker whose persona should be extracted"`
}

type confirmInput struct {
	JobID   string                 `json:"job_id" jsonschema:"required,the analysis job id"`
	Profile *models.PersonaProfile `json:"profile,omitempty" jsonschema:"edited persona profile; defaults to the profile in the job report"`
}

type messageOutput struct {
	Message string `json:"message"`
}

type chatInput struct {
	JobID     string `json:"job_id" jsonschema:"required,the job whose persona to talk to"`
	Message   string `json:"message" jsonschema:"required,the user message"`
	SessionID string `json:"session_id,omitempty" jsonschema:"continue an earlier chat session"`
	StyleMode string `json:"style_mode,omitempty" jsonschema:"prompt, rag or hybrid; defaults to the configured mode"`
}

type chatOutput struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

type emptyInput struct{}

type settingsOutput struct {
	AgentEnabled bool `json:"agent_enabled"`
}

type updateSettingsInput struct {
	AgentEnabled bool `json:"agent_enabled" jsonschema:"whether the persona may send proactive messages"`
}

type healthOutput struct {
	OK bool `json:"ok"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	JobsUploaded      int            `json:"jobs_uploaded"`
	JobsByStatus      map[string]int `json:"jobs_by_status"`
	AnalysesRequested int            `json:"analyses_requested"`
	PersonasConfirmed int            `json:"personas_confirmed"`
	ChatSessions      int            `json:"chat_sessions"`
	StreamsCompleted  int            `json:"streams_completed"`
	StreamsFailed     int            `json:"streams_failed"`
	StreamsStopped    int            `json:"streams_stopped"`
	AgentMessages     int            `json:"agent_messages"`
	AvgStreamMillis   int64          `json:"avg_stream_ms"`
	EventCount        int            `json:"event_count"`
	OldestEvent       string         `json:"oldest_event,omitempty"`
	NewestEvent       string         `json:"newest_event,omitempty"`
}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	JobID       string `json:"job_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "upload_chat_log",
		Description: "Upload a plain-text chat log export and start an analysis job. Returns the job id.",
	}, s.handleUpload)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_job",
		Description: "Get the current state of an analysis job: status, progress, speakers and, when done, the persona report.",
	}, s.handleGetJob)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "analyze_job",
		Description: "Choose the speaker to extract a persona for when a job is awaiting_selection.",
	}, s.handleAnalyze)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "confirm_persona",
		Description: "Confirm the persona profile of a finished job so it can be chatted with.",
	}, s.handleConfirm)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "chat",
		Description: "Send a message to a confirmed persona and return the full streamed reply.",
	}, s.handleChat)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_settings",
		Description: "Get the backend chat settings.",
	}, s.handleGetSettings)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "update_settings",
		Description: "Update the backend chat settings.",
	}, s.handleUpdateSettings)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "health",
		Description: "Check whether the backend is reachable and healthy.",
	}, s.handleHealth)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get client usage metrics (uploads, jobs by status, chat streams) for a time window.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate alert conditions: stalled or failed jobs and repeated chat stream failures.",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleUpload(ctx context.Context, _ *gomcp.CallToolRequest, input uploadInput) (*gomcp.CallToolResult, uploadOutput, error) {
	if s.deps.Backend == nil {
		return errorResult("backend not available"), uploadOutput{}, nil
	}
	if input.Path == "" {
		return errorResult("path is required"), uploadOutput{}, nil
	}
	name := filepath.Base(input.Path)
	if !core.IsChatLogFile(name, mime.TypeByExtension(filepath.Ext(name))) {
		return errorResult(fmt.Sprintf("%s: %s", name, core.ErrUnsupportedFile)), uploadOutput{}, nil
	}

	f, err := os.Open(input.Path)
	if err != nil {
		return errorResult(fmt.Sprintf("opening %s: %s", input.Path, err)), uploadOutput{}, nil
	}
	defer f.Close()

	jobID, err := s.deps.Backend.Upload(ctx, name, f)
	if err != nil {
		return errorResult(err.Error()), uploadOutput{}, nil
	}
	return nil, uploadOutput{JobID: jobID}, nil
}

func (s *Server) handleGetJob(ctx context.Context, _ *gomcp.CallToolRequest, input jobInput) (*gomcp.CallToolResult, jobOutput, error) {
	if s.deps.Poller == nil {
		return errorResult("job poller not available"), jobOutput{}, nil
	}
	if input.JobID == "" {
		return errorResult("job_id is required"), jobOutput{}, nil
	}
	// A fresh read, not the cached one.
	s.deps.Poller.Invalidate(input.JobID)
	job, err := s.deps.Poller.Poll(ctx, input.JobID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting job %s: %s", input.JobID, err)), jobOutput{}, nil
	}
	return nil, jobToOutput(job), nil
}

func (s *Server) handleAnalyze(ctx context.Context, _ *gomcp.CallToolRequest, input analyzeInput) (*gomcp.CallToolResult, messageOutput, error) {
	if s.deps.Backend == nil {
		return errorResult("backend not available"), messageOutput{}, nil
	}
	if input.JobID == "" {
		return errorResult("job_id is required"), messageOutput{}, nil
	}
	if input.TargetSpeaker == "" {
		return errorResult(core.ErrNoSpeaker.Error()), messageOutput{}, nil
	}
	if err := s.deps.Backend.AnalyzeJob(ctx, input.JobID, input.TargetSpeaker); err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}
	if s.deps.Poller != nil {
		s.deps.Poller.Invalidate(input.JobID)
	}
	return nil, messageOutput{Message: fmt.Sprintf("analysis of %s started for job %s", input.TargetSpeaker, input.JobID)}, nil
}

func (s *Server) handleConfirm(ctx context.Context, _ *gomcp.CallToolRequest, input confirmInput) (*gomcp.CallToolResult, messageOutput, error) {
	if s.deps.Backend == nil {
		return errorResult("backend not available"), messageOutput{}, nil
	}
	if input.JobID == "" {
		return errorResult("job_id is required"), messageOutput{}, nil
	}

	profile := input.Profile
	if profile == nil {
		if s.deps.Poller == nil {
			return errorResult("profile is required"), messageOutput{}, nil
		}
		job, err := s.deps.Poller.Poll(ctx, input.JobID)
		if err != nil {
			return errorResult(fmt.Sprintf("getting job %s: %s", input.JobID, err)), messageOutput{}, nil
		}
		if job.Status != models.JobDone || job.Report == nil {
			return errorResult(fmt.Sprintf("job %s is %s: %s", input.JobID, job.Status, core.ErrMissingReport)), messageOutput{}, nil
		}
		profile = &job.Report.Profile
	}

	if err := s.deps.Backend.ConfirmPersona(ctx, input.JobID, *profile); err != nil {
		return errorResult(err.Error()), messageOutput{}, nil
	}
	return nil, messageOutput{Message: fmt.Sprintf("persona for job %s confirmed", input.JobID)}, nil
}

func (s *Server) handleChat(ctx context.Context, _ *gomcp.CallToolRequest, input chatInput) (*gomcp.CallToolResult, chatOutput, error) {
	if s.deps.NewChat == nil {
		return errorResult("chat not available"), chatOutput{}, nil
	}
	if input.JobID == "" {
		return errorResult("job_id is required"), chatOutput{}, nil
	}

	sess, err := s.session(input)
	if err != nil {
		return errorResult(err.Error()), chatOutput{}, nil
	}
	if err := sess.Submit(ctx, input.Message); err != nil {
		return errorResult(fmt.Sprintf("chat: %s", err)), chatOutput{SessionID: sess.ID}, nil
	}

	msgs := sess.Conversation().Messages()
	out := chatOutput{SessionID: sess.ID}
	if n := len(msgs); n > 0 && !msgs[n-1].IsUser {
		out.Reply = msgs[n-1].Text
	}
	return nil, out, nil
}

// session returns the chat session named by input, creating one when no id
// is given.
func (s *Server) session(input chatInput) (*core.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.SessionID != "" {
		sess, ok := s.sessions[input.SessionID]
		if !ok {
			return nil, fmt.Errorf("unknown session_id %q", input.SessionID)
		}
		if sess.JobID != input.JobID {
			return nil, fmt.Errorf("session %s belongs to job %s", input.SessionID, sess.JobID)
		}
		return sess, nil
	}

	var personaName string
	if s.deps.Poller != nil {
		if job, ok := s.deps.Poller.Latest(input.JobID); ok {
			personaName = job.SelectedSpeaker
		}
	}
	sess := s.deps.NewChat(input.JobID, personaName)
	if mode := models.StyleMode(input.StyleMode); mode.IsValid() {
		sess.StyleMode = mode
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Server) handleGetSettings(ctx context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, settingsOutput, error) {
	if s.deps.Settings == nil {
		return errorResult("settings not available"), settingsOutput{}, nil
	}
	settings, err := s.deps.Settings.Get(ctx)
	if err != nil {
		return errorResult(err.Error()), settingsOutput{}, nil
	}
	return nil, settingsOutput{AgentEnabled: settings.AgentEnabled}, nil
}

func (s *Server) handleUpdateSettings(ctx context.Context, _ *gomcp.CallToolRequest, input updateSettingsInput) (*gomcp.CallToolResult, settingsOutput, error) {
	if s.deps.Settings == nil {
		return errorResult("settings not available"), settingsOutput{}, nil
	}
	settings, err := s.deps.Settings.Update(ctx, models.Settings{AgentEnabled: input.AgentEnabled})
	if err != nil {
		return errorResult(err.Error()), settingsOutput{}, nil
	}
	return nil, settingsOutput{AgentEnabled: settings.AgentEnabled}, nil
}

func (s *Server) handleHealth(ctx context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, healthOutput, error) {
	if s.deps.Health == nil {
		return errorResult("health check not available"), healthOutput{}, nil
	}
	ok, err := s.deps.Health.Health(ctx)
	if err != nil {
		return errorResult(err.Error()), healthOutput{}, nil
	}
	return nil, healthOutput{OK: ok}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	empty := metricsOutput{JobsByStatus: map[string]int{}}
	if s.deps.Metrics == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), empty, nil
	}
	since := input.Since
	if since == "" {
		since = "7d"
	}
	sinceTime, err := ParseSince(since, time.Now().UTC())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), empty, nil
	}
	m, err := s.deps.Metrics.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), empty, nil
	}

	out := metricsOutput{
		JobsUploaded:      m.JobsUploaded,
		JobsByStatus:      m.JobsByStatus,
		AnalysesRequested: m.AnalysesRequested,
		PersonasConfirmed: m.PersonasConfirmed,
		ChatSessions:      m.ChatSessions,
		StreamsCompleted:  m.StreamsCompleted,
		StreamsFailed:     m.StreamsFailed,
		StreamsStopped:    m.StreamsStopped,
		AgentMessages:     m.AgentMessages,
		AvgStreamMillis:   m.AvgStreamMillis,
		EventCount:        m.EventCount,
	}
	if m.OldestEvent != nil {
		out.OldestEvent = m.OldestEvent.Format(time.RFC3339)
	}
	if m.NewestEvent != nil {
		out.NewestEvent = m.NewestEvent.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.deps.Alerts == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{}, nil
	}
	alerts, err := s.deps.Alerts.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{Alerts: make([]alertOutput, len(alerts)), Count: len(alerts)}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			JobID:       a.JobID,
			SessionID:   a.SessionID,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func jobToOutput(job models.Job) jobOutput {
	return jobOutput{
		JobID:           job.JobID,
		Status:          string(job.Status),
		Progress:        job.Progress,
		Speakers:        job.Speakers,
		SelectedSpeaker: job.SelectedSpeaker,
		Error:           job.Error,
		Report:          job.Report,
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

var errBadDuration = errors.New("invalid duration")

// ParseSince turns "7d" or "24h" into the instant that long before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("%w %q", errBadDuration, s)
	}
	var num int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &num); err != nil || num < 0 {
		return time.Time{}, fmt.Errorf("%w %q", errBadDuration, s)
	}
	switch s[len(s)-1] {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("%w %q: use a d or h suffix", errBadDuration, s)
	}
}
