// Package internal provides the App struct that wires all components of
// memory-talk together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/memory-talk/internal/cli"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/integration"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/internal/storage"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

// EventLogFileName is the JSONL event log kept in the base path.
const EventLogFileName = ".mtalk_events.jsonl"

// settingsTimeout bounds the settings lookup when no backend timeout is set.
const settingsTimeout = 10 * time.Second

// App holds all service dependencies of memory-talk.
type App struct {
	BasePath string
	Config   *models.GlobalConfig
	Logger   *zap.Logger

	// Configuration
	ConfigMgr core.ConfigurationManager

	// Storage layer
	Cache  *storage.QueryCache
	Drafts storage.DraftStoreManager

	// Integration services
	Backend integration.BackendClient

	// Core services
	Poller      *core.JobPoller
	AgentPoller *core.AgentPoller
	Settings    *core.SettingsManager

	// Observability
	EventLog      observability.EventLog
	AlertEngine   observability.AlertEngine
	MetricsCalc   observability.MetricsCalculator
	Notifier      observability.Notifier
	ClientMetrics *observability.ClientMetrics

	events core.EventLogger
}

// NewApp creates and wires all components of memory-talk. basePath is the
// directory holding .mtalkconfig.yaml, the event log and profile drafts.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Logging ---
	app.Logger, err = observability.NewLogger(observability.LoggerOptions{
		File:    cfg.Log.File,
		Level:   cfg.Log.Level,
		Console: true,
	})
	if err != nil {
		// Non-fatal: run without diagnostic logs.
		app.Logger = zap.NewNop()
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, EventLogFileName))
	if err != nil {
		// Non-fatal: disable observability if log can't be created.
		app.Logger.Warn("event log disabled", zap.Error(err))
		app.EventLog = nil
	}
	if app.EventLog != nil {
		thresholds := observability.DefaultAlertThresholds()
		if cfg.Notifications.Alerts.StalledJobMinutes > 0 {
			thresholds.StalledJobMinutes = cfg.Notifications.Alerts.StalledJobMinutes
		}
		if cfg.Notifications.Alerts.MaxStreamFailures > 0 {
			thresholds.MaxStreamFailures = cfg.Notifications.Alerts.MaxStreamFailures
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
		app.events = &eventLogAdapter{log: app.EventLog}
	}
	if cfg.Notifications.Enabled && cfg.Notifications.SlackWebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Notifications.SlackWebhookURL, cfg.Backend.BaseURL)
	}
	app.ClientMetrics = observability.NewClientMetrics()

	// --- Storage layer ---
	app.Cache = storage.NewQueryCache(storage.DefaultQueryTTL)
	app.Drafts = storage.NewDraftStoreManager(basePath)

	// --- Integration services ---
	app.Backend = integration.NewBackendClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	// --- Core services ---
	app.Poller = core.NewJobPoller(app.Backend, core.JobPollerOptions{
		InitialInterval: cfg.Polling.JobInitialInterval,
		Interval:        cfg.Polling.JobInterval,
		Retries:         cfg.Polling.Retries,
		RetryBackoff:    cfg.Polling.RetryBackoff,
		Decoder:         core.NewJobDecoder(app.Logger),
		Cache:           app.Cache,
		Instruments:     app.ClientMetrics,
		Logger:          app.Logger,
	})
	app.AgentPoller = core.NewAgentPoller(app.Backend, core.AgentPollerOptions{
		Interval:    cfg.Polling.AgentInterval,
		Cache:       app.Cache,
		Instruments: app.ClientMetrics,
		Logger:      app.Logger,
	})
	app.Settings = core.NewSettingsManager(app.Backend, app.Cache, app.events)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Logger = app.Logger
	cli.Backend = app.Backend
	cli.Poller = app.Poller
	cli.Settings = app.Settings
	cli.Drafts = app.Drafts
	cli.NewChat = app.NewChat
	cli.NewFlow = app.NewFlow
	cli.Events = app.events

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier
	cli.ClientMetrics = app.ClientMetrics

	return app, nil
}

// NewChat creates a chat session for a confirmed job. Each session gets its
// own streaming client so stopping one reply never affects another session.
// The agent setting comes from the backend when it can be read, otherwise
// from the configuration.
func (a *App) NewChat(jobID, personaName string) *core.ChatSession {
	timeout := a.Config.Backend.Timeout
	if timeout <= 0 {
		timeout = settingsTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	agentEnabled := a.Config.Chat.AgentEnabled
	if s, err := a.Settings.Get(ctx); err == nil {
		agentEnabled = s.AgentEnabled
	} else {
		a.Logger.Debug("using configured agent setting", zap.Error(err))
	}
	if personaName == "" {
		personaName = a.Config.Chat.PersonaName
	}

	return core.NewChatSession(core.ChatSessionOptions{
		JobID:        jobID,
		StyleMode:    a.Config.Chat.StyleMode,
		AgentEnabled: agentEnabled,
		PersonaName:  personaName,
		Streamer:     integration.NewStreamingChatClient(a.Config.Backend.BaseURL, a.Logger),
		AgentPoller:  a.AgentPoller,
		EventLog:     a.events,
		Instruments:  a.ClientMetrics,
		Logger:       a.Logger,
	})
}

// NewFlow creates a session flow over the app's services.
func (a *App) NewFlow() *core.SessionFlow {
	return core.NewSessionFlow(core.FlowOptions{
		Backend:     a.Backend,
		Poller:      a.Poller,
		Drafts:      a.Drafts,
		NewChat:     a.NewChat,
		ReviewDelay: a.Config.Flow.ReviewDelay,
		EventLog:    a.events,
		Logger:      a.Logger,
	})
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the memory-talk data directory. It checks the
// MTALK_HOME env var, then walks up from the current directory looking for
// .mtalkconfig.yaml, and falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("MTALK_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	cwd := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, core.ConfigFileName+".yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   eventLevel(eventType, data),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}

// eventLevel marks failures so they stand out when reading the log.
func eventLevel(eventType string, data map[string]any) string {
	switch eventType {
	case core.EventStreamFailed:
		return observability.LevelWarn
	case core.EventJobStatusChanged:
		if data["new_status"] == string(models.JobError) {
			return observability.LevelError
		}
	}
	return observability.LevelInfo
}
