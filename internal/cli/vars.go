package cli

import (
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/integration"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/internal/storage"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

// Client service instances, set during app initialization in app.go.
var (
	BasePath string
	Config   *models.GlobalConfig
	Logger   *zap.Logger

	Backend  integration.BackendClient
	Poller   *core.JobPoller
	Settings *core.SettingsManager
	Drafts   storage.DraftStoreManager
	NewChat  core.ChatFactory
	NewFlow  func() *core.SessionFlow

	// Events records domain events from commands that call the backend directly.
	Events core.EventLogger
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog      observability.EventLog
	AlertEngine   observability.AlertEngine
	MetricsCalc   observability.MetricsCalculator
	Notifier      observability.Notifier
	ClientMetrics *observability.ClientMetrics
)
