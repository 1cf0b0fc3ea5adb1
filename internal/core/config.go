// Package core contains the client-side logic of memory-talk: job response
// normalization, job and agent polling, chat sessions, the upload-to-chat
// session flow and configuration.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// ConfigFileName is the base name of the client configuration file.
const ConfigFileName = ".mtalkconfig"

// ConfigurationManager defines the interface for loading and validating the
// client configuration from .mtalkconfig.yaml, .env and the environment.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the directory where .mtalkconfig.yaml and .env reside.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Backend: models.BackendConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Polling: models.PollingConfig{
			JobInitialInterval: DefaultJobInitialInterval,
			JobInterval:        DefaultJobInterval,
			Retries:            DefaultJobRetries,
			RetryBackoff:       DefaultRetryBackoff,
			AgentInterval:      DefaultAgentInterval,
		},
		Chat: models.ChatConfig{
			StyleMode:    models.DefaultStyleMode,
			AgentEnabled: true,
			PersonaName:  DefaultPersonaName,
		},
		Flow: models.FlowConfig{
			ReviewDelay: DefaultReviewDelay,
		},
		Proxy: models.ProxyConfig{
			Listen: ":5000",
			Target: "http://localhost:8000",
		},
		Log: models.LogConfig{
			File:  ".mtalk.log",
			Level: "info",
		},
		Notifications: models.NotificationConfig{
			Alerts: models.AlertConfig{
				StalledJobMinutes: 10,
				MaxStreamFailures: 3,
			},
		},
	}
}

// LoadGlobalConfig reads .mtalkconfig.yaml from the base path using Viper.
// A .env file in the base path is loaded into the environment first, and
// MTALK_* variables override file values. If the file does not exist,
// defaults (plus environment overrides) are returned.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	envFile := filepath.Join(cm.basePath, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("MTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("backend.base_url", "MTALK_BACKEND_BASE_URL", "MTALK_BASE_URL")

	// Set Viper defaults so missing keys fall back gracefully.
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("polling.job_initial_interval", cfg.Polling.JobInitialInterval)
	v.SetDefault("polling.job_interval", cfg.Polling.JobInterval)
	v.SetDefault("polling.retries", cfg.Polling.Retries)
	v.SetDefault("polling.retry_backoff", cfg.Polling.RetryBackoff)
	v.SetDefault("polling.agent_interval", cfg.Polling.AgentInterval)
	v.SetDefault("chat.style_mode", string(cfg.Chat.StyleMode))
	v.SetDefault("chat.agent_enabled", cfg.Chat.AgentEnabled)
	v.SetDefault("chat.persona_name", cfg.Chat.PersonaName)
	v.SetDefault("flow.review_delay", cfg.Flow.ReviewDelay)
	v.SetDefault("proxy.listen", cfg.Proxy.Listen)
	v.SetDefault("proxy.target", cfg.Proxy.Target)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("notifications.enabled", cfg.Notifications.Enabled)
	v.SetDefault("notifications.slack_webhook_url", "")
	v.SetDefault("notifications.alerts.stalled_job_minutes", cfg.Notifications.Alerts.StalledJobMinutes)
	v.SetDefault("notifications.alerts.max_stream_failures", cfg.Notifications.Alerts.MaxStreamFailures)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg.Backend.BaseURL = strings.TrimRight(v.GetString("backend.base_url"), "/")
	cfg.Backend.Timeout = v.GetDuration("backend.timeout")
	cfg.Polling.JobInitialInterval = v.GetDuration("polling.job_initial_interval")
	cfg.Polling.JobInterval = v.GetDuration("polling.job_interval")
	cfg.Polling.Retries = v.GetInt("polling.retries")
	cfg.Polling.RetryBackoff = v.GetDuration("polling.retry_backoff")
	cfg.Polling.AgentInterval = v.GetDuration("polling.agent_interval")
	cfg.Chat.StyleMode = models.StyleMode(v.GetString("chat.style_mode"))
	cfg.Chat.AgentEnabled = v.GetBool("chat.agent_enabled")
	cfg.Chat.PersonaName = v.GetString("chat.persona_name")
	cfg.Flow.ReviewDelay = v.GetDuration("flow.review_delay")
	cfg.Proxy.Listen = v.GetString("proxy.listen")
	cfg.Proxy.Target = strings.TrimRight(v.GetString("proxy.target"), "/")
	cfg.Log.File = v.GetString("log.file")
	cfg.Log.Level = v.GetString("log.level")
	cfg.Notifications.Enabled = v.GetBool("notifications.enabled")
	cfg.Notifications.SlackWebhookURL = v.GetString("notifications.slack_webhook_url")
	cfg.Notifications.Alerts.StalledJobMinutes = v.GetInt("notifications.alerts.stalled_job_minutes")
	cfg.Notifications.Alerts.MaxStreamFailures = v.GetInt("notifications.alerts.max_stream_failures")

	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) {
		cfg.Log.File = filepath.Join(cm.basePath, cfg.Log.File)
	}

	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values and returns a
// clear error message identifying every problem.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url must not be empty")
	} else if !strings.HasPrefix(cfg.Backend.BaseURL, "http://") && !strings.HasPrefix(cfg.Backend.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("backend.base_url must be an http(s) URL, got %q", cfg.Backend.BaseURL))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, "backend.timeout must not be negative")
	}
	if cfg.Polling.JobInitialInterval <= 0 {
		errs = append(errs, "polling.job_initial_interval must be positive")
	}
	if cfg.Polling.JobInterval <= 0 {
		errs = append(errs, "polling.job_interval must be positive")
	}
	if cfg.Polling.AgentInterval <= 0 {
		errs = append(errs, "polling.agent_interval must be positive")
	}
	if cfg.Polling.Retries < 0 {
		errs = append(errs, "polling.retries must not be negative")
	}
	if cfg.Polling.RetryBackoff < 0 {
		errs = append(errs, "polling.retry_backoff must not be negative")
	}
	if !cfg.Chat.StyleMode.IsValid() {
		errs = append(errs, fmt.Sprintf("chat.style_mode must be one of prompt, rag, hybrid, got %q", cfg.Chat.StyleMode))
	}
	if cfg.Flow.ReviewDelay < 0 {
		errs = append(errs, "flow.review_delay must not be negative")
	}
	if cfg.Notifications.Alerts.StalledJobMinutes < 0 {
		errs = append(errs, "notifications.alerts.stalled_job_minutes must not be negative")
	}
	if cfg.Notifications.Alerts.MaxStreamFailures < 0 {
		errs = append(errs, "notifications.alerts.max_stream_failures must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
