package models

import "time"

// BackendConfig holds the location of the analysis backend (or proxy).
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PollingConfig tunes job and agent polling.
type PollingConfig struct {
	JobInitialInterval time.Duration `yaml:"job_initial_interval" mapstructure:"job_initial_interval"`
	JobInterval        time.Duration `yaml:"job_interval" mapstructure:"job_interval"`
	Retries            int           `yaml:"retries" mapstructure:"retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	AgentInterval      time.Duration `yaml:"agent_interval" mapstructure:"agent_interval"`
}

// ChatConfig holds chat session defaults.
type ChatConfig struct {
	StyleMode    StyleMode `yaml:"style_mode" mapstructure:"style_mode"`
	AgentEnabled bool      `yaml:"agent_enabled" mapstructure:"agent_enabled"`
	PersonaName  string    `yaml:"persona_name" mapstructure:"persona_name"`
}

// FlowConfig tunes the session flow.
type FlowConfig struct {
	ReviewDelay time.Duration `yaml:"review_delay" mapstructure:"review_delay"`
}

// ProxyConfig configures the pass-through API proxy.
type ProxyConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
	Target string `yaml:"target" mapstructure:"target"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	File  string `yaml:"file" mapstructure:"file"`
	Level string `yaml:"level" mapstructure:"level"`
}

// AlertConfig holds alert thresholds.
type AlertConfig struct {
	StalledJobMinutes int `yaml:"stalled_job_minutes" mapstructure:"stalled_job_minutes"`
	MaxStreamFailures int `yaml:"max_stream_failures" mapstructure:"max_stream_failures"`
}

// NotificationConfig configures external alert delivery.
type NotificationConfig struct {
	Enabled         bool        `yaml:"enabled" mapstructure:"enabled"`
	SlackWebhookURL string      `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
	Alerts          AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds client-wide settings read from .mtalkconfig.yaml via Viper.
type GlobalConfig struct {
	Backend       BackendConfig      `yaml:"backend" mapstructure:"backend"`
	Polling       PollingConfig      `yaml:"polling" mapstructure:"polling"`
	Chat          ChatConfig         `yaml:"chat" mapstructure:"chat"`
	Flow          FlowConfig         `yaml:"flow" mapstructure:"flow"`
	Proxy         ProxyConfig        `yaml:"proxy" mapstructure:"proxy"`
	Log           LogConfig          `yaml:"log" mapstructure:"log"`
	Notifications NotificationConfig `yaml:"notifications" mapstructure:"notifications"`
}
