// Package config provides configuration types, defaults, and persistence for
// taskwire.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/taskwire/taskwire/internal/log"
)

// DefaultBaseURL is the production backend endpoint.
const DefaultBaseURL = "https://api.taskwire.dev"

// Config holds all configuration options for taskwire.
type Config struct {
	// APIToken is the bearer token for backend authentication. Usually
	// supplied via the TASKWIRE_API_TOKEN environment variable rather than
	// the config file.
	APIToken string `mapstructure:"api_token"`

	// BaseURL is the backend API base URL.
	BaseURL string `mapstructure:"base_url"`

	// ProjectID and PlanID select the active project session.
	ProjectID string `mapstructure:"project_id"`
	PlanID    string `mapstructure:"plan_id"`

	// AgentName identifies this bridge instance to the backend.
	AgentName string `mapstructure:"agent_name"`

	Sync    SyncConfig    `mapstructure:"sync"`
	Tracing TracingConfig `mapstructure:"tracing"`
	History HistoryConfig `mapstructure:"history"`
}

// SyncConfig holds tuning for the status synchronizer and backend gateway.
// Thresholds and ceilings are deliberately configuration, not constants.
type SyncConfig struct {
	// Interval between background refresh ticks.
	Interval time.Duration `mapstructure:"interval"`

	// StalenessThreshold is the snapshot age beyond which read tools flag
	// their result as stale and trigger a background refresh.
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`

	// RetryMax is the per-request attempt ceiling for transient failures.
	RetryMax int `mapstructure:"retry_max"`

	// BackoffBase is the first retry delay; doubled per consecutive failure.
	BackoffBase time.Duration `mapstructure:"backoff_base"`

	// BackoffCap bounds the retry and re-sync delay.
	BackoffCap time.Duration `mapstructure:"backoff_cap"`

	// RequestTimeout bounds each individual backend call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// HistoryConfig holds tool invocation history settings.
type HistoryConfig struct {
	// Enabled controls whether tool invocations are journaled. Default: true
	Enabled *bool `mapstructure:"enabled"`

	// Path is the sqlite database location.
	// Default: ~/.taskwire/history.db
	Path string `mapstructure:"path"`
}

// IsEnabled returns whether history recording is on (defaults to true).
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// DefaultHistoryPath returns ~/.taskwire/history.db, or empty string if the
// home directory is unavailable.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".taskwire", "history.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "taskwire", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		AgentName: "taskwire-agent",
		Sync: SyncConfig{
			Interval:           30 * time.Second,
			StalenessThreshold: 60 * time.Second,
			RetryMax:           5,
			BackoffBase:        time.Second,
			BackoffCap:         60 * time.Second,
			RequestTimeout:     30 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		History: HistoryConfig{
			Path: DefaultHistoryPath(),
		},
	}
}

// SessionComplete reports whether the config carries everything needed to
// open a project session against the backend.
func (c Config) SessionComplete() bool {
	return c.APIToken != "" && c.ProjectID != "" && c.PlanID != ""
}

// Validate checks the configuration for errors. Empty values that have
// defaults are valid.
func (c Config) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute http(s) URL, got %q", c.BaseURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base_url scheme must be http or https, got %q", u.Scheme)
		}
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	if c.History.Path != "" && !filepath.IsAbs(c.History.Path) {
		return fmt.Errorf("history.path must be an absolute path, got %q", c.History.Path)
	}
	return nil
}

// Validate checks sync tuning for errors.
func (s SyncConfig) Validate() error {
	if s.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative, got %v", s.Interval)
	}
	if s.StalenessThreshold < 0 {
		return fmt.Errorf("sync.staleness_threshold must not be negative, got %v", s.StalenessThreshold)
	}
	if s.RetryMax < 0 {
		return fmt.Errorf("sync.retry_max must not be negative, got %d", s.RetryMax)
	}
	if s.BackoffBase < 0 || s.BackoffCap < 0 {
		return fmt.Errorf("sync backoff values must not be negative")
	}
	if s.BackoffCap != 0 && s.BackoffBase > s.BackoffCap {
		return fmt.Errorf("sync.backoff_base (%v) must not exceed sync.backoff_cap (%v)", s.BackoffBase, s.BackoffCap)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with
// comments, written on first run.
func DefaultConfigTemplate() string {
	return `# Taskwire Configuration

# Backend API endpoint
base_url: https://api.taskwire.dev

# Bearer token for the backend API.
# Prefer the TASKWIRE_API_TOKEN environment variable over storing it here.
# api_token: your-token

# Active project session. Populated by project/plan selection; the
# taskwire_list_projects and taskwire_list_plans MCP tools help discover IDs.
# project_id: PROJ-123
# plan_id: PLAN-456

# Name identifying this bridge instance to the backend
agent_name: taskwire-agent

# Synchronizer and gateway tuning
sync:
  interval: 30s              # background refresh cadence
  staleness_threshold: 60s   # reads older than this are flagged stale
  retry_max: 5               # attempt ceiling for transient failures
  backoff_base: 1s           # first retry delay (doubles per failure)
  backoff_cap: 60s           # upper bound for retry/re-sync delay
  request_timeout: 30s       # per-request deadline

# Distributed tracing for backend requests and tool dispatches
# tracing:
#   enabled: false
#   exporter: file            # none, file, stdout, otlp
#   file_path: ~/.config/taskwire/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# Tool invocation history (sqlite journal, inspect with 'taskwire history')
# history:
#   enabled: true
#   path: ~/.taskwire/history.db
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
