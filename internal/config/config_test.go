package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, 30*time.Second, cfg.Sync.Interval)
	require.Equal(t, 60*time.Second, cfg.Sync.StalenessThreshold)
	require.Equal(t, 5, cfg.Sync.RetryMax)
	require.Equal(t, time.Second, cfg.Sync.BackoffBase)
	require.Equal(t, 60*time.Second, cfg.Sync.BackoffCap)
	require.True(t, cfg.History.IsEnabled())
	require.False(t, cfg.Tracing.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidate_BadBaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.BaseURL = "not a url"
	require.Error(t, cfg.Validate())

	cfg.BaseURL = "ftp://api.example.com"
	require.Error(t, cfg.Validate())

	cfg.BaseURL = "http://localhost:8080"
	require.NoError(t, cfg.Validate())
}

func TestValidate_SyncTuning(t *testing.T) {
	cfg := Defaults()
	cfg.Sync.BackoffBase = 2 * time.Minute
	cfg.Sync.BackoffCap = time.Second
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Sync.RetryMax = -1
	require.Error(t, cfg.Validate())
}

func TestValidateTracing(t *testing.T) {
	require.Error(t, ValidateTracing(TracingConfig{SampleRate: 1.5}))
	require.Error(t, ValidateTracing(TracingConfig{Exporter: "jaeger"}))
	require.Error(t, ValidateTracing(TracingConfig{Enabled: true, Exporter: "file"}))
	require.Error(t, ValidateTracing(TracingConfig{Enabled: true, Exporter: "otlp"}))
	require.NoError(t, ValidateTracing(TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5}))
}

func TestSessionComplete(t *testing.T) {
	cfg := Defaults()
	require.False(t, cfg.SessionComplete())

	cfg.APIToken = "tok"
	cfg.ProjectID = "PROJ-1"
	require.False(t, cfg.SessionComplete())

	cfg.PlanID = "PLAN-1"
	require.True(t, cfg.SessionComplete())
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "base_url: https://api.taskwire.dev")

	// Template must be parseable YAML.
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	require.Contains(t, out, "sync")
}

func TestDefaultConfigTemplateMatchesDefaults(t *testing.T) {
	var out struct {
		BaseURL string `yaml:"base_url"`
		Sync    struct {
			Interval string `yaml:"interval"`
			RetryMax int    `yaml:"retry_max"`
		} `yaml:"sync"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &out))

	defaults := Defaults()
	require.Equal(t, defaults.BaseURL, out.BaseURL)
	require.Equal(t, defaults.Sync.RetryMax, out.Sync.RetryMax)

	interval, err := time.ParseDuration(out.Sync.Interval)
	require.NoError(t, err)
	require.Equal(t, defaults.Sync.Interval, interval)
}
