// Package cmd wires the taskwire CLI: the MCP server, status reporting, task
// inspection, and the invocation history browser.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "taskwire",
	Short: "MCP bridge between a coding agent and the Taskwire backend",
	Long: `Taskwire connects an AI coding agent to a hosted project-management
backend over the Model Context Protocol. The agent discovers tasks, reads
requirements, and records progress through MCP tools; taskwire keeps a
locally synced snapshot of the plan so reads stay fast and offline-tolerant.

Start the bridge with 'taskwire serve'; inspect it with 'taskwire status'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/taskwire/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs (also TASKWIRE_DEBUG)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("base_url", defaults.BaseURL)
	viper.SetDefault("agent_name", defaults.AgentName)
	viper.SetDefault("sync.interval", defaults.Sync.Interval)
	viper.SetDefault("sync.staleness_threshold", defaults.Sync.StalenessThreshold)
	viper.SetDefault("sync.retry_max", defaults.Sync.RetryMax)
	viper.SetDefault("sync.backoff_base", defaults.Sync.BackoffBase)
	viper.SetDefault("sync.backoff_cap", defaults.Sync.BackoffCap)
	viper.SetDefault("sync.request_timeout", defaults.Sync.RequestTimeout)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("history.path", defaults.History.Path)

	viper.SetEnvPrefix("TASKWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .taskwire/config.yaml (current directory)
		// 2. ~/.config/taskwire/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "taskwire"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create a commented default at
		// .taskwire/config.yaml and continue.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				viper.SetConfigFile(localConfigPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

const localConfigPath = ".taskwire/config.yaml"

// configFilePath returns the config file in use, falling back to the local
// path when none was loaded.
func configFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return localConfigPath
}

// initLogging sets up the debug log when enabled. The returned cleanup is
// safe to call even when logging stays off.
func initLogging(component string) (func(), error) {
	if !debugFlag && os.Getenv("TASKWIRE_DEBUG") == "" {
		return func() {}, nil
	}

	logPath := os.Getenv("TASKWIRE_LOG")
	if logPath == "" {
		logPath = "taskwire-debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.SetEnabled(true)
	log.Info(log.CatConfig, "Logging initialized", "component", component, "path", logPath)
	return cleanup, nil
}

// requireSession rejects commands that need a bound project session before
// any backend wiring happens.
func requireSession() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.SessionComplete() {
		return fmt.Errorf("no project session configured: set api_token, project_id, and plan_id in %s (or TASKWIRE_API_TOKEN etc.); 'taskwire use' binds a project", configFilePath())
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
