// Package config handles configuration loading for fleet. It supports XDG
// config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for fleet.
type Config struct {
	Workers   WorkersConfig   `mapstructure:"workers"`
	Branch    BranchConfig    `mapstructure:"branch"`
	Worktrees WorktreesConfig `mapstructure:"worktrees"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Gates     GatesConfig     `mapstructure:"gates"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	State     StateConfig     `mapstructure:"state"`
	Loop      LoopConfig      `mapstructure:"loop"`
}

// WorkersConfig holds worker pool settings.
type WorkersConfig struct {
	// Max is the worker pool ceiling.
	Max int `mapstructure:"max"`
	// Command is the shell command that runs the coding agent for a task.
	Command string `mapstructure:"command"`
}

// BranchConfig holds git branch naming settings.
type BranchConfig struct {
	// Prefix namespaces fleet-managed branches, e.g. "fleet" yields
	// fleet/worker-N.
	Prefix string `mapstructure:"prefix"`
	// Base is the branch worker branches fork from and merge back into.
	Base string `mapstructure:"base"`
}

// WorktreesConfig holds worktree placement settings.
type WorktreesConfig struct {
	// BaseDir is where worker checkouts are created. Empty means the
	// default under the user cache directory.
	BaseDir string `mapstructure:"base_dir"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	Enabled          bool          `mapstructure:"enabled"`
}

// GatesConfig holds quality gate settings run after each level merge.
type GatesConfig struct {
	// Commands are shell commands run in order; any failure fails the
	// level.
	Commands []string `mapstructure:"commands"`
}

// LimiterConfig holds execution slot settings.
type LimiterConfig struct {
	// Slots caps concurrent agent subprocesses; 0 means unlimited.
	Slots int `mapstructure:"slots"`
	// AcquireTimeout bounds how long an assignment waits for a slot.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// ShutdownConfig holds graceful shutdown settings.
type ShutdownConfig struct {
	// Timeout bounds how long a graceful stop waits for in-flight tasks.
	Timeout time.Duration `mapstructure:"timeout"`
}

// StateConfig holds run state and history settings.
type StateConfig struct {
	// Dir is where checkpoints and the run-history database live. Empty
	// means the default under the user state directory.
	Dir string `mapstructure:"dir"`
}

// LoopConfig holds scheduler loop settings.
type LoopConfig struct {
	// PollInterval is how often the scheduler re-examines worker states.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load loads configuration with the following precedence, highest first:
// environment variables (FLEET_*), project config (.fleet.yaml in the
// current directory or a parent), user config
// (~/.config/fleet/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FLEET")
	v.AutomaticEnv()

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers.Max <= 0 {
		return fmt.Errorf("workers.max must be positive, got %d", c.Workers.Max)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Limiter.Slots < 0 {
		return fmt.Errorf("limiter.slots must not be negative, got %d", c.Limiter.Slots)
	}
	return nil
}

// StateDir returns the directory for checkpoints and run history,
// resolving the default when unset.
func (c *Config) StateDir() string {
	if c.State.Dir != "" {
		return c.State.Dir
	}
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "fleet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fleet-state")
	}
	return filepath.Join(home, ".local", "state", "fleet")
}

// WorktreeBaseDir returns the worktree checkout directory, resolving the
// default when unset.
func (c *Config) WorktreeBaseDir() string {
	if c.Worktrees.BaseDir != "" {
		return c.Worktrees.BaseDir
	}
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "fleet", "worktrees")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fleet-worktrees")
	}
	return filepath.Join(home, ".cache", "fleet", "worktrees")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workers.max", 8)
	v.SetDefault("workers.command", "claude -p")

	v.SetDefault("branch.prefix", "fleet")
	v.SetDefault("branch.base", "main")

	v.SetDefault("worktrees.base_dir", "")

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown", "30s")
	v.SetDefault("breaker.enabled", true)

	v.SetDefault("gates.commands", []string{})

	v.SetDefault("limiter.slots", 0)
	v.SetDefault("limiter.acquire_timeout", "10s")

	v.SetDefault("shutdown.timeout", "30s")

	v.SetDefault("state.dir", "")

	v.SetDefault("loop.poll_interval", "100ms")
}

// getUserConfigDir returns the XDG config directory for fleet.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fleet")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "fleet")
	}
	return filepath.Join(home, ".config", "fleet")
}

// findProjectConfig searches for .fleet.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".fleet.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Workers: WorkersConfig{
			Max:     8,
			Command: "claude -p",
		},
		Branch: BranchConfig{
			Prefix: "fleet",
			Base:   "main",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
			Enabled:          true,
		},
		Limiter: LimiterConfig{
			Slots:          0,
			AcquireTimeout: 10 * time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
		Loop: LoopConfig{
			PollInterval: 100 * time.Millisecond,
		},
	}
}
