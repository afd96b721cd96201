package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Squadron configuration
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Team       TeamConfig       `mapstructure:"team"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Hub        HubConfig        `mapstructure:"hub"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Worktree   WorktreeConfig   `mapstructure:"worktree"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AgentConfig controls how external coding-agent processes are invoked
// and supervised.
type AgentConfig struct {
	// Binary is the coding-agent executable name or path (default: "claude")
	Binary string `mapstructure:"binary"`
	// CallTimeoutSeconds is the per-call response timeout (default: 120)
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
	// FirstOutputGraceSeconds is how long to wait for the first byte of
	// output before declaring a failed start (default: 90)
	FirstOutputGraceSeconds int `mapstructure:"first_output_grace_seconds"`
	// HealthCheckEnabled turns on the periodic liveness probe for idle agents
	HealthCheckEnabled bool `mapstructure:"health_check_enabled"`
	// HealthCheckIntervalSeconds is how often the health monitor runs (default: 30)
	HealthCheckIntervalSeconds int `mapstructure:"health_check_interval_seconds"`
	// IdleThresholdMinutes is how long an agent must be inactive before
	// it is probed (default: 5)
	IdleThresholdMinutes int `mapstructure:"idle_threshold_minutes"`
	// ProbeTimeoutSeconds is the timeout for a single liveness probe (default: 5)
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
	// RespawnUnhealthy kills and respawns agents that fail their probe
	RespawnUnhealthy bool `mapstructure:"respawn_unhealthy"`
}

// TeamConfig controls team-level ceilings and timeouts.
type TeamConfig struct {
	// MaxConcurrent is the concurrent-team ceiling (default: 3)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// TimeoutMinutes is the per-team wall-clock timeout (default: 30)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// MaxRequirementLength bounds the requirement text (default: 1000)
	MaxRequirementLength int `mapstructure:"max_requirement_length"`
	// ProgressPollSeconds is the per-agent git-state poll interval (default: 10)
	ProgressPollSeconds int `mapstructure:"progress_poll_seconds"`
}

// ClassifierConfig controls turn-completion detection.
type ClassifierConfig struct {
	// SilenceThresholdSeconds is the stream-quiet window that implies a
	// finished turn (default: 3)
	SilenceThresholdSeconds int `mapstructure:"silence_threshold_seconds"`
	// QuickSilenceThresholdSeconds is the shorter window used for probe
	// exchanges (default: 2)
	QuickSilenceThresholdSeconds int `mapstructure:"quick_silence_threshold_seconds"`
}

// HubConfig controls the terminal broadcast hub.
type HubConfig struct {
	// BufferSize is the per-agent output chunk retention (default: 1000)
	BufferSize int `mapstructure:"buffer_size"`
	// IdleTimeoutSeconds is the zero-viewer removal window (default: 30)
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`
}

// SandboxConfig controls sandbox lifecycle and resource ceilings.
type SandboxConfig struct {
	// MaxPerOwner is the concurrent-sandbox ceiling per owner (default: 3)
	MaxPerOwner int `mapstructure:"max_per_owner"`
	// TimeLimitMinutes is how long a sandbox lives before automatic
	// destruction (default: 60)
	TimeLimitMinutes int `mapstructure:"time_limit_minutes"`
	// MetricsIntervalSeconds is the resource sampler period (default: 5)
	MetricsIntervalSeconds int `mapstructure:"metrics_interval_seconds"`
	// PortPoolSize is how many preview ports may be allocated (default: 10)
	PortPoolSize int `mapstructure:"port_pool_size"`
	// PortRangeStart is the first preview port (default: 4100)
	PortRangeStart int `mapstructure:"port_range_start"`
	// CPULimitPercent is the best-effort CPU ceiling (default: 100)
	CPULimitPercent int `mapstructure:"cpu_limit_percent"`
	// MemoryLimitMB is the best-effort memory ceiling (default: 2048)
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`
	// Root is where sandboxes are created. Empty uses the OS temp dir.
	Root string `mapstructure:"root"`
}

// WorktreeConfig controls git worktree isolation.
type WorktreeConfig struct {
	// BaseBranch is the branch agent work merges back into. Empty means
	// autodetect main/master.
	BaseBranch string `mapstructure:"base_branch"`
}

// WorkflowConfig controls workflow template loading.
type WorkflowConfig struct {
	// TemplatesFile is an optional YAML file of extra workflow templates
	// loaded at startup alongside the built-ins. Empty disables it.
	TemplatesFile string `mapstructure:"templates_file"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Enabled controls whether file logging is active (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// CallTimeout returns the per-call timeout as a time.Duration.
func (c *AgentConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// FirstOutputGrace returns the first-output grace window as a time.Duration.
func (c *AgentConfig) FirstOutputGrace() time.Duration {
	return time.Duration(c.FirstOutputGraceSeconds) * time.Second
}

// HealthCheckInterval returns the health monitor period as a time.Duration.
func (c *AgentConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// IdleThreshold returns the inactivity window before probing as a time.Duration.
func (c *AgentConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMinutes) * time.Minute
}

// ProbeTimeout returns the liveness probe timeout as a time.Duration.
func (c *AgentConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// Timeout returns the team wall-clock timeout as a time.Duration.
func (c *TeamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// ProgressPoll returns the progress poll interval as a time.Duration.
func (c *TeamConfig) ProgressPoll() time.Duration {
	return time.Duration(c.ProgressPollSeconds) * time.Second
}

// SilenceThreshold returns the default silence window as a time.Duration.
func (c *ClassifierConfig) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdSeconds) * time.Second
}

// QuickSilenceThreshold returns the quick-mode silence window as a time.Duration.
func (c *ClassifierConfig) QuickSilenceThreshold() time.Duration {
	return time.Duration(c.QuickSilenceThresholdSeconds) * time.Second
}

// IdleTimeout returns the hub's zero-viewer window as a time.Duration.
func (c *HubConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// TimeLimit returns the sandbox lifetime as a time.Duration.
func (c *SandboxConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitMinutes) * time.Minute
}

// MetricsInterval returns the sampler period as a time.Duration.
func (c *SandboxConfig) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSeconds) * time.Second
}

// ResolveRoot returns the sandbox root directory, falling back to the OS
// temp dir when unset.
func (c *SandboxConfig) ResolveRoot() string {
	if c.Root != "" {
		return c.Root
	}
	return filepath.Join(os.TempDir(), "squadron-sandboxes")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary:                     "claude",
			CallTimeoutSeconds:         120,
			FirstOutputGraceSeconds:    90,
			HealthCheckEnabled:         false,
			HealthCheckIntervalSeconds: 30,
			IdleThresholdMinutes:       5,
			ProbeTimeoutSeconds:        5,
			RespawnUnhealthy:           false,
		},
		Team: TeamConfig{
			MaxConcurrent:        3,
			TimeoutMinutes:       30,
			MaxRequirementLength: 1000,
			ProgressPollSeconds:  10,
		},
		Classifier: ClassifierConfig{
			SilenceThresholdSeconds:      3,
			QuickSilenceThresholdSeconds: 2,
		},
		Hub: HubConfig{
			BufferSize:         1000,
			IdleTimeoutSeconds: 30,
		},
		Sandbox: SandboxConfig{
			MaxPerOwner:            3,
			TimeLimitMinutes:       60,
			MetricsIntervalSeconds: 5,
			PortPoolSize:           10,
			PortRangeStart:         4100,
			CPULimitPercent:        100,
			MemoryLimitMB:          2048,
			Root:                   "",
		},
		Worktree: WorktreeConfig{
			BaseBranch: "",
		},
		Workflow: WorkflowConfig{
			TemplatesFile: "",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Agent defaults
	viper.SetDefault("agent.binary", defaults.Agent.Binary)
	viper.SetDefault("agent.call_timeout_seconds", defaults.Agent.CallTimeoutSeconds)
	viper.SetDefault("agent.first_output_grace_seconds", defaults.Agent.FirstOutputGraceSeconds)
	viper.SetDefault("agent.health_check_enabled", defaults.Agent.HealthCheckEnabled)
	viper.SetDefault("agent.health_check_interval_seconds", defaults.Agent.HealthCheckIntervalSeconds)
	viper.SetDefault("agent.idle_threshold_minutes", defaults.Agent.IdleThresholdMinutes)
	viper.SetDefault("agent.probe_timeout_seconds", defaults.Agent.ProbeTimeoutSeconds)
	viper.SetDefault("agent.respawn_unhealthy", defaults.Agent.RespawnUnhealthy)

	// Team defaults
	viper.SetDefault("team.max_concurrent", defaults.Team.MaxConcurrent)
	viper.SetDefault("team.timeout_minutes", defaults.Team.TimeoutMinutes)
	viper.SetDefault("team.max_requirement_length", defaults.Team.MaxRequirementLength)
	viper.SetDefault("team.progress_poll_seconds", defaults.Team.ProgressPollSeconds)

	// Classifier defaults
	viper.SetDefault("classifier.silence_threshold_seconds", defaults.Classifier.SilenceThresholdSeconds)
	viper.SetDefault("classifier.quick_silence_threshold_seconds", defaults.Classifier.QuickSilenceThresholdSeconds)

	// Hub defaults
	viper.SetDefault("hub.buffer_size", defaults.Hub.BufferSize)
	viper.SetDefault("hub.idle_timeout_seconds", defaults.Hub.IdleTimeoutSeconds)

	// Sandbox defaults
	viper.SetDefault("sandbox.max_per_owner", defaults.Sandbox.MaxPerOwner)
	viper.SetDefault("sandbox.time_limit_minutes", defaults.Sandbox.TimeLimitMinutes)
	viper.SetDefault("sandbox.metrics_interval_seconds", defaults.Sandbox.MetricsIntervalSeconds)
	viper.SetDefault("sandbox.port_pool_size", defaults.Sandbox.PortPoolSize)
	viper.SetDefault("sandbox.port_range_start", defaults.Sandbox.PortRangeStart)
	viper.SetDefault("sandbox.cpu_limit_percent", defaults.Sandbox.CPULimitPercent)
	viper.SetDefault("sandbox.memory_limit_mb", defaults.Sandbox.MemoryLimitMB)
	viper.SetDefault("sandbox.root", defaults.Sandbox.Root)

	// Worktree defaults
	viper.SetDefault("worktree.base_branch", defaults.Worktree.BaseBranch)

	// Workflow defaults
	viper.SetDefault("workflow.templates_file", defaults.Workflow.TemplatesFile)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "squadron")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".squadron"
	}
	return filepath.Join(home, ".config", "squadron")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
