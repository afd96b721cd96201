package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "team.max_concurrent")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateTeam()...)
	errors = append(errors, c.validateClassifier()...)
	errors = append(errors, c.validateHub()...)
	errors = append(errors, c.validateSandbox()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if c.Agent.Binary == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.binary",
			Value:   c.Agent.Binary,
			Message: "must not be empty",
		})
	}
	if c.Agent.CallTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.call_timeout_seconds",
			Value:   c.Agent.CallTimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Agent.FirstOutputGraceSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.first_output_grace_seconds",
			Value:   c.Agent.FirstOutputGraceSeconds,
			Message: "must be positive",
		})
	}
	if c.Agent.HealthCheckEnabled {
		if c.Agent.HealthCheckIntervalSeconds <= 0 {
			errors = append(errors, ValidationError{
				Field:   "agent.health_check_interval_seconds",
				Value:   c.Agent.HealthCheckIntervalSeconds,
				Message: "must be positive when health checks are enabled",
			})
		}
		if c.Agent.ProbeTimeoutSeconds <= 0 {
			errors = append(errors, ValidationError{
				Field:   "agent.probe_timeout_seconds",
				Value:   c.Agent.ProbeTimeoutSeconds,
				Message: "must be positive when health checks are enabled",
			})
		}
	}

	return errors
}

func (c *Config) validateTeam() []ValidationError {
	var errors []ValidationError

	if c.Team.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "team.max_concurrent",
			Value:   c.Team.MaxConcurrent,
			Message: "must be at least 1",
		})
	}
	if c.Team.TimeoutMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "team.timeout_minutes",
			Value:   c.Team.TimeoutMinutes,
			Message: "must be positive",
		})
	}
	if c.Team.MaxRequirementLength < 1 {
		errors = append(errors, ValidationError{
			Field:   "team.max_requirement_length",
			Value:   c.Team.MaxRequirementLength,
			Message: "must be at least 1",
		})
	}
	if c.Team.ProgressPollSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "team.progress_poll_seconds",
			Value:   c.Team.ProgressPollSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateClassifier() []ValidationError {
	var errors []ValidationError

	if c.Classifier.SilenceThresholdSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "classifier.silence_threshold_seconds",
			Value:   c.Classifier.SilenceThresholdSeconds,
			Message: "must be positive",
		})
	}
	if c.Classifier.QuickSilenceThresholdSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "classifier.quick_silence_threshold_seconds",
			Value:   c.Classifier.QuickSilenceThresholdSeconds,
			Message: "must be positive",
		})
	}
	if c.Classifier.QuickSilenceThresholdSeconds > c.Classifier.SilenceThresholdSeconds {
		errors = append(errors, ValidationError{
			Field:   "classifier.quick_silence_threshold_seconds",
			Value:   c.Classifier.QuickSilenceThresholdSeconds,
			Message: "must not exceed the default silence threshold",
		})
	}

	return errors
}

func (c *Config) validateHub() []ValidationError {
	var errors []ValidationError

	if c.Hub.BufferSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "hub.buffer_size",
			Value:   c.Hub.BufferSize,
			Message: "must be at least 1",
		})
	}
	if c.Hub.IdleTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "hub.idle_timeout_seconds",
			Value:   c.Hub.IdleTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateSandbox() []ValidationError {
	var errors []ValidationError

	if c.Sandbox.MaxPerOwner < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.max_per_owner",
			Value:   c.Sandbox.MaxPerOwner,
			Message: "must be at least 1",
		})
	}
	if c.Sandbox.PortPoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.port_pool_size",
			Value:   c.Sandbox.PortPoolSize,
			Message: "must be at least 1",
		})
	}
	if c.Sandbox.PortRangeStart < 1024 || c.Sandbox.PortRangeStart > 65535-c.Sandbox.PortPoolSize {
		errors = append(errors, ValidationError{
			Field:   "sandbox.port_range_start",
			Value:   c.Sandbox.PortRangeStart,
			Message: "must be an unprivileged port with room for the pool",
		})
	}
	if c.Sandbox.CPULimitPercent < 1 || c.Sandbox.CPULimitPercent > 100 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.cpu_limit_percent",
			Value:   c.Sandbox.CPULimitPercent,
			Message: "must be between 1 and 100",
		})
	}
	if c.Sandbox.MemoryLimitMB < 64 {
		errors = append(errors, ValidationError{
			Field:   "sandbox.memory_limit_mb",
			Value:   c.Sandbox.MemoryLimitMB,
			Message: "must be at least 64",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
