// Package errors provides centralized error definitions and error handling
// utilities for the squadron codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - TeamError: errors related to team orchestration
//   - AgentError: errors related to agent process management
//   - GitError: errors related to git operations (worktrees, branches, merges)
//   - SandboxError: errors related to sandbox lifecycle
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewTeamError("spawn failed", errors.ErrTeamLimitReached)
//	err := errors.NewGitError("merge failed", baseErr).WithBranch("squadron/frontend")
//	err := errors.NewNotFoundError("team", "t-42")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrTeamNotFound) { ... }
//
//	var gitErr *errors.GitError
//	if errors.As(err, &gitErr) { ... }
//
//	if errors.IsTimeout(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Team-related sentinel errors
var (
	// ErrTeamNotFound indicates that a team could not be found.
	ErrTeamNotFound = New("team not found")
	// ErrTeamLimitReached indicates the concurrent-team ceiling has been hit.
	ErrTeamLimitReached = New("maximum concurrent teams reached")
	// ErrTeamStopped indicates the team has already been stopped.
	ErrTeamStopped = New("team already stopped")
	// ErrEmergencyStop indicates the orchestrator is halted by the emergency stop flag.
	ErrEmergencyStop = New("emergency stop is active")
)

// Agent-related sentinel errors
var (
	// ErrAgentNotFound indicates that an agent could not be found.
	ErrAgentNotFound = New("agent not found")
	// ErrAgentAlreadyRunning indicates that an agent process is already running.
	ErrAgentAlreadyRunning = New("agent already running")
	// ErrAgentNotRunning indicates that an agent process is not running.
	ErrAgentNotRunning = New("agent not running")
	// ErrAgentStartFailed indicates that an agent process failed to start.
	ErrAgentStartFailed = New("agent failed to start")
	// ErrAgentUnhealthy indicates an agent failed a liveness probe.
	ErrAgentUnhealthy = New("agent is unhealthy")
	// ErrBinaryNotFound indicates the external agent binary is not on PATH.
	ErrBinaryNotFound = New("agent binary not found")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeNotFound indicates that a worktree could not be found.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
	// ErrWorktreeVerification indicates a created worktree failed post-creation checks.
	ErrWorktreeVerification = New("worktree verification failed")
)

// Sandbox-related sentinel errors
var (
	// ErrSandboxNotFound indicates that a sandbox could not be found.
	ErrSandboxNotFound = New("sandbox not found")
	// ErrSandboxLimitReached indicates the per-owner sandbox ceiling has been hit.
	ErrSandboxLimitReached = New("maximum concurrent sandboxes reached")
	// ErrNoPortsAvailable indicates the preview port pool is exhausted.
	ErrNoPortsAvailable = New("no preview ports available")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// TeamError represents an error from team orchestration.
type TeamError struct {
	Message string
	TeamID  string
	Role    string
	Err     error
}

// NewTeamError creates a TeamError wrapping an underlying error.
func NewTeamError(message string, err error) *TeamError {
	return &TeamError{Message: message, Err: err}
}

// WithTeam attaches the team ID to the error.
func (e *TeamError) WithTeam(teamID string) *TeamError {
	e.TeamID = teamID
	return e
}

// WithRole attaches the failing agent role to the error.
func (e *TeamError) WithRole(role string) *TeamError {
	e.Role = role
	return e
}

func (e *TeamError) Error() string {
	msg := e.Message
	if e.TeamID != "" {
		msg = fmt.Sprintf("%s (team %s)", msg, e.TeamID)
	}
	if e.Role != "" {
		msg = fmt.Sprintf("%s (role %s)", msg, e.Role)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TeamError) Unwrap() error { return e.Err }

// AgentError represents an error from agent process management.
type AgentError struct {
	Message string
	AgentID string
	Err     error
}

// NewAgentError creates an AgentError wrapping an underlying error.
func NewAgentError(message string, err error) *AgentError {
	return &AgentError{Message: message, Err: err}
}

// WithAgent attaches the agent ID to the error.
func (e *AgentError) WithAgent(agentID string) *AgentError {
	e.AgentID = agentID
	return e
}

func (e *AgentError) Error() string {
	msg := e.Message
	if e.AgentID != "" {
		msg = fmt.Sprintf("%s (agent %s)", msg, e.AgentID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AgentError) Unwrap() error { return e.Err }

// GitError represents an error from git operations.
type GitError struct {
	Message string
	Branch  string
	Path    string
	Output  string
	Err     error
}

// NewGitError creates a GitError wrapping an underlying error.
func NewGitError(message string, err error) *GitError {
	return &GitError{Message: message, Err: err}
}

// WithBranch attaches the branch name to the error.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithPath attaches the worktree path to the error.
func (e *GitError) WithPath(path string) *GitError {
	e.Path = path
	return e
}

// WithOutput attaches captured git command output to the error.
func (e *GitError) WithOutput(output string) *GitError {
	e.Output = output
	return e
}

func (e *GitError) Error() string {
	msg := e.Message
	if e.Branch != "" {
		msg = fmt.Sprintf("%s (branch %s)", msg, e.Branch)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path %s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s\n%s", msg, e.Output)
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// SandboxError represents an error from sandbox lifecycle management.
type SandboxError struct {
	Message   string
	SandboxID string
	Err       error
}

// NewSandboxError creates a SandboxError wrapping an underlying error.
func NewSandboxError(message string, err error) *SandboxError {
	return &SandboxError{Message: message, Err: err}
}

// WithSandbox attaches the sandbox ID to the error.
func (e *SandboxError) WithSandbox(id string) *SandboxError {
	e.SandboxID = id
	return e
}

func (e *SandboxError) Error() string {
	msg := e.Message
	if e.SandboxID != "" {
		msg = fmt.Sprintf("%s (sandbox %s)", msg, e.SandboxID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SandboxError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates a resource could not be found.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a NotFoundError for the given resource and ID.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is reports whether target is one of the package's not-found sentinels.
func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrTeamNotFound, ErrAgentNotFound, ErrSandboxNotFound, ErrWorktreeNotFound:
		return true
	}
	return false
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a TimeoutError for the given operation and duration.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsTimeout reports whether err represents a timeout condition.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return Is(err, ErrTimeout) || As(err, &te)
}

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if As(err, &nf) {
		return true
	}
	return Is(err, ErrTeamNotFound) || Is(err, ErrAgentNotFound) ||
		Is(err, ErrSandboxNotFound) || Is(err, ErrWorktreeNotFound)
}

// IsRetryable reports whether err represents a transient condition that
// may succeed on retry. Resource-exhaustion and timeout errors are
// retryable; validation and not-found errors are not.
func IsRetryable(err error) bool {
	return Is(err, ErrTeamLimitReached) || Is(err, ErrSandboxLimitReached) ||
		Is(err, ErrNoPortsAvailable) || IsTimeout(err)
}
