// Package event defines event types for decoupling squadron components.
// These events enable communication between the orchestrator, the terminal
// hub, and UI bridges without requiring direct dependencies.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "team.spawned", "agent.progress")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Team Lifecycle Events
// -----------------------------------------------------------------------------

// TeamSpawnedEvent is emitted once a team's agents and worktrees exist.
type TeamSpawnedEvent struct {
	baseEvent
	TeamID      string   // Unique identifier for the team
	Requirement string   // The requirement the team was spawned for
	Roles       []string // Roles assigned to the team's agents
}

// NewTeamSpawnedEvent creates a TeamSpawnedEvent.
func NewTeamSpawnedEvent(teamID, requirement string, roles []string) TeamSpawnedEvent {
	return TeamSpawnedEvent{
		baseEvent:   newBaseEvent("team.spawned"),
		TeamID:      teamID,
		Requirement: requirement,
		Roles:       roles,
	}
}

// TeamExecutionStartedEvent is emitted when agents begin working on tasks.
type TeamExecutionStartedEvent struct {
	baseEvent
	TeamID string
}

// NewTeamExecutionStartedEvent creates a TeamExecutionStartedEvent.
func NewTeamExecutionStartedEvent(teamID string) TeamExecutionStartedEvent {
	return TeamExecutionStartedEvent{
		baseEvent: newBaseEvent("team.execution_started"),
		TeamID:    teamID,
	}
}

// TeamCompletedEvent is emitted when every agent in a team has completed
// and merge-back has finished.
type TeamCompletedEvent struct {
	baseEvent
	TeamID     string
	TotalFiles int           // Files changed across all merged branches
	Duration   time.Duration // Wall-clock time from spawn to completion
}

// NewTeamCompletedEvent creates a TeamCompletedEvent.
func NewTeamCompletedEvent(teamID string, totalFiles int, duration time.Duration) TeamCompletedEvent {
	return TeamCompletedEvent{
		baseEvent:  newBaseEvent("team.completed"),
		TeamID:     teamID,
		TotalFiles: totalFiles,
		Duration:   duration,
	}
}

// TeamStoppedEvent is emitted when a team is stopped before completion.
type TeamStoppedEvent struct {
	baseEvent
	TeamID string
	Reason string // "user", "timeout", "emergency"
}

// NewTeamStoppedEvent creates a TeamStoppedEvent.
func NewTeamStoppedEvent(teamID, reason string) TeamStoppedEvent {
	return TeamStoppedEvent{
		baseEvent: newBaseEvent("team.stopped"),
		TeamID:    teamID,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Agent Progress Events
// -----------------------------------------------------------------------------

// AgentProgressEvent is emitted on every progress poll that changes an
// agent's observed state.
type AgentProgressEvent struct {
	baseEvent
	TeamID      string
	AgentID     string
	Role        string
	Progress    int    // 0-100
	CurrentTask string // Human-readable description of the current task
	Status      string // Agent status string
}

// NewAgentProgressEvent creates an AgentProgressEvent.
func NewAgentProgressEvent(teamID, agentID, role string, progress int, currentTask, status string) AgentProgressEvent {
	return AgentProgressEvent{
		baseEvent:   newBaseEvent("agent.progress"),
		TeamID:      teamID,
		AgentID:     agentID,
		Role:        role,
		Progress:    progress,
		CurrentTask: currentTask,
		Status:      status,
	}
}

// -----------------------------------------------------------------------------
// Emergency Stop Events
// -----------------------------------------------------------------------------

// EmergencyStopEvent is emitted when the system-wide kill switch fires.
type EmergencyStopEvent struct {
	baseEvent
	Reason string
}

// NewEmergencyStopEvent creates an EmergencyStopEvent.
func NewEmergencyStopEvent(reason string) EmergencyStopEvent {
	return EmergencyStopEvent{
		baseEvent: newBaseEvent("emergency.stop"),
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Terminal Channel Events
// -----------------------------------------------------------------------------

// TerminalDataEvent carries an incremental chunk of an agent's raw output.
type TerminalDataEvent struct {
	baseEvent
	AgentID string
	Data    []byte
}

// NewTerminalDataEvent creates a TerminalDataEvent.
func NewTerminalDataEvent(agentID string, data []byte) TerminalDataEvent {
	return TerminalDataEvent{
		baseEvent: newBaseEvent("terminal.data"),
		AgentID:   agentID,
		Data:      data,
	}
}

// TerminalClearEvent signals that viewers should reset their display.
type TerminalClearEvent struct {
	baseEvent
	AgentID string
}

// NewTerminalClearEvent creates a TerminalClearEvent.
func NewTerminalClearEvent(agentID string) TerminalClearEvent {
	return TerminalClearEvent{
		baseEvent: newBaseEvent("terminal.clear"),
		AgentID:   agentID,
	}
}

// TerminalClosedEvent signals that an agent's terminal session has ended.
type TerminalClosedEvent struct {
	baseEvent
	AgentID string
}

// NewTerminalClosedEvent creates a TerminalClosedEvent.
func NewTerminalClosedEvent(agentID string) TerminalClosedEvent {
	return TerminalClosedEvent{
		baseEvent: newBaseEvent("terminal.closed"),
		AgentID:   agentID,
	}
}

// -----------------------------------------------------------------------------
// Sandbox Events
// -----------------------------------------------------------------------------

// SandboxMetricsEvent carries a periodic resource snapshot for a sandbox.
type SandboxMetricsEvent struct {
	baseEvent
	SandboxID  string
	CPUPercent float64
	MemoryMB   float64
	DiskMB     float64
}

// NewSandboxMetricsEvent creates a SandboxMetricsEvent.
func NewSandboxMetricsEvent(sandboxID string, cpuPercent, memoryMB, diskMB float64) SandboxMetricsEvent {
	return SandboxMetricsEvent{
		baseEvent:  newBaseEvent("sandbox.metrics"),
		SandboxID:  sandboxID,
		CPUPercent: cpuPercent,
		MemoryMB:   memoryMB,
		DiskMB:     diskMB,
	}
}
