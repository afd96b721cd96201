// Package event provides a pub-sub event bus for decoupled inter-component
// communication in Squadron.
//
// This package enables loose coupling between the Orchestrator, the terminal
// broadcast hub, and the CLI surfaces by allowing them to communicate through
// events rather than direct method calls. Components can publish events
// without knowing who will receive them, and subscribe to events without
// knowing who will produce them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// The package defines several categories of events:
//
// Team Lifecycle:
//   - [TeamSpawnedEvent]: Emitted when a parallel team is created
//   - [TeamExecutionStartedEvent]: Emitted when all team agents are running
//   - [TeamCompletedEvent]: Emitted when a team's work is merged
//   - [TeamStoppedEvent]: Emitted when a team is stopped
//
// Agent Events:
//   - [AgentProgressEvent]: Emitted when an agent's inferred progress changes
//
// Terminal Events:
//   - [TerminalDataEvent]: Emitted for each chunk of agent terminal output
//   - [TerminalClearEvent]: Emitted when a terminal buffer is cleared
//   - [TerminalClosedEvent]: Emitted when an agent's terminal closes
//
// System Events:
//   - [EmergencyStopEvent]: Emitted when an emergency stop is triggered
//   - [SandboxMetricsEvent]: Emitted on each sandbox metrics sample
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - team.spawned, team.execution_started, team.completed, team.stopped
//   - agent.progress
//   - terminal.data, terminal.clear, terminal.closed
//   - emergency.stop
//   - sandbox.metrics
package event
