// Package puppet drives the external coding-agent processes. Each agent
// is an opaque binary bound to one working directory; the puppet layer
// spawns it, feeds prompts over stdin, accumulates its unstructured
// output, and infers turn completion with the classifier.
//
// The persistent per-agent session exists only for liveness. Actual task
// execution launches a fresh one-shot process per call, which keeps a
// wedged process from poisoning later calls.
package puppet

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/hub"
	"github.com/squadron-dev/squadron/internal/logging"
)

// Status is an agent's lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusWorking      Status = "working"
	StatusWaiting      Status = "waiting"
	StatusStopped      Status = "stopped"
	StatusError        Status = "error"
	StatusUnhealthy    Status = "unhealthy"
)

// Turn is one entry in an agent's conversation history.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
	At      time.Time
}

// Agent is the puppet-side record of one external agent process.
type Agent struct {
	ID           string
	Role         string
	WorkDir      string
	Context      string
	Status       Status
	History      []Turn
	CreatedFiles []string
	LastActivity time.Time

	// SessionID is the conversation identifier the agent binary reported
	// in its output, usable with resume-style flags.
	SessionID string
}

// Manager owns every agent registered in this process. It is the single
// writer for agent state; all mutation goes through its lock.
type Manager struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	invoker Invoker
	hub     *hub.Hub
	log     *logging.Logger

	callTimeout time.Duration
}

// NewManager creates a puppet manager using the given invoker for process
// execution. Output chunks are forwarded to h when non-nil.
func NewManager(invoker Invoker, h *hub.Hub, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{
		agents:      make(map[string]*Agent),
		invoker:     invoker,
		hub:         h,
		log:         log,
		callTimeout: DefaultCallTimeout,
	}
}

// SetCallTimeout overrides the default per-call timeout.
func (m *Manager) SetCallTimeout(d time.Duration) { m.callTimeout = d }

// Default timeouts for agent calls.
const (
	// DefaultCallTimeout bounds one sendToAgent exchange.
	DefaultCallTimeout = 120 * time.Second

	// DefaultFirstOutputGrace is how long a call may produce nothing
	// before it counts as a failed start.
	DefaultFirstOutputGrace = 90 * time.Second

	// minMeaningfulOutput is the output size below which a clean process
	// exit is not treated as a completed response.
	minMeaningfulOutput = 10
)

// SpawnAgent registers an agent and prepares its working directory.
// The agent is registered before any asynchronous work so a concurrent
// status query can never observe a started-but-unknown agent.
func (m *Manager) SpawnAgent(id, role, taskContext, workDir string) (*Agent, error) {
	m.mu.Lock()
	if _, exists := m.agents[id]; exists {
		m.mu.Unlock()
		return nil, errors.NewAgentError("agent already registered", errors.ErrAgentAlreadyRunning).WithAgent(id)
	}
	a := &Agent{
		ID:           id,
		Role:         role,
		WorkDir:      workDir,
		Context:      taskContext,
		Status:       StatusInitializing,
		LastActivity: time.Now(),
	}
	m.agents[id] = a
	m.mu.Unlock()

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		m.setStatus(id, StatusError)
		return nil, errors.NewAgentError("failed to create working directory", err).WithAgent(id)
	}

	m.setStatus(id, StatusReady)
	m.log.WithAgent(id).Info("agent spawned", "role", role, "workdir", workDir)
	return m.snapshot(id), nil
}

// Get returns a snapshot of an agent's state.
func (m *Manager) Get(id string) (*Agent, error) {
	a := m.snapshot(id)
	if a == nil {
		return nil, errors.NewAgentError("unknown agent", errors.ErrAgentNotFound).WithAgent(id)
	}
	return a, nil
}

// List returns snapshots of all registered agents.
func (m *Manager) List() []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Agent, 0, len(m.agents))
	for id := range m.agents {
		out = append(out, m.snapshotLocked(id))
	}
	return out
}

// Count returns the number of registered agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Conversation returns an agent's conversation history.
func (m *Manager) Conversation(id string) ([]Turn, error) {
	a, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return a.History, nil
}

// Stop marks an agent stopped and closes its terminal session. Stopping
// an already-stopped agent is a no-op.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return errors.NewAgentError("unknown agent", errors.ErrAgentNotFound).WithAgent(id)
	}
	alreadyStopped := a.Status == StatusStopped
	a.Status = StatusStopped
	m.mu.Unlock()

	if alreadyStopped {
		return nil
	}
	if m.hub != nil {
		m.hub.Close(id)
	}
	m.log.WithAgent(id).Info("agent stopped")
	return nil
}

// Remove stops an agent and deletes its record.
func (m *Manager) Remove(id string) {
	_ = m.Stop(id)
	m.mu.Lock()
	delete(m.agents, id)
	m.mu.Unlock()
}

// StopAll stops every registered agent.
func (m *Manager) StopAll() {
	for _, a := range m.List() {
		_ = m.Stop(a.ID)
	}
}

// Respawn replaces an agent with a fresh one carrying the same role,
// context, and working directory. The conversation history is dropped.
func (m *Manager) Respawn(id string) (*Agent, error) {
	old, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	m.Remove(id)
	return m.SpawnAgent(id, old.Role, old.Context, old.WorkDir)
}

func (m *Manager) setStatus(id string, s Status) {
	m.mu.Lock()
	if a, ok := m.agents[id]; ok {
		a.Status = s
	}
	m.mu.Unlock()
}

func (m *Manager) touch(id string) {
	m.mu.Lock()
	if a, ok := m.agents[id]; ok {
		a.LastActivity = time.Now()
	}
	m.mu.Unlock()
}

func (m *Manager) snapshot(id string) *Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(id)
}

// snapshotLocked copies an agent record. Caller holds m.mu.
func (m *Manager) snapshotLocked(id string) *Agent {
	a, ok := m.agents[id]
	if !ok {
		return nil
	}
	cp := *a
	cp.History = append([]Turn(nil), a.History...)
	cp.CreatedFiles = append([]string(nil), a.CreatedFiles...)
	return &cp
}

// probe sends a quick liveness exchange to an agent. Used by the health
// monitor; not recorded in conversation history.
func (m *Manager) probe(ctx context.Context, id string, timeout time.Duration) error {
	a, err := m.Get(id)
	if err != nil {
		return err
	}
	if a.Status == StatusStopped {
		return errors.NewAgentError("agent not running", errors.ErrAgentNotRunning).WithAgent(id)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = m.invoker.Invoke(probeCtx, a.WorkDir, "Reply with a single word: alive", true, nil)
	return err
}
