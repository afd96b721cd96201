// Package sandbox manages resource-capped scratch environments. Each
// sandbox is a directory plus an isolated tmux server on its own
// socket, optionally seeded from a base project, with best-effort
// CPU/memory ceilings, a metrics sampler, and an automatic expiry.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/logging"
	"github.com/squadron-dev/squadron/internal/tmux"
)

// sessionName is the single tmux session inside each sandbox server.
const sessionName = "main"

// staleAge is how old an unmatched sandbox directory must be before the
// orphan sweep removes it.
const staleAge = 24 * time.Hour

// Sandbox is one tracked environment.
type Sandbox struct {
	ID          string
	Owner       string
	Dir         string
	Socket      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	PreviewPort int
	PreviewURL  string
}

// CreateOptions controls sandbox creation.
type CreateOptions struct {
	// Owner scopes the concurrency ceiling.
	Owner string
	// SeedDir, when set, is copied into the sandbox (minus VCS metadata
	// and dependency caches).
	SeedDir string
	// PreviewCommand, when set, is launched in the sandbox session and
	// polled for HTTP readiness on an allocated port. The literal
	// {port} is substituted.
	PreviewCommand string
}

type entry struct {
	sandbox Sandbox
	expiry  *time.Timer

	metricsCancel context.CancelFunc

	mu      sync.Mutex
	metrics Metrics
}

// Manager owns every live sandbox in this process.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg   config.SandboxConfig
	ports *PortPool
	bus   *event.Bus
	log   *logging.Logger
}

func NewManager(cfg config.SandboxConfig, bus *event.Bus, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{
		entries: make(map[string]*entry),
		cfg:     cfg,
		ports:   NewPortPool(cfg.PortRangeStart, cfg.PortPoolSize),
		bus:     bus,
		log:     log,
	}
}

// Create allocates and starts a sandbox. The per-owner ceiling is
// checked first so a rejected call leaves no side effects.
// OwnerDir returns a sandbox's directory under the configured root.
// The layout groups sandboxes per owner: <root>/<owner>/sandboxes/<id>.
func OwnerDir(root, owner, id string) string {
	return filepath.Join(root, owner, "sandboxes", id)
}

func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Sandbox, error) {
	m.mu.Lock()
	owned := 0
	for _, e := range m.entries {
		if e.sandbox.Owner == opts.Owner {
			owned++
		}
	}
	if owned >= m.cfg.MaxPerOwner {
		m.mu.Unlock()
		return nil, errors.NewSandboxError(
			fmt.Sprintf("owner %q already has %d sandboxes", opts.Owner, owned),
			errors.ErrSandboxLimitReached)
	}
	m.mu.Unlock()

	id := uuid.NewString()[:8]
	dir := OwnerDir(m.cfg.ResolveRoot(), opts.Owner, id)
	log := m.log.WithSandbox(id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewSandboxError("failed to create sandbox directory", err).WithSandbox(id)
	}

	cleanup := func() {
		tmux.KillServer(tmux.SandboxSocketName(id))
		os.RemoveAll(dir)
	}

	if opts.SeedDir != "" {
		if err := seedCopy(opts.SeedDir, dir); err != nil {
			cleanup()
			return nil, errors.NewSandboxError("failed to seed sandbox", err).WithSandbox(id)
		}
	}

	socket := tmux.SandboxSocketName(id)
	if err := tmux.NewSession(socket, sessionName, dir); err != nil {
		cleanup()
		return nil, errors.NewSandboxError("failed to start sandbox session", err).WithSandbox(id)
	}

	now := time.Now()
	sb := Sandbox{
		ID:        id,
		Owner:     opts.Owner,
		Dir:       dir,
		Socket:    socket,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TimeLimit()),
	}

	if pid := tmux.GetPanePID(socket, sessionName); pid > 0 {
		applyLimits(pid, m.cfg.CPULimitPercent, m.cfg.MemoryLimitMB, log)
	}

	if opts.PreviewCommand != "" {
		port, url, err := m.startPreview(ctx, &sb, opts.PreviewCommand)
		if err != nil {
			cleanup()
			return nil, err
		}
		sb.PreviewPort = port
		sb.PreviewURL = url
	}

	e := &entry{sandbox: sb}
	e.expiry = time.AfterFunc(m.cfg.TimeLimit(), func() {
		log.Info("sandbox expired")
		_ = m.Destroy(id)
	})

	metricsCtx, cancel := context.WithCancel(context.Background())
	e.metricsCancel = cancel
	go m.sampleMetrics(metricsCtx, e)

	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	log.Info("sandbox created", "owner", opts.Owner, "dir", dir, "preview_port", sb.PreviewPort)
	return &sb, nil
}

// Get returns a sandbox by id.
func (m *Manager) Get(id string) (*Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, errors.NewSandboxError("unknown sandbox", errors.ErrSandboxNotFound).WithSandbox(id)
	}
	sb := e.sandbox
	return &sb, nil
}

// List returns all live sandboxes.
func (m *Manager) List() []Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sandbox, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.sandbox)
	}
	return out
}

// Count returns the number of live sandboxes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Destroy tears a sandbox down: metrics and expiry cancelled, tracked
// processes stopped gracefully then killed, tmux server gone, preview
// port released, directory removed. Destroying an unknown id is an
// error; destroying twice is not possible since the first call removes
// the record.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return errors.NewSandboxError("unknown sandbox", errors.ErrSandboxNotFound).WithSandbox(id)
	}
	delete(m.entries, id)
	m.mu.Unlock()

	if e.metricsCancel != nil {
		e.metricsCancel()
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}

	sb := e.sandbox
	// Snapshot the process tree before shutdown so stragglers that
	// survive the session kill can still be reaped.
	pids := tmux.CollectProcessTree(sb.Socket, sessionName)
	tmux.GracefulShutdown(sb.Socket, sessionName, tmux.DefaultGracefulStopTimeout)
	tmux.EnsureProcessesKilled(pids)
	if sb.PreviewPort != 0 {
		m.ports.Release(sb.PreviewPort)
	}
	if err := os.RemoveAll(sb.Dir); err != nil {
		return errors.NewSandboxError("failed to remove sandbox directory", err).WithSandbox(id)
	}

	m.log.WithSandbox(id).Info("sandbox destroyed")
	return nil
}

// DestroyAll tears down every live sandbox.
func (m *Manager) DestroyAll() {
	for _, sb := range m.List() {
		if err := m.Destroy(sb.ID); err != nil {
			m.log.WithSandbox(sb.ID).Warn("destroy failed", "error", err)
		}
	}
}

// SweepOrphans reconciles on-disk and tmux state with the in-memory
// registry: sandbox tmux servers with no record are killed, and
// directories older than the stale age are removed. Run once at
// startup.
func (m *Manager) SweepOrphans() (killed, removed int) {
	sockets, err := tmux.ListSquadronSockets()
	if err == nil {
		for _, s := range sockets {
			if !tmux.IsSandboxSocket(s) {
				continue
			}
			id := tmux.ExtractSandboxID(s)
			if _, err := m.Get(id); err == nil {
				continue
			}
			if err := tmux.KillServer(s); err == nil {
				killed++
				m.log.Info("killed orphaned sandbox server", "socket", s)
			}
		}
	}

	cutoff := time.Now().Add(-staleAge)
	dirs, _ := filepath.Glob(filepath.Join(m.cfg.ResolveRoot(), "*", "sandboxes", "*"))
	for _, dir := range dirs {
		id := filepath.Base(dir)
		if _, err := m.Get(id); err == nil {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err == nil {
			removed++
			m.log.Info("removed stale sandbox directory", "dir", dir)
		}
	}
	return killed, removed
}
