package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/hub"
	"github.com/squadron-dev/squadron/internal/logging"
	"github.com/squadron-dev/squadron/internal/orchestrator"
	"github.com/squadron-dev/squadron/internal/puppet"
	"github.com/squadron-dev/squadron/internal/workflow"
	"github.com/squadron-dev/squadron/internal/worktree"
)

// app wires the full orchestration stack for one CLI invocation. All
// state lives in this process; commands that only inspect git or tmux
// build the lighter pieces directly instead.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	bus      *event.Bus
	hub      *hub.Hub
	puppets  *puppet.Manager
	health   *puppet.HealthMonitor
	isolator *worktree.Isolator
	git      *worktree.Git
	orch     *orchestrator.Orchestrator
}

func buildApp() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.NopLogger()
	if cfg.Logging.Enabled {
		logDir := filepath.Join(cwd, ".squadron-parallel-dev", "logs")
		if fileLog, err := logging.NewLogger(logDir, cfg.Logging.Level); err == nil {
			log = fileLog
		}
	}

	bus := event.NewBus()
	h := hub.New(bus, log,
		hub.WithBufferSize(cfg.Hub.BufferSize),
		hub.WithIdleTimeout(cfg.Hub.IdleTimeout()))

	invoker := puppet.NewPTYInvoker(cfg.Agent.Binary, cfg.Agent.FirstOutputGrace(), log)
	puppets := puppet.NewManager(invoker, h, log)
	puppets.SetCallTimeout(cfg.Agent.CallTimeout())

	var health *puppet.HealthMonitor
	if cfg.Agent.HealthCheckEnabled {
		health = puppet.NewHealthMonitor(puppets, cfg.Agent, log)
	}

	git := worktree.NewGit(cwd)
	isolator := worktree.NewIsolator(cwd, git, log)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	base := cfg.Worktree.BaseBranch
	if base == "" {
		base = detectBaseBranch(git)
	}

	orch := orchestrator.New(cfg.Team, base, isolator, puppets, git, registry, bus, log)

	return &app{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		hub:      h,
		puppets:  puppets,
		health:   health,
		isolator: isolator,
		git:      git,
		orch:     orch,
	}, nil
}

func buildRegistry(cfg *config.Config) (*workflow.Registry, error) {
	if cfg.Workflow.TemplatesFile == "" {
		return workflow.NewRegistry(), nil
	}
	extra, err := workflow.LoadTemplateFile(cfg.Workflow.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow templates: %w", err)
	}
	return workflow.NewRegistry(extra...), nil
}

// detectBaseBranch prefers the checked-out branch, falling back to main.
func detectBaseBranch(git *worktree.Git) string {
	if branch, err := git.CurrentBranch(git.RepoDir()); err == nil && branch != "" {
		return branch
	}
	return "main"
}
