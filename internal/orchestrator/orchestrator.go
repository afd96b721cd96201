// Package orchestrator owns the Team/Agent registry and drives teams
// through their lifecycle: spawn, isolated execution, progress
// inference from git state, merge-back, and teardown. The registry is
// single-writer; every mutation goes through the orchestrator's lock.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/logging"
	"github.com/squadron-dev/squadron/internal/puppet"
	"github.com/squadron-dev/squadron/internal/workflow"
	"github.com/squadron-dev/squadron/internal/worktree"
)

// TeamStatus is a team's lifecycle state.
type TeamStatus string

const (
	TeamSpawning  TeamStatus = "spawning"
	TeamReady     TeamStatus = "ready"
	TeamWorking   TeamStatus = "working"
	TeamMerging   TeamStatus = "merging"
	TeamCompleted TeamStatus = "completed"
	TeamError     TeamStatus = "error"
	TeamStopped   TeamStatus = "stopped"
)

// terminal reports whether no further transition may leave s.
func (s TeamStatus) terminal() bool {
	return s == TeamCompleted || s == TeamError || s == TeamStopped
}

// teamTransitions is the allowed forward edge set. stopped and error
// are additionally reachable from any non-terminal state.
var teamTransitions = map[TeamStatus][]TeamStatus{
	TeamSpawning: {TeamReady},
	TeamReady:    {TeamWorking},
	TeamWorking:  {TeamMerging},
	TeamMerging:  {TeamCompleted},
}

func validTransition(from, to TeamStatus) bool {
	if from.terminal() {
		return false
	}
	if to == TeamStopped || to == TeamError {
		return true
	}
	for _, next := range teamTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgentStatus mirrors the per-agent view of the work.
type AgentStatus string

const (
	AgentReady     AgentStatus = "ready"
	AgentWorking   AgentStatus = "working"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
	AgentStopped   AgentStatus = "stopped"
)

// Agent is the orchestrator's record of one team member.
type Agent struct {
	ID           string
	Role         workflow.Role
	Branch       string
	WorktreePath string
	Status       AgentStatus
	Progress     int
	CurrentTask  string
}

// Progress holds the team's overall score and its phase bands.
type Progress struct {
	Overall     int
	Planning    int
	Development int
	Testing     int
	Deployment  int
}

// Team is one orchestrated unit of work.
type Team struct {
	ID           string
	Requirement  string
	WorkflowID   string
	BaseBranch   string
	WorktreeRoot string
	Agents       []*Agent
	Status       TeamStatus
	Progress     Progress
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Isolation is the worktree surface the orchestrator needs.
// *worktree.Isolator satisfies it.
type Isolation interface {
	ValidateRepoState() ([]string, error)
	TeamRoot(teamID string, createdAt time.Time) string
	CreateAgentWorktree(teamRoot, teamID, role string) (*worktree.AgentWorktree, error)
	MergeTeamWork(baseBranch string, candidates []worktree.MergeCandidate) (worktree.MergeReport, error)
	Teardown(teamRoot string, worktrees []worktree.AgentWorktree) error
}

// AgentRunner is the puppet surface the orchestrator needs.
// *puppet.Manager satisfies it.
type AgentRunner interface {
	SpawnAgent(id, role, taskContext, workDir string) (*puppet.Agent, error)
	Send(ctx context.Context, id, message string) (string, error)
	Get(id string) (*puppet.Agent, error)
	Stop(id string) error
	Remove(id string)
}

// ProgressProbe reads git state for progress inference. *worktree.Git
// satisfies it.
type ProgressProbe interface {
	HasUncommittedChanges(path string) (bool, error)
	CountCommitsBetween(path, base, head string) (int, error)
	LastCommitUnix(path string) (int64, error)
}

type teamEntry struct {
	team      *Team
	worktrees []worktree.AgentWorktree
	cancel    context.CancelFunc
}

// Orchestrator is the control surface for parallel team execution.
type Orchestrator struct {
	mu    sync.Mutex
	teams map[string]*teamEntry

	emergencyStop   bool
	emergencyReason string

	cfg       config.TeamConfig
	baseBr    string
	isolation Isolation
	runner    AgentRunner
	probe     ProgressProbe
	registry  *workflow.Registry
	executor  *workflow.Executor
	bus       *event.Bus
	log       *logging.Logger
	startedAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg config.TeamConfig, baseBranch string, isolation Isolation, runner AgentRunner, probe ProgressProbe, registry *workflow.Registry, bus *event.Bus, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NopLogger()
	}
	if registry == nil {
		registry = workflow.NewRegistry()
	}
	return &Orchestrator{
		teams:     make(map[string]*teamEntry),
		cfg:       cfg,
		baseBr:    baseBranch,
		isolation: isolation,
		runner:    runner,
		probe:     probe,
		registry:  registry,
		executor:  workflow.NewExecutor(runner, log),
		bus:       bus,
		log:       log,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Team returns a snapshot of one team.
func (o *Orchestrator) Team(id string) (*Team, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.teams[id]
	if !ok {
		return nil, errors.NewTeamError("unknown team", errors.ErrTeamNotFound).WithTeam(id)
	}
	return snapshotTeam(e.team), nil
}

// Teams returns snapshots of all teams.
func (o *Orchestrator) Teams() []*Team {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Team, 0, len(o.teams))
	for _, e := range o.teams {
		out = append(out, snapshotTeam(e.team))
	}
	return out
}

func snapshotTeam(t *Team) *Team {
	cp := *t
	cp.Agents = make([]*Agent, len(t.Agents))
	for i, a := range t.Agents {
		ac := *a
		cp.Agents[i] = &ac
	}
	return &cp
}

// transition moves a team to a new status under the lock, enforcing
// the state machine. Invalid transitions are dropped.
func (o *Orchestrator) transition(teamID string, to TeamStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.teams[teamID]
	if !ok {
		return false
	}
	if !validTransition(e.team.Status, to) {
		o.log.WithTeam(teamID).Debug("transition rejected",
			"from", string(e.team.Status), "to", string(to))
		return false
	}
	e.team.Status = to
	switch to {
	case TeamWorking:
		e.team.StartedAt = o.now()
	case TeamCompleted, TeamError, TeamStopped:
		e.team.CompletedAt = o.now()
	}
	return true
}

func (o *Orchestrator) entry(teamID string) *teamEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.teams[teamID]
}

// cancelRun cancels a team's run context, ending any in-flight agent
// call before its worktree goes away.
func (o *Orchestrator) cancelRun(teamID string) {
	var cancel context.CancelFunc
	o.mu.Lock()
	if e, ok := o.teams[teamID]; ok {
		cancel = e.cancel
	}
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) activeTeams() int {
	n := 0
	for _, e := range o.teams {
		if !e.team.Status.terminal() {
			n++
		}
	}
	return n
}
