package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/puppet"
	"github.com/squadron-dev/squadron/internal/workflow"
	"github.com/squadron-dev/squadron/internal/worktree"
)

// fakeIsolation scripts worktree outcomes in memory. With rootBase set
// it creates team root directories on disk the way the real isolator
// does; validateArrived/validateGate let a test hold spawns inside the
// unlocked validation window.
type fakeIsolation struct {
	mu              sync.Mutex
	failRole        string
	created         []string
	tornDown        []string
	mergeCalls      [][]worktree.MergeCandidate
	repoInvalid     bool
	rootBase        string
	validateArrived chan struct{}
	validateGate    chan struct{}
}

func (f *fakeIsolation) ValidateRepoState() ([]string, error) {
	if f.repoInvalid {
		return nil, errors.NewGitError("not a repository", errors.ErrNotGitRepository)
	}
	if f.validateGate != nil {
		f.validateArrived <- struct{}{}
		<-f.validateGate
	}
	return nil, nil
}

func (f *fakeIsolation) TeamRoot(teamID string, _ time.Time) string {
	if f.rootBase != "" {
		return filepath.Join(f.rootBase, teamID)
	}
	return filepath.Join("/tmp/squadron-test", teamID)
}

func (f *fakeIsolation) CreateAgentWorktree(teamRoot, teamID, role string) (*worktree.AgentWorktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rootBase != "" {
		if err := os.MkdirAll(teamRoot, 0o755); err != nil {
			return nil, err
		}
	}
	if role == f.failRole {
		return nil, errors.NewGitError("worktree add failed", errors.ErrWorktreeVerification)
	}
	f.created = append(f.created, role)
	return &worktree.AgentWorktree{
		TeamID: teamID,
		Role:   role,
		Path:   filepath.Join(teamRoot, role),
		Branch: worktree.BranchName(teamID, role),
	}, nil
}

func (f *fakeIsolation) MergeTeamWork(base string, candidates []worktree.MergeCandidate) (worktree.MergeReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeCalls = append(f.mergeCalls, candidates)
	report := worktree.MergeReport{Failed: map[string]error{}}
	for _, c := range candidates {
		if c.Completed {
			report.Merged = append(report.Merged, c.Branch)
		} else {
			report.Skipped = append(report.Skipped, c.Branch)
		}
	}
	return report, nil
}

func (f *fakeIsolation) Teardown(teamRoot string, wts []worktree.AgentWorktree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wt := range wts {
		f.tornDown = append(f.tornDown, wt.Role)
	}
	return nil
}

// fakeRunner scripts the puppet layer.
type fakeRunner struct {
	mu      sync.Mutex
	spawned []string
	removed []string
	stopped []string
	agents  map[string]*puppet.Agent
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{agents: make(map[string]*puppet.Agent)}
}

func (f *fakeRunner) SpawnAgent(id, role, taskContext, workDir string) (*puppet.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &puppet.Agent{ID: id, Role: role, WorkDir: workDir, Context: taskContext, Status: puppet.StatusReady}
	f.agents[id] = a
	f.spawned = append(f.spawned, id)
	return a, nil
}

func (f *fakeRunner) Send(_ context.Context, id, message string) (string, error) {
	return "done.", nil
}

func (f *fakeRunner) Get(id string) (*puppet.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, errors.NewAgentError("unknown agent", errors.ErrAgentNotFound)
	}
	return a, nil
}

func (f *fakeRunner) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeRunner) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.agents, id)
	f.removed = append(f.removed, id)
}

// blockingRunner holds every Send until its context is cancelled.
type blockingRunner struct {
	*fakeRunner
	inFlight  chan struct{}
	cancelled chan struct{}
}

func (b *blockingRunner) Send(ctx context.Context, id, message string) (string, error) {
	b.inFlight <- struct{}{}
	<-ctx.Done()
	select {
	case b.cancelled <- struct{}{}:
	default:
	}
	return "", ctx.Err()
}

// fakeProbe serves scripted git observations per worktree path.
type fakeProbe struct {
	mu       sync.Mutex
	dirty    map[string]bool
	commits  map[string]int
	lastUnix map[string]int64
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		dirty:    make(map[string]bool),
		commits:  make(map[string]int),
		lastUnix: make(map[string]int64),
	}
}

func (f *fakeProbe) HasUncommittedChanges(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty[path], nil
}

func (f *fakeProbe) CountCommitsBetween(path, base, head string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[path], nil
}

func (f *fakeProbe) LastCommitUnix(path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUnix[path], nil
}

func newTestOrchestrator(iso *fakeIsolation, runner *fakeRunner, probe *fakeProbe) *Orchestrator {
	cfg := config.Default().Team
	return New(cfg, "main", iso, runner, probe, workflow.NewRegistry(), event.NewBus(), nil)
}

func TestSelectRoles(t *testing.T) {
	tests := []struct {
		requirement string
		want        []workflow.Role
	}{
		{
			"Build a full-stack dashboard with authentication and a database",
			[]workflow.Role{workflow.RoleFrontend, workflow.RoleBackend},
		},
		{
			"Add tests for the login flow",
			[]workflow.Role{workflow.RoleFrontend, workflow.RoleBackend, workflow.RoleTesting},
		},
		{
			"Restyle the settings page with the new design and document it in the readme",
			[]workflow.Role{workflow.RoleFrontend, workflow.RoleBackend, workflow.RoleStyling, workflow.RoleDocs},
		},
		{
			// "latest" must not trigger the testing role.
			"Upgrade to the latest framework version",
			[]workflow.Role{workflow.RoleFrontend, workflow.RoleBackend},
		},
	}
	for _, tt := range tests {
		t.Run(tt.requirement[:20], func(t *testing.T) {
			got := SelectRoles(tt.requirement)
			if len(got) != len(tt.want) {
				t.Fatalf("roles = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("roles = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestSpawnParallelTeam(t *testing.T) {
	iso := &fakeIsolation{}
	runner := newFakeRunner()
	o := newTestOrchestrator(iso, runner, newFakeProbe())

	team, err := o.SpawnParallelTeam(context.Background(), "Build a full-stack dashboard with authentication and a database")
	if err != nil {
		t.Fatalf("SpawnParallelTeam() error = %v", err)
	}
	defer o.StopTeam(team.ID)

	if len(team.Agents) != 2 {
		t.Fatalf("agents = %d, want 2 (base roles only)", len(team.Agents))
	}
	if team.WorkflowID != "full-stack-feature" {
		t.Errorf("workflow = %q", team.WorkflowID)
	}
	if team.Status != TeamReady && team.Status != TeamWorking {
		t.Errorf("status = %q just after spawn", team.Status)
	}
	for _, a := range team.Agents {
		if !strings.HasPrefix(a.Branch, "squadron/"+team.ID+"/") {
			t.Errorf("agent branch = %q", a.Branch)
		}
	}
	if len(runner.spawned) != 2 {
		t.Errorf("spawned agents = %v", runner.spawned)
	}
}

func TestSpawnRollbackOnMidFailure(t *testing.T) {
	// Four roles; the third (testing) fails to create.
	iso := &fakeIsolation{failRole: "styling"}
	runner := newFakeRunner()
	o := newTestOrchestrator(iso, runner, newFakeProbe())

	_, err := o.SpawnParallelTeam(context.Background(),
		"Add tests and restyle the css theme for the dashboard")
	if err == nil {
		t.Fatal("SpawnParallelTeam() error = nil, want rollback failure")
	}

	var teamErr *errors.TeamError
	if !errors.As(err, &teamErr) {
		t.Fatalf("error type = %T", err)
	}
	if teamErr.Role != "styling" {
		t.Errorf("error names role %q, want styling", teamErr.Role)
	}

	// Everything created before the failure is rolled back.
	iso.mu.Lock()
	created, torn := len(iso.created), len(iso.tornDown)
	iso.mu.Unlock()
	if torn != created {
		t.Errorf("tore down %d of %d created worktrees", torn, created)
	}
	runner.mu.Lock()
	if len(runner.agents) != 0 {
		t.Errorf("agents left registered: %v", runner.spawned)
	}
	runner.mu.Unlock()
	if len(o.Teams()) != 0 {
		t.Error("failed team still registered")
	}
}

func TestSpawnPreflightRejections(t *testing.T) {
	iso := &fakeIsolation{}
	o := newTestOrchestrator(iso, newFakeRunner(), newFakeProbe())

	if _, err := o.SpawnParallelTeam(context.Background(), "  "); err == nil {
		t.Error("empty requirement accepted")
	}
	long := strings.Repeat("x", 1001)
	if _, err := o.SpawnParallelTeam(context.Background(), long); err == nil {
		t.Error("overlong requirement accepted")
	}

	o.EmergencyStop("drill")
	if _, err := o.SpawnParallelTeam(context.Background(), "build something"); !errors.Is(err, errors.ErrEmergencyStop) {
		t.Errorf("spawn during emergency stop error = %v", err)
	}
	o.ResetEmergencyStop()

	iso.repoInvalid = true
	if _, err := o.SpawnParallelTeam(context.Background(), "build something"); !errors.Is(err, errors.ErrNotGitRepository) {
		t.Errorf("spawn without repo error = %v", err)
	}
}

func TestSpawnTeamCeiling(t *testing.T) {
	cfg := config.Default().Team
	cfg.MaxConcurrent = 1
	o := New(cfg, "main", &fakeIsolation{}, newFakeRunner(), newFakeProbe(), workflow.NewRegistry(), nil, nil)

	team, err := o.SpawnParallelTeam(context.Background(), "build the first thing")
	if err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	defer o.StopTeam(team.ID)

	if _, err := o.SpawnParallelTeam(context.Background(), "build the second thing"); !errors.Is(err, errors.ErrTeamLimitReached) {
		t.Errorf("second spawn error = %v, want ErrTeamLimitReached", err)
	}
}

func TestSpawnTeamCeilingConcurrent(t *testing.T) {
	iso := &fakeIsolation{
		validateArrived: make(chan struct{}, 2),
		validateGate:    make(chan struct{}),
	}
	cfg := config.Default().Team
	cfg.MaxConcurrent = 1
	o := New(cfg, "main", iso, newFakeRunner(), newFakeProbe(), workflow.NewRegistry(), nil, nil)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := o.SpawnParallelTeam(context.Background(), "build the thing")
			results <- err
		}()
	}
	// Hold both spawns inside the unlocked validation window so each
	// has already passed the preflight ceiling check, then let them
	// race to register.
	<-iso.validateArrived
	<-iso.validateArrived
	close(iso.validateGate)

	rejected := 0
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			if !errors.Is(err, errors.ErrTeamLimitReached) {
				t.Errorf("spawn error = %v, want ErrTeamLimitReached", err)
			}
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("rejected %d of 2 concurrent spawns, want exactly 1", rejected)
	}
	if got := len(o.Teams()); got != 1 {
		t.Errorf("registered teams = %d, want 1", got)
	}
	for _, tm := range o.Teams() {
		_ = o.StopTeam(tm.ID)
	}
}

func TestSpawnRollbackRemovesEmptyTeamRoot(t *testing.T) {
	// The very first worktree fails, after the isolator has already
	// created the team root directory.
	iso := &fakeIsolation{failRole: "frontend", rootBase: t.TempDir()}
	o := newTestOrchestrator(iso, newFakeRunner(), newFakeProbe())

	if _, err := o.SpawnParallelTeam(context.Background(), "build something"); err == nil {
		t.Fatal("SpawnParallelTeam() error = nil, want first-role failure")
	}

	entries, err := os.ReadDir(iso.rootBase)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty team root left behind: %v", entries)
	}
}

func TestCompletionCancelsRunContext(t *testing.T) {
	runner := &blockingRunner{
		fakeRunner: newFakeRunner(),
		inFlight:   make(chan struct{}, 8),
		cancelled:  make(chan struct{}, 1),
	}
	o := New(config.Default().Team, "main", &fakeIsolation{}, runner, newFakeProbe(),
		workflow.NewRegistry(), event.NewBus(), nil)

	team, err := o.SpawnParallelTeam(context.Background(), "build something")
	if err != nil {
		t.Fatalf("SpawnParallelTeam() error = %v", err)
	}

	// An agent call is on the wire when the idle heuristic finishes
	// the team.
	select {
	case <-runner.inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("no agent call started")
	}

	o.mergeAndComplete(team.ID)

	select {
	case <-runner.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight agent call kept running after completion")
	}
	got, err := o.Team(team.ID)
	if err != nil {
		t.Fatalf("Team() error = %v", err)
	}
	if got.Status != TeamCompleted {
		t.Errorf("team status = %q, want completed", got.Status)
	}
}

func TestStopTeamIdempotent(t *testing.T) {
	o := newTestOrchestrator(&fakeIsolation{}, newFakeRunner(), newFakeProbe())
	team, err := o.SpawnParallelTeam(context.Background(), "build a widget")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := o.StopTeam(team.ID); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	got, _ := o.Team(team.ID)
	if got.Status != TeamStopped {
		t.Errorf("status = %q, want stopped", got.Status)
	}
	if err := o.StopTeam(team.ID); err != nil {
		t.Errorf("second stop error = %v, want nil no-op", err)
	}
	if err := o.StopTeam("missing"); !errors.Is(err, errors.ErrTeamNotFound) {
		t.Errorf("stop unknown team error = %v", err)
	}
}

func TestProgressInference(t *testing.T) {
	iso := &fakeIsolation{}
	runner := newFakeRunner()
	probe := newFakeProbe()
	o := newTestOrchestrator(iso, runner, probe)

	team, err := o.SpawnParallelTeam(context.Background(), "build a widget")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer o.StopTeam(team.ID)

	fe := team.Agents[0]

	// Dirty tree only: working at the floor estimate.
	probe.mu.Lock()
	probe.dirty[fe.WorktreePath] = true
	probe.mu.Unlock()
	o.pollProgress(team.ID)
	got, _ := o.Team(team.ID)
	if got.Agents[0].Status != AgentWorking || got.Agents[0].Progress != 10 {
		t.Errorf("after dirty: status=%q progress=%d", got.Agents[0].Status, got.Agents[0].Progress)
	}

	// Three commits, newest recent: still working, 10+3*15.
	probe.mu.Lock()
	probe.commits[fe.WorktreePath] = 3
	probe.lastUnix[fe.WorktreePath] = time.Now().Unix()
	probe.mu.Unlock()
	o.pollProgress(team.ID)
	got, _ = o.Team(team.ID)
	if got.Agents[0].Progress != 55 {
		t.Errorf("progress = %d, want 55", got.Agents[0].Progress)
	}

	// Newest commit two minutes old: inferred idle, completed.
	probe.mu.Lock()
	probe.lastUnix[fe.WorktreePath] = time.Now().Add(-2 * time.Minute).Unix()
	probe.mu.Unlock()
	o.pollProgress(team.ID)
	got, _ = o.Team(team.ID)
	if got.Agents[0].Status != AgentCompleted || got.Agents[0].Progress != 100 {
		t.Errorf("after idle: status=%q progress=%d", got.Agents[0].Status, got.Agents[0].Progress)
	}
}

func TestProgressEstimateCeiling(t *testing.T) {
	if got := progressEstimate(1); got != 25 {
		t.Errorf("progressEstimate(1) = %d", got)
	}
	if got := progressEstimate(50); got != 90 {
		t.Errorf("progressEstimate(50) = %d, want ceiling 90", got)
	}
}

func TestProgressBands(t *testing.T) {
	p := progressBands(50)
	if p.Planning != 100 {
		t.Errorf("planning = %d at overall 50", p.Planning)
	}
	if p.Development <= 0 || p.Development >= 100 {
		t.Errorf("development = %d at overall 50", p.Development)
	}
	if p.Testing != 0 || p.Deployment != 0 {
		t.Errorf("testing=%d deployment=%d at overall 50", p.Testing, p.Deployment)
	}
	if full := progressBands(100); full.Deployment != 100 {
		t.Errorf("deployment = %d at overall 100", full.Deployment)
	}
}

func TestMergeZeroCompletedStillCompletes(t *testing.T) {
	iso := &fakeIsolation{}
	runner := newFakeRunner()
	o := newTestOrchestrator(iso, runner, newFakeProbe())

	team, err := o.SpawnParallelTeam(context.Background(), "build a widget")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	// Drive to the merge directly with no agent completed.
	o.transition(team.ID, TeamWorking)
	o.mergeAndComplete(team.ID)

	got, _ := o.Team(team.ID)
	if got.Status != TeamCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	iso.mu.Lock()
	defer iso.mu.Unlock()
	if len(iso.mergeCalls) != 1 {
		t.Fatalf("merge calls = %d", len(iso.mergeCalls))
	}
	for _, c := range iso.mergeCalls[0] {
		if c.Completed {
			t.Errorf("candidate %s marked completed", c.Branch)
		}
	}
}

func TestMergeOneBranchPerRole(t *testing.T) {
	iso := &fakeIsolation{}
	runner := newFakeRunner()
	probe := newFakeProbe()
	o := newTestOrchestrator(iso, runner, probe)

	team, err := o.SpawnParallelTeam(context.Background(), "build a widget")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	for _, a := range team.Agents {
		probe.mu.Lock()
		probe.commits[a.WorktreePath] = 2
		probe.lastUnix[a.WorktreePath] = time.Now().Add(-5 * time.Minute).Unix()
		probe.mu.Unlock()
	}
	o.pollProgress(team.ID)
	o.transition(team.ID, TeamWorking)
	o.mergeAndComplete(team.ID)

	iso.mu.Lock()
	defer iso.mu.Unlock()
	if len(iso.mergeCalls) != 1 {
		t.Fatalf("merge calls = %d", len(iso.mergeCalls))
	}
	seen := make(map[string]int)
	for _, c := range iso.mergeCalls[0] {
		seen[c.Role]++
	}
	for role, n := range seen {
		if n != 1 {
			t.Errorf("role %s offered %d branches to merge", role, n)
		}
	}
}

func TestEmergencyStopHaltsEverything(t *testing.T) {
	iso := &fakeIsolation{}
	runner := newFakeRunner()
	o := newTestOrchestrator(iso, runner, newFakeProbe())

	var stops []event.Event
	o.bus.Subscribe("emergency.stop", func(e event.Event) {
		stops = append(stops, e)
	})

	team, err := o.SpawnParallelTeam(context.Background(), "build a widget")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	o.EmergencyStop("operator panic button")

	got, _ := o.Team(team.ID)
	if got.Status != TeamStopped {
		t.Errorf("team status = %q after emergency stop", got.Status)
	}
	if !o.EmergencyStopped() {
		t.Error("EmergencyStopped() = false")
	}
	if len(stops) != 1 {
		t.Errorf("emergency events = %d", len(stops))
	}

	health := o.ServiceHealth()
	if health.Status != "emergency-stopped" || !health.EmergencyStop {
		t.Errorf("health = %+v", health)
	}

	o.ResetEmergencyStop()
	if o.ServiceHealth().Status != "ok" {
		t.Error("health not ok after reset")
	}
}

func TestServiceHealth(t *testing.T) {
	o := newTestOrchestrator(&fakeIsolation{}, newFakeRunner(), newFakeProbe())
	h := o.ServiceHealth()
	if h.Status != "ok" || h.Teams != 0 || h.MaxTeams != 3 || h.Processes != 0 {
		t.Errorf("health = %+v", h)
	}

	team, err := o.SpawnParallelTeam(context.Background(), "build a widget")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer o.StopTeam(team.ID)

	h = o.ServiceHealth()
	if h.Teams != 1 || h.Processes != 2 {
		t.Errorf("health = %+v", h)
	}
	if h.Uptime <= 0 {
		t.Errorf("uptime = %v", h.Uptime)
	}
}

func TestStateMachine(t *testing.T) {
	tests := []struct {
		from, to TeamStatus
		ok       bool
	}{
		{TeamSpawning, TeamReady, true},
		{TeamReady, TeamWorking, true},
		{TeamWorking, TeamMerging, true},
		{TeamMerging, TeamCompleted, true},
		{TeamSpawning, TeamCompleted, false},
		{TeamReady, TeamMerging, false},
		{TeamWorking, TeamStopped, true},
		{TeamSpawning, TeamError, true},
		{TeamCompleted, TeamWorking, false},
		{TeamStopped, TeamError, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := validTransition(tt.from, tt.to); got != tt.ok {
				t.Errorf("validTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}
