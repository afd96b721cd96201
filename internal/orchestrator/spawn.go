package orchestrator

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/workflow"
	"github.com/squadron-dev/squadron/internal/worktree"
)

// baseRoles staff every team; the rest join only when the requirement
// asks for their specialty.
var baseRoles = []workflow.Role{workflow.RoleFrontend, workflow.RoleBackend}

// extraRoleTokens trigger optional roles on exact token match, so
// "test" inside "latest" does not staff a testing agent.
var extraRoleTokens = map[workflow.Role][]string{
	workflow.RoleTesting: {"test", "tests", "testing", "coverage", "regression"},
	workflow.RoleStyling: {"style", "styling", "css", "theme", "design"},
	workflow.RoleDocs:    {"docs", "documentation", "readme", "changelog"},
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// SelectRoles maps a requirement to the team's role list.
func SelectRoles(requirement string) []workflow.Role {
	tokens := make(map[string]bool)
	for _, t := range wordRe.FindAllString(strings.ToLower(requirement), -1) {
		tokens[t] = true
	}

	roles := append([]workflow.Role(nil), baseRoles...)
	for _, role := range []workflow.Role{workflow.RoleTesting, workflow.RoleStyling, workflow.RoleDocs} {
		for _, kw := range extraRoleTokens[role] {
			if tokens[kw] {
				roles = append(roles, role)
				break
			}
		}
	}
	return roles
}

// SpawnParallelTeam creates a team for the requirement: preflight,
// role selection, one worktree and one agent per role, then async
// execution. Resources created before a mid-spawn failure are rolled
// back in reverse order and the error names the failing role.
func (o *Orchestrator) SpawnParallelTeam(ctx context.Context, requirement string) (*Team, error) {
	o.mu.Lock()
	if o.emergencyStop {
		reason := o.emergencyReason
		o.mu.Unlock()
		return nil, errors.NewTeamError(
			fmt.Sprintf("new teams blocked: %s", reason), errors.ErrEmergencyStop)
	}
	if o.activeTeams() >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		return nil, errors.NewTeamError(
			fmt.Sprintf("already running %d teams", o.cfg.MaxConcurrent),
			errors.ErrTeamLimitReached)
	}
	o.mu.Unlock()

	trimmed := strings.TrimSpace(requirement)
	if len(trimmed) == 0 {
		return nil, errors.NewValidationError("requirement", "must not be empty")
	}
	if len(trimmed) > o.cfg.MaxRequirementLength {
		return nil, errors.NewValidationError("requirement",
			fmt.Sprintf("longer than %d characters", o.cfg.MaxRequirementLength))
	}

	warnings, err := o.isolation.ValidateRepoState()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		o.log.Warn("repository preflight", "warning", w)
	}

	teamID := uuid.NewString()[:8]
	log := o.log.WithTeam(teamID)
	roles := SelectRoles(trimmed)
	match := o.registry.AnalyzeRequirement(trimmed)

	team := &Team{
		ID:          teamID,
		Requirement: trimmed,
		WorkflowID:  match.Template.Name,
		BaseBranch:  o.baseBr,
		Status:      TeamSpawning,
		CreatedAt:   o.now(),
	}
	team.WorktreeRoot = o.isolation.TeamRoot(teamID, team.CreatedAt)

	// Register before creating anything so status queries see the team
	// while it is still spawning. Validation above runs unlocked, so
	// the emergency flag and the ceiling are re-checked under the same
	// lock acquisition that inserts the team.
	e := &teamEntry{team: team}
	o.mu.Lock()
	if o.emergencyStop {
		reason := o.emergencyReason
		o.mu.Unlock()
		return nil, errors.NewTeamError(
			fmt.Sprintf("new teams blocked: %s", reason), errors.ErrEmergencyStop)
	}
	if o.activeTeams() >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		return nil, errors.NewTeamError(
			fmt.Sprintf("already running %d teams", o.cfg.MaxConcurrent),
			errors.ErrTeamLimitReached)
	}
	o.teams[teamID] = e
	o.mu.Unlock()

	// Every acquired resource pushes an undo; on failure they run in
	// reverse acquisition order.
	var undo []func()
	rollback := func(failedRole workflow.Role, cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		o.mu.Lock()
		delete(o.teams, teamID)
		o.mu.Unlock()
		log.Error("team spawn rolled back", "failed_role", failedRole.String(), "error", cause)
		return errors.NewTeamError("team spawn failed", cause).
			WithTeam(teamID).
			WithRole(failedRole.String())
	}

	// The isolator creates the team root with the first worktree. When
	// that first creation fails there is no worktree undo yet, so the
	// root itself needs an entry; os.Remove only takes it when empty.
	undo = append(undo, func() { _ = os.Remove(team.WorktreeRoot) })

	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		wt, err := o.isolation.CreateAgentWorktree(team.WorktreeRoot, teamID, role.String())
		if err != nil {
			return nil, rollback(role, err)
		}
		e.worktrees = append(e.worktrees, *wt)
		wtCopy := *wt
		undo = append(undo, func() {
			_ = o.isolation.Teardown(team.WorktreeRoot, []worktree.AgentWorktree{wtCopy})
		})

		agentID := fmt.Sprintf("%s-%s", teamID, role.String())
		if _, err := o.runner.SpawnAgent(agentID, role.String(), agentContext(trimmed, role), wt.Path); err != nil {
			return nil, rollback(role, err)
		}
		undo = append(undo, func() { o.runner.Remove(agentID) })

		team.Agents = append(team.Agents, &Agent{
			ID:           agentID,
			Role:         role,
			Branch:       wt.Branch,
			WorktreePath: wt.Path,
			Status:       AgentReady,
		})
		roleNames = append(roleNames, role.String())
	}

	o.transition(teamID, TeamReady)
	if o.bus != nil {
		o.bus.Publish(event.NewTeamSpawnedEvent(teamID, trimmed, roleNames))
	}
	log.Info("team spawned", "roles", strings.Join(roleNames, ","), "workflow", match.Template.Name)

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	e.cancel = cancel
	o.mu.Unlock()
	go o.run(runCtx, teamID)

	return o.Team(teamID)
}

func agentContext(requirement string, role workflow.Role) string {
	return fmt.Sprintf("%s\n\nTeam requirement: %s\nCommit your work with git as you complete it.",
		role.Persona(), requirement)
}
