package orchestrator

import (
	"context"
	"time"

	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/puppet"
	"github.com/squadron-dev/squadron/internal/workflow"
	"github.com/squadron-dev/squadron/internal/worktree"
)

// inferredIdleAge is how old an agent's newest commit must be before
// commits-plus-silence counts as the agent having finished. The agent
// process is opaque, so a branch whose author has stopped writing is
// the closest available completion signal.
const inferredIdleAge = time.Minute

// run drives one team from working to a terminal state. It is the only
// goroutine that mutates the team after spawn, which keeps the
// registry single-writer.
func (o *Orchestrator) run(ctx context.Context, teamID string) {
	e := o.entry(teamID)
	if e == nil {
		return
	}
	log := o.log.WithTeam(teamID)

	o.transition(teamID, TeamWorking)
	if o.bus != nil {
		o.bus.Publish(event.NewTeamExecutionStartedEvent(teamID))
	}

	workflowDone := make(chan error, 1)
	go func() { workflowDone <- o.executeWorkflow(ctx, teamID) }()

	poll := time.NewTicker(o.cfg.ProgressPoll())
	defer poll.Stop()
	wallClock := time.NewTimer(o.cfg.Timeout())
	defer wallClock.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-workflowDone:
			workflowDone = nil
			if err != nil && ctx.Err() == nil {
				log.Error("workflow failed", "error", err)
				o.failTeam(teamID)
				return
			}
			log.Info("workflow finished, waiting for agents to settle")

		case <-wallClock.C:
			log.Warn("team wall clock expired", "timeout", o.cfg.Timeout().String())
			_ = o.StopTeam(teamID)
			return

		case <-poll.C:
			if o.pollProgress(teamID) {
				o.mergeAndComplete(teamID)
				return
			}
		}
	}
}

// executeWorkflow runs the team's matched template against its agents.
func (o *Orchestrator) executeWorkflow(ctx context.Context, teamID string) error {
	team, err := o.Team(teamID)
	if err != nil {
		return err
	}
	tmpl, ok := o.registry.Find(team.WorkflowID)
	if !ok {
		// Matching always yields a known template; guard anyway.
		tmpl = o.registry.Templates()[0]
	}

	assignment := workflow.Assignment{}
	for _, a := range team.Agents {
		assignment[a.Role] = append(assignment[a.Role], a.ID)
	}
	_, err = o.executor.Execute(ctx, tmpl, team.Requirement, assignment)
	return err
}

// pollProgress inspects every agent's git state and updates the team.
// Returns true once all agents are in a terminal agent state with at
// least one completed pass possible (all completed or failed).
func (o *Orchestrator) pollProgress(teamID string) bool {
	team, err := o.Team(teamID)
	if err != nil {
		return false
	}

	type observation struct {
		id       string
		status   AgentStatus
		progress int
		task     string
	}
	var observed []observation

	for _, a := range team.Agents {
		if a.Status == AgentError || a.Status == AgentStopped || a.Status == AgentCompleted {
			continue
		}

		dirty, _ := o.probe.HasUncommittedChanges(a.WorktreePath)
		commits, _ := o.probe.CountCommitsBetween(a.WorktreePath, team.BaseBranch, a.Branch)
		lastCommit, _ := o.probe.LastCommitUnix(a.WorktreePath)

		ob := observation{id: a.ID, status: a.Status, progress: a.Progress, task: a.CurrentTask}
		if dirty || commits > 0 {
			ob.status = AgentWorking
			ob.progress = progressEstimate(commits)
		}
		if commits > 0 && lastCommit > 0 && o.now().Unix()-lastCommit >= int64(inferredIdleAge.Seconds()) {
			ob.status = AgentCompleted
			ob.progress = 100
		}
		if pa, err := o.runner.Get(a.ID); err == nil && len(pa.History) > 0 {
			ob.task = lastUserTask(pa.History)
		}
		observed = append(observed, ob)
	}

	o.mu.Lock()
	e, ok := o.teams[teamID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	byID := make(map[string]*Agent, len(e.team.Agents))
	for _, a := range e.team.Agents {
		byID[a.ID] = a
	}
	for _, ob := range observed {
		if a := byID[ob.id]; a != nil {
			a.Status = ob.status
			a.Progress = ob.progress
			a.CurrentTask = ob.task
		}
	}
	allDone := true
	total := 0
	for _, a := range e.team.Agents {
		total += a.Progress
		if a.Status != AgentCompleted {
			allDone = false
		}
	}
	if n := len(e.team.Agents); n > 0 {
		e.team.Progress = progressBands(total / n)
	}
	agents := snapshotTeam(e.team).Agents
	o.mu.Unlock()

	if o.bus != nil {
		for _, a := range agents {
			o.bus.Publish(event.NewAgentProgressEvent(
				teamID, a.ID, a.Role.String(), a.Progress, a.CurrentTask, string(a.Status)))
		}
	}
	return allDone
}

// progressEstimate maps branch commit count to a conservative percent.
// The ceiling stays below 100 because only the idle heuristic may call
// an agent finished.
func progressEstimate(commits int) int {
	p := 10 + commits*15
	if p > 90 {
		return 90
	}
	return p
}

// progressBands splits the overall score into fixed phase ranges:
// planning 0-25, development 25-60, testing 60-85, deployment 85-100.
func progressBands(overall int) Progress {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v > 100 {
			return 100
		}
		return v
	}
	return Progress{
		Overall:     clamp(overall),
		Planning:    clamp(overall * 100 / 25),
		Development: clamp((overall - 25) * 100 / 35),
		Testing:     clamp((overall - 60) * 100 / 25),
		Deployment:  clamp((overall - 85) * 100 / 15),
	}
}

func lastUserTask(history []puppet.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return firstLine(history[i].Content)
		}
	}
	return ""
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// mergeAndComplete merges every completed agent's branch back to base
// and finishes the team. Zero completed agents still completes the
// team with zero merges.
func (o *Orchestrator) mergeAndComplete(teamID string) {
	team, err := o.Team(teamID)
	if err != nil {
		return
	}
	log := o.log.WithTeam(teamID)

	// No agent call may outlive the worktrees it runs in.
	o.cancelRun(teamID)
	o.transition(teamID, TeamMerging)

	candidates := make([]worktree.MergeCandidate, 0, len(team.Agents))
	for _, a := range team.Agents {
		candidates = append(candidates, worktree.MergeCandidate{
			Role:      a.Role.String(),
			Branch:    a.Branch,
			Completed: a.Status == AgentCompleted,
		})
	}

	report, err := o.isolation.MergeTeamWork(team.BaseBranch, candidates)
	if err != nil {
		log.Error("merge-back failed", "error", err)
		o.failTeam(teamID)
		return
	}
	log.Info("merge-back finished",
		"merged", len(report.Merged), "skipped", len(report.Skipped), "failed", len(report.Failed))

	totalFiles := 0
	for _, a := range team.Agents {
		if pa, err := o.runner.Get(a.ID); err == nil {
			totalFiles += len(pa.CreatedFiles)
		}
		_ = o.runner.Stop(a.ID)
		o.runner.Remove(a.ID)
	}

	e := o.entry(teamID)
	if e != nil {
		if err := o.isolation.Teardown(team.WorktreeRoot, e.worktrees); err != nil {
			log.Warn("teardown after merge incomplete", "error", err)
		}
	}

	o.transition(teamID, TeamCompleted)
	if o.bus != nil {
		duration := o.now().Sub(team.StartedAt)
		o.bus.Publish(event.NewTeamCompletedEvent(teamID, totalFiles, duration))
	}
}

// failTeam marks the team errored and stops its agents. Worktrees are
// left in place for inspection.
func (o *Orchestrator) failTeam(teamID string) {
	team, err := o.Team(teamID)
	if err != nil {
		return
	}
	o.cancelRun(teamID)
	for _, a := range team.Agents {
		_ = o.runner.Stop(a.ID)
	}
	o.mu.Lock()
	if e, ok := o.teams[teamID]; ok {
		for _, a := range e.team.Agents {
			if a.Status != AgentCompleted {
				a.Status = AgentError
			}
		}
	}
	o.mu.Unlock()
	o.transition(teamID, TeamError)
}
