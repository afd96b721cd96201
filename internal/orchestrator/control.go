package orchestrator

import (
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/event"
)

// StopTeam halts a team: execution cancelled, agents stopped and
// removed, worktrees torn down. Stopping a team that already reached a
// terminal state is a no-op.
func (o *Orchestrator) StopTeam(teamID string) error {
	o.mu.Lock()
	e, ok := o.teams[teamID]
	if !ok {
		o.mu.Unlock()
		return errors.NewTeamError("unknown team", errors.ErrTeamNotFound).WithTeam(teamID)
	}
	if e.team.Status.terminal() {
		o.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	team, err := o.Team(teamID)
	if err != nil {
		return err
	}
	for _, a := range team.Agents {
		_ = o.runner.Stop(a.ID)
		o.runner.Remove(a.ID)
	}
	if err := o.isolation.Teardown(team.WorktreeRoot, e.worktrees); err != nil {
		o.log.WithTeam(teamID).Warn("teardown incomplete", "error", err)
	}

	o.mu.Lock()
	for _, a := range e.team.Agents {
		if a.Status != AgentCompleted {
			a.Status = AgentStopped
		}
	}
	o.mu.Unlock()

	o.transition(teamID, TeamStopped)
	if o.bus != nil {
		o.bus.Publish(event.NewTeamStoppedEvent(teamID, "stopped by operator"))
	}
	o.log.WithTeam(teamID).Info("team stopped")
	return nil
}

// EmergencyStop halts everything: every team is stopped and new team
// creation is blocked until ResetEmergencyStop.
func (o *Orchestrator) EmergencyStop(reason string) {
	o.mu.Lock()
	o.emergencyStop = true
	o.emergencyReason = reason
	ids := make([]string, 0, len(o.teams))
	for id, e := range o.teams {
		if !e.team.Status.terminal() {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	o.log.Warn("emergency stop", "reason", reason, "teams", len(ids))
	if o.bus != nil {
		o.bus.Publish(event.NewEmergencyStopEvent(reason))
	}
	for _, id := range ids {
		if err := o.StopTeam(id); err != nil {
			o.log.WithTeam(id).Error("emergency stop of team failed", "error", err)
		}
	}
}

// EmergencyStopped reports whether new work is blocked.
func (o *Orchestrator) EmergencyStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergencyStop
}

// ResetEmergencyStop re-enables team creation.
func (o *Orchestrator) ResetEmergencyStop() {
	o.mu.Lock()
	o.emergencyStop = false
	o.emergencyReason = ""
	o.mu.Unlock()
	o.log.Info("emergency stop reset")
}

// Health is the service-level status snapshot.
type Health struct {
	Status        string
	Teams         int
	MaxTeams      int
	EmergencyStop bool
	Processes     int
	Uptime        time.Duration
}

// ServiceHealth reports orchestrator-wide state.
func (o *Orchestrator) ServiceHealth() Health {
	o.mu.Lock()
	defer o.mu.Unlock()

	processes := 0
	for _, e := range o.teams {
		if e.team.Status.terminal() {
			continue
		}
		processes += len(e.team.Agents)
	}

	status := "ok"
	if o.emergencyStop {
		status = "emergency-stopped"
	}
	return Health{
		Status:        status,
		Teams:         o.activeTeams(),
		MaxTeams:      o.cfg.MaxConcurrent,
		EmergencyStop: o.emergencyStop,
		Processes:     processes,
		Uptime:        time.Since(o.startedAt),
	}
}
