package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/event"
)

var startCmd = &cobra.Command{
	Use:   "start <requirement>",
	Short: "Spawn a team for a requirement and run it to completion",
	Long: `Spawn a team of coding agents for the given requirement. Each agent
works in its own git worktree; completed branches are merged back to
the base branch when the team finishes. Progress is printed as it
happens. Ctrl-C stops the team and tears down its worktrees.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	requirement := strings.Join(args, " ")

	done := make(chan string, 1)
	a.bus.SubscribeAll(func(e event.Event) {
		printEvent(cmd, e)
		switch ev := e.(type) {
		case event.TeamCompletedEvent:
			done <- ev.TeamID
		case event.TeamStoppedEvent:
			done <- ev.TeamID
		}
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if a.health != nil {
		go a.health.Run(ctx)
	}
	go a.hub.Run(ctx)

	team, err := a.orch.SpawnParallelTeam(ctx, requirement)
	if err != nil {
		return fmt.Errorf("failed to spawn team: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case <-sig:
			fmt.Fprintln(cmd.OutOrStdout(), "stopping team...")
			if err := a.orch.StopTeam(team.ID); err != nil {
				return err
			}
		case id := <-done:
			if id != team.ID {
				continue
			}
			final, err := a.orch.Team(team.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "team %s finished with status %s\n", team.ID, final.Status)
			return nil
		}
	}
}

func printEvent(cmd *cobra.Command, e event.Event) {
	out := cmd.OutOrStdout()
	switch ev := e.(type) {
	case event.TeamSpawnedEvent:
		fmt.Fprintf(out, "[%s] team %s spawned: %s\n",
			stamp(ev), ev.TeamID, strings.Join(ev.Roles, ", "))
	case event.TeamExecutionStartedEvent:
		fmt.Fprintf(out, "[%s] team %s working\n", stamp(ev), ev.TeamID)
	case event.AgentProgressEvent:
		fmt.Fprintf(out, "[%s] %s (%s) %d%% %s\n",
			stamp(ev), ev.AgentID, ev.Status, ev.Progress, ev.CurrentTask)
	case event.TeamCompletedEvent:
		fmt.Fprintf(out, "[%s] team %s completed: %d files in %s\n",
			stamp(ev), ev.TeamID, ev.TotalFiles, ev.Duration.Round(time.Second))
	case event.TeamStoppedEvent:
		fmt.Fprintf(out, "[%s] team %s stopped: %s\n", stamp(ev), ev.TeamID, ev.Reason)
	case event.EmergencyStopEvent:
		fmt.Fprintf(out, "[%s] EMERGENCY STOP: %s\n", stamp(ev), ev.Reason)
	}
}

func stamp(e event.Event) string {
	return e.Timestamp().Format("15:04:05")
}
