package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <requirement>",
	Short: "Spawn a team and watch its agents live",
	Long: `Spawn a team for the given requirement and open the live viewer: one
tab per agent showing its terminal output as it streams, with progress
in the tab bar. Quitting the viewer while the team is running stops
the team and tears down its worktrees.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	requirement := strings.Join(args, " ")

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

	tabs := make([]tui.AgentTab, 0, len(team.Agents))
	for _, agent := range team.Agents {
		tabs = append(tabs, tui.AgentTab{ID: agent.ID, Role: agent.Role.String()})
	}

	viewer := tui.New(a.hub, a.bus, team.ID, tabs, func() {
		_ = a.orch.StopTeam(team.ID)
	})
	if err := viewer.Run(); err != nil {
		return fmt.Errorf("viewer error: %w", err)
	}

	final, err := a.orch.Team(team.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "team %s finished with status %s\n", team.ID, final.Status)
	return nil
}
