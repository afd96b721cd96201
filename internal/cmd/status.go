package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/tmux"
	"github.com/squadron-dev/squadron/internal/worktree"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository and sandbox state",
	Long: `Display the squadron-related state of the current repository: agent
worktrees left by running or crashed teams, and live sandbox tmux
sessions.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	out := cmd.OutOrStdout()

	git := worktree.NewGit(cwd)
	if !git.IsRepository() {
		fmt.Fprintln(out, "Not a git repository")
		return nil
	}

	branch, _ := git.CurrentBranch(cwd)
	dirty, _ := git.HasUncommittedChanges(cwd)
	fmt.Fprintf(out, "Repository: %s\n", cwd)
	fmt.Fprintf(out, "Branch: %s\n", branch)
	if dirty {
		fmt.Fprintln(out, "Working tree: dirty")
	} else {
		fmt.Fprintln(out, "Working tree: clean")
	}

	teams := teamWorktrees(git, cwd)
	fmt.Fprintf(out, "\nAgent worktrees: %d\n", countWorktrees(teams))
	for teamID, wts := range teams {
		fmt.Fprintf(out, "  team %s\n", teamID)
		for _, wt := range wts {
			fmt.Fprintf(out, "    %s (%s)\n", wt.Role, wt.Branch)
		}
	}

	sockets, err := tmux.ListSquadronSockets()
	if err == nil {
		fmt.Fprintf(out, "\nSandbox sessions: %d\n", len(sockets))
		for _, s := range sockets {
			if tmux.IsSandboxSocket(s) {
				fmt.Fprintf(out, "  %s\n", tmux.ExtractSandboxID(s))
			}
		}
	}

	return nil
}

func countWorktrees(teams map[string][]agentWorktreeInfo) int {
	n := 0
	for _, wts := range teams {
		n += len(wts)
	}
	return n
}
