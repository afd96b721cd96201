package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/worktree"
)

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "List teams with worktrees in this repository",
	Long: `List every team that has agent worktrees in the current repository,
with per-agent branch commit counts relative to the current branch.`,
	RunE: runTeams,
}

func init() {
	rootCmd.AddCommand(teamsCmd)
}

func runTeams(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	out := cmd.OutOrStdout()

	git := worktree.NewGit(cwd)
	if !git.IsRepository() {
		return fmt.Errorf("not a git repository: %s", cwd)
	}
	base, err := git.CurrentBranch(cwd)
	if err != nil {
		return err
	}

	teams := teamWorktrees(git, cwd)
	if len(teams) == 0 {
		fmt.Fprintln(out, "No teams")
		return nil
	}

	ids := make([]string, 0, len(teams))
	for id := range teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Fprintf(out, "team %s\n", id)
		for _, wt := range teams[id] {
			commits, _ := git.CountCommitsBetween(wt.Path, base, wt.Branch)
			dirty, _ := git.HasUncommittedChanges(wt.Path)
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(out, "  %-10s %s  %d commits, %s\n", wt.Role, wt.Branch, commits, state)
		}
	}
	return nil
}
