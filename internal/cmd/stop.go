package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/worktree"
)

var stopCmd = &cobra.Command{
	Use:   "stop <team-id>",
	Short: "Tear down a team's worktrees and branches",
	Long: `Remove every agent worktree and branch belonging to the given team.
Works on teams left behind by a crashed or interrupted squadron
process; uncommitted agent work is discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	teamID := args[0]

	git := worktree.NewGit(cwd)
	if !git.IsRepository() {
		return fmt.Errorf("not a git repository: %s", cwd)
	}

	teams := teamWorktrees(git, cwd)
	wts, ok := teams[teamID]
	if !ok {
		return fmt.Errorf("no worktrees found for team %s", teamID)
	}

	removed := 0
	for _, wt := range wts {
		if err := git.RemoveWorktree(wt.Path); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to remove worktree %s: %v\n", wt.Path, err)
			continue
		}
		if err := git.DeleteBranch(wt.Branch); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to delete branch %s: %v\n", wt.Branch, err)
		}
		removed++
	}
	// The team dir is empty once its agent worktrees are gone.
	if removed == len(wts) {
		_ = os.RemoveAll(filepath.Dir(wts[0].Path))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d of %d worktrees for team %s\n", removed, len(wts), teamID)
	return nil
}
