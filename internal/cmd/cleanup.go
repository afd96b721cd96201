package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/logging"
	"github.com/squadron-dev/squadron/internal/sandbox"
	"github.com/squadron-dev/squadron/internal/worktree"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale worktrees and orphaned sandboxes",
	Long: `Sweep the recovery surfaces a crashed squadron process can leave
behind: team worktree directories older than 24 hours, sandbox tmux
sessions with no owning process, and aged sandbox directories.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logging.NopLogger()

	git := worktree.NewGit(cwd)
	if git.IsRepository() {
		isolator := worktree.NewIsolator(cwd, git, log)
		swept, err := isolator.SweepStale()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "worktree sweep incomplete: %v\n", err)
		}
		fmt.Fprintf(out, "stale team directories removed: %d\n", swept)
	}

	sandboxes := sandbox.NewManager(cfg.Sandbox, nil, log)
	killed, removed := sandboxes.SweepOrphans()
	fmt.Fprintf(out, "orphaned sandbox sessions killed: %d\n", killed)
	fmt.Fprintf(out, "aged sandbox directories removed: %d\n", removed)

	return nil
}
