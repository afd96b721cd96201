package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/logging"
	"github.com/squadron-dev/squadron/internal/sandbox"
	"github.com/squadron-dev/squadron/internal/tmux"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Manage isolated experiment sandboxes",
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a sandbox",
	Long: `Create an isolated sandbox: a dedicated directory with its own tmux
session, optionally seeded from a base project and running a preview
server on a pooled port. The sandbox self-destructs after its time
limit; use "squadron sandbox destroy" to remove it sooner.`,
	RunE: runSandboxCreate,
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sandbox sessions",
	RunE:  runSandboxList,
}

var sandboxDestroyCmd = &cobra.Command{
	Use:   "destroy <sandbox-id>",
	Short: "Destroy a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxDestroy,
}

func init() {
	sandboxCreateCmd.Flags().String("owner", "", "owner the per-owner ceiling applies to")
	sandboxCreateCmd.Flags().String("seed", "", "base project directory to copy in")
	sandboxCreateCmd.Flags().String("preview", "", "preview command; {port} is substituted")
	_ = sandboxCreateCmd.MarkFlagRequired("owner")

	sandboxCmd.AddCommand(sandboxCreateCmd)
	sandboxCmd.AddCommand(sandboxListCmd)
	sandboxCmd.AddCommand(sandboxDestroyCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func runSandboxCreate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	owner, _ := cmd.Flags().GetString("owner")
	seed, _ := cmd.Flags().GetString("seed")
	preview, _ := cmd.Flags().GetString("preview")

	manager := sandbox.NewManager(cfg.Sandbox, nil, logging.NopLogger())
	sb, err := manager.Create(cmd.Context(), sandbox.CreateOptions{
		Owner:          owner,
		SeedDir:        seed,
		PreviewCommand: preview,
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sandbox %s created\n", sb.ID)
	fmt.Fprintf(out, "  dir:     %s\n", sb.Dir)
	fmt.Fprintf(out, "  session: tmux -L %s attach -t main\n", sb.Socket)
	if sb.PreviewURL != "" {
		fmt.Fprintf(out, "  preview: %s\n", sb.PreviewURL)
	}
	fmt.Fprintf(out, "  expires: %s\n", sb.ExpiresAt.Format("15:04:05"))
	return nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	sockets, err := tmux.ListSquadronSockets()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	n := 0
	for _, s := range sockets {
		if !tmux.IsSandboxSocket(s) {
			continue
		}
		fmt.Fprintf(out, "%s  (tmux -L %s)\n", tmux.ExtractSandboxID(s), s)
		n++
	}
	if n == 0 {
		fmt.Fprintln(out, "No sandboxes")
	}
	return nil
}

func runSandboxDestroy(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	id := args[0]
	socket := tmux.SandboxSocketName(id)

	pids := tmux.CollectProcessTree(socket, "main")
	tmux.GracefulShutdown(socket, "main", tmux.DefaultGracefulStopTimeout)
	tmux.EnsureProcessesKilled(pids)
	if err := tmux.KillServer(socket); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "tmux server for %s already gone\n", id)
	}

	// Sandbox dirs are grouped per owner; scan for the id.
	root := cfg.Sandbox.ResolveRoot()
	matches, _ := filepath.Glob(filepath.Join(root, "*", "sandboxes", id))
	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove sandbox directory: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sandbox %s destroyed\n", id)
	return nil
}
