// Package worktree creates and tears down the isolated git contexts agents
// work in: one worktree plus one dedicated branch per agent, all rooted
// under a per-team directory, merged back to the base branch when the
// team's work completes.
package worktree

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/squadron-dev/squadron/internal/errors"
)

// CommandExecutor abstracts command execution for testability.
// This allows tests to exercise the isolator without running real git.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// Git wraps the git CLI operations the isolator needs. All methods run
// against the repository root unless a worktree path is given.
type Git struct {
	repoDir  string
	executor CommandExecutor
}

// NewGit creates a Git runner for the repository at repoDir.
func NewGit(repoDir string) *Git {
	return &Git{repoDir: repoDir, executor: NewCLICommandExecutor()}
}

// NewGitWithExecutor creates a Git runner with a custom executor.
// This is primarily useful for testing.
func NewGitWithExecutor(repoDir string, executor CommandExecutor) *Git {
	return &Git{repoDir: repoDir, executor: executor}
}

// RepoDir returns the repository root directory.
func (g *Git) RepoDir() string {
	return g.repoDir
}

// IsRepository reports whether repoDir is inside a git work tree.
func (g *Git) IsRepository() bool {
	return g.executor.RunQuiet(g.repoDir, "git", "rev-parse", "--is-inside-work-tree") == nil
}

// CurrentBranch returns the checked-out branch name for a worktree path.
func (g *Git) CurrentBranch(path string) (string, error) {
	output, err := g.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithPath(path).
			WithOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// HasUncommittedChanges reports whether a worktree has uncommitted changes.
func (g *Git) HasUncommittedChanges(path string) (bool, error) {
	output, err := g.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check git status", err).
			WithPath(path).
			WithOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// AddWorktree creates a worktree at path with a new branch.
func (g *Git) AddWorktree(path, branch string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "add", "-b", branch, path)
	if err != nil {
		if strings.Contains(string(output), "already exists") {
			return errors.NewGitError("branch already exists", errors.ErrBranchExists).
				WithBranch(branch).
				WithOutput(string(output))
		}
		return errors.NewGitError("failed to create worktree", err).
			WithPath(path).
			WithBranch(branch).
			WithOutput(string(output))
	}
	return nil
}

// RemoveWorktree removes a worktree at the given path. On failure it falls
// back to removing the directory and pruning stale worktree references.
func (g *Git) RemoveWorktree(path string) error {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = g.executor.Run(g.repoDir, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithPath(path).
			WithOutput(string(output))
	}
	return nil
}

// ListWorktrees returns paths of all worktrees in the repository.
func (g *Git) ListWorktrees() ([]string, error) {
	output, err := g.executor.Run(g.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithOutput(string(output))
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// DeleteBranch force-deletes a branch by name.
func (g *Git) DeleteBranch(branch string) error {
	output, err := g.executor.Run(g.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		return errors.NewGitError("failed to delete branch", err).
			WithBranch(branch).
			WithOutput(string(output))
	}
	return nil
}

// Checkout switches the repository root to the given branch.
func (g *Git) Checkout(branch string) error {
	output, err := g.executor.Run(g.repoDir, "git", "checkout", branch)
	if err != nil {
		return errors.NewGitError("failed to checkout branch", err).
			WithBranch(branch).
			WithOutput(string(output))
	}
	return nil
}

// MergeNoFF merges a branch into the current branch with --no-ff and the
// given message, preserving the branch's identity in history.
func (g *Git) MergeNoFF(branch, message string) error {
	output, err := g.executor.Run(g.repoDir, "git", "merge", "--no-ff", branch, "-m", message)
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "CONFLICT") {
			_, _ = g.executor.Run(g.repoDir, "git", "merge", "--abort")
			return errors.NewGitError("merge conflict", errors.ErrMergeConflict).
				WithBranch(branch).
				WithOutput(outputStr)
		}
		return errors.NewGitError("failed to merge branch", err).
			WithBranch(branch).
			WithOutput(outputStr)
	}
	return nil
}

// CountCommitsBetween returns the number of commits on head that are not
// on base.
func (g *Git) CountCommitsBetween(path, base, head string) (int, error) {
	output, err := g.executor.Run(path, "git", "rev-list", "--count", base+".."+head)
	if err != nil {
		return 0, errors.NewGitError("failed to count commits", err).
			WithPath(path).
			WithBranch(base + ".." + head).
			WithOutput(string(output))
	}

	count, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, errors.NewGitError("failed to parse commit count", err).WithPath(path)
	}
	return count, nil
}

// LastCommitUnix returns the committer timestamp of HEAD in a worktree as
// a unix epoch, or 0 when the branch has no commits.
func (g *Git) LastCommitUnix(path string) (int64, error) {
	output, err := g.executor.Run(path, "git", "log", "-1", "--format=%ct")
	if err != nil {
		return 0, errors.NewGitError("failed to read last commit time", err).
			WithPath(path).
			WithOutput(string(output))
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.NewGitError("failed to parse commit time", err).WithPath(path)
	}
	return ts, nil
}

// ChangedFileCount returns how many files differ between base and head.
func (g *Git) ChangedFileCount(base, head string) (int, error) {
	output, err := g.executor.Run(g.repoDir, "git", "diff", "--name-only", base+"..."+head)
	if err != nil {
		return 0, errors.NewGitError("failed to diff branches", err).
			WithBranch(base + "..." + head).
			WithOutput(string(output))
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return 0, nil
	}
	return len(strings.Split(trimmed, "\n")), nil
}
