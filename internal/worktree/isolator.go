package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/logging"
)

// RootDirName is the directory under the project root that holds every
// team's worktrees. Layout: <root>/<teamID>-<timestamp>/<role>/.
const RootDirName = ".squadron-parallel-dev"

// staleAge is how old a team directory must be before the startup sweep
// removes it.
const staleAge = 24 * time.Hour

// AgentWorktree describes one agent's isolated working copy. The path and
// branch are unique system-wide for the agent's lifetime.
type AgentWorktree struct {
	TeamID string
	Role   string
	Path   string
	Branch string
}

// MergeCandidate names one agent branch considered during merge-back.
type MergeCandidate struct {
	Role      string
	Branch    string
	Completed bool
}

// MergeReport summarizes one team's merge-back pass.
type MergeReport struct {
	Merged  []string
	Skipped []string
	Failed  map[string]error
}

// Isolator builds and dismantles per-agent worktrees under a unified
// per-team root, and merges finished branches back to the base branch.
type Isolator struct {
	git         *Git
	projectRoot string
	log         *logging.Logger
}

// NewIsolator creates an isolator for the repository at projectRoot.
func NewIsolator(projectRoot string, git *Git, log *logging.Logger) *Isolator {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Isolator{git: git, projectRoot: projectRoot, log: log}
}

// TeamRoot returns the unified worktree root for a team.
func (i *Isolator) TeamRoot(teamID string, createdAt time.Time) string {
	return filepath.Join(i.projectRoot, RootDirName,
		fmt.Sprintf("%s-%d", teamID, createdAt.Unix()))
}

// BranchName returns the dedicated branch for one agent.
func BranchName(teamID, role string) string {
	return fmt.Sprintf("squadron/%s/%s", teamID, role)
}

// CreateAgentWorktree creates an agent's worktree and branch under the
// team root and verifies the result. Verification checks that the
// directory exists, that its checked-out branch matches the expected
// name, and that git lists it among known worktrees. Any failed check
// rolls back the worktree and branch before returning an error.
func (i *Isolator) CreateAgentWorktree(teamRoot, teamID, role string) (*AgentWorktree, error) {
	wt := &AgentWorktree{
		TeamID: teamID,
		Role:   role,
		Path:   filepath.Join(teamRoot, role),
		Branch: BranchName(teamID, role),
	}

	if err := os.MkdirAll(teamRoot, 0o755); err != nil {
		return nil, errors.NewGitError("failed to create team root", err).WithPath(teamRoot)
	}

	if err := i.git.AddWorktree(wt.Path, wt.Branch); err != nil {
		return nil, err
	}

	if err := i.verifyWorktree(wt); err != nil {
		i.rollback(wt)
		return nil, errors.NewGitError("worktree verification failed", err).
			WithPath(wt.Path).
			WithBranch(wt.Branch)
	}

	i.log.WithTeam(teamID).Info("created agent worktree",
		"role", role, "path", wt.Path, "branch", wt.Branch)
	return wt, nil
}

// verifyWorktree confirms a freshly created worktree is usable.
func (i *Isolator) verifyWorktree(wt *AgentWorktree) error {
	info, err := os.Stat(wt.Path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("worktree directory missing: %w", errors.ErrWorktreeVerification)
	}

	branch, err := i.git.CurrentBranch(wt.Path)
	if err != nil {
		return err
	}
	if branch != wt.Branch {
		return fmt.Errorf("worktree on branch %q, expected %q: %w",
			branch, wt.Branch, errors.ErrWorktreeVerification)
	}

	listed, err := i.git.ListWorktrees()
	if err != nil {
		return err
	}
	for _, path := range listed {
		if sameDir(path, wt.Path) {
			return nil
		}
	}
	return fmt.Errorf("worktree not listed by git: %w", errors.ErrWorktreeVerification)
}

// rollback removes a partially created worktree and its branch.
func (i *Isolator) rollback(wt *AgentWorktree) {
	if err := i.git.RemoveWorktree(wt.Path); err != nil {
		i.log.Warn("rollback: failed to remove worktree", "path", wt.Path, "error", err)
	}
	if err := i.git.DeleteBranch(wt.Branch); err != nil {
		i.log.Warn("rollback: failed to delete branch", "branch", wt.Branch, "error", err)
	}
}

// ValidateRepoState runs the preflight checks before any team spawn:
// the project root must be a git repository and worktree creation must be
// permitted. Uncommitted changes are reported as a warning, not an error.
func (i *Isolator) ValidateRepoState() ([]string, error) {
	if !i.git.IsRepository() {
		return nil, errors.NewGitError("project root is not a git repository",
			errors.ErrNotGitRepository).WithPath(i.projectRoot)
	}

	var warnings []string
	dirty, err := i.git.HasUncommittedChanges(i.projectRoot)
	if err != nil {
		return nil, err
	}
	if dirty {
		warnings = append(warnings, "repository has uncommitted changes; agent branches start from current HEAD")
	}

	// Probe write permission where worktrees will be created.
	probe := filepath.Join(i.projectRoot, RootDirName, ".permission-probe")
	if err := os.MkdirAll(probe, 0o755); err != nil {
		return warnings, errors.NewGitError("cannot create worktree root", err).
			WithPath(filepath.Join(i.projectRoot, RootDirName))
	}
	_ = os.Remove(probe)

	return warnings, nil
}

// MergeTeamWork checks out the base branch and merges every completed
// agent's branch with a no-fast-forward merge. Branches with no commits
// beyond base are skipped. A failure on one branch is recorded and the
// remaining branches are still merged.
func (i *Isolator) MergeTeamWork(baseBranch string, candidates []MergeCandidate) (MergeReport, error) {
	report := MergeReport{Failed: make(map[string]error)}

	if err := i.git.Checkout(baseBranch); err != nil {
		return report, err
	}

	for _, c := range candidates {
		if !c.Completed {
			report.Skipped = append(report.Skipped, c.Branch)
			continue
		}

		commits, err := i.git.CountCommitsBetween(i.git.RepoDir(), baseBranch, c.Branch)
		if err != nil {
			report.Failed[c.Branch] = err
			i.log.Warn("merge: could not count commits", "branch", c.Branch, "error", err)
			continue
		}
		if commits == 0 {
			report.Skipped = append(report.Skipped, c.Branch)
			continue
		}

		message := fmt.Sprintf("Merge %s work from %s", c.Role, c.Branch)
		if err := i.git.MergeNoFF(c.Branch, message); err != nil {
			report.Failed[c.Branch] = err
			i.log.Warn("merge failed, continuing with remaining branches",
				"branch", c.Branch, "error", err)
			continue
		}
		report.Merged = append(report.Merged, c.Branch)
	}

	return report, nil
}

// Teardown removes every worktree and branch for a team, then the team
// root directory itself. All failures are collected; teardown does not
// stop at the first error.
func (i *Isolator) Teardown(teamRoot string, worktrees []AgentWorktree) error {
	var errs []error
	for _, wt := range worktrees {
		if err := i.git.RemoveWorktree(wt.Path); err != nil {
			errs = append(errs, err)
		}
		if err := i.git.DeleteBranch(wt.Branch); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(teamRoot); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SweepStale removes team directories under the worktree root older than
// 24h. Run at startup to garbage-collect teams left behind by crashes.
// Returns the number of directories removed.
func (i *Isolator) SweepStale() (int, error) {
	root := filepath.Join(i.projectRoot, RootDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	cutoff := time.Now().Add(-staleAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			i.log.Warn("sweep: failed to remove stale team dir", "path", path, "error", err)
			continue
		}
		removed++
		i.log.Info("swept stale team directory", "path", path)
	}

	if removed > 0 {
		// Drop git's references to the deleted worktree directories.
		_, _ = i.git.executor.Run(i.git.repoDir, "git", "worktree", "prune")
	}
	return removed, nil
}

// sameDir compares two paths after cleaning and symlink-free normalization.
func sameDir(a, b string) bool {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		ra = filepath.Clean(a)
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		rb = filepath.Clean(b)
	}
	return ra == rb
}
