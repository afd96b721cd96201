package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/logging"
)

func newTestIsolator(t *testing.T, exec *fakeExecutor) (*Isolator, string) {
	t.Helper()
	root := t.TempDir()
	git := NewGitWithExecutor(root, exec)
	return NewIsolator(root, git, logging.NopLogger()), root
}

func TestCreateAgentWorktree(t *testing.T) {
	exec := newFakeExecutor()
	iso, root := newTestIsolator(t, exec)
	teamRoot := filepath.Join(root, RootDirName, "t1-100")
	wtPath := filepath.Join(teamRoot, "frontend")

	// The fake "git worktree add" creates the directory like real git.
	exec.onRun = func(args string) {
		if len(args) > 16 && args[:16] == "git worktree add" {
			_ = os.MkdirAll(wtPath, 0o755)
		}
	}
	exec.script("git rev-parse --abbrev-ref HEAD", "squadron/t1/frontend\n", nil)
	exec.script("git worktree list", "worktree "+wtPath+"\n", nil)

	wt, err := iso.CreateAgentWorktree(teamRoot, "t1", "frontend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wt.Branch != "squadron/t1/frontend" {
		t.Errorf("unexpected branch: %q", wt.Branch)
	}
	if wt.Path != wtPath {
		t.Errorf("unexpected path: %q", wt.Path)
	}
}

func TestCreateAgentWorktreeRollsBackOnBranchMismatch(t *testing.T) {
	exec := newFakeExecutor()
	iso, root := newTestIsolator(t, exec)
	teamRoot := filepath.Join(root, RootDirName, "t1-100")
	wtPath := filepath.Join(teamRoot, "backend")

	exec.onRun = func(args string) {
		if len(args) > 16 && args[:16] == "git worktree add" {
			_ = os.MkdirAll(wtPath, 0o755)
		}
	}
	// Worktree ends up on the wrong branch; verification must fail.
	exec.script("git rev-parse --abbrev-ref HEAD", "main\n", nil)
	exec.script("git worktree list", "worktree "+wtPath+"\n", nil)

	_, err := iso.CreateAgentWorktree(teamRoot, "t1", "backend")
	if !errors.Is(err, errors.ErrWorktreeVerification) {
		t.Fatalf("expected ErrWorktreeVerification, got %v", err)
	}
	if !exec.called("git worktree remove") {
		t.Error("expected worktree removal during rollback")
	}
	if !exec.called("git branch -D squadron/t1/backend") {
		t.Error("expected branch deletion during rollback")
	}
}

func TestValidateRepoStateNotARepo(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git rev-parse --is-inside-work-tree", "", fmt.Errorf("exit status 128"))

	iso, _ := newTestIsolator(t, exec)
	_, err := iso.ValidateRepoState()
	if !errors.Is(err, errors.ErrNotGitRepository) {
		t.Errorf("expected ErrNotGitRepository, got %v", err)
	}
}

func TestValidateRepoStateDirtyWarns(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git status --porcelain", " M app.go\n", nil)

	iso, _ := newTestIsolator(t, exec)
	warnings, err := iso.ValidateRepoState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning for dirty repo, got %d", len(warnings))
	}
}

func TestMergeTeamWork(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git rev-list --count main..squadron/t1/frontend", "2\n", nil)
	exec.script("git rev-list --count main..squadron/t1/backend", "0\n", nil)
	exec.script("git rev-list --count main..squadron/t1/testing", "1\n", nil)
	exec.script("git merge --no-ff squadron/t1/testing", "CONFLICT", fmt.Errorf("exit status 1"))

	iso, _ := newTestIsolator(t, exec)
	report, err := iso.MergeTeamWork("main", []MergeCandidate{
		{Role: "frontend", Branch: "squadron/t1/frontend", Completed: true},
		{Role: "backend", Branch: "squadron/t1/backend", Completed: true},
		{Role: "testing", Branch: "squadron/t1/testing", Completed: true},
		{Role: "docs", Branch: "squadron/t1/docs", Completed: false},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Merged) != 1 || report.Merged[0] != "squadron/t1/frontend" {
		t.Errorf("unexpected merged set: %v", report.Merged)
	}
	// Zero-commit and not-completed branches are both skipped.
	if len(report.Skipped) != 2 {
		t.Errorf("expected 2 skipped branches, got %v", report.Skipped)
	}
	if _, ok := report.Failed["squadron/t1/testing"]; !ok {
		t.Errorf("expected testing branch failure recorded, got %v", report.Failed)
	}
	if !exec.called("git checkout main") {
		t.Error("expected checkout of base branch")
	}
}

func TestMergeTeamWorkNoCompletedAgents(t *testing.T) {
	exec := newFakeExecutor()
	iso, _ := newTestIsolator(t, exec)

	report, err := iso.MergeTeamWork("main", []MergeCandidate{
		{Role: "frontend", Branch: "squadron/t1/frontend", Completed: false},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Merged) != 0 {
		t.Errorf("expected zero merges, got %v", report.Merged)
	}
	if exec.called("git merge") {
		t.Error("expected no merge commands")
	}
}

func TestTeardownCollectsErrors(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git worktree remove", "error", fmt.Errorf("exit status 1"))
	exec.script("git branch -D", "", nil)

	iso, root := newTestIsolator(t, exec)
	teamRoot := filepath.Join(root, RootDirName, "t1-100")
	if err := os.MkdirAll(teamRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	err := iso.Teardown(teamRoot, []AgentWorktree{
		{TeamID: "t1", Role: "frontend", Path: filepath.Join(teamRoot, "frontend"), Branch: "squadron/t1/frontend"},
	})
	if err == nil {
		t.Fatal("expected aggregated error from failed worktree removal")
	}
	if _, statErr := os.Stat(teamRoot); !os.IsNotExist(statErr) {
		t.Error("expected team root removed despite worktree failure")
	}
	if !exec.called("git branch -D squadron/t1/frontend") {
		t.Error("expected branch deletion attempted after worktree failure")
	}
}

func TestSweepStale(t *testing.T) {
	exec := newFakeExecutor()
	iso, root := newTestIsolator(t, exec)

	wtRoot := filepath.Join(root, RootDirName)
	oldDir := filepath.Join(wtRoot, "t1-100")
	newDir := filepath.Join(wtRoot, "t2-200")
	for _, d := range []string{oldDir, newDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := iso.SweepStale()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed directory, got %d", removed)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("expected stale directory removed")
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Error("expected fresh directory kept")
	}
}

func TestSweepStaleNoRoot(t *testing.T) {
	iso, _ := newTestIsolator(t, newFakeExecutor())

	removed, err := iso.SweepStale()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected 0 removals, got %d", removed)
	}
}
