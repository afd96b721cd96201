package worktree

import (
	"fmt"
	"strings"
	"testing"

	"github.com/squadron-dev/squadron/internal/errors"
)

// fakeExecutor scripts git command results by argument prefix and records
// every invocation.
type fakeExecutor struct {
	results map[string]fakeResult
	calls   []string
	onRun   func(args string)
}

type fakeResult struct {
	output string
	err    error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: make(map[string]fakeResult)}
}

func (f *fakeExecutor) script(argPrefix, output string, err error) {
	f.results[argPrefix] = fakeResult{output: output, err: err}
}

func (f *fakeExecutor) Run(dir, name string, args ...string) ([]byte, error) {
	joined := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, joined)
	if f.onRun != nil {
		f.onRun(joined)
	}
	for prefix, res := range f.results {
		if strings.HasPrefix(joined, prefix) {
			return []byte(res.output), res.err
		}
	}
	return nil, nil
}

func (f *fakeExecutor) RunQuiet(dir, name string, args ...string) error {
	_, err := f.Run(dir, name, args...)
	return err
}

func (f *fakeExecutor) called(argPrefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, argPrefix) {
			return true
		}
	}
	return false
}

func TestAddWorktreeBranchExists(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git worktree add", "fatal: a branch named 'squadron/t1/frontend' already exists",
		fmt.Errorf("exit status 128"))

	git := NewGitWithExecutor("/repo", exec)
	err := git.AddWorktree("/repo/wt", "squadron/t1/frontend")

	if !errors.Is(err, errors.ErrBranchExists) {
		t.Errorf("expected ErrBranchExists, got %v", err)
	}
}

func TestCurrentBranch(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git rev-parse --abbrev-ref HEAD", "squadron/t1/backend\n", nil)

	git := NewGitWithExecutor("/repo", exec)
	branch, err := git.CurrentBranch("/repo/wt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "squadron/t1/backend" {
		t.Errorf("expected trimmed branch name, got %q", branch)
	}
}

func TestListWorktreesParsesPorcelain(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git worktree list", strings.Join([]string{
		"worktree /repo",
		"HEAD abc123",
		"branch refs/heads/main",
		"",
		"worktree /repo/.squadron-parallel-dev/t1-99/frontend",
		"HEAD def456",
		"branch refs/heads/squadron/t1/frontend",
		"",
	}, "\n"), nil)

	git := NewGitWithExecutor("/repo", exec)
	worktrees, err := git.ListWorktrees()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(worktrees) != 2 {
		t.Fatalf("expected 2 worktrees, got %d: %v", len(worktrees), worktrees)
	}
	if worktrees[1] != "/repo/.squadron-parallel-dev/t1-99/frontend" {
		t.Errorf("unexpected worktree path: %q", worktrees[1])
	}
}

func TestCountCommitsBetween(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git rev-list --count", " 3\n", nil)

	git := NewGitWithExecutor("/repo", exec)
	count, err := git.CountCommitsBetween("/repo", "main", "squadron/t1/backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 commits, got %d", count)
	}
}

func TestMergeNoFFConflictAborts(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git merge --no-ff", "CONFLICT (content): Merge conflict in app.go",
		fmt.Errorf("exit status 1"))

	git := NewGitWithExecutor("/repo", exec)
	err := git.MergeNoFF("squadron/t1/frontend", "merge message")

	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Errorf("expected ErrMergeConflict, got %v", err)
	}
	if !exec.called("git merge --abort") {
		t.Error("expected merge --abort after conflict")
	}
}

func TestLastCommitUnixEmptyBranch(t *testing.T) {
	exec := newFakeExecutor()
	exec.script("git log -1", "\n", nil)

	git := NewGitWithExecutor("/repo", exec)
	ts, err := git.LastCommitUnix("/repo/wt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != 0 {
		t.Errorf("expected 0 for branch with no commits, got %d", ts)
	}
}
