package errors

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTeamError_Error(t *testing.T) {
	err := NewTeamError("spawn failed", ErrTeamLimitReached).WithTeam("t-1").WithRole("frontend")

	got := err.Error()
	want := "spawn failed (team t-1) (role frontend): maximum concurrent teams reached"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if !Is(err, ErrTeamLimitReached) {
		t.Error("expected errors.Is to match wrapped sentinel")
	}
}

func TestGitError_WithContext(t *testing.T) {
	base := New("exit status 128")
	err := NewGitError("worktree add failed", base).
		WithBranch("squadron/backend").
		WithPath("/tmp/wt").
		WithOutput("fatal: branch exists")

	got := err.Error()
	for _, part := range []string{"worktree add failed", "squadron/backend", "/tmp/wt", "fatal: branch exists"} {
		if !strings.Contains(got, part) {
			t.Errorf("Error() = %q, missing %q", got, part)
		}
	}

	var gitErr *GitError
	if !As(err, &gitErr) {
		t.Error("expected errors.As to extract *GitError")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("team", "t-42")
	if err.Error() != `team "t-42" not found` {
		t.Errorf("Error() = %q", err.Error())
	}
	if !Is(err, ErrTeamNotFound) {
		t.Error("NotFoundError should match ErrTeamNotFound")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should be true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("agent response", 120*time.Second)
	if err.Error() != "agent response timed out after 2m0s" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should be true")
	}
	if !IsTimeout(fmt.Errorf("wrapped: %w", ErrTimeout)) {
		t.Error("IsTimeout should match wrapped ErrTimeout")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"team limit", ErrTeamLimitReached, true},
		{"sandbox limit", ErrSandboxLimitReached, true},
		{"port exhaustion", ErrNoPortsAvailable, true},
		{"timeout", NewTimeoutError("op", time.Second), true},
		{"validation", NewValidationError("requirement", "too long"), false},
		{"not found", ErrTeamNotFound, false},
	}

	for _, tc := range tests {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidationError_Is(t *testing.T) {
	err := NewValidationError("requirement", "must be 1-1000 characters")
	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if err.Error() != "requirement: must be 1-1000 characters" {
		t.Errorf("Error() = %q", err.Error())
	}
}
