package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/squadron-dev/squadron/internal/logging"
)

// Sender delivers one message to an agent and returns its full
// response. *puppet.Manager satisfies this.
type Sender interface {
	Send(ctx context.Context, agentID, message string) (string, error)
}

// contextExcerptLen bounds how much of a previous task's output is
// piped into the next sequential prompt.
const contextExcerptLen = 1000

// TaskResult records one subtask exchange, success or failure.
type TaskResult struct {
	Phase    string
	Subtask  string
	Role     Role
	AgentID  string
	Output   string
	Err      error
	Duration time.Duration
}

// Session is the log of one workflow execution. Partial results from a
// failed phase are recorded before the failure propagates.
type Session struct {
	ID          string
	Template    string
	Requirement string

	mu      sync.Mutex
	results []TaskResult
}

// Results returns a copy of the recorded task results.
func (s *Session) Results() []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TaskResult(nil), s.results...)
}

func (s *Session) record(r TaskResult) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

// Assignment maps roles to the agent ids available for them.
type Assignment map[Role][]string

// Executor runs workflow templates against a set of live agents.
type Executor struct {
	sender Sender
	log    *logging.Logger
}

func NewExecutor(sender Sender, log *logging.Logger) *Executor {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Executor{sender: sender, log: log}
}

// Execute walks the template's phases strictly in order. A failed task
// fails its phase and the whole workflow; later phases do not run. The
// returned session always carries whatever results completed.
func (e *Executor) Execute(ctx context.Context, tmpl Template, requirement string, agents Assignment) (*Session, error) {
	session := &Session{
		ID:          uuid.NewString(),
		Template:    tmpl.Name,
		Requirement: requirement,
	}

	for _, phase := range tmpl.Phases {
		ids := phaseAgents(phase, agents)
		if len(ids) == 0 {
			return session, fmt.Errorf("phase %q: no agents available for roles %v", phase.Name, phase.Roles)
		}

		e.log.Info("phase started", "workflow", tmpl.Name, "phase", phase.Name, "mode", string(phase.Mode), "agents", len(ids))

		var err error
		if phase.Mode == ModeParallel {
			err = e.runParallel(ctx, session, phase, requirement, ids)
		} else {
			err = e.runSequential(ctx, session, phase, requirement, ids)
		}
		if err != nil {
			return session, fmt.Errorf("phase %q failed: %w", phase.Name, err)
		}
	}
	return session, nil
}

// phaseAssignee pairs an agent with its role for dispatch.
type phaseAssignee struct {
	role Role
	id   string
}

func phaseAgents(phase Phase, agents Assignment) []phaseAssignee {
	var out []phaseAssignee
	for _, role := range phase.Roles {
		for _, id := range agents[role] {
			out = append(out, phaseAssignee{role: role, id: id})
		}
	}
	return out
}

// runParallel gives every agent one subtask concurrently, cycling the
// subtask list when there are more agents than subtasks. The phase
// waits for all tasks; any failure fails the phase after every result
// is recorded.
func (e *Executor) runParallel(ctx context.Context, session *Session, phase Phase, requirement string, ids []phaseAssignee) error {
	var wg sync.WaitGroup
	errs := make([]error, len(ids))

	for i, assignee := range ids {
		subtask := phase.Subtasks[i%len(phase.Subtasks)]
		wg.Add(1)
		go func(i int, a phaseAssignee, subtask string) {
			defer wg.Done()
			res := e.runTask(ctx, phase, requirement, a, subtask, "")
			session.record(res)
			errs[i] = res.Err
		}(i, assignee, subtask)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runSequential walks subtasks in order, assigning agents round-robin
// and piping an excerpt of the previous successful output forward.
func (e *Executor) runSequential(ctx context.Context, session *Session, phase Phase, requirement string, ids []phaseAssignee) error {
	var carry string
	for i, subtask := range phase.Subtasks {
		assignee := ids[i%len(ids)]
		res := e.runTask(ctx, phase, requirement, assignee, subtask, carry)
		session.record(res)
		if res.Err != nil {
			return res.Err
		}
		carry = excerpt(res.Output)
	}
	return nil
}

func (e *Executor) runTask(ctx context.Context, phase Phase, requirement string, a phaseAssignee, subtask, carry string) TaskResult {
	started := time.Now()
	out, err := e.sender.Send(ctx, a.id, taskPrompt(requirement, phase.Name, subtask, carry))
	if err != nil {
		e.log.WithAgent(a.id).Error("task failed", "phase", phase.Name, "error", err)
	}
	return TaskResult{
		Phase:    phase.Name,
		Subtask:  subtask,
		Role:     a.role,
		AgentID:  a.id,
		Output:   out,
		Err:      err,
		Duration: time.Since(started),
	}
}

func taskPrompt(requirement, phaseName, subtask, carry string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall requirement: %s\n\n", requirement)
	fmt.Fprintf(&b, "Current phase: %s\n", phaseName)
	if carry != "" {
		fmt.Fprintf(&b, "\nOutput from the previous step:\n%s\n", carry)
	}
	fmt.Fprintf(&b, "\nYour task: %s\nCreate real files in your working directory; do not just describe the work.", subtask)
	return b.String()
}

// excerpt keeps the tail of an output, where agent summaries land.
func excerpt(s string) string {
	if len(s) <= contextExcerptLen {
		return s
	}
	return "..." + s[len(s)-contextExcerptLen:]
}
