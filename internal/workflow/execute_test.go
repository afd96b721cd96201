package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeSender records prompts per agent and answers from a script.
type fakeSender struct {
	mu      sync.Mutex
	calls   []sentCall
	respond func(agentID, message string) (string, error)
}

type sentCall struct {
	agentID string
	message string
}

func (f *fakeSender) Send(_ context.Context, agentID, message string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sentCall{agentID: agentID, message: message})
	f.mu.Unlock()
	if f.respond == nil {
		return "done.", nil
	}
	return f.respond(agentID, message)
}

func (f *fakeSender) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func TestExecuteParallelCyclesSubtasks(t *testing.T) {
	s := &fakeSender{}
	e := NewExecutor(s, nil)
	tmpl := Template{
		Name: "t",
		Phases: []Phase{{
			Name:     "dev",
			Roles:    []Role{RoleFrontend, RoleBackend},
			Mode:     ModeParallel,
			Subtasks: []string{"task one"},
		}},
	}
	agents := Assignment{
		RoleFrontend: {"fe-1"},
		RoleBackend:  {"be-1", "be-2"},
	}

	session, err := e.Execute(context.Background(), tmpl, "req", agents)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Three agents, one subtask: every agent gets the cycled subtask.
	results := session.Results()
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results {
		if r.Subtask != "task one" {
			t.Errorf("agent %s subtask = %q", r.AgentID, r.Subtask)
		}
		if r.Err != nil {
			t.Errorf("agent %s err = %v", r.AgentID, r.Err)
		}
	}
}

func TestExecuteSequentialPipesContext(t *testing.T) {
	s := &fakeSender{
		respond: func(agentID, message string) (string, error) {
			return "output from " + agentID, nil
		},
	}
	e := NewExecutor(s, nil)
	tmpl := Template{
		Name: "t",
		Phases: []Phase{{
			Name:     "dev",
			Roles:    []Role{RoleBackend},
			Mode:     ModeSequential,
			Subtasks: []string{"design it", "build it"},
		}},
	}

	_, err := e.Execute(context.Background(), tmpl, "req", Assignment{RoleBackend: {"be-1"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	calls := s.sent()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if strings.Contains(calls[0].message, "previous step") {
		t.Errorf("first prompt carries context: %q", calls[0].message)
	}
	if !strings.Contains(calls[1].message, "output from be-1") {
		t.Errorf("second prompt missing piped context: %q", calls[1].message)
	}
}

func TestExecuteSequentialRoundRobin(t *testing.T) {
	s := &fakeSender{}
	e := NewExecutor(s, nil)
	tmpl := Template{
		Name: "t",
		Phases: []Phase{{
			Name:     "dev",
			Roles:    []Role{RoleBackend},
			Mode:     ModeSequential,
			Subtasks: []string{"a", "b", "c"},
		}},
	}

	_, err := e.Execute(context.Background(), tmpl, "req", Assignment{RoleBackend: {"be-1", "be-2"}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	calls := s.sent()
	wantAgents := []string{"be-1", "be-2", "be-1"}
	for i, want := range wantAgents {
		if calls[i].agentID != want {
			t.Errorf("subtask %d went to %s, want %s", i, calls[i].agentID, want)
		}
	}
}

func TestExecutePhaseFailureStopsWorkflow(t *testing.T) {
	s := &fakeSender{
		respond: func(agentID, message string) (string, error) {
			if strings.Contains(message, "explode") {
				return "", fmt.Errorf("agent crashed")
			}
			return "fine.", nil
		},
	}
	e := NewExecutor(s, nil)
	tmpl := Template{
		Name: "t",
		Phases: []Phase{
			{Name: "p1", Roles: []Role{RoleBackend}, Mode: ModeSequential, Subtasks: []string{"ok task", "explode"}},
			{Name: "p2", Roles: []Role{RoleBackend}, Mode: ModeSequential, Subtasks: []string{"never runs"}},
		},
	}

	session, err := e.Execute(context.Background(), tmpl, "req", Assignment{RoleBackend: {"be-1"}})
	if err == nil {
		t.Fatal("Execute() error = nil, want phase failure")
	}
	if !strings.Contains(err.Error(), `phase "p1" failed`) {
		t.Errorf("error = %v, want phase name", err)
	}

	// Partial results survive: the successful task and the failed one.
	results := session.Results()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (partial phase preserved)", len(results))
	}
	if results[0].Err != nil || results[1].Err == nil {
		t.Errorf("result errors = [%v, %v]", results[0].Err, results[1].Err)
	}
	for _, c := range s.sent() {
		if strings.Contains(c.message, "never runs") {
			t.Error("second phase ran after first phase failed")
		}
	}
}

func TestExecuteNoAgentsForPhase(t *testing.T) {
	e := NewExecutor(&fakeSender{}, nil)
	tmpl := Template{
		Name:   "t",
		Phases: []Phase{{Name: "dev", Roles: []Role{RoleDocs}, Mode: ModeSequential, Subtasks: []string{"x"}}},
	}
	_, err := e.Execute(context.Background(), tmpl, "req", Assignment{RoleBackend: {"be-1"}})
	if err == nil {
		t.Fatal("Execute() error = nil, want missing-agent failure")
	}
}

func TestExcerptKeepsTail(t *testing.T) {
	long := strings.Repeat("x", 2000) + "FINAL SUMMARY"
	got := excerpt(long)
	if len(got) > contextExcerptLen+3 {
		t.Errorf("excerpt length = %d", len(got))
	}
	if !strings.HasSuffix(got, "FINAL SUMMARY") {
		t.Error("excerpt dropped the tail of the output")
	}
	if short := excerpt("short"); short != "short" {
		t.Errorf("excerpt(short) = %q", short)
	}
}
