package puppet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
)

type fakeCall struct {
	dir    string
	prompt string
	quick  bool
}

// fakeInvoker scripts agent responses without launching processes.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(call fakeCall, onData func([]byte)) (string, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, dir, prompt string, quick bool, onData func([]byte)) (string, error) {
	call := fakeCall{dir: dir, prompt: prompt, quick: quick}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.respond == nil {
		return "ok response from agent", nil
	}
	return f.respond(call, onData)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInvoker) call(i int) fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func newTestManager(t *testing.T, inv Invoker) *Manager {
	t.Helper()
	if inv == nil {
		inv = &fakeInvoker{}
	}
	return NewManager(inv, nil, nil)
}

func TestSpawnAgentRegistersAndCreatesWorkDir(t *testing.T) {
	m := newTestManager(t, nil)
	dir := filepath.Join(t.TempDir(), "backend")

	a, err := m.SpawnAgent("a1", "backend", "build the API", dir)
	if err != nil {
		t.Fatalf("SpawnAgent() error = %v", err)
	}
	if a.Status != StatusReady {
		t.Errorf("status = %q, want %q", a.Status, StatusReady)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("working directory not created: %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestSpawnAgentDuplicate(t *testing.T) {
	m := newTestManager(t, nil)
	dir := t.TempDir()
	if _, err := m.SpawnAgent("a1", "backend", "", dir); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := m.SpawnAgent("a1", "frontend", "", dir)
	if !errors.Is(err, errors.ErrAgentAlreadyRunning) {
		t.Errorf("duplicate spawn error = %v, want ErrAgentAlreadyRunning", err)
	}
}

func TestSendRecordsConversation(t *testing.T) {
	inv := &fakeInvoker{}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "backend", "project uses Go", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	out, err := m.Send(context.Background(), "a1", "write the handler")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out != "ok response from agent" {
		t.Errorf("output = %q", out)
	}

	a, _ := m.Get("a1")
	if a.Status != StatusWaiting {
		t.Errorf("status after send = %q, want %q", a.Status, StatusWaiting)
	}
	if len(a.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(a.History))
	}
	if a.History[0].Role != "user" || a.History[0].Content != "write the handler" {
		t.Errorf("user turn = %+v", a.History[0])
	}
	if a.History[1].Role != "assistant" || a.History[1].Content != out {
		t.Errorf("assistant turn = %+v", a.History[1])
	}
}

func TestSendCapturesSessionID(t *testing.T) {
	inv := &fakeInvoker{
		respond: func(_ fakeCall, _ func([]byte)) (string, error) {
			return "Session: d2c1a4f8-9b3e-4a7d-8c2f-1e5b6a9d0c3e\nDone.", nil
		},
	}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "backend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Send(context.Background(), "a1", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	a, _ := m.Get("a1")
	if a.SessionID != "d2c1a4f8-9b3e-4a7d-8c2f-1e5b6a9d0c3e" {
		t.Errorf("session id = %q", a.SessionID)
	}
}

func TestSendEnhancesFirstPromptOnly(t *testing.T) {
	inv := &fakeInvoker{}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "frontend", "React app with Vite", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if _, err := m.Send(context.Background(), "a1", "first task"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := m.Send(context.Background(), "a1", "second task"); err != nil {
		t.Fatalf("second send: %v", err)
	}

	first := inv.call(0).prompt
	if !strings.Contains(first, "frontend agent") || !strings.Contains(first, "React app with Vite") {
		t.Errorf("first prompt missing role or context: %q", first)
	}
	if !strings.Contains(first, "first task") {
		t.Errorf("first prompt missing task: %q", first)
	}
	second := inv.call(1).prompt
	if second != "second task" {
		t.Errorf("second prompt = %q, want bare message", second)
	}
}

func TestSendStoppedAgent(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.SpawnAgent("a1", "backend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := m.Stop("a1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	_, err := m.Send(context.Background(), "a1", "hello")
	if !errors.Is(err, errors.ErrAgentNotRunning) {
		t.Errorf("Send on stopped agent error = %v, want ErrAgentNotRunning", err)
	}
}

func TestSendFailureMarksError(t *testing.T) {
	inv := &fakeInvoker{
		respond: func(fakeCall, func([]byte)) (string, error) {
			return "", errors.NewAgentError("boom", errors.ErrAgentStartFailed)
		},
	}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "backend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Send(context.Background(), "a1", "task"); err == nil {
		t.Fatal("Send() error = nil, want failure")
	}
	a, _ := m.Get("a1")
	if a.Status != StatusError {
		t.Errorf("status = %q, want %q", a.Status, StatusError)
	}
	if len(a.History) != 0 {
		t.Errorf("failed call recorded %d turns, want 0", len(a.History))
	}
}

func TestSendRecordsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	inv := &fakeInvoker{
		respond: func(call fakeCall, _ func([]byte)) (string, error) {
			if err := os.WriteFile(filepath.Join(call.dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
				return "", err
			}
			// Let the watcher consume the create event.
			time.Sleep(100 * time.Millisecond)
			return "wrote main.go", nil
		},
	}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "backend", "", dir); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Send(context.Background(), "a1", "create main"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	a, _ := m.Get("a1")
	if len(a.CreatedFiles) != 1 || a.CreatedFiles[0] != "main.go" {
		t.Errorf("CreatedFiles = %v, want [main.go]", a.CreatedFiles)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.SpawnAgent("a1", "backend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := m.Stop("a1"); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := m.Stop("a1"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := m.Stop("missing"); !errors.Is(err, errors.ErrAgentNotFound) {
		t.Errorf("stop unknown agent error = %v, want ErrAgentNotFound", err)
	}
}

func TestRespawnDropsHistory(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.SpawnAgent("a1", "backend", "ctx", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.Send(context.Background(), "a1", "task"); err != nil {
		t.Fatalf("send: %v", err)
	}

	a, err := m.Respawn("a1")
	if err != nil {
		t.Fatalf("Respawn() error = %v", err)
	}
	if a.Status != StatusReady {
		t.Errorf("status = %q, want %q", a.Status, StatusReady)
	}
	if len(a.History) != 0 {
		t.Errorf("history survived respawn: %d turns", len(a.History))
	}
	if a.Role != "backend" || a.Context != "ctx" {
		t.Errorf("role/context not carried over: %+v", a)
	}
}

func TestHealthMonitorMarksUnhealthy(t *testing.T) {
	inv := &fakeInvoker{
		respond: func(call fakeCall, _ func([]byte)) (string, error) {
			if call.quick {
				return "", errors.NewAgentError("no reply", errors.ErrAgentUnhealthy)
			}
			return "ok", nil
		},
	}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "backend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	// Backdate activity past the idle threshold.
	m.mu.Lock()
	m.agents["a1"].LastActivity = time.Now().Add(-10 * time.Minute)
	m.mu.Unlock()

	h := &HealthMonitor{
		manager:       m,
		interval:      time.Minute,
		idleThreshold: 5 * time.Minute,
		probeTimeout:  time.Second,
		log:           m.log,
	}
	h.sweep(context.Background())

	a, _ := m.Get("a1")
	if a.Status != StatusUnhealthy {
		t.Errorf("status = %q, want %q", a.Status, StatusUnhealthy)
	}
	if got := inv.call(0); !got.quick {
		t.Error("probe was not a quick-mode call")
	}
}

func TestHealthMonitorRespawnsUnhealthy(t *testing.T) {
	inv := &fakeInvoker{
		respond: func(call fakeCall, _ func([]byte)) (string, error) {
			return "", errors.NewAgentError("dead", errors.ErrAgentUnhealthy)
		},
	}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("a1", "backend", "ctx", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	m.mu.Lock()
	m.agents["a1"].LastActivity = time.Now().Add(-10 * time.Minute)
	m.mu.Unlock()

	h := &HealthMonitor{
		manager:       m,
		interval:      time.Minute,
		idleThreshold: 5 * time.Minute,
		probeTimeout:  time.Second,
		respawn:       true,
		log:           m.log,
	}
	h.sweep(context.Background())

	a, err := m.Get("a1")
	if err != nil {
		t.Fatalf("agent gone after respawn: %v", err)
	}
	if a.Status != StatusReady {
		t.Errorf("status = %q, want %q after respawn", a.Status, StatusReady)
	}
}

func TestHealthMonitorSkipsActiveAndWorking(t *testing.T) {
	inv := &fakeInvoker{}
	m := newTestManager(t, inv)
	if _, err := m.SpawnAgent("busy", "backend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := m.SpawnAgent("fresh", "frontend", "", t.TempDir()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	m.mu.Lock()
	m.agents["busy"].Status = StatusWorking
	m.agents["busy"].LastActivity = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	h := &HealthMonitor{
		manager:       m,
		interval:      time.Minute,
		idleThreshold: 5 * time.Minute,
		probeTimeout:  time.Second,
		log:           m.log,
	}
	h.sweep(context.Background())

	if inv.callCount() != 0 {
		t.Errorf("probes sent = %d, want 0", inv.callCount())
	}
}
