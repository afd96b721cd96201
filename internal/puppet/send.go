package puppet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/squadron-dev/squadron/internal/classify"
	"github.com/squadron-dev/squadron/internal/errors"
)

// Send delivers a message to an agent and blocks until the response is
// complete. The exchange runs as a one-shot process in the agent's
// working directory; both turns are appended to the conversation
// history, and files created during the call are recorded.
func (m *Manager) Send(ctx context.Context, id, message string) (string, error) {
	a, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if a.Status == StatusStopped {
		return "", errors.NewAgentError("agent is stopped", errors.ErrAgentNotRunning).WithAgent(id)
	}

	m.setStatus(id, StatusWorking)
	m.touch(id)

	watcher, err := watchCreated(a.WorkDir)
	if err != nil {
		// File tracking is a side channel; the call proceeds without it.
		m.log.WithAgent(id).Warn("file watcher unavailable", "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	prompt := m.enhancePrompt(a, message)
	output, err := m.invoker.Invoke(callCtx, a.WorkDir, prompt, false, func(chunk []byte) {
		if m.hub != nil {
			m.hub.Append(id, chunk)
		}
		m.touch(id)
	})

	var created []string
	if watcher != nil {
		created = watcher.stop()
	}

	if err != nil {
		m.setStatus(id, StatusError)
		m.log.WithAgent(id).Error("agent call failed", "error", err)
		return output, err
	}

	m.mu.Lock()
	if live, ok := m.agents[id]; ok {
		now := time.Now()
		live.History = append(live.History,
			Turn{Role: "user", Content: message, At: now},
			Turn{Role: "assistant", Content: output, At: now},
		)
		live.CreatedFiles = mergeFiles(live.CreatedFiles, created)
		if sid := classify.ExtractSessionID([]byte(output)); sid != "" {
			live.SessionID = sid
		}
		live.Status = StatusWaiting
		live.LastActivity = now
	}
	m.mu.Unlock()

	return output, nil
}

// enhancePrompt prefixes the message with the agent's standing context
// on the first exchange only; later turns rely on the agent's own
// session memory.
func (m *Manager) enhancePrompt(a *Agent, message string) string {
	if len(a.History) > 0 || a.Context == "" {
		return message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent on a development team.\n", a.Role)
	fmt.Fprintf(&b, "Work only inside the current directory.\n\n")
	fmt.Fprintf(&b, "Context:\n%s\n\nTask:\n%s", a.Context, message)
	return b.String()
}

func mergeFiles(existing, created []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range created {
		if !seen[f] {
			existing = append(existing, f)
			seen[f] = true
		}
	}
	return existing
}
