// Package tmux provides centralized configuration and helpers for tmux
// operations.
//
// Squadron uses per-sandbox tmux sockets to isolate each sandbox's sessions.
// A crash in one sandbox's tmux server cannot affect other sandboxes. Each
// sandbox uses a socket named "squadron-{sandboxID}", with the default
// "squadron" socket reserved for global operations like orphan sweeps.
package tmux

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SocketName is the base tmux socket name for Squadron global operations.
// Individual sandboxes use sockets named "squadron-{sandboxID}" for isolation.
const SocketName = "squadron"

// SocketPrefix is the prefix used for all Squadron tmux sockets.
const SocketPrefix = "squadron"

// Command creates an exec.Cmd for tmux with the default Squadron socket.
// Use this for global operations. For sandbox-specific operations, use
// CommandWithSocket instead.
func Command(args ...string) *exec.Cmd {
	return CommandWithSocket(SocketName, args...)
}

// CommandContext creates a context-aware exec.Cmd for tmux with the default socket.
func CommandContext(ctx context.Context, args ...string) *exec.Cmd {
	return CommandContextWithSocket(ctx, SocketName, args...)
}

// CommandWithSocket creates an exec.Cmd for tmux with a custom socket name.
func CommandWithSocket(socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.Command("tmux", fullArgs...)
}

// CommandContextWithSocket creates a context-aware exec.Cmd with a custom socket.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.CommandContext(ctx, "tmux", fullArgs...)
}

// SandboxSocketName returns the socket name for a specific sandbox.
// Socket names follow the format "squadron-{sandboxID}".
func SandboxSocketName(sandboxID string) string {
	return SocketPrefix + "-" + sandboxID
}

// IsSandboxSocket returns true if the socket name is a sandbox-specific socket.
func IsSandboxSocket(socket string) bool {
	return strings.HasPrefix(socket, SocketPrefix+"-") && socket != SocketName
}

// ExtractSandboxID extracts the sandbox ID from a sandbox socket name.
// Returns empty string if the socket is not a sandbox socket.
func ExtractSandboxID(socket string) string {
	prefix := SocketPrefix + "-"
	if id, found := strings.CutPrefix(socket, prefix); found {
		return id
	}
	return ""
}

// ListSquadronSockets returns all tmux sockets that belong to Squadron
// sandboxes. It searches the tmux socket directory for sockets matching
// "squadron-*".
func ListSquadronSockets() ([]string, error) {
	socketDir, err := getSocketDir()
	if err != nil {
		return nil, err
	}

	pattern := filepath.Join(socketDir, SocketPrefix+"-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	// Also include the default socket if it exists
	defaultSocket := filepath.Join(socketDir, SocketName)
	if _, err := os.Stat(defaultSocket); err == nil {
		matches = append(matches, defaultSocket)
	}

	sockets := make([]string, 0, len(matches))
	for _, match := range matches {
		sockets = append(sockets, filepath.Base(match))
	}
	return sockets, nil
}

// getSocketDir returns the tmux socket directory for the current user.
func getSocketDir() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	// tmux uses /tmp/tmux-{uid}/ for sockets
	return filepath.Join("/tmp", "tmux-"+u.Uid), nil
}

// NewSession starts a detached session on the given socket, bound to dir
// as its working directory.
func NewSession(socket, session, dir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return CommandContextWithSocket(ctx, socket, "new-session", "-d", "-s", session, "-c", dir).Run()
}

// HasSession reports whether a session exists on the socket.
func HasSession(socket, session string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return CommandContextWithSocket(ctx, socket, "has-session", "-t", session).Run() == nil
}

// ListSessions returns the session names on a socket. A missing server
// yields an empty list, not an error.
func ListSessions(socket string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	output, err := CommandContextWithSocket(ctx, socket, "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		return nil
	}

	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions
}

// SendKeys types keys into a session's active pane.
func SendKeys(socket, session string, keys ...string) error {
	args := append([]string{"send-keys", "-t", session}, keys...)
	return CommandWithSocket(socket, args...).Run()
}

// CapturePane returns the current contents of a session's active pane,
// including scrollback up to the given number of lines.
func CapturePane(socket, session string, scrollback int) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	args := []string{"capture-pane", "-t", session, "-p"}
	if scrollback > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(scrollback))
	}
	output, err := CommandContextWithSocket(ctx, socket, args...).Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}
