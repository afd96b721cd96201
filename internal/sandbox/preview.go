package sandbox

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/tmux"
)

// PortPool hands out preview ports from a fixed contiguous range.
// Reservation happens before bind; an OS-level probe catches ports
// taken by processes outside the pool's knowledge.
type PortPool struct {
	mu       sync.Mutex
	start    int
	size     int
	reserved map[int]bool

	// probe is swappable for tests.
	probe func(port int) bool
}

func NewPortPool(start, size int) *PortPool {
	return &PortPool{
		start:    start,
		size:     size,
		reserved: make(map[int]bool),
		probe:    portFree,
	}
}

// Reserve returns the first free, bindable port in the range.
func (p *PortPool) Reserve() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.start; port < p.start+p.size; port++ {
		if p.reserved[port] {
			continue
		}
		if !p.probe(port) {
			continue
		}
		p.reserved[port] = true
		return port, nil
	}
	return 0, errors.ErrNoPortsAvailable
}

// Release returns a port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	delete(p.reserved, port)
	p.mu.Unlock()
}

// Reserved returns how many ports are currently held.
func (p *PortPool) Reserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

const (
	readinessTimeout  = 30 * time.Second
	readinessInterval = 500 * time.Millisecond
)

// startPreview launches the preview command inside the sandbox session
// and polls the allocated port until the server answers.
func (m *Manager) startPreview(ctx context.Context, sb *Sandbox, command string) (int, string, error) {
	port, err := m.ports.Reserve()
	if err != nil {
		return 0, "", errors.NewSandboxError("preview port allocation failed", err).WithSandbox(sb.ID)
	}

	cmd := strings.ReplaceAll(command, "{port}", strconv.Itoa(port))
	if err := tmux.SendKeys(sb.Socket, sessionName, cmd, "Enter"); err != nil {
		m.ports.Release(port)
		return 0, "", errors.NewSandboxError("failed to launch preview command", err).WithSandbox(sb.ID)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	if err := waitReady(ctx, url); err != nil {
		m.ports.Release(port)
		return 0, "", errors.NewSandboxError("preview server never became ready", err).WithSandbox(sb.ID)
	}
	return port, url, nil
}

// waitReady polls until the server answers 200 or 404 (a served app
// with no root route still counts as up) or the timeout elapses.
func waitReady(ctx context.Context, url string) error {
	deadline := time.Now().Add(readinessTimeout)
	client := &http.Client{Timeout: readinessInterval}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessInterval):
		}
	}
	return errors.NewTimeoutError("preview readiness", readinessTimeout)
}
