package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/tmux"
)

// Metrics is one sample of a sandbox's resource usage.
type Metrics struct {
	CPUPercent float64
	MemoryMB   float64
	DiskMB     float64

	BuildArtifactMB  float64
	BuildArtifactAge time.Duration

	GitBranch  string
	GitCommits int
	GitDirty   int

	SampledAt time.Time
}

// buildArtifactDirs are checked for build output size/age.
var buildArtifactDirs = []string{"dist", "build", ".next", "out", "target"}

// Metrics returns the most recent sample for a sandbox.
func (m *Manager) Metrics(id string) (Metrics, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return Metrics{}, errors.NewSandboxError("unknown sandbox", errors.ErrSandboxNotFound).WithSandbox(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics, nil
}

// sampleMetrics runs for the sandbox's lifetime, publishing one
// metrics event per interval.
func (m *Manager) sampleMetrics(ctx context.Context, e *entry) {
	ticker := time.NewTicker(m.cfg.MetricsInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := collect(e.sandbox)
			e.mu.Lock()
			e.metrics = sample
			e.mu.Unlock()
			if m.bus != nil {
				m.bus.Publish(event.NewSandboxMetricsEvent(
					e.sandbox.ID, sample.CPUPercent, sample.MemoryMB, sample.DiskMB))
			}
		}
	}
}

func collect(sb Sandbox) Metrics {
	sample := Metrics{SampledAt: time.Now()}

	pids := tmux.CollectProcessTree(sb.Socket, sessionName)
	sample.CPUPercent, sample.MemoryMB = processUsage(pids)
	sample.DiskMB = float64(dirSize(sb.Dir)) / (1024 * 1024)

	if size, age, ok := buildArtifacts(sb.Dir); ok {
		sample.BuildArtifactMB = float64(size) / (1024 * 1024)
		sample.BuildArtifactAge = age
	}

	sample.GitBranch = gitQuery(sb.Dir, "rev-parse", "--abbrev-ref", "HEAD")
	if n := gitQuery(sb.Dir, "rev-list", "--count", "HEAD"); n != "" {
		sample.GitCommits, _ = strconv.Atoi(n)
	}
	if status := gitQuery(sb.Dir, "status", "--porcelain"); status != "" {
		sample.GitDirty = len(strings.Split(status, "\n"))
	}
	return sample
}

// processUsage sums %cpu and rss over the given pids via the process
// table.
func processUsage(pids []int) (cpu, memMB float64) {
	if len(pids) == 0 {
		return 0, 0
	}
	args := make([]string, 0, len(pids))
	for _, pid := range pids {
		args = append(args, strconv.Itoa(pid))
	}
	out, err := exec.Command("ps", "-o", "%cpu=,rss=", "-p", strings.Join(args, ",")).Output()
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if c, err := strconv.ParseFloat(fields[0], 64); err == nil {
			cpu += c
		}
		if rssKB, err := strconv.ParseFloat(fields[1], 64); err == nil {
			memMB += rssKB / 1024
		}
	}
	return cpu, memMB
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// buildArtifacts reports the size and age of the newest known build
// output directory, if any exists.
func buildArtifacts(dir string) (size int64, age time.Duration, ok bool) {
	var newest time.Time
	for _, name := range buildArtifactDirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		ok = true
		size += dirSize(path)
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if ok {
		age = time.Since(newest)
	}
	return size, age, ok
}

func gitQuery(dir string, args ...string) string {
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
