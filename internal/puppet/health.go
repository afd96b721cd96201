package puppet

import (
	"context"
	"time"

	"github.com/squadron-dev/squadron/internal/config"
	"github.com/squadron-dev/squadron/internal/logging"
)

// HealthMonitor periodically probes idle agents. An agent that has been
// quiet past the idle threshold gets a short liveness exchange; a failed
// probe marks it unhealthy, and optionally kills and respawns it.
type HealthMonitor struct {
	manager       *Manager
	interval      time.Duration
	idleThreshold time.Duration
	probeTimeout  time.Duration
	respawn       bool
	log           *logging.Logger
}

// NewHealthMonitor builds a monitor from the agent configuration.
func NewHealthMonitor(m *Manager, cfg config.AgentConfig, log *logging.Logger) *HealthMonitor {
	if log == nil {
		log = logging.NopLogger()
	}
	return &HealthMonitor{
		manager:       m,
		interval:      cfg.HealthCheckInterval(),
		idleThreshold: cfg.IdleThreshold(),
		probeTimeout:  cfg.ProbeTimeout(),
		respawn:       cfg.RespawnUnhealthy,
		log:           log,
	}
}

// Run probes until ctx is cancelled.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *HealthMonitor) sweep(ctx context.Context) {
	for _, a := range h.manager.List() {
		if !h.shouldProbe(a) {
			continue
		}
		if err := h.manager.probe(ctx, a.ID, h.probeTimeout); err != nil {
			h.handleUnhealthy(a, err)
			continue
		}
		h.manager.touch(a.ID)
	}
}

// shouldProbe skips agents that are mid-call, already dead, or recently
// active. Probing a working agent would race its one-shot process for
// the working directory.
func (h *HealthMonitor) shouldProbe(a *Agent) bool {
	switch a.Status {
	case StatusWorking, StatusStopped, StatusInitializing:
		return false
	}
	return time.Since(a.LastActivity) >= h.idleThreshold
}

func (h *HealthMonitor) handleUnhealthy(a *Agent, probeErr error) {
	h.log.WithAgent(a.ID).Warn("liveness probe failed", "role", a.Role, "error", probeErr)
	h.manager.setStatus(a.ID, StatusUnhealthy)

	if !h.respawn {
		return
	}
	if _, err := h.manager.Respawn(a.ID); err != nil {
		h.log.WithAgent(a.ID).Error("respawn failed", "error", err)
		return
	}
	h.log.WithAgent(a.ID).Info("agent respawned after failed probe")
}
