// Package tui is the live team viewer: a bubbletea program showing each
// agent's terminal stream (fed by the broadcast hub) with progress from
// the event bus.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/hub"
)

// App wraps the bubbletea program and its feeds.
type App struct {
	program *tea.Program
	hub     *hub.Hub
	bus     *event.Bus
	teamID  string
	tabs    []AgentTab
}

// New creates a viewer app for one team. onQuit is invoked when the
// user quits while the team is still running.
func New(h *hub.Hub, bus *event.Bus, teamID string, tabs []AgentTab, onQuit func()) *App {
	model := NewModel(teamID, tabs, onQuit)
	return &App{
		program: tea.NewProgram(model, tea.WithAltScreen()),
		hub:     h,
		bus:     bus,
		teamID:  teamID,
		tabs:    tabs,
	}
}

// Run connects the feeds and blocks until the viewer exits.
//
// Every tab attaches to the hub up front; agents that already streamed
// replay their buffered history, the rest go live with their first
// output.
func (a *App) Run() error {
	disconnects := make([]func(), 0, len(a.tabs))
	for _, tab := range a.tabs {
		ch, cancel := a.hub.Connect(tab.ID)
		disconnects = append(disconnects, cancel)
		go a.pump(tab.ID, ch)
	}
	defer func() {
		for _, cancel := range disconnects {
			cancel()
		}
	}()

	if a.bus != nil {
		subID := a.bus.SubscribeAll(func(e event.Event) {
			switch ev := e.(type) {
			case event.AgentProgressEvent:
				if ev.TeamID == a.teamID {
					a.program.Send(ProgressMsg(ev))
				}
			case event.TeamCompletedEvent:
				if ev.TeamID == a.teamID {
					a.program.Send(TeamDoneMsg{Status: "completed"})
				}
			case event.TeamStoppedEvent:
				if ev.TeamID == a.teamID {
					a.program.Send(TeamDoneMsg{Status: "stopped"})
				}
			}
		})
		defer a.bus.Unsubscribe(subID)
	}

	_, err := a.program.Run()
	return err
}

func (a *App) pump(agentID string, ch <-chan hub.Message) {
	for msg := range ch {
		switch msg.Kind {
		case hub.KindData:
			a.program.Send(TerminalMsg{AgentID: agentID, Data: msg.Data})
		case hub.KindClear:
			a.program.Send(TerminalMsg{AgentID: agentID, Data: []byte("\n--- cleared ---\n")})
		case hub.KindClosed:
			return
		}
	}
}
