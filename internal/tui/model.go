package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/squadron-dev/squadron/internal/event"
	"github.com/squadron-dev/squadron/internal/tui/styles"
)

// maxOutputBytes bounds the retained terminal output per agent.
const maxOutputBytes = 256 * 1024

// AgentTab is one watchable agent.
type AgentTab struct {
	ID   string
	Role string
}

// Messages delivered from outside the bubbletea loop.
type (
	// TerminalMsg carries one chunk of an agent's terminal output.
	TerminalMsg struct {
		AgentID string
		Data    []byte
	}

	// ProgressMsg mirrors an agent.progress event.
	ProgressMsg event.AgentProgressEvent

	// TeamDoneMsg reports the team reaching a terminal state.
	TeamDoneMsg struct {
		Status string
	}
)

type agentState struct {
	progress int
	status   string
	task     string
}

// Model is the live team viewer: one tab per agent, the active tab's
// terminal stream in a scrollable viewport.
type Model struct {
	teamID string
	tabs   []AgentTab

	activeTab int
	viewport  viewport.Model
	spinner   spinner.Model
	outputs   map[string]string
	agents    map[string]agentState
	width     int
	height    int
	ready     bool
	quitting  bool
	done      string

	// onQuit runs when the user quits before the team finishes.
	onQuit func()
}

// NewModel creates a viewer for one team's agents.
func NewModel(teamID string, tabs []AgentTab, onQuit func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Primary
	return Model{
		teamID:  teamID,
		tabs:    tabs,
		spinner: sp,
		outputs: make(map[string]string),
		agents:  make(map[string]agentState),
		onQuit:  onQuit,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done == "" && m.onQuit != nil {
				m.onQuit()
			}
			m.quitting = true
			return m, tea.Quit
		case "tab", "right":
			m.activeTab = (m.activeTab + 1) % len(m.tabs)
			m.syncViewport()
		case "shift+tab", "left":
			m.activeTab = (m.activeTab - 1 + len(m.tabs)) % len(m.tabs)
			m.syncViewport()
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 4
		m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-2)
		m.ready = true
		m.syncViewport()

	case TerminalMsg:
		buf := m.outputs[msg.AgentID] + string(msg.Data)
		if len(buf) > maxOutputBytes {
			buf = buf[len(buf)-maxOutputBytes:]
		}
		m.outputs[msg.AgentID] = buf
		if m.activeAgent().ID == msg.AgentID {
			m.syncViewport()
			m.viewport.GotoBottom()
		}

	case ProgressMsg:
		m.agents[msg.AgentID] = agentState{
			progress: msg.Progress,
			status:   msg.Status,
			task:     msg.CurrentTask,
		}

	case TeamDoneMsg:
		m.done = msg.Status

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.outputs[m.activeAgent().ID])
}

func (m Model) activeAgent() AgentTab {
	if len(m.tabs) == 0 {
		return AgentTab{}
	}
	return m.tabs[m.activeTab]
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(styles.Title.Render(fmt.Sprintf("squadron team %s", m.teamID)))
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(styles.Pane.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	rendered := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		label := tab.Role
		if st, ok := m.agents[tab.ID]; ok {
			label = fmt.Sprintf("%s %d%%", tab.Role, st.progress)
		}
		if i == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(label))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderStatusBar() string {
	if m.done != "" {
		return styles.StatusBar.Render(fmt.Sprintf("team %s · q to exit", m.done))
	}
	active := m.activeAgent()
	st := m.agents[active.ID]
	status := st.status
	if status == "" {
		status = "ready"
	}
	line := fmt.Sprintf("%s %s", m.spinner.View(),
		lipgloss.NewStyle().Foreground(styles.ForAgentStatus(status)).Render(status))
	if st.task != "" {
		line += styles.StatusBar.Render(" · " + st.task)
	}
	return line + styles.StatusBar.Render(" · tab to switch · q to stop and quit")
}
