// Package console is the interactive slot console: projects, their worker
// slots, and one-key heartbeat passes.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/usecase/orchestrator"
)

const maxAuditLines = 8

// Backend is the part of the orchestrator the console drives.
type Backend interface {
	Projects(ctx context.Context) ([]orchestrator.ProjectView, error)
	Tick(ctx context.Context) (orchestrator.TickReport, error)
	HealthScan(ctx context.Context, projectRef string) (orchestrator.HealthReport, error)
	ReviewPass(ctx context.Context, projectRef string) ([]orchestrator.ReviewOutcome, error)
}

type Options struct {
	Instance        string
	RefreshInterval time.Duration
}

type slotModel struct {
	ctx             context.Context
	backend         Backend
	instance        string
	refreshInterval time.Duration

	projects      []orchestrator.ProjectView
	selectedIndex int
	status        string
	busy          bool
	auditLogs     []string
	now           func() time.Time
}

type projectsLoadedMsg struct {
	items []orchestrator.ProjectView
	err   error
}

type tickMsg struct{}

type actionDoneMsg struct {
	action  string
	project string
	result  string
	err     error
}

func NewSlotModel(ctx context.Context, backend Backend, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &slotModel{
		ctx:             ctx,
		backend:         backend,
		instance:        firstNonEmpty(options.Instance, "-"),
		refreshInterval: interval,
		status:          "loading",
		now:             time.Now,
	}
}

func (m *slotModel) Init() tea.Cmd {
	return tea.Batch(m.loadProjectsCmd(), m.tickCmd())
}

func (m *slotModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadProjectsCmd(), m.tickCmd())
	case projectsLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.projects = msg.items
		if m.selectedIndex >= len(m.projects) {
			m.selectedIndex = len(m.projects) - 1
		}
		if m.selectedIndex < 0 {
			m.selectedIndex = 0
		}
		if !m.busy {
			m.status = fmt.Sprintf("%d projects, %d active slots", len(m.projects), activeSlots(m.projects))
		}
		return m, nil
	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
			m.appendAuditLog(msg.action, msg.project, "", msg.err)
		} else {
			m.status = fmt.Sprintf("%s done: %s", msg.action, msg.result)
			m.appendAuditLog(msg.action, msg.project, msg.result, nil)
		}
		return m, m.loadProjectsCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadProjectsCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.projects)-1 {
				m.selectedIndex++
			}
			return m, nil
		case "t":
			return m, m.tickNowCmd()
		case "h":
			return m, m.healthCmd()
		case "v":
			return m, m.reviewCmd()
		}
	}
	return m, nil
}

func (m *slotModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("issueflow slots"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf("instance=%s refresh=%s", m.instance, m.refreshInterval)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Projects"))
	builder.WriteString("\n")
	if len(m.projects) == 0 {
		builder.WriteString(dimStyle.Render("- no projects"))
		builder.WriteString("\n")
	}
	for index, p := range m.projects {
		line := fmt.Sprintf("%s (%s) repo=%s active=%d", p.Slug, firstNonEmpty(p.Name, p.Slug), firstNonEmpty(p.Repo, "-"), countActive(p))
		if index == m.selectedIndex {
			builder.WriteString(selectedStyle.Render("> " + line))
		} else {
			builder.WriteString("  " + line)
		}
		builder.WriteString("\n")
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Slots"))
	builder.WriteString("\n")
	if p, ok := m.selectedProject(); !ok || len(p.Slots) == 0 {
		builder.WriteString(dimStyle.Render("- no slots"))
		builder.WriteString("\n")
	} else {
		for _, slot := range p.Slots {
			line := fmt.Sprintf("%s:%s[%d] ", slot.Role, slot.Level, slot.Index)
			if slot.Active {
				line += activeStyle.Render(fmt.Sprintf("#%d since %s", slot.IssueID, firstNonEmpty(slot.Started, "?")))
			} else {
				line += dimStyle.Render("idle")
			}
			if slot.Session != "" {
				line += dimStyle.Render(" session=" + slot.Session)
			}
			builder.WriteString("  " + line + "\n")
		}
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Audit Log"))
	builder.WriteString("\n")
	if len(m.auditLogs) == 0 {
		builder.WriteString(dimStyle.Render("- no actions"))
		builder.WriteString("\n")
	}
	for _, line := range m.auditLogs {
		builder.WriteString("- " + line + "\n")
	}
	builder.WriteString("\n")

	builder.WriteString(dimStyle.Render("Keys: up/k down/j move  g refresh  t tick  h health scan  v review pass  q quit"))
	return builder.String()
}

func (m *slotModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *slotModel) loadProjectsCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.backend.Projects(m.ctx)
		return projectsLoadedMsg{items: items, err: err}
	}
}

func (m *slotModel) tickNowCmd() tea.Cmd {
	if m.busy {
		return nil
	}
	m.busy = true
	m.status = "running tick"
	return func() tea.Msg {
		report, err := m.backend.Tick(m.ctx)
		if err != nil {
			return actionDoneMsg{action: "tick", project: "*", err: err}
		}
		if report.Skipped {
			return actionDoneMsg{action: "tick", project: "*", result: "skipped, another tick is running"}
		}
		dispatched, reviewed := 0, 0
		for _, p := range report.Projects {
			dispatched += len(p.Dispatched)
			reviewed += len(p.Reviews)
		}
		return actionDoneMsg{
			action:  "tick",
			project: "*",
			result:  fmt.Sprintf("projects=%d dispatched=%d reviewed=%d failed=%d", len(report.Projects), dispatched, reviewed, report.Errors()),
		}
	}
}

func (m *slotModel) healthCmd() tea.Cmd {
	p, ok := m.selectedProject()
	if !ok || m.busy {
		return nil
	}
	m.busy = true
	m.status = "scanning " + p.Slug
	slug := p.Slug
	return func() tea.Msg {
		report, err := m.backend.HealthScan(m.ctx, slug)
		if err != nil {
			return actionDoneMsg{action: "health", project: slug, err: err}
		}
		return actionDoneMsg{
			action:  "health",
			project: slug,
			result:  fmt.Sprintf("reverted=%v released=%v stale=%v", report.Reverted, report.Released, report.Stale),
		}
	}
}

func (m *slotModel) reviewCmd() tea.Cmd {
	p, ok := m.selectedProject()
	if !ok || m.busy {
		return nil
	}
	m.busy = true
	m.status = "review pass on " + p.Slug
	slug := p.Slug
	return func() tea.Msg {
		outcomes, err := m.backend.ReviewPass(m.ctx, slug)
		if err != nil {
			return actionDoneMsg{action: "review", project: slug, err: err}
		}
		parts := make([]string, 0, len(outcomes))
		for _, o := range outcomes {
			parts = append(parts, fmt.Sprintf("#%d %s->%s", o.IssueID, o.From, o.To))
		}
		return actionDoneMsg{action: "review", project: slug, result: firstNonEmpty(strings.Join(parts, ", "), "no changes")}
	}
}

func (m *slotModel) selectedProject() (orchestrator.ProjectView, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.projects) {
		return orchestrator.ProjectView{}, false
	}
	return m.projects[m.selectedIndex], true
}

func (m *slotModel) appendAuditLog(action string, project string, result string, opErr error) {
	outcome := strings.TrimSpace(result)
	if opErr != nil {
		outcome = "error: " + opErr.Error()
	}
	if outcome == "" {
		outcome = "ok"
	}

	timestamp := m.now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s project=%s action=%s result=%s", timestamp, project, action, outcome)
	m.auditLogs = append([]string{line}, m.auditLogs...)
	if len(m.auditLogs) > maxAuditLines {
		m.auditLogs = m.auditLogs[:maxAuditLines]
	}

	logging.Info(m.ctx, "slot console action",
		slog.String("project", project),
		slog.String("action", action),
		slog.String("result", outcome),
	)
}

func countActive(p orchestrator.ProjectView) int {
	n := 0
	for _, s := range p.Slots {
		if s.Active {
			n++
		}
	}
	return n
}

func activeSlots(projects []orchestrator.ProjectView) int {
	n := 0
	for _, p := range projects {
		n += countActive(p)
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if normalized != "" {
			return normalized
		}
	}
	return ""
}
