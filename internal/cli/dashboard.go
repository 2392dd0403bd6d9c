package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"jobx-market/internal/model"
	"jobx-market/internal/summary"
)

const dashboardEvents = 8

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type outcomeMsg model.TaskOutcome

type batchMsg struct {
	index int
	total int
}

type runDoneMsg struct{}

// dashboardModel is the live tally shown while a run is in progress.
type dashboardModel struct {
	spinner spinner.Model
	width   int

	tasks     int
	searched  int
	succeeded int
	failed    int
	jobs      int
	salary    int
	batch     int
	batches   int
	events    []string

	stopping    bool
	finished    bool
	onInterrupt func()

	started time.Time
	now     func() time.Time
}

func newDashboardModel(tasks int, onInterrupt func()) dashboardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dashTitleStyle
	return dashboardModel{
		spinner:     sp,
		width:       100,
		tasks:       tasks,
		events:      make([]string, 0, dashboardEvents),
		onInterrupt: onInterrupt,
		started:     time.Now(),
		now:         time.Now,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.stopping = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case batchMsg:
		m.batch = msg.index
		m.batches = msg.total
		return m, nil
	case outcomeMsg:
		m.record(model.TaskOutcome(msg))
		return m, nil
	case runDoneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *dashboardModel) record(o model.TaskOutcome) {
	m.searched++
	var line string
	if o.Success {
		m.succeeded++
		m.jobs += o.RowCount
		m.salary += o.SalaryRowCount
		line = dashOKStyle.Render("ok  ") + fmt.Sprintf(" %s (%s) %d jobs, %d with salary", o.Task.LocationName, o.Task.ZipCode, o.RowCount, o.SalaryRowCount)
	} else {
		m.failed++
		line = dashErrorStyle.Render("fail") + fmt.Sprintf(" %s (%s) [%s] %s", o.Task.LocationName, o.Task.ZipCode, o.Category, o.Error)
	}
	m.events = append([]string{line}, m.events...)
	if len(m.events) > dashboardEvents {
		m.events = m.events[:dashboardEvents]
	}
}

func (m dashboardModel) View() string {
	elapsed := m.now().Sub(m.started).Seconds()
	status := m.spinner.View() + " searching"
	if m.finished {
		status = dashOKStyle.Render("done")
	}

	header := dashTitleStyle.Render("jobx-market live") + "  " + status
	counts := fmt.Sprintf("batch %d/%d | searched %d/%d | ok %d | failed %d | jobs %d (%d with salary) | elapsed %s",
		m.batch, m.batches, m.searched, m.tasks, m.succeeded, m.failed, m.jobs, m.salary, summary.FormatDuration(elapsed))

	lines := []string{header, dashMutedStyle.Render(counts)}
	if m.stopping && !m.finished {
		lines = append(lines, dashErrorStyle.Render("stopping after the current batch (ctrl+c again exits now)"))
	}

	var events string
	if len(m.events) == 0 {
		events = dashMutedStyle.Render("(no results yet)")
	} else {
		events = strings.Join(m.events, "\n")
	}
	lines = append(lines, dashPanelStyle.Width(max(m.width-2, 20)).Render(events))
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}
