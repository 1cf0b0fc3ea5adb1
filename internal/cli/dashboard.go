package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/internal/observability"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

// Dashboard panel indices.
const (
	panelJobs = iota
	panelMetrics
	panelAlerts
	panelCount
)

// jobConfirmed is the dashboard bucket for jobs whose persona was confirmed.
const jobConfirmed = "confirmed"

var jobBucketOrder = []string{
	string(models.JobQueued),
	string(models.JobRunning),
	string(models.JobAwaitingSelection),
	string(models.JobDone),
	jobConfirmed,
	string(models.JobError),
}

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	jobCounts   map[string]int
	metricsData *metricsSnapshot
	alerts      []alertSnapshot

	loading bool
	err     error
}

type metricsSnapshot struct {
	jobsUploaded      int
	personasConfirmed int
	chatSessions      int
	streamsCompleted  int
	streamsFailed     int
	avgStreamMillis   int64
	agentMessages     int
	eventCount        int
}

type alertSnapshot struct {
	severity string
	message  string
	time     string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	jobCounts map[string]int
	metrics   *metricsSnapshot
	alerts    []alertSnapshot
	err       error
}

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelJobs,
		loading:     true,
		jobCounts:   make(map[string]int),
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.jobCounts = msg.jobCounts
		m.metricsData = msg.metrics
		m.alerts = msg.alerts
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" mtalk Dashboard ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	jobsPanel := m.renderJobsPanel()
	metricsPanel := m.renderMetricsPanel()
	alertsPanel := m.renderAlertsPanel()

	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		colWidth := availableWidth / 3
		jobsPanel = m.applyPanelStyle(panelJobs, jobsPanel, colWidth-4)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, colWidth-4)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, jobsPanel, metricsPanel, alertsPanel)
	} else {
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		jobsPanel = m.applyPanelStyle(panelJobs, jobsPanel, panelWidth)
		metricsPanel = m.applyPanelStyle(panelMetrics, metricsPanel, panelWidth)
		alertsPanel = m.applyPanelStyle(panelAlerts, alertsPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, jobsPanel, metricsPanel, alertsPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderJobsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Jobs (7d)"))
	b.WriteString("\n")

	if len(m.jobCounts) == 0 {
		b.WriteString("  No jobs found.")
		return b.String()
	}

	total := 0
	for _, bucket := range jobBucketOrder {
		count := m.jobCounts[bucket]
		if count == 0 {
			continue
		}
		total += count
		style := statusDone
		if bucket != jobConfirmed {
			style = jobStatusStyle(models.JobStatus(bucket))
		}
		b.WriteString(style.Render(fmt.Sprintf("  %-20s %d", bucket, count)))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n  Total: %d", total)

	return b.String()
}

func (m dashboardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metricsData == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metricsData
	lines := []struct {
		label string
		value string
	}{
		{"Events", fmt.Sprint(md.eventCount)},
		{"Uploaded", fmt.Sprint(md.jobsUploaded)},
		{"Confirmed", fmt.Sprint(md.personasConfirmed)},
		{"Sessions", fmt.Sprint(md.chatSessions)},
		{"Replies", fmt.Sprintf("%d ok, %d failed", md.streamsCompleted, md.streamsFailed)},
		{"Avg reply", fmt.Sprintf("%dms", md.avgStreamMillis)},
		{"Agent msgs", fmt.Sprint(md.agentMessages)},
	}

	for _, l := range lines {
		fmt.Fprintf(&b, "  %-14s %s\n", l.label, l.value)
	}

	return b.String()
}

func (m dashboardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := styleForSeverity(a.severity).Render(fmt.Sprintf("[%s]", strings.ToUpper(a.severity)))
		fmt.Fprintf(&b, "  %s %s\n", sev, a.message)
	}

	fmt.Fprintf(&b, "\n  Total: %d alert(s)", len(m.alerts))

	return b.String()
}

func styleForSeverity(severity string) lipgloss.Style {
	switch strings.ToLower(severity) {
	case "high":
		return severityHigh
	case "medium":
		return severityMedium
	case "low":
		return severityLow
	default:
		return lipgloss.NewStyle()
	}
}

// jobBuckets replays job events and returns how many jobs are in each
// state, counting a confirmed persona as its own bucket.
func jobBuckets(events []observability.Event) map[string]int {
	latest := make(map[string]string)
	for _, e := range events {
		id := e.JobID()
		if id == "" {
			continue
		}
		switch e.Type {
		case core.EventJobUploaded:
			if _, seen := latest[id]; !seen {
				latest[id] = string(models.JobQueued)
			}
		case core.EventJobStatusChanged:
			if s, ok := e.Data["new_status"].(string); ok && s != "" {
				latest[id] = s
			}
		case core.EventPersonaConfirmed:
			latest[id] = jobConfirmed
		}
	}

	counts := make(map[string]int)
	for _, s := range latest {
		counts[s]++
	}
	return counts
}

func loadData() tea.Msg {
	result := dataLoadedMsg{
		jobCounts: make(map[string]int),
	}
	since := time.Now().UTC().AddDate(0, 0, -7)

	if EventLog != nil {
		events, err := EventLog.Read(observability.EventFilter{Since: &since})
		if err != nil {
			result.err = fmt.Errorf("loading events: %w", err)
			return result
		}
		result.jobCounts = jobBuckets(events)
	}

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(since)
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = &metricsSnapshot{
			jobsUploaded:      metrics.JobsUploaded,
			personasConfirmed: metrics.PersonasConfirmed,
			chatSessions:      metrics.ChatSessions,
			streamsCompleted:  metrics.StreamsCompleted,
			streamsFailed:     metrics.StreamsFailed,
			avgStreamMillis:   metrics.AvgStreamMillis,
			agentMessages:     metrics.AgentMessages,
			eventCount:        metrics.EventCount,
		}
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = make([]alertSnapshot, 0, len(alerts))

		// High first, then medium, then low.
		sort.SliceStable(alerts, func(i, j int) bool {
			return severityRank(string(alerts[i].Severity)) < severityRank(string(alerts[j].Severity))
		})

		for _, a := range alerts {
			result.alerts = append(result.alerts, alertSnapshot{
				severity: string(a.Severity),
				message:  a.Message,
				time:     a.TriggeredAt.Format("2006-01-02 15:04 UTC"),
			})
		}
	}

	return result
}

func severityRank(s string) int {
	switch s {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for jobs, metrics and alerts",
	Long: `Launch an interactive terminal dashboard showing job states, chat metrics,
and alerts derived from the event log.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (observability may be disabled)")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
