package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"biominer/internal/client"
	"biominer/pkg/training"
)

const portFile = "/tmp/biominer-host.port"

const pollInterval = 2 * time.Second

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#34D399")).
			Padding(0, 2).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#34D399")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	copyNoticeStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#10B981")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 2).
			Bold(true)
)

// Model represents the monitor state
type Model struct {
	API          *client.APIClient
	Port         int
	Connected    bool
	Status       *client.StatusResponse
	Health       *client.HealthResponse
	Session      *training.Session
	LastErr      string
	ResourceData string
	LogView      viewport.Model
	LogLines     []string

	ShowCopyNotice bool
	Width          int
	Height         int
}

type statusMsg struct {
	status  *client.StatusResponse
	health  *client.HealthResponse
	session *training.Session
	err     error
}

type resourceMsg struct{ data string }

type hideCopyNoticeMsg struct{}

// readHostPort reads the port biominer-host wrote at startup
func readHostPort(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("host port file not found (is biominer-host running?): %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in %s: %q", filepath.Base(path), strings.TrimSpace(string(data)))
	}
	return port, nil
}

func newModel(port int) Model {
	logView := viewport.New(78, 10)
	logView.Style = panelStyle

	return Model{
		API:      client.NewAPIClient(port),
		Port:     port,
		LogView:  logView,
		LogLines: []string{"Waiting for first poll..."},
		Width:    82,
		Height:   24,
	}
}

// Init starts the poll and resource tickers
func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.ClearScreen, m.pollHost(), m.updateResourceData())
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			if m.Session != nil {
				_ = clipboard.WriteAll(sessionSummary(m.Session))
				m.ShowCopyNotice = true
				cmds = append(cmds, tea.Tick(2*time.Second, func(time.Time) tea.Msg {
					return hideCopyNoticeMsg{}
				}))
			}
		case "up", "k":
			m.LogView.LineUp(1)
		case "down", "j":
			m.LogView.LineDown(1)
		case "pgup":
			m.LogView.ViewUp()
		case "pgdown":
			m.LogView.ViewDown()
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.LogView.Width = msg.Width - 4
		logHeight := msg.Height - 14
		if logHeight < 4 {
			logHeight = 4
		}
		m.LogView.Height = logHeight

	case statusMsg:
		if msg.err != nil {
			if m.Connected {
				m.appendLog(fmt.Sprintf("[%s] Lost connection: %v", time.Now().Format("15:04:05"), msg.err))
			}
			m.Connected = false
			m.LastErr = msg.err.Error()
		} else {
			if !m.Connected {
				m.appendLog(fmt.Sprintf("[%s] Connected to biominer-host on port %d", time.Now().Format("15:04:05"), m.Port))
			}
			m.Connected = true
			m.LastErr = ""
			m.logTransitions(msg)
			m.Status = msg.status
			m.Health = msg.health
			m.Session = msg.session
		}
		cmds = append(cmds, m.pollHost())

	case resourceMsg:
		m.ResourceData = msg.data
		cmds = append(cmds, m.updateResourceData())

	case hideCopyNoticeMsg:
		m.ShowCopyNotice = false
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) appendLog(line string) {
	m.LogLines = append(m.LogLines, line)
	if len(m.LogLines) > 500 {
		m.LogLines = m.LogLines[len(m.LogLines)-500:]
	}
	m.LogView.SetContent(strings.Join(m.LogLines, "\n"))
	m.LogView.GotoBottom()
}

// logTransitions records state changes between consecutive polls
func (m *Model) logTransitions(msg statusMsg) {
	now := time.Now().Format("15:04:05")

	if msg.status != nil && m.Status != nil {
		if msg.status.Attempts > m.Status.Attempts {
			m.appendLog(fmt.Sprintf("[%s] Mining attempt #%d (%s hashes, %s)",
				now, msg.status.Attempts,
				formatCount(msg.status.TotalHashes),
				formatHashRate(msg.status.LastHashRate)))
		}
		if msg.status.Successes > m.Status.Successes {
			m.appendLog(fmt.Sprintf("[%s] Nonce found! total successes: %d", now, msg.status.Successes))
		}
		if msg.status.ActiveSource != m.Status.ActiveSource {
			m.appendLog(fmt.Sprintf("[%s] Active source switched to %s", now, msg.status.ActiveSource))
		}
	}

	if msg.session != nil {
		prev := m.Session
		if prev == nil || prev.SessionID != msg.session.SessionID {
			m.appendLog(fmt.Sprintf("[%s] Training session %s started (%d blocks from height %d)",
				now, msg.session.SessionID, msg.session.Count, msg.session.StartHeight))
		} else if prev.Status != msg.session.Status {
			m.appendLog(fmt.Sprintf("[%s] Training session %s: %s -> %s",
				now, msg.session.SessionID, prev.Status, msg.session.Status))
		}
		if prev != nil && prev.SessionID == msg.session.SessionID &&
			len(msg.session.ValidationResults) > len(prev.ValidationResults) {
			vr := msg.session.ValidationResults[len(msg.session.ValidationResults)-1]
			m.appendLog(fmt.Sprintf("[%s] Validation pass: avg distance %.4f, success rate %.1f%%",
				now, vr.AvgDistance, vr.SuccessRate*100))
		}
	}
}

// pollHost fetches the host status, health and session on a timer
func (m Model) pollHost() tea.Cmd {
	api := m.API
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		status, err := api.GetStatus()
		if err != nil {
			return statusMsg{err: err}
		}
		health, err := api.GetHealth()
		if err != nil {
			return statusMsg{err: err}
		}
		// Session is optional: 404 before the first training run
		session, _ := api.GetSession()
		return statusMsg{status: status, health: health, session: session}
	})
}

func (m Model) updateResourceData() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		cpuPercent, _ := psutil.Percent(0, false)
		memInfo, _ := psmem.VirtualMemory()

		cpu := 0.0
		if len(cpuPercent) > 0 {
			cpu = cpuPercent[0]
		}
		mem := 0.0
		if memInfo != nil {
			mem = memInfo.UsedPercent
		}
		return resourceMsg{fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%% | Go: %s", cpu, mem, runtime.Version())}
	})
}

// View renders the monitor
func (m Model) View() string {
	var b strings.Builder

	header := headerStyle.Width(m.Width).Render("BioMiner Monitor")
	b.WriteString(header + "\n")

	b.WriteString(m.renderStatusPanel() + "\n")
	b.WriteString(m.renderTrainingPanel() + "\n")
	b.WriteString(m.LogView.View() + "\n")

	footer := m.ResourceData
	if footer == "" {
		footer = "Gathering host resources..."
	}
	footer += " | q: quit | c: copy session | up/down: scroll"
	b.WriteString(footerStyle.Width(m.Width).Render(ansi.Truncate(footer, m.Width-4, "...")))

	if m.ShowCopyNotice {
		b.WriteString("\n" + copyNoticeStyle.Render("✓ Copied to clipboard"))
	}

	return b.String()
}

func (m Model) renderStatusPanel() string {
	var b strings.Builder

	if !m.Connected {
		b.WriteString(errStyle.Render("● Disconnected"))
		if m.LastErr != "" {
			b.WriteString("  " + labelStyle.Render(ansi.Truncate(m.LastErr, m.Width-20, "...")))
		}
		return panelStyle.Width(m.Width - 2).Render(b.String())
	}

	state := okStyle.Render("● Healthy")
	if m.Health != nil && m.Health.Status != "healthy" {
		state = warnStyle.Render("● " + m.Health.Status)
	}
	b.WriteString(state)

	if m.Status != nil {
		b.WriteString("  " + labelStyle.Render("source:") + " " + valueStyle.Render(m.Status.ActiveSource))
		b.WriteString("  " + labelStyle.Render("uptime:") + " " + valueStyle.Render(m.Status.Uptime))
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("attempts:") + " " + valueStyle.Render(strconv.FormatUint(m.Status.Attempts, 10)))
		b.WriteString("  " + labelStyle.Render("successes:") + " " + valueStyle.Render(strconv.FormatUint(m.Status.Successes, 10)))
		b.WriteString("  " + labelStyle.Render("hashes:") + " " + valueStyle.Render(formatCount(m.Status.TotalHashes)))
		b.WriteString("  " + labelStyle.Render("rate:") + " " + valueStyle.Render(formatHashRate(m.Status.LastHashRate)))
		b.WriteString("  " + labelStyle.Render("memory:") + " " + valueStyle.Render(strconv.Itoa(m.Status.MemorySize)+" patterns"))
	}

	return panelStyle.Width(m.Width - 2).Render(b.String())
}

func (m Model) renderTrainingPanel() string {
	var b strings.Builder

	if m.Session == nil {
		b.WriteString(labelStyle.Render("No training session"))
		return panelStyle.Width(m.Width - 2).Render(b.String())
	}

	s := m.Session
	b.WriteString(labelStyle.Render("session:") + " " + valueStyle.Render(s.SessionID))
	b.WriteString("  " + labelStyle.Render("status:") + " " + renderSessionStatus(string(s.Status)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("progress:") + " " + valueStyle.Render(renderProgressBar(s.BlocksTrained, s.Count, 30)))
	b.WriteString(fmt.Sprintf(" %d/%d blocks", s.BlocksTrained, s.Count))
	if s.BlocksTrained > 0 {
		b.WriteString("  " + labelStyle.Render("avg loss:") + " " + valueStyle.Render(fmt.Sprintf("%.4f", s.AvgLoss)))
	}
	if s.Status == training.StatusComplete {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("improvement:") + " " + okStyle.Render(fmt.Sprintf("%+.1f%%", s.ImprovementPercent)))
		b.WriteString(fmt.Sprintf("  (distance %.4f -> %.4f)", s.AvgDistanceBefore, s.AvgDistanceAfter))
	}
	if s.ErrorMessage != "" {
		b.WriteString("\n" + errStyle.Render(ansi.Truncate(s.ErrorMessage, m.Width-10, "...")))
	}

	return panelStyle.Width(m.Width - 2).Render(b.String())
}

func renderSessionStatus(status string) string {
	switch status {
	case string(training.StatusComplete):
		return okStyle.Render(status)
	case string(training.StatusError), string(training.StatusStopped):
		return errStyle.Render(status)
	default:
		return warnStyle.Render(status)
	}
}

// renderProgressBar draws a fixed-width bar like [=====>    ]
func renderProgressBar(done, total, width int) string {
	if total <= 0 || width <= 2 {
		return "[]"
	}
	if done > total {
		done = total
	}
	if done < 0 {
		done = 0
	}
	inner := width - 2
	filled := done * inner / total
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < inner; i++ {
		switch {
		case i < filled:
			b.WriteByte('=')
		case i == filled && done < total:
			b.WriteByte('>')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')
	return b.String()
}

// formatHashRate renders a hashes-per-second figure with a unit suffix
func formatHashRate(rate float64) string {
	switch {
	case rate >= 1e9:
		return fmt.Sprintf("%.2f GH/s", rate/1e9)
	case rate >= 1e6:
		return fmt.Sprintf("%.2f MH/s", rate/1e6)
	case rate >= 1e3:
		return fmt.Sprintf("%.2f kH/s", rate/1e3)
	default:
		return fmt.Sprintf("%.0f H/s", rate)
	}
}

// formatCount renders a large counter with a thousands suffix
func formatCount(n uint64) string {
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.1fk", float64(n)/1e3)
	default:
		return strconv.FormatUint(n, 10)
	}
}

// sessionSummary builds the plain-text snapshot used for clipboard copy
func sessionSummary(s *training.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Training session %s\n", s.SessionID)
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	fmt.Fprintf(&b, "Blocks: %d/%d from height %d\n", s.BlocksTrained, s.Count, s.StartHeight)
	fmt.Fprintf(&b, "Avg loss: %.4f\n", s.AvgLoss)
	if len(s.ValidationResults) > 0 {
		fmt.Fprintf(&b, "Distance before/after: %.4f / %.4f\n", s.AvgDistanceBefore, s.AvgDistanceAfter)
		fmt.Fprintf(&b, "Success rate before/after: %.1f%% / %.1f%%\n",
			s.SuccessRateBefore*100, s.SuccessRateAfter*100)
		fmt.Fprintf(&b, "Improvement: %+.1f%%\n", s.ImprovementPercent)
	}
	return b.String()
}

func main() {
	port, err := readHostPort(portFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(port), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor error: %v\n", err)
		os.Exit(1)
	}
}
