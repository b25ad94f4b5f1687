// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tandem/pkg/drive"
	"github.com/Thermoquad/tandem/pkg/link"
	"github.com/Thermoquad/tandem/pkg/vesc"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	refreshInterval = 100 * time.Millisecond
	stickStep       = 0.1
	dutyBarWidth    = 30
	eventLogLines   = 8
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// errorLogEntry is one line of the event log
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

type controlKeyMap struct {
	Forward key.Binding
	Reverse key.Binding
	Left    key.Binding
	Right   key.Binding
	Center  key.Binding
	Limit   key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k controlKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.Reverse, k.Left, k.Right, k.Center, k.Help, k.Quit}
}

func (k controlKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Forward, k.Reverse, k.Left, k.Right},
		{k.Center, k.Limit},
		{k.Help, k.Quit},
	}
}

func defaultControlKeys() controlKeyMap {
	return controlKeyMap{
		Forward: key.NewBinding(key.WithKeys("up", "w"), key.WithHelp("↑/w", "forward")),
		Reverse: key.NewBinding(key.WithKeys("down", "s"), key.WithHelp("↓/s", "reverse")),
		Left:    key.NewBinding(key.WithKeys("left", "a"), key.WithHelp("←/a", "left")),
		Right:   key.NewBinding(key.WithKeys("right", "d"), key.WithHelp("→/d", "right")),
		Center:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "center")),
		Limit:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "speed limit")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	machine  *link.Machine
	stick    *drive.Stick
	limiter  *drive.Limiter
	connInfo string

	// Snapshot taken on every refresh
	state       link.State
	peer        string
	firmware    vesc.FirmwareInfo
	primary     vesc.Values
	secondary   vesc.Values
	stats       vesc.Statistics
	left, right float64
	pairedAt    time.Time

	// Stick position as last set from the keyboard
	stickX, stickY float64

	leftBar      progress.Model
	rightBar     progress.Model
	limitInput   textinput.Model
	editingLimit bool
	keys         controlKeyMap
	help         help.Model

	errorLog      []errorLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type stateChangeMsg struct {
	from, to link.State
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(machine *link.Machine, stick *drive.Stick, limiter *drive.Limiter, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "50"
	ti.CharLimit = 3
	ti.Width = 5

	bar := func() progress.Model {
		return progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(dutyBarWidth),
			progress.WithoutPercentage(),
		)
	}

	return controlModel{
		machine:       machine,
		stick:         stick,
		limiter:       limiter,
		connInfo:      connInfo,
		state:         machine.State(),
		leftBar:       bar(),
		rightBar:      bar(),
		limitInput:    ti,
		keys:          defaultControlKeys(),
		help:          help.New(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editingLimit {
			return m.handleLimitKey(msg)
		}
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case controlTickMsg:
		m.refresh()
		return m, controlTickCmd()

	case stateChangeMsg:
		m.handleStateChange(msg)
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.stick.Center()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Forward):
		m.nudge(0, stickStep)
	case key.Matches(msg, m.keys.Reverse):
		m.nudge(0, -stickStep)
	case key.Matches(msg, m.keys.Left):
		m.nudge(-stickStep, 0)
	case key.Matches(msg, m.keys.Right):
		m.nudge(stickStep, 0)

	case key.Matches(msg, m.keys.Center):
		m.stick.Center()
		m.stickX, m.stickY = 0, 0

	case key.Matches(msg, m.keys.Limit):
		m.editingLimit = true
		m.limitInput.SetValue("")
		cmd := m.limitInput.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}

	return m, nil
}

// handleLimitKey edits the speed limit field. Enter applies, Esc cancels.
func (m controlModel) handleLimitKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editingLimit = false
		m.limitInput.Blur()
		return m, nil

	case "enter":
		m.editingLimit = false
		m.limitInput.Blur()
		m.applyLimit(m.limitInput.Value())
		return m, nil

	case "ctrl+c":
		m.stick.Center()
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.limitInput, cmd = m.limitInput.Update(msg)
	return m, cmd
}

func (m controlModel) View() string {
	if m.quitting {
		return "Stopping motors...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("TANDEM CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | ", m.connInfo)))
	s.WriteString(m.renderState(statsValueStyle, warningStyle, errorStyle))
	s.WriteString("\n\n")

	// Link | Drive
	panelWidth := max((m.width-6)/2, 30)
	linkPanel := boxStyle.Width(panelWidth).Render(m.renderLinkPanel(statsLabelStyle, statsValueStyle, headerStyle))
	drivePanel := boxStyle.Width(panelWidth).Render(m.renderDrivePanel(statsLabelStyle, statsValueStyle, warningStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, linkPanel, " ", drivePanel))
	s.WriteString("\n")

	// Telemetry, one panel per controller
	primaryPanel := boxStyle.Width(panelWidth).Render(m.renderTelemetry("PRIMARY", m.primary, statsLabelStyle, headerStyle))
	secondaryPanel := boxStyle.Width(panelWidth).Render(m.renderTelemetry("SECONDARY", m.secondary, statsLabelStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, primaryPanel, " ", secondaryPanel))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.help.View(m.keys))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderState(okStyle, warningStyle, errorStyle lipgloss.Style) string {
	switch m.state {
	case link.StatePaired:
		return okStyle.Render(m.state.String())
	case link.StateDisconnected:
		return errorStyle.Render(m.state.String())
	default:
		return warningStyle.Render(m.state.String())
	}
}

func (m controlModel) renderLinkPanel(statsLabelStyle, statsValueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("LINK"))
	s.WriteString("\n")

	if m.peer == "" {
		s.WriteString(headerStyle.Render("Searching for vehicle..."))
		return s.String()
	}
	fmt.Fprintf(&s, "%s %s\n", statsLabelStyle.Render("Peer:"), statsValueStyle.Render(m.peer))

	if m.firmware.Received.IsZero() {
		s.WriteString(headerStyle.Render("Firmware: waiting"))
	} else {
		fmt.Fprintf(&s, "%s %s %s\n",
			statsLabelStyle.Render("Firmware:"),
			statsValueStyle.Render(m.firmware.Version()),
			headerStyle.Render(m.firmware.Hardware))
	}

	if !m.pairedAt.IsZero() {
		fmt.Fprintf(&s, "%s %s",
			statsLabelStyle.Render("Paired for:"),
			statsValueStyle.Render(formatDuration(time.Since(m.pairedAt))))
	}
	return s.String()
}

func (m controlModel) renderDrivePanel(statsLabelStyle, statsValueStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("DRIVE"))
	s.WriteString("\n")

	fmt.Fprintf(&s, "%s %s %s\n", statsLabelStyle.Render("L"), m.leftBar.ViewAs(math.Abs(m.left)), dutyLabel(m.left))
	fmt.Fprintf(&s, "%s %s %s\n", statsLabelStyle.Render("R"), m.rightBar.ViewAs(math.Abs(m.right)), dutyLabel(m.right))

	fmt.Fprintf(&s, "%s x=%+.1f y=%+.1f  ", statsLabelStyle.Render("Stick:"), m.stickX, m.stickY)
	s.WriteString(statsLabelStyle.Render("Limit: "))
	if m.editingLimit {
		s.WriteString(m.limitInput.View())
		s.WriteString(warningStyle.Render(" % (enter/esc)"))
	} else {
		s.WriteString(statsValueStyle.Render(fmt.Sprintf("%.0f%%", m.limiter.Scale()*100)))
	}
	return s.String()
}

func dutyLabel(d float64) string {
	switch {
	case d > 0:
		return fmt.Sprintf("FWD %5.1f%%", d*100)
	case d < 0:
		return fmt.Sprintf("REV %5.1f%%", -d*100)
	default:
		return "    0.0%"
	}
}

func (m controlModel) renderTelemetry(title string, v vesc.Values, statsLabelStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render(title))
	s.WriteString("\n")

	if v.Updated.IsZero() {
		s.WriteString(headerStyle.Render("No telemetry data"))
		return s.String()
	}
	s.WriteString(strings.TrimRight(vesc.FormatValues(v), "\n"))
	fmt.Fprintf(&s, "\n%s", headerStyle.Render(fmt.Sprintf("  %s ago", time.Since(v.Updated).Round(100*time.Millisecond))))
	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalFrames)
	}

	errText := statsValueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), errText,
		statsLabelStyle.Render("Dropped:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.DroppedRecords)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f fr/s", m.stats.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
		return boxStyle.Width(m.width - 4).Render(s.String())
	}

	startIdx := max(len(m.errorLog)-eventLogLines, 0)
	for _, entry := range m.errorLog[startIdx:] {
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyleLocal
		}
		fmt.Fprintf(&s, "%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message)
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

// refresh copies the machine and controller state into the model.
func (m *controlModel) refresh() {
	m.state = m.machine.State()
	m.peer = ""
	if p := m.machine.Peer(); p != nil {
		m.peer = p.Address()
		if p.Name() != "" {
			m.peer += " (" + p.Name() + ")"
		}
	}
	m.left, m.right = m.machine.Duties()

	ctrl := m.machine.Controller()
	m.firmware = ctrl.Firmware()
	m.primary = ctrl.Values()
	m.secondary = ctrl.SecondaryValues()
	m.stats = ctrl.Stats()
}

func (m *controlModel) handleStateChange(msg stateChangeMsg) {
	m.state = msg.to

	switch msg.to {
	case link.StatePaired:
		m.pairedAt = time.Now()
		m.firmware = m.machine.Controller().Firmware()
		m.addLogEntry(fmt.Sprintf("Paired: firmware %s %s", m.firmware.Version(), m.firmware.Hardware), false)
	case link.StateDisconnected:
		m.pairedAt = time.Time{}
		if msg.from == link.StateFoundDevice {
			m.addLogEntry("Connection failed - retrying...", true)
		} else {
			m.addLogEntry(fmt.Sprintf("Link lost in %s - reconnecting...", msg.from), true)
		}
	case link.StateFoundDevice:
		if p := m.machine.Peer(); p != nil {
			m.addLogEntry(fmt.Sprintf("Found %s", p.Address()), false)
		}
	case link.StateInit:
	default:
		m.addLogEntry(fmt.Sprintf("%s -> %s", msg.from, msg.to), false)
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) nudge(dx, dy float64) {
	m.stickX, m.stickY = m.stick.Nudge(dx, dy)
}

// applyLimit sets the speed limit from a percentage.
func (m *controlModel) applyLimit(value string) {
	value = strings.TrimSpace(strings.TrimSuffix(value, "%"))
	if value == "" {
		return
	}
	pct, err := strconv.Atoi(value)
	if err != nil || pct < 0 || pct > 100 {
		m.addLogEntry(fmt.Sprintf("Invalid speed limit: %s (0-100)", value), true)
		return
	}
	m.limiter.SetScale(float64(pct) / 100)
	m.addLogEntry(fmt.Sprintf("Speed limit %d%%", pct), false)
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// formatDuration formats a duration as "2 hours, 5 minutes and 3 seconds"
func formatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := total / u.size
		total %= u.size
		if n == 0 && !(u.size == 1 && len(parts) == 0) {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + last
}
