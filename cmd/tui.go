// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *ramses.Statistics
	zones         *zoneTable
	errorLog      []errorLogEntry
	maxLogEntries int
	logView       viewport.Model
	synchronized  bool
	invalidLines  int
	streamEnded   bool
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type lineDataMsg lineEvent
type syncMsg struct {
	invalidLines int
}
type streamEndMsg struct {
	err error
}

// Shared styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// formatUptime formats a duration to a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	units := []struct {
		n    int64
		name string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
		{seconds, "second"},
	}

	parts := []string{}
	for _, u := range units {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         ramses.NewStatistics(),
		zones:         newZoneTable(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 500,
		logView:       viewport.New(76, 8),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		// Arrow keys and paging scroll the event log
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidLines = msg.invalidLines
		if msg.invalidLines > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid lines", msg.invalidLines), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case streamEndMsg:
		m.streamEnded = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Stream ended: %v", msg.err), true)
		} else {
			m.addLogEntry("Stream ended", false)
		}

	case lineDataMsg:
		m.handleLine(lineEvent(msg))
	}

	return m, nil
}

func (m *model) handleLine(ev lineEvent) {
	if ev.decodeErr != nil {
		m.stats.Update(nil, ev.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.decodeErr), true)
		return
	}

	m.stats.Update(ev.msg, nil, ev.validationErrors)
	m.zones.observe(ev.msg)

	label := fmt.Sprintf("%s %s %s", ev.msg.Verb().Token(), ramses.FormatCode(ev.msg.Code()), ev.msg.Src().Label())
	if len(ev.validationErrors) > 0 {
		for _, err := range ev.validationErrors {
			m.addLogEntry(fmt.Sprintf("%s: %s", label, err.Message), true)
		}
		return
	}

	if ev.msg.Code() == ramses.CodeFaultLog && ev.msg.IsResponse() {
		if entry, err := ramses.FaultLogFromMessage(ev.msg); err == nil && !entry.Empty {
			m.addLogEntry(fmt.Sprintf("Fault log %s", entry), true)
			return
		}
	}

	if m.showAll {
		m.addLogEntry(fmt.Sprintf("%s (valid)", label), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}

	follow := m.logView.AtBottom()
	m.logView.SetContent(renderLogEntries(m.errorLog))
	if follow {
		m.logView.GotoBottom()
	}
}

func (m *model) resizeLog() {
	m.logView.Width = m.width - 6
	logHeight := m.height - 18 // header, stats and zones
	if logHeight < 5 {
		logHeight = 5
	}
	m.logView.Height = logHeight
}

func renderLogEntries(entries []errorLogEntry) string {
	if len(entries) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var s strings.Builder
	for _, entry := range entries {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			s.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				errorStyle.Render("✗ "+entry.message),
			))
		} else {
			s.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				warningStyle.Render("ℹ "+entry.message),
			))
		}
	}
	return strings.TrimSuffix(s.String(), "\n")
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("RAMSESTAT - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Press 'q' to quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All messages"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	switch {
	case m.streamEnded:
		s.WriteString(warningStyle.Render("■ Stream ended"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidLines > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid lines)", m.invalidLines)))
		}
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("  up %s", formatUptime(time.Since(m.stats.StartTime)))))
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n\n")

	if len(m.zones.zones) > 0 || m.zones.hasModulation {
		s.WriteString(statsLabelStyle.Render("Zones:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(renderZones(m.zones)))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString(headerStyle.Render(fmt.Sprintf(" (%d, ↑/↓ to scroll)", len(m.errorLog))))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.logView.View()))

	return s.String()
}

func (m model) renderStats() string {
	st := m.stats
	st.CalculateRates()

	var validPercent, errorPercent float64
	totalErrors := st.InvalidLines + st.AnomalousValues
	if st.TotalLines > 0 {
		validPercent = float64(st.ValidMessages) * 100.0 / float64(st.TotalLines)
		errorPercent = float64(totalErrors) * 100.0 / float64(st.TotalLines)
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalLines)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidMessages, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if st.InvalidLines > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Invalid:"), errorStyle.Render(fmt.Sprintf("%d", st.InvalidLines)),
			headerStyle.Render("verb"), st.UnknownVerbs,
			headerStyle.Render("address"), st.BadAddresses,
			headerStyle.Render("length"), st.LengthMismatch,
			headerStyle.Render("other"), st.BadOpcodes+st.TrailingBytes+st.MalformedLines,
		))
	}

	if st.UnknownCodes > 0 || st.ShortPayloads > 0 {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Unknown Codes:"), warningStyle.Render(fmt.Sprintf("%d", st.UnknownCodes)),
			statsLabelStyle.Render("Short Payloads:"), warningStyle.Render(fmt.Sprintf("%d", st.ShortPayloads)),
		))
	}

	if st.AnomalousValues > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousValues)),
			headerStyle.Render("invalid temp"), st.InvalidTemp,
			headerStyle.Render("invalid zone"), st.InvalidZone,
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Message Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", st.MessageRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))
	return content.String()
}

func renderZones(zones *zoneTable) string {
	var content strings.Builder

	if zones.hasModulation {
		flame := "off"
		if zones.flameActive {
			flame = "on"
		}
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Modulation:"), statsValueStyle.Render(fmt.Sprintf("%.0f%%", zones.modulation*100)),
			statsLabelStyle.Render("Flame:"), statsValueStyle.Render(flame),
		))
	}

	for _, z := range zones.sorted() {
		name := z.name
		if name == "" {
			name = fmt.Sprintf("Zone %02X", z.index)
		}
		line := statsLabelStyle.Render(fmt.Sprintf("%-16s", name+":"))
		if z.hasTemp {
			line += " " + statsValueStyle.Render(fmt.Sprintf("%.2f°C", z.temperature))
		} else {
			line += " " + headerStyle.Render("--.--°C")
		}
		if z.hasSetpoint {
			line += fmt.Sprintf(" (setpoint %.1f°C)", z.setpoint)
		}
		if z.hasDemand {
			line += fmt.Sprintf(" demand %.0f%%", z.demand*100)
		}
		content.WriteString(line + "\n")
	}

	return strings.TrimSuffix(content.String(), "\n")
}
