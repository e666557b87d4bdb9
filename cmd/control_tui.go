// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	discoveryTimeoutSeconds = 5  // Listening ends N seconds after the last new device
	syncIntervalSeconds     = 60 // Send sync requests to controllers every N seconds
	minSetpoint             = 5.0
	maxSetpoint             = 35.0
)

// Focus states
const (
	focusDeviceList = iota
	focusSetpointInput
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// deviceItem adapts a census entry to the list
type deviceItem struct {
	info *deviceInfo
}

func (d deviceItem) Title() string {
	return fmt.Sprintf("%s %s", d.info.addr.Label(), d.info.addr.Role())
}

func (d deviceItem) Description() string {
	if d.info.description != "" {
		return d.info.description
	}
	return fmt.Sprintf("%d msgs, %d codes", d.info.sent, len(d.info.codes))
}

func (d deviceItem) FilterValue() string { return d.info.addr.String() }

// syncReading is the last system sync heard from a controller
type syncReading struct {
	next     time.Duration
	received time.Time
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Device tracking
	census     *census
	zones      *zoneTable
	deviceList list.Model
	listed     int

	// Discovery state
	discoveryDone  bool
	lastDeviceSeen time.Time

	// Monitoring
	stats         *ramses.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	syncs         map[ramses.Address]syncReading

	// Control
	setpointInput textinput.Model
	commandInput  textinput.Model
	focusedField  int
	inFlight      int

	// UI state
	width          int
	height         int
	synchronized   bool
	quitting       bool
	connectionLost bool
	streamEnded    bool

	lastSyncTime time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlBatchMsg struct {
	events  []lineEvent
	syncMsg *syncMsg
}

type commandResultMsg struct {
	cmd   *ramses.Command
	reply *ramses.Message
	err   error

	// Reported by the stack for a command nobody waits on
	background bool
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	setpoint := textinput.New()
	setpoint.Placeholder = "00 21.5"
	setpoint.CharLimit = 8
	setpoint.Width = 10

	command := textinput.New()
	command.Placeholder = "RQ 30C9 00"
	command.CharLimit = 64
	command.Width = 30

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New([]list.Item{}, delegate, 30, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return controlModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		census:        newCensus(),
		zones:         newZoneTable(),
		deviceList:    deviceList,
		stats:         ramses.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		syncs:         make(map[ramses.Address]syncReading),
		setpointInput: setpoint,
		commandInput:  command,
		focusedField:  focusDeviceList,
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
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		if !m.discoveryDone && !m.lastDeviceSeen.IsZero() {
			if time.Since(m.lastDeviceSeen) > time.Duration(discoveryTimeoutSeconds)*time.Second {
				m.finishDiscovery()
			}
		}
		if m.discoveryDone {
			m.updateDeviceList()
			// Keep a current sync reading per controller
			if !m.connectionLost && !m.streamEnded &&
				time.Since(m.lastSyncTime) >= time.Duration(syncIntervalSeconds)*time.Second {
				m.lastSyncTime = time.Now()
				m.requestSyncs()
			}
		}
		return m, controlTickCmd()

	case controlBatchMsg:
		if msg.syncMsg != nil {
			m.synchronized = true
			if msg.syncMsg.invalidLines > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid lines", msg.syncMsg.invalidLines), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}
		for _, ev := range msg.events {
			m.processEvent(ev)
		}

	case commandResultMsg:
		m.handleCommandResult(msg)

	case connectionLostMsg:
		m.connectionLost = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", msg.err), true)
		} else {
			m.addLogEntry("Connection lost - reconnecting...", true)
		}

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.synchronized = false
		m.addLogEntry("Reconnected", false)

	case streamEndMsg:
		m.streamEnded = true
		m.finishDiscovery()
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Stream ended: %v", msg.err), true)
		} else {
			m.addLogEntry("Stream ended", false)
		}
	}

	// Update child components
	var cmd tea.Cmd
	switch m.focusedField {
	case focusSetpointInput:
		m.setpointInput, cmd = m.setpointInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusCommandInput:
		m.commandInput, cmd = m.commandInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusDeviceList:
		m.deviceList, cmd = m.deviceList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		// q is a character inside the inputs
		if m.focusedField == focusDeviceList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "esc":
		return m.focus(focusDeviceList), nil

	case "enter":
		if m.discoveryDone {
			return m.handleEnter()
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusSetpointInput:
		m.setpointInput, cmd = m.setpointInput.Update(msg)
	case focusCommandInput:
		m.commandInput, cmd = m.commandInput.Update(msg)
	default:
		m.deviceList, cmd = m.deviceList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	// Clicks only drive the device list
	m.deviceList, _ = m.deviceList.Update(msg)

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) *controlModel {
	if !m.discoveryDone {
		return m
	}

	selected := m.getSelectedDevice()
	if selected == nil {
		return m.focus(focusDeviceList)
	}

	const states = focusCommandInput + 1
	next := (m.focusedField + delta + states) % states

	// Setpoints only make sense for controllers
	if next == focusSetpointInput && selected.addr.Role() != ramses.RoleController {
		next = (next + delta + states) % states
	}

	return m.focus(next)
}

func (m *controlModel) focus(field int) *controlModel {
	m.focusedField = field
	m.setpointInput.Blur()
	m.commandInput.Blur()
	switch field {
	case focusSetpointInput:
		m.setpointInput.Focus()
	case focusCommandInput:
		m.commandInput.Focus()
	}
	return m
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	// Don't allow commands while the link is down
	if m.connectionLost || m.streamEnded {
		m.addLogEntry("Cannot send command: not connected", true)
		return m, nil
	}

	selected := m.getSelectedDevice()
	if selected == nil {
		return m, nil
	}

	var (
		cmd *ramses.Command
		err error
	)
	switch m.focusedField {
	case focusSetpointInput:
		cmd, err = parseSetpointInput(selected.addr, m.setpointInput.Value())
	case focusCommandInput:
		cmd, err = parseCommandInput(selected.addr, m.commandInput.Value())
	default:
		return m, nil
	}
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	m.inFlight++
	m.addLogEntry(fmt.Sprintf("Sending %s", cmd), false)
	return m, m.connMgr.send(cmd)
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	helpText := "q=quit"
	if m.discoveryDone {
		helpText = "q=quit Tab=switch Esc=list"
	}
	s.WriteString(titleStyle.Render("RAMSESTAT CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	switch {
	case m.connectionLost:
		connStatus = warningStyle.Render("RECONNECTING...")
	case m.streamEnded:
		connStatus = warningStyle.Render("STREAM ENDED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf(" %s %s",
		statsLabelStyle.Render("Uptime:"),
		statsValueStyle.Render(formatUptime(time.Since(m.stats.StartTime)))))
	if m.inFlight > 0 {
		s.WriteString(fmt.Sprintf("  %s %s",
			statsLabelStyle.Render("In flight:"),
			statsValueStyle.Render(strconv.Itoa(m.inFlight))))
	}
	s.WriteString("\n\n")

	if !m.discoveryDone {
		s.WriteString(m.renderDiscoveryView())
	} else {
		s.WriteString(m.renderControlView())
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

var (
	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))

	inputLabelStyle = statsLabelStyle.
			Width(10)
)

func (m controlModel) renderDiscoveryView() string {
	var s strings.Builder

	s.WriteString(warningStyle.Render("Listening for devices..."))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Found: %d device(s)\n\n", m.census.len()))

	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m controlModel) renderControlView() string {
	var s strings.Builder

	// Layout: left panel (devices) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())

	controlStyle := boxStyle.Width(rightWidth)
	if m.focusedField != focusDeviceList {
		controlStyle = focusedBoxStyle.Width(rightWidth)
	}
	controlPanel := controlStyle.Render(m.renderControlPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", controlPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")

	if len(m.zones.zones) > 0 || m.zones.hasModulation {
		s.WriteString(boxStyle.Width(m.width - 4).Render(renderZones(m.zones)))
		s.WriteString("\n\n")
	}

	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m controlModel) renderControlPanel() string {
	var s strings.Builder

	selected := m.getSelectedDevice()
	if selected == nil {
		s.WriteString(headerStyle.Render("No device selected"))
		return s.String()
	}

	addr := selected.addr
	s.WriteString(fmt.Sprintf("%s %s (%s)\n", statsLabelStyle.Render("Selected:"), addr, addr.Label()))
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Role:"), statsValueStyle.Render(addr.Role().String())))
	if selected.description != "" {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Info:"), statsValueStyle.Render(selected.description)))
	}
	if !selected.lastSeen.IsZero() {
		s.WriteString(fmt.Sprintf("%s %s ago", statsLabelStyle.Render("Heard:"),
			formatUptime(time.Since(selected.lastSeen))))
		if selected.hasRSSI {
			s.WriteString(fmt.Sprintf("  %s %03d", statsLabelStyle.Render("RSSI:"), selected.rssi))
		}
		s.WriteString("\n")
	}
	if reading, ok := m.syncs[addr]; ok {
		s.WriteString(fmt.Sprintf("%s next in %.1fs (heard %s)\n", statsLabelStyle.Render("Sync:"),
			reading.next.Seconds(), reading.received.Format("15:04:05")))
	}
	s.WriteString("\n")

	if addr.Role() == ramses.RoleController {
		s.WriteString(inputLabelStyle.Render("Setpoint:"))
		s.WriteString(" ")
		s.WriteString(renderInput(m.setpointInput, m.focusedField == focusSetpointInput))
		s.WriteString(headerStyle.Render("  zone °C"))
		s.WriteString("\n")
	}

	s.WriteString(inputLabelStyle.Render("Command:"))
	s.WriteString(" ")
	s.WriteString(renderInput(m.commandInput, m.focusedField == focusCommandInput))
	s.WriteString(headerStyle.Render("  verb code payload"))

	return s.String()
}

// renderInput shows a focused input as an editor and the others as plain text
func renderInput(in textinput.Model, focused bool) string {
	if focused {
		return in.View()
	}
	val := in.Value()
	if val == "" {
		val = in.Placeholder
	}
	return fmt.Sprintf("[%s]", val)
}

func (m controlModel) renderStatisticsBar() string {
	st := m.stats
	st.CalculateRates()

	var validPercent, errorPercent float64
	if st.TotalLines > 0 {
		validPercent = float64(st.ValidMessages) * 100.0 / float64(st.TotalLines)
		totalErrors := st.InvalidLines + st.AnomalousValues
		errorPercent = float64(totalErrors) * 100.0 / float64(st.TotalLines)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalLines)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", st.MessageRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}
	s.WriteString(renderLogEntries(m.errorLog[startIdx:]))

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processEvent(ev lineEvent) {
	if ev.decodeErr != nil {
		m.stats.Update(nil, ev.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.decodeErr), true)
		return
	}

	msg := ev.msg
	m.stats.Update(msg, nil, ev.validationErrors)
	m.zones.observe(msg)

	for _, addr := range m.census.observe(msg) {
		m.lastDeviceSeen = time.Now()
		m.addLogEntry(fmt.Sprintf("Device heard: %s (%s)", addr.Label(), addr.Role()), false)
	}

	switch {
	case msg.Code() == ramses.CodeSystemSync && !msg.IsRequest():
		if v, ok := msg.FieldUint("sync_value"); ok {
			m.syncs[msg.Src()] = syncReading{
				next:     time.Duration(v) * 100 * time.Millisecond,
				received: msg.Timestamp(),
			}
		}

	case msg.Code() == ramses.CodeFaultLog && msg.IsResponse():
		if entry, err := ramses.FaultLogFromMessage(msg); err == nil && !entry.Empty {
			m.addLogEntry(fmt.Sprintf("%s fault log %s", msg.Src().Label(), entry), true)
		}
	}

	for _, err := range ev.validationErrors {
		m.addLogEntry(fmt.Sprintf("%s %s: %s", ramses.FormatCode(msg.Code()), msg.Src().Label(), err.Message), true)
	}
}

func (m *controlModel) handleCommandResult(res commandResultMsg) {
	if !res.background && m.inFlight > 0 {
		m.inFlight--
	}

	if res.err != nil {
		m.addLogEntry(fmt.Sprintf("%s %s to %s failed: %v",
			res.cmd.Verb.Token(), ramses.FormatCode(res.cmd.Code), res.cmd.Dst.Label(), res.err), true)
		return
	}
	if res.reply == nil {
		m.addLogEntry(fmt.Sprintf("Sent %s %s to %s",
			res.cmd.Verb.Token(), ramses.FormatCode(res.cmd.Code), res.cmd.Dst.Label()), false)
		return
	}
	m.addLogEntry(fmt.Sprintf("Reply: %s", res.reply), false)
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// parseSetpointInput reads "<zone> <celsius>", the zone in hex as it
// appears on the wire
func parseSetpointInput(ctl ramses.Address, input string) (*ramses.Command, error) {
	if input == "" {
		return nil, fmt.Errorf("enter a zone and temperature, e.g. 00 21.5")
	}
	fields := strings.Fields(input)
	if len(fields) != 2 {
		return nil, fmt.Errorf("invalid setpoint %q: want <zone> <celsius>", input)
	}

	zone, err := strconv.ParseUint(fields[0], 16, 8)
	if err != nil || zone > 0x0F {
		return nil, fmt.Errorf("invalid zone %q: want 00 to 0F", fields[0])
	}

	celsius, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid temperature %q", fields[1])
	}
	if celsius < minSetpoint || celsius > maxSetpoint {
		return nil, fmt.Errorf("setpoint must be between %.0f and %.0f°C", minSetpoint, maxSetpoint)
	}

	return ramses.NewSetpointWrite(ctl, uint8(zone), celsius), nil
}

// parseCommandInput reads "<verb> <code> [payload]" addressed to dst
func parseCommandInput(dst ramses.Address, input string) (*ramses.Command, error) {
	fields := strings.Fields(input)
	if len(fields) < 2 || len(fields) > 3 {
		return nil, fmt.Errorf("invalid command %q: want <verb> <code> [payload]", input)
	}
	payload := ""
	if len(fields) == 3 {
		payload = fields[2]
	}
	return ramses.ParseCommand(fields[0], dst.String(), fields[1], payload)
}

// requestSyncs queues a low priority sync request to every controller.
// Replies come back through the message stream.
func (m *controlModel) requestSyncs() {
	for _, d := range m.census.sorted() {
		if d.addr.Role() != ramses.RoleController {
			continue
		}
		req := ramses.NewSyncRequest(d.addr)
		req.Priority = ramses.PriorityLow
		if err := m.connMgr.submit(req); err != nil {
			m.addLogEntry(fmt.Sprintf("Sync request to %s: %v", d.addr.Label(), err), true)
		}
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) getSelectedDevice() *deviceInfo {
	item, ok := m.deviceList.SelectedItem().(deviceItem)
	if !ok {
		return nil
	}
	return item.info
}

func (m *controlModel) finishDiscovery() {
	if m.discoveryDone {
		return
	}

	m.discoveryDone = true
	m.updateDeviceList()
	m.addLogEntry(fmt.Sprintf("Listening complete: %d device(s)", m.listed), false)
}

func (m *controlModel) updateDeviceList() {
	devices := m.census.sorted()
	items := make([]list.Item, len(devices))
	for i, d := range devices {
		items[i] = deviceItem{info: d}
	}
	m.deviceList.SetItems(items)
	m.listed = len(devices)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.deviceList.SetSize(28, listHeight)
}
