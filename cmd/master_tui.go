// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/coffer/internal/safe"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

// Styles
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

	lcdStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("195")).
			Background(lipgloss.Color("25")).
			Padding(0, 1)
)

type masterKeyMap struct {
	Keypad   key.Binding
	Presence key.Binding
	Quit     key.Binding
}

func (k masterKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Keypad, k.Presence, k.Quit}
}

func (k masterKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newMasterKeyMap(simulated bool) masterKeyMap {
	keypad := []string{"*", "#"}
	for c := '0'; c <= '9'; c++ {
		keypad = append(keypad, string(c))
	}
	for c := 'a'; c <= 'd'; c++ {
		keypad = append(keypad, string(c), strings.ToUpper(string(c)))
	}
	presence := []key.BindingOpt{key.WithKeys("p"), key.WithHelp("p", "toggle presence")}
	if !simulated {
		presence = append(presence, key.WithDisabled())
	}
	return masterKeyMap{
		Keypad: key.NewBinding(
			key.WithKeys(keypad...),
			key.WithHelp("0-9 A-D * #", "keypad"),
		),
		Presence: key.NewBinding(presence...),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Messages
type masterTickMsg time.Time
type hwKeyMsg access.Key
type shutdownMsg struct{}

// Master console model. Update runs on a single goroutine, which makes it
// the master's control loop.
type masterModel struct {
	ctx      context.Context
	rig      *masterRig
	keys     masterKeyMap
	help     help.Model
	width    int
	height   int
	quitting bool
	err      error
}

func newMasterModel(ctx context.Context, rig *masterRig) masterModel {
	return masterModel{
		ctx:    ctx,
		rig:    rig,
		keys:   newMasterKeyMap(rig.presence != nil),
		help:   help.New(),
		width:  80,
		height: 24,
	}
}

func (m masterModel) Init() tea.Cmd {
	cmds := []tea.Cmd{masterTickCmd(), waitForShutdown(m.ctx)}
	if m.rig.keys != nil {
		cmds = append(cmds, waitForHWKey(m.ctx, m.rig.keys))
	}
	return tea.Batch(cmds...)
}

func masterTickCmd() tea.Cmd {
	return tea.Tick(safe.DefaultTickInterval, func(t time.Time) tea.Msg {
		return masterTickMsg(t)
	})
}

func waitForShutdown(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return shutdownMsg{}
	}
}

func waitForHWKey(ctx context.Context, keys <-chan access.Key) tea.Cmd {
	return func() tea.Msg {
		select {
		case k := <-keys:
			return hwKeyMsg(k)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m masterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Presence):
			present := m.rig.presence.Toggle()
			logger.Info("simulated presence", "present", present)
		case key.Matches(msg, m.keys.Keypad):
			k, err := access.ParseKey([]rune(msg.String())[0])
			if err != nil {
				return m, nil
			}
			return m.handleKey(k, nil)
		}

	case hwKeyMsg:
		return m.handleKey(access.Key(msg), waitForHWKey(m.ctx, m.rig.keys))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case masterTickMsg:
		if err := m.rig.master.Step(); err != nil {
			m.err = err
			m.quitting = true
			return m, tea.Quit
		}
		return m, masterTickCmd()

	case shutdownMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m masterModel) handleKey(k access.Key, next tea.Cmd) (tea.Model, tea.Cmd) {
	err := m.rig.master.HandleKey(k)
	switch {
	case err == nil:
	case errors.Is(err, access.ErrInput), errors.Is(err, access.ErrUnknownKey):
		logger.Debug("key rejected", "key", k, "error", err)
	default:
		m.err = err
		m.quitting = true
		return m, tea.Quit
	}
	return m, next
}

func (m masterModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("COFFER - MASTER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Bus: %s | Slave: 0x%02X | Log: %s",
		m.rig.busInfo, cfg.SlaveAddress, cfg.LogFile)))
	s.WriteString("\n\n")

	// Display and session side by side
	lines := m.rig.master.Frame().Text()
	lcdPanel := boxStyle.Render(lcdStyle.Render(lines[0]) + "\n" + lcdStyle.Render(lines[1]))

	snap := m.rig.master.Snapshot()
	session := strings.Builder{}
	session.WriteString(fmt.Sprintf("%s %s\n",
		statsLabelStyle.Render("Phase:"), phaseStyle(snap.Phase).Render(snap.Phase.String())))
	session.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Failed:"), attemptsStyle(snap.FailedAttempts).Render(fmt.Sprintf("%d", snap.FailedAttempts)),
		statsLabelStyle.Render("User:"), statsValueStyle.Render(m.presenceText()),
	))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, lcdPanel, " ", boxStyle.Render(session.String())))
	s.WriteString("\n\n")

	// Telemetry
	s.WriteString(statsLabelStyle.Render("Telemetry:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.telemetryView()))
	s.WriteString("\n\n")

	// Activity log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20 // Reserve space for the panels above
	if logHeight < 5 {
		logHeight = 5
	}
	entries := m.rig.activity.snapshot()
	startIdx := len(entries) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(entries) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range entries[startIdx:] {
		timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(strings.TrimRight(logContent.String(), "\n")))
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return s.String()
}

func (m masterModel) presenceText() string {
	if m.rig.presence == nil {
		return "ranger"
	}
	if m.rig.presence.Present() {
		return "present"
	}
	return "away"
}

func (m masterModel) telemetryView() string {
	r := m.rig.master.Latest()
	stats := m.rig.link.Stats()

	var b strings.Builder
	switch {
	case !r.Valid:
		b.WriteString(warningStyle.Render("⏳ Waiting for first record..."))
	case r.Stale:
		b.WriteString(warningStyle.Render(telemetry.FormatReading(r)))
	default:
		b.WriteString(statsValueStyle.Render(telemetry.FormatReading(r)))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Polls:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.TotalPolls)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.ValidRecords)),
		statsLabelStyle.Render("Failed:"), attemptsStyle(int(stats.Failures())).Render(fmt.Sprintf("%d", stats.Failures())),
	))
	if r.Err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(r.Err.Error()))
	}
	return b.String()
}

func phaseStyle(p access.Phase) lipgloss.Style {
	switch p {
	case access.PhaseGranted, access.PhaseUnlockIdle, access.PhaseCodeSuccess:
		return statsValueStyle
	case access.PhaseDenied, access.PhaseCodeFail:
		return errorStyle
	case access.PhaseIdle:
		return headerStyle
	default:
		return warningStyle
	}
}

func attemptsStyle(n int) lipgloss.Style {
	if n > 0 {
		return errorStyle
	}
	return statsValueStyle
}

// runMasterTUI owns the terminal until the user quits or ctx ends. The
// telemetry link polls on its own goroutine; the model drives everything
// else.
func runMasterTUI(ctx context.Context, rig *masterRig) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rig.link.Run(ctx, cfg.PollInterval)
	}()

	p := tea.NewProgram(newMasterModel(ctx, rig), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(masterModel); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
