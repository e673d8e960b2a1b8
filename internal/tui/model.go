// Package tui is the terminal dashboard for the live inspection line. It is
// another consumer of the monitoring core, next to the HTTP dashboard.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dj-oyu/bottle-monitor/internal/inference"
	"github.com/dj-oyu/bottle-monitor/internal/inspection"
	"github.com/dj-oyu/bottle-monitor/internal/monitor"
	"github.com/dj-oyu/bottle-monitor/internal/stream"
)

// Source is the part of the monitoring core the dashboard drives.
type Source interface {
	Status(limit int) monitor.Status
	Connect() error
	Disconnect()
	Clear()
}

// Power toggles the inspection line. It may be nil.
type Power interface {
	State() inference.PowerState
	Toggle(ctx context.Context) inference.PowerState
}

// UpdateMsg carries one monitor update into the program.
type UpdateMsg monitor.Update

// StatusMsg carries a fresh status snapshot.
type StatusMsg monitor.Status

// PowerMsg carries the power state after a toggle.
type PowerMsg inference.PowerState

// ErrMsg reports a failed command.
type ErrMsg struct{ Err error }

type feedClosedMsg struct{}

// Feed subscribes to m and returns a buffered channel of its updates. Updates
// are dropped while the channel is full; the status refresh that follows the
// next delivered update catches the view up.
func Feed(m *monitor.Monitor, size int) (<-chan monitor.Update, func()) {
	ch := make(chan monitor.Update, size)
	unsubscribe := m.Subscribe(func(u monitor.Update) {
		select {
		case ch <- u:
		default:
		}
	})
	return ch, unsubscribe
}

// Model is the root Bubble Tea model.
type Model struct {
	ctx     context.Context
	source  Source
	power   Power
	updates <-chan monitor.Update
	limit   int

	status     monitor.Status
	powerState inference.PowerState
	feedClosed bool

	spinner spinner.Model
	cursor  int
	err     error
	width   int
	height  int
}

// New builds the dashboard. limit caps the events kept in view.
func New(ctx context.Context, source Source, power Power, updates <-chan monitor.Update, limit int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = mutedStyle

	m := Model{
		ctx:     ctx,
		source:  source,
		power:   power,
		updates: updates,
		limit:   limit,
		spinner: s,
		width:   100,
		height:  24,
	}
	if power != nil {
		m.powerState = power.State()
	}
	return m
}

// Init loads the first snapshot and starts listening for updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.listen(), m.spinner.Tick)
}

func (m Model) refresh() tea.Cmd {
	source, limit := m.source, m.limit
	return func() tea.Msg {
		return StatusMsg(source.Status(limit))
	}
}

func (m Model) listen() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	ctx, updates := m.ctx, m.updates
	return func() tea.Msg {
		select {
		case u, ok := <-updates:
			if !ok {
				return feedClosedMsg{}
			}
			return UpdateMsg(u)
		case <-ctx.Done():
			return feedClosedMsg{}
		}
	}
}

// Update handles messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		if msg.Error != "" {
			m.err = fmt.Errorf("stream: %s", msg.Error)
		}
		return m, tea.Batch(m.refresh(), m.listen())

	case StatusMsg:
		m.status = monitor.Status(msg)
		if m.cursor >= len(m.status.Events) {
			m.cursor = max(len(m.status.Events)-1, 0)
		}
		return m, nil

	case PowerMsg:
		m.powerState = inference.PowerState(msg)
		return m, nil

	case ErrMsg:
		m.err = msg.Err
		return m, nil

	case feedClosedMsg:
		m.feedClosed = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	source := m.source

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Connect):
		return m, func() tea.Msg {
			if err := source.Connect(); err != nil {
				return ErrMsg{Err: err}
			}
			return nil
		}

	case key.Matches(msg, keys.Disconnect):
		return m, func() tea.Msg {
			source.Disconnect()
			return nil
		}

	case key.Matches(msg, keys.Clear):
		limit := m.limit
		m.cursor = 0
		return m, func() tea.Msg {
			source.Clear()
			return StatusMsg(source.Status(limit))
		}

	case key.Matches(msg, keys.Power):
		if m.power == nil || m.powerState.Loading {
			return m, nil
		}
		m.powerState.Loading = true
		power, ctx := m.power, m.ctx
		return m, func() tea.Msg {
			return PowerMsg(power.Toggle(ctx))
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.status.Events)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, keys.Top):
		m.cursor = 0
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	badge := badgeIdle.Render(m.status.State.String())
	if m.status.State == stream.StateConnected {
		badge = badgeConnected.Render(m.status.State.String())
	}
	if m.status.State == stream.StateConnecting {
		badge = m.spinner.View() + " " + badge
	}
	fmt.Fprintf(&b, "%s %s %s\n", titleStyle.Render("Bottle Monitor"), badge, mutedStyle.Render(m.status.URL))

	fmt.Fprintf(&b, "%s %s  %s  %s  %s\n",
		counterStyle.Render(fmt.Sprintf("Processed %d", m.status.DisplayedCount)),
		mutedStyle.Render(fmt.Sprintf("(offset %d)", m.status.Offset)),
		passStyle.Render(fmt.Sprintf("PASS %d", m.status.PassCount)),
		failStyle.Render(fmt.Sprintf("FAIL %d", m.status.FailCount)),
		mutedStyle.Render(fmt.Sprintf("%d alerts", m.status.AlertCount)),
	)

	if m.power != nil {
		state := "off"
		if m.powerState.On {
			state = "on"
		}
		if m.powerState.Loading {
			state = m.spinner.View() + " " + state
		}
		fmt.Fprintf(&b, "Power %s\n", state)
	}
	if m.feedClosed {
		b.WriteString(mutedStyle.Render("update feed closed") + "\n")
	}
	b.WriteString("\n")

	rows := m.height - 6
	if rows < 1 {
		rows = 1
	}
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	events := m.status.Events
	if len(events) == 0 {
		b.WriteString(mutedStyle.Render("  no inspections yet") + "\n")
	}
	for i := start; i < len(events) && i < start+rows; i++ {
		b.WriteString(renderEvent(events[i], i == m.cursor) + "\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render(helpLine(m.power != nil)))
	return b.String()
}

func renderEvent(e inspection.Event, selected bool) string {
	marker := "  "
	if selected {
		marker = "> "
	}
	verdict := passStyle.Render(string(e.Status))
	if e.Status != inspection.StatusPass {
		verdict = failStyle.Render(string(e.Status))
	}
	line := fmt.Sprintf("%s%-10s %s  tap=%-12s level=%-12s %s",
		marker, e.UnitID, verdict,
		checkLabel(e.Tap), checkLabel(e.Level),
		e.Timestamp)
	if e.HasAlert {
		return alertRow.Render(line)
	}
	return line
}

func checkLabel(c inspection.SubCheck) string {
	return fmt.Sprintf("%s(%.0f%%)", c.Label, c.Confidence*100)
}
