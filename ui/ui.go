// Package ui provides the terminal player for listenup.
package ui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

const (
	maxProgressWidth = 80
	statusBuffer     = 16
)

// Config contains TUI-specific configuration.
type Config struct {
	Title    string
	Author   string
	Segments int

	SeekStep  time.Duration `env:"LISTENUP_SEEK_STEP" envDefault:"30s"`
	AltScreen bool          `env:"LISTENUP_ALT_SCREEN" envDefault:"true"`
	ExitOnEnd bool          `env:"LISTENUP_EXIT_ON_END" envDefault:"false"`
}

// Player is the control surface the UI drives.
type Player interface {
	Play() error
	Pause() error
	SeekTo(positionMs int64) error
	SetSpeed(speed float64) error
	Status() playback.Status
	Subscribe(buffer int) (<-chan playback.Status, func())
}

// NewProgram returns a new Tea program bound to player.
func NewProgram(player Player, cfg Config) *tea.Program {
	log.Debug("Starting player UI", "title", cfg.Title, "segments", cfg.Segments)

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	return tea.NewProgram(newModel(player, cfg), opts...)
}

type (
	statusMsg      playback.Status
	subClosedMsg   struct{}
	controlDoneMsg struct {
		op  string
		err error
	}
)

type model struct {
	cfg         Config
	player      Player
	updates     <-chan playback.Status
	unsubscribe func()

	display  *StatusDisplay
	keys     keyMap
	help     help.Model
	progress progress.Model
	spinner  spinner.Model

	width    int
	lastErr  error
	quitting bool
}

func newModel(player Player, cfg Config) model {
	if cfg.SeekStep <= 0 {
		cfg.SeekStep = 30 * time.Second
	}
	updates, unsubscribe := player.Subscribe(statusBuffer)

	display := NewStatusDisplay(cfg.Segments)
	display.Update(player.Status())

	return model{
		cfg:         cfg,
		player:      player,
		updates:     updates,
		unsubscribe: unsubscribe,
		display:     display,
		keys:        defaultKeyMap(),
		help:        help.New(),
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForStatus(m.updates), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = min(max(msg.Width-4, 10), maxProgressWidth)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		st := playback.Status(msg)
		m.display.Update(st)
		if st.State == playback.StateEnded && m.cfg.ExitOnEnd {
			return m.quit()
		}
		return m, waitForStatus(m.updates)

	case subClosedMsg:
		return m, nil

	case controlDoneMsg:
		if msg.err != nil {
			log.Debug("Control failed", "op", msg.op, "error", msg.err)
		}
		m.lastErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	st := m.display.Status()
	step := m.cfg.SeekStep.Milliseconds()

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.PlayPause):
		if st.State == playback.StatePlaying {
			return m, control("pause", m.player.Pause)
		}
		return m, control("play", m.player.Play)

	case key.Matches(msg, m.keys.Back):
		target := max(st.PositionMs-step, 0)
		return m, control("seek", func() error { return m.player.SeekTo(target) })

	case key.Matches(msg, m.keys.Forward):
		target := st.PositionMs + step
		return m, control("seek", func() error { return m.player.SeekTo(target) })

	case key.Matches(msg, m.keys.Start):
		return m, control("seek", func() error { return m.player.SeekTo(0) })

	case key.Matches(msg, m.keys.Faster):
		speed := playback.NextSpeed(st.Speed)
		return m, control("speed", func() error { return m.player.SetSpeed(speed) })

	case key.Matches(msg, m.keys.Slower):
		speed := playback.PrevSpeed(st.Speed)
		return m, control("speed", func() error { return m.player.SetSpeed(speed) })
	}
	return m, nil
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.unsubscribe()
	return m, tea.Quit
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width == 0 {
		width = maxProgressWidth
	}

	var b strings.Builder
	title := m.cfg.Title
	if title == "" {
		title = "listenup"
	}
	b.WriteString(titleStyle.Render(truncate(title, width-4)))
	b.WriteString("\n")
	if m.cfg.Author != "" {
		b.WriteString(subtleStyle.Render(truncate(m.cfg.Author, width-4)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.progress.ViewAs(m.display.Progress()))
	b.WriteString("\n")

	status := m.display.CompactStatus()
	if m.display.Status().State == playback.StateBuffering {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	b.WriteString("\n")

	if line := m.display.ErrorLine(width); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	} else if m.lastErr != nil {
		b.WriteString(subtleStyle.Render(truncate(m.lastErr.Error(), width-4)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return "\n" + indent(b.String(), 2)
}

// COMMANDS

func waitForStatus(ch <-chan playback.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return subClosedMsg{}
		}
		return statusMsg(st)
	}
}

func control(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return controlDoneMsg{op: op, err: fn()}
	}
}
