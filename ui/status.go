package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

const ellipsis = "…"

var (
	green  = lipgloss.Color("#04B575")
	yellow = lipgloss.Color("#FFFF00")
	blue   = lipgloss.Color("#00AAFF")
	red    = lipgloss.Color("#FF4672")
	gray   = lipgloss.Color("#888888")

	subtleFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}

	titleStyle  = lipgloss.NewStyle().Bold(true)
	subtleStyle = lipgloss.NewStyle().Foreground(subtleFg)
	errorStyle  = lipgloss.NewStyle().Foreground(red)
)

// StatusDisplay renders player status for the terminal.
type StatusDisplay struct {
	status   playback.Status
	segments int
}

// NewStatusDisplay creates a display for a book of segments parts.
func NewStatusDisplay(segments int) *StatusDisplay {
	return &StatusDisplay{
		status:   playback.Status{State: playback.StateIdle, Speed: playback.DefaultSpeed},
		segments: segments,
	}
}

// Update replaces the displayed status.
func (s *StatusDisplay) Update(st playback.Status) {
	s.status = st
}

// Status returns the displayed status.
func (s *StatusDisplay) Status() playback.Status { return s.status }

// Progress returns the played fraction in [0, 1].
func (s *StatusDisplay) Progress() float64 {
	if s.status.DurationMs <= 0 {
		return 0
	}
	p := float64(s.status.PositionMs) / float64(s.status.DurationMs)
	return min(max(p, 0), 1)
}

// CompactStatus returns a one-line summary: state, part, time and speed.
func (s *StatusDisplay) CompactStatus() string {
	st := s.status
	if st.State == playback.StateIdle {
		return ""
	}

	stateStyle := lipgloss.NewStyle().Foreground(s.stateColor())
	parts := []string{stateStyle.Render(fmt.Sprintf("%s %s", s.stateIcon(), st.State))}

	if s.segments > 1 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("part %d/%d", st.SegmentIndex+1, s.segments)))
	}
	parts = append(parts, fmt.Sprintf("%s / %s", formatDuration(ms(st.PositionMs)), formatDuration(ms(st.DurationMs))))
	parts = append(parts, playback.SpeedLabel(st.Speed))

	return strings.Join(parts, "  ")
}

// ErrorLine returns the last error truncated to width, or "".
func (s *StatusDisplay) ErrorLine(width int) string {
	if s.status.State != playback.StateError || s.status.Err == nil {
		return ""
	}
	msg := s.status.Err.Error()
	if width > 10 {
		msg = runewidth.Truncate(msg, width-8, ellipsis)
	}
	return errorStyle.Render("Error: " + msg)
}

// IsActive reports whether playback is underway.
func (s *StatusDisplay) IsActive() bool {
	return s.status.State.IsActive()
}

func (s *StatusDisplay) stateColor() lipgloss.TerminalColor {
	switch s.status.State {
	case playback.StatePlaying:
		return green
	case playback.StatePaused:
		return yellow
	case playback.StateBuffering:
		return blue
	case playback.StateError:
		return red
	default:
		return gray
	}
}

func (s *StatusDisplay) stateIcon() string {
	switch s.status.State {
	case playback.StatePlaying:
		return "▶"
	case playback.StatePaused:
		return "⏸"
	case playback.StateBuffering:
		return "⟳"
	case playback.StateEnded:
		return "■"
	case playback.StateError:
		return "✗"
	default:
		return "○"
	}
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// formatDuration formats a duration as m:ss or h:mm:ss.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// truncate shortens s to fit width terminal cells.
func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, ellipsis)
}

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
