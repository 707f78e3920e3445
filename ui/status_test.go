package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// TestStatusDisplayCreation tests status display creation.
func TestStatusDisplayCreation(t *testing.T) {
	display := NewStatusDisplay(3)
	assert.False(t, display.IsActive())
	assert.Empty(t, display.CompactStatus())
	assert.Zero(t, display.Progress())
}

// TestStatusDisplayUpdate tests updating from player status.
func TestStatusDisplayUpdate(t *testing.T) {
	display := NewStatusDisplay(10)
	display.Update(playback.Status{
		State:        playback.StatePlaying,
		PositionMs:   5000,
		DurationMs:   20000,
		Speed:        2,
		SegmentIndex: 2,
	})

	assert.True(t, display.IsActive())
	assert.InDelta(t, 0.25, display.Progress(), 1e-9)

	status := display.CompactStatus()
	assert.Contains(t, status, "▶")
	assert.Contains(t, status, "part 3/10")
	assert.Contains(t, status, "0:05 / 0:20")
	assert.Contains(t, status, "2x")
}

func TestStatusDisplaySingleSegmentHidesPart(t *testing.T) {
	display := NewStatusDisplay(1)
	display.Update(playback.Status{State: playback.StatePaused, Speed: 1})
	status := display.CompactStatus()
	assert.Contains(t, status, "⏸")
	assert.NotContains(t, status, "part")
}

func TestStatusDisplayProgressClamps(t *testing.T) {
	display := NewStatusDisplay(1)
	display.Update(playback.Status{State: playback.StateEnded, PositionMs: 30000, DurationMs: 20000})
	assert.Equal(t, 1.0, display.Progress())
	assert.False(t, display.IsActive())
}

func TestStatusDisplayErrorLine(t *testing.T) {
	display := NewStatusDisplay(1)
	assert.Empty(t, display.ErrorLine(80))

	display.Update(playback.Status{State: playback.StateError, Err: errors.New(strings.Repeat("x", 200))})
	line := display.ErrorLine(40)
	assert.Contains(t, line, "Error: ")
	assert.Contains(t, line, ellipsis)
	assert.Contains(t, display.CompactStatus(), "✗")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{65 * time.Second, "1:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{12*time.Hour + 1500*time.Millisecond, "12:00:01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a very…", truncate("a very long title", 7))
	assert.Equal(t, "日本…", truncate("日本語のタイトル", 6))
	assert.Equal(t, "keep", truncate("keep", 0))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b\n", indent("a\nb", 2))
	assert.Equal(t, "x", indent("x", 0))
}
