package progress

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func status(state playback.State, pos int64) playback.Status {
	return playback.Status{State: state, PositionMs: pos, DurationMs: 100000, Speed: 1}
}

func drain(tr *Tracker) []Event {
	var events []Event
	for {
		select {
		case snap := <-tr.queue:
			events = append(events, snap.Event)
		default:
			return events
		}
	}
}

func TestTrackerEvents(t *testing.T) {
	tr := NewTracker(nil, "book-1", time.Hour, log.New(io.Discard))
	clock := time.Unix(1700000000, 0)
	tr.now = func() time.Time { return clock }
	step := func(d time.Duration, st playback.Status) {
		clock = clock.Add(d)
		tr.Observe(st)
	}

	step(0, status(playback.StateBuffering, 0))
	step(time.Second, status(playback.StatePlaying, 0))
	assert.Equal(t, []Event{EventStart}, drain(tr))

	step(100*time.Millisecond, status(playback.StatePlaying, 100))
	assert.Equal(t, []Event{EventTick}, drain(tr), "first tick fires immediately")
	step(100*time.Millisecond, status(playback.StatePlaying, 200))
	assert.Empty(t, drain(tr), "ticks are throttled")

	step(time.Second, status(playback.StatePaused, 200))
	assert.Equal(t, []Event{EventPause}, drain(tr))

	step(time.Second, status(playback.StatePaused, 5000))
	assert.Equal(t, []Event{EventSeek}, drain(tr))

	step(time.Second, status(playback.StatePlaying, 5000))
	assert.Equal(t, []Event{EventResume}, drain(tr))

	step(time.Second, status(playback.StatePlaying, 60000))
	assert.Equal(t, []Event{EventSeek}, drain(tr), "forward jump")

	step(100*time.Millisecond, status(playback.StatePlaying, 59000))
	assert.Equal(t, []Event{EventSeek}, drain(tr), "backward jump")

	step(time.Second, status(playback.StateEnded, 100000))
	assert.Equal(t, []Event{EventEnded}, drain(tr))
}

func TestIsSeekHonoursSpeed(t *testing.T) {
	prev := playback.Status{State: playback.StatePlaying, PositionMs: 0, Speed: 3}
	next := prev
	next.PositionMs = 9000 // 3s of wall clock at 3x
	assert.False(t, isSeek(prev, next, 3*time.Second))

	prev.Speed, next.Speed = 1, 1
	assert.True(t, isSeek(prev, next, 3*time.Second))

	next.State = playback.StatePaused
	assert.False(t, isSeek(prev, next, time.Second), "state changes are not seeks")
}

func TestTrackerRunPersists(t *testing.T) {
	store := openTestStore(t)
	tr := NewTracker(store, "book-42", time.Hour, log.New(io.Discard))

	updates := make(chan playback.Status, 8)
	updates <- status(playback.StateBuffering, 0)
	updates <- status(playback.StatePlaying, 0)
	updates <- status(playback.StatePaused, 1500)
	close(updates)

	require.NoError(t, tr.Run(context.Background(), updates))

	ctx := context.Background()
	history, err := store.History(ctx, "book-42", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, EventStop, history[0].Event)
	assert.Equal(t, EventPause, history[1].Event)
	assert.Equal(t, EventStart, history[2].Event)
	assert.Equal(t, int64(1500), history[0].PositionMs)
	assert.Equal(t, tr.SessionID(), history[0].SessionID)
	assert.NotEmpty(t, tr.SessionID())

	pos, err := ResumePosition(ctx, store, "book-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), pos)
}

func TestTrackerRunStopsOnContext(t *testing.T) {
	store := openTestStore(t)
	tr := NewTracker(store, "book", time.Hour, log.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan playback.Status)
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, updates) }()

	updates <- status(playback.StatePlaying, 0)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not stop")
	}

	last, err := store.Last(context.Background(), "book")
	require.NoError(t, err)
	assert.Equal(t, EventStop, last.Event)
}

func TestStoreBooksAndPrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i, id := range []string{"a", "a", "b", "a"} {
		require.NoError(t, store.Save(ctx, Snapshot{
			BookID:     id,
			SessionID:  "s",
			PositionMs: int64(i * 1000),
			Speed:      1.5,
			Event:      EventTick,
			At:         base.Add(time.Duration(i) * time.Minute),
		}))
	}

	books, err := store.Books(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "a", books[0].BookID)
	assert.Equal(t, int64(3000), books[0].PositionMs)
	assert.Equal(t, 3, books[0].Snapshots)
	assert.Equal(t, 1.5, books[0].Speed)
	assert.Equal(t, base.Add(3*time.Minute), books[0].UpdatedAt)
	assert.Equal(t, "b", books[1].BookID)

	removed, err := store.Prune(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	history, err := store.History(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResumePosition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pos, err := ResumePosition(ctx, store, "missing")
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, err = store.Last(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, Snapshot{BookID: "done", PositionMs: 9000, Event: EventEnded, At: time.Now()}))
	pos, err = ResumePosition(ctx, store, "done")
	require.NoError(t, err)
	assert.Zero(t, pos)
}
