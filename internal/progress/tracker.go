// Package progress records listening progress. A Tracker watches player
// status updates, turns them into snapshots on meaningful events and at a
// throttled interval while playing, and persists them to a Store.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// Event names why a snapshot was taken.
type Event string

const (
	EventStart  Event = "start"
	EventPause  Event = "pause"
	EventResume Event = "resume"
	EventSeek   Event = "seek"
	EventTick   Event = "tick"
	EventEnded  Event = "ended"
	EventStop   Event = "stop"
)

const (
	// DefaultInterval is how often a tick is recorded while playing.
	DefaultInterval = 30 * time.Second

	// seekSlack is how far playback may run ahead of the wall clock before a
	// position jump counts as a seek.
	seekSlack = 2 * time.Second

	queueSize = 64
)

// Snapshot is one recorded position.
type Snapshot struct {
	BookID     string
	SessionID  string
	PositionMs int64
	DurationMs int64
	Speed      float64
	Event      Event
	At         time.Time
}

// Tracker converts status updates into persisted snapshots. Persisting is
// asynchronous so a slow store never holds up playback.
type Tracker struct {
	bookID    string
	sessionID string
	store     Store
	logger    *log.Logger
	tick      rate.Sometimes
	now       func() time.Time

	queue   chan Snapshot
	prev    *playback.Status
	prevAt  time.Time
	dropped int
}

// NewTracker returns a tracker for bookID with a fresh session id.
func NewTracker(store Store, bookID string, interval time.Duration, logger *log.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		bookID:    bookID,
		sessionID: uuid.NewString(),
		store:     store,
		logger:    logger,
		tick:      rate.Sometimes{Interval: interval},
		now:       time.Now,
		queue:     make(chan Snapshot, queueSize),
	}
}

// SessionID identifies this listening session in stored snapshots.
func (t *Tracker) SessionID() string { return t.sessionID }

// Run consumes updates until the channel closes or ctx is done, then records
// a final stop snapshot and waits for pending writes.
func (t *Tracker) Run(ctx context.Context, updates <-chan playback.Status) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	g.Go(func() error {
		defer close(t.queue)
		for {
			select {
			case <-ctx.Done():
				t.stop()
				return nil
			case st, ok := <-updates:
				if !ok {
					t.stop()
					return nil
				}
				t.Observe(st)
			}
		}
	})

	g.Go(func() error {
		var firstErr error
		for snap := range t.queue {
			if err := t.store.Save(gctx, snap); err != nil {
				t.logger.Warn("Failed to save progress", "event", snap.Event, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	})

	return g.Wait()
}

// Observe inspects one status update and queues a snapshot when it marks an
// event worth recording.
func (t *Tracker) Observe(st playback.Status) {
	now := t.now()
	prev, prevAt := t.prev, t.prevAt
	t.prev, t.prevAt = &st, now

	if prev == nil {
		if st.State == playback.StatePlaying {
			t.emit(st, EventStart, now)
		}
		return
	}

	switch {
	case st.State == playback.StateEnded && prev.State != playback.StateEnded:
		t.emit(st, EventEnded, now)
	case st.State == playback.StatePlaying && prev.State != playback.StatePlaying:
		if prev.State == playback.StatePaused {
			t.emit(st, EventResume, now)
		} else {
			t.emit(st, EventStart, now)
		}
	case st.State == playback.StatePaused && prev.State == playback.StatePlaying:
		t.emit(st, EventPause, now)
	case isSeek(*prev, st, now.Sub(prevAt)):
		t.emit(st, EventSeek, now)
	case st.State == playback.StatePlaying:
		t.tick.Do(func() { t.emit(st, EventTick, now) })
	}
}

// isSeek reports whether the move from prev to st is a jump rather than
// playback progress.
func isSeek(prev, st playback.Status, elapsed time.Duration) bool {
	if st.State != prev.State || st.PositionMs == prev.PositionMs {
		return false
	}
	switch st.State {
	case playback.StatePaused:
		return true
	case playback.StatePlaying:
		delta := st.PositionMs - prev.PositionMs
		if delta < 0 {
			return true
		}
		speed := st.Speed
		if speed <= 0 {
			speed = playback.DefaultSpeed
		}
		allowed := time.Duration(float64(elapsed)*speed) + seekSlack
		return time.Duration(delta)*time.Millisecond > allowed
	}
	return false
}

func (t *Tracker) stop() {
	if t.prev == nil {
		return
	}
	if t.prev.State == playback.StatePlaying || t.prev.State == playback.StatePaused {
		t.emit(*t.prev, EventStop, t.now())
	}
}

func (t *Tracker) emit(st playback.Status, event Event, at time.Time) {
	snap := Snapshot{
		BookID:     t.bookID,
		SessionID:  t.sessionID,
		PositionMs: st.PositionMs,
		DurationMs: st.DurationMs,
		Speed:      st.Speed,
		Event:      event,
		At:         at,
	}
	select {
	case t.queue <- snap:
	default:
		t.dropped++
		t.logger.Warn("Progress queue full, dropping snapshot", "event", event, "dropped", t.dropped)
	}
}

// ResumePosition returns where to resume bookID: the last recorded position,
// or 0 when nothing is recorded or the book was finished.
func ResumePosition(ctx context.Context, store Store, bookID string) (int64, error) {
	snap, err := store.Last(ctx, bookID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if snap.Event == EventEnded {
		return 0, nil
	}
	return snap.PositionMs, nil
}
