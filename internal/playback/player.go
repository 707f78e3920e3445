package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Options wires the player to its backends.
type Options struct {
	Decoders DecoderFactory
	Filters  FilterFactory // optional, speed changes are ignored without it
	Sinks    SinkFactory
	Tokens   TokenProvider // optional, used for remote sources

	// OutputSampleRate and OutputChannels are requested from every decoder
	// so all segments share one output format. Zero keeps the source format.
	OutputSampleRate int
	OutputChannels   int

	RemoteTimeout time.Duration
	Reconnect     bool

	Logger *log.Logger
}

// Player plays a list of contiguous audio segments as one book timeline.
//
// Control methods are serialized. Every method that changes the session
// first cancels the running decode loop and waits for it to exit, so the
// loop never observes a half-modified session.
type Player struct {
	opts   Options
	logger *log.Logger

	// mu serializes control operations.
	mu           sync.Mutex
	session      *session
	currentIndex int
	started      bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	loopGen    uint64

	statusMu sync.RWMutex
	status   Status
	changed  chan struct{} // closed and replaced on every publish

	subMu  sync.Mutex
	subs   map[int]chan Status
	nextID int
}

// NewPlayer creates an idle player.
func NewPlayer(opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "playback"})
	}
	p := &Player{
		opts:    opts,
		logger:  logger,
		changed: make(chan struct{}),
		subs:    make(map[int]chan Status),
		status:  Status{State: StateIdle, Speed: DefaultSpeed},
	}
	p.session = newSession(&p.opts, logger)
	return p
}

// Status returns the current snapshot.
func (p *Player) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.status
}

// State returns the current playback state.
func (p *Player) State() State {
	return p.Status().State
}

// Position returns the book-relative position in milliseconds.
func (p *Player) Position() int64 {
	return p.Status().PositionMs
}

// Duration returns the total book duration in milliseconds.
func (p *Player) Duration() int64 {
	return p.Status().DurationMs
}

// Speed returns the current playback speed multiplier.
func (p *Player) Speed() float64 {
	return p.Status().Speed
}

// Subscribe returns a channel receiving every status change. When the
// subscriber falls behind, the oldest queued update is dropped. The returned
// function unsubscribes and closes the channel.
//
// Updates are delivered without blocking the player, so receivers may call
// control methods.
func (p *Player) Subscribe(buffer int) (<-chan Status, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Status, buffer)

	p.subMu.Lock()
	ch <- p.Status()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			delete(p.subs, id)
			close(ch)
			p.subMu.Unlock()
		})
	}
}

// WaitForEnd blocks until playback reaches StateEnded or StateError, or ctx
// is done.
func (p *Player) WaitForEnd(ctx context.Context) error {
	for {
		p.statusMu.RLock()
		st, changed := p.status, p.changed
		p.statusMu.RUnlock()

		switch st.State {
		case StateEnded:
			return nil
		case StateError:
			return st.Err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Load replaces the playlist. Any previous session is released first but
// the playback speed is kept. An empty list moves the player to StateError.
func (p *Player) Load(segments []AudioSegment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked(p.Speed())

	if len(segments) == 0 {
		p.failLocked(ErrNoSegments)
		return ErrNoSegments
	}
	if err := ValidateSegments(segments); err != nil {
		p.logger.Warn("Segment list is not contiguous", "error", err)
	}

	p.session.segments = append([]AudioSegment(nil), segments...)
	total := TotalDurationMs(segments)

	p.update(func(s *Status) {
		s.State = StateBuffering
		s.DurationMs = total
	})
	p.logger.Info("Loaded segments", "count", len(segments), "durationMs", total)
	return nil
}

// Play starts or resumes playback. From StateEnded it restarts at the
// beginning; from StateError it fails with ErrInvalidState.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch st := p.State(); st {
	case StateIdle:
		return fmt.Errorf("%w: nothing loaded", ErrInvalidState)
	case StateError:
		return fmt.Errorf("%w: play from %s", ErrInvalidState, st)
	case StatePlaying:
		return nil
	case StatePaused:
		if p.started && p.session.isOpen() {
			return p.resumeLocked()
		}
	case StateEnded:
		p.stopLoopLocked()
		p.session.close()
		p.session.pending = nil
		p.started = false
		p.currentIndex = 0
		p.update(func(s *Status) {
			s.PositionMs = 0
			s.SegmentIndex = 0
		})
	}

	return p.startLocked()
}

// startLocked opens the segment containing the current position and starts
// the decode loop.
func (p *Player) startLocked() error {
	pos := p.Position()
	index, offset := Resolve(pos, p.session.segments)
	if p.session.pending == nil && offset > 0 {
		p.session.setPending(index, offset)
	}

	p.currentIndex = index
	if err := p.session.open(context.Background(), index, p.Speed()); err != nil {
		p.failLocked(err)
		return err
	}
	if err := p.session.handle.sink.Start(); err != nil {
		err = newPlaybackError(OpOutput, index, err)
		p.failLocked(err)
		return err
	}

	p.started = true
	p.setStateLocked(StatePlaying)
	p.update(func(s *Status) { s.SegmentIndex = index })
	p.startLoopLocked()
	return nil
}

func (p *Player) resumeLocked() error {
	if err := p.session.handle.sink.Start(); err != nil {
		err = newPlaybackError(OpOutput, p.currentIndex, err)
		p.failLocked(err)
		return err
	}
	p.setStateLocked(StatePlaying)
	p.startLoopLocked()
	return nil
}

// Pause stops output and rewinds the decoder to the last published position,
// so audio queued in the sink but not yet heard is replayed on resume.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch st := p.State(); st {
	case StatePaused:
		return nil
	case StatePlaying:
	default:
		return fmt.Errorf("%w: pause from %s", ErrInvalidState, st)
	}

	p.stopLoopLocked()

	if h := p.session.handle; h != nil {
		if err := h.sink.Stop(); err != nil {
			p.logger.Warn("Failed to stop audio output", "error", err)
		}
		if err := h.sink.Flush(); err != nil {
			p.logger.Warn("Failed to flush audio output", "error", err)
		}
		if err := p.session.seek(p.Position() - h.segment.OffsetMs); err != nil {
			p.logger.Warn("Failed to rewind decoder on pause", "error", err)
		}
		if h.filter != nil {
			p.session.rebuildFilter(p.Speed())
		}
	}

	p.setStateLocked(StatePaused)
	return nil
}

// SeekTo moves playback to a book-relative position, clamped to
// [0, duration]. Before playback has started the seek is recorded and applied
// when the segment opens.
func (p *Player) SeekTo(positionMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.State()
	if st == StateIdle || st == StateError {
		return fmt.Errorf("%w: seek from %s", ErrInvalidState, st)
	}

	positionMs = clampPosition(positionMs, p.Duration())
	index, offset := Resolve(positionMs, p.session.segments)

	if !p.started || !p.session.isOpen() {
		p.currentIndex = index
		p.session.setPending(index, offset)
		p.update(func(s *Status) {
			s.PositionMs = positionMs
			s.SegmentIndex = index
		})
		p.logger.Debug("Recorded pending seek", "positionMs", positionMs, "segment", index, "offsetMs", offset)
		return nil
	}

	wasPlaying := st == StatePlaying
	p.stopLoopLocked()

	if h := p.session.handle; h != nil {
		if err := h.sink.Flush(); err != nil {
			p.logger.Warn("Failed to flush audio output", "error", err)
		}
	}

	if index != p.currentIndex {
		p.session.close()
		p.session.setPending(index, offset)
		p.currentIndex = index
		if err := p.session.open(context.Background(), index, p.Speed()); err != nil {
			p.failLocked(err)
			return err
		}
	} else {
		if err := p.session.seek(offset); err != nil {
			p.failLocked(err)
			return err
		}
		if p.session.handle.filter != nil {
			p.session.rebuildFilter(p.Speed())
		}
	}

	p.update(func(s *Status) {
		s.PositionMs = positionMs
		s.SegmentIndex = index
	})
	p.logger.Debug("Seeked", "positionMs", positionMs, "segment", index, "offsetMs", offset)

	if st == StateEnded {
		p.setStateLocked(StatePaused)
	}
	if wasPlaying {
		if err := p.session.handle.sink.Start(); err != nil {
			err = newPlaybackError(OpOutput, index, err)
			p.failLocked(err)
			return err
		}
		p.startLoopLocked()
	}
	return nil
}

// SetSpeed changes the playback speed. While playing, the loop is restarted
// with a rebuilt tempo filter.
func (p *Player) SetSpeed(speed float64) error {
	if err := ValidateSpeed(speed); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Speed() == speed {
		return nil
	}
	p.update(func(s *Status) { s.Speed = speed })

	if p.State() == StatePlaying {
		p.stopLoopLocked()
		p.session.rebuildFilter(speed)
		p.startLoopLocked()
	} else {
		p.session.rebuildFilter(speed)
	}
	p.logger.Debug("Speed changed", "speed", speed)
	return nil
}

// Release stops playback and frees every resource. The player returns to
// StateIdle and may be loaded again. Release is idempotent.
func (p *Player) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

func (p *Player) releaseLocked() {
	p.resetLocked(DefaultSpeed)
}

// resetLocked closes the session and returns to StateIdle at speed.
func (p *Player) resetLocked(speed float64) {
	p.stopLoopLocked()
	p.session.close()
	p.session.segments = nil
	p.session.pending = nil
	p.started = false
	p.currentIndex = 0

	p.update(func(s *Status) {
		*s = Status{State: StateIdle, Speed: speed}
	})
}

// startLoopLocked runs the decode loop for the open segment. Any running
// loop is cancelled and awaited first.
func (p *Player) startLoopLocked() {
	p.stopLoopLocked()

	h := p.session.handle
	if h == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	gen := p.loopGen
	total := p.Duration()

	p.loopCancel = cancel
	p.loopDone = done

	go func() {
		defer close(done)

		completed, err := runDecodeLoop(ctx, h, total, func(pos int64) {
			if ctx.Err() != nil {
				return
			}
			p.update(func(s *Status) { s.PositionMs = pos })
		})
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil:
			go p.handleLoopError(gen, err)
		case completed:
			go p.handleSegmentComplete(gen)
		}
	}()
}

// stopLoopLocked cancels the running loop and waits for it to exit. Any
// completion or error notification from an earlier loop becomes stale.
func (p *Player) stopLoopLocked() {
	if p.loopCancel != nil {
		p.loopCancel()
		if h := p.session.handle; h != nil {
			if d, ok := h.decoder.(Interrupter); ok {
				d.Interrupt()
			}
		}
		<-p.loopDone
		p.loopCancel = nil
		p.loopDone = nil
	}
	p.loopGen++
}

// handleSegmentComplete advances to the next segment, or finishes playback
// after the last one. It is dropped if the loop was stopped since.
func (p *Player) handleSegmentComplete(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.loopGen || p.State() != StatePlaying {
		return
	}
	p.stopLoopLocked()

	next := p.currentIndex + 1
	if next < len(p.session.segments) {
		p.logger.Debug("Advancing to next segment", "segment", next)
		p.session.close()
		p.currentIndex = next
		if err := p.session.open(context.Background(), next, p.Speed()); err != nil {
			p.failLocked(err)
			return
		}
		if err := p.session.handle.sink.Start(); err != nil {
			p.failLocked(newPlaybackError(OpOutput, next, err))
			return
		}
		p.update(func(s *Status) {
			s.PositionMs = p.session.segments[next].OffsetMs
			s.SegmentIndex = next
		})
		p.startLoopLocked()
		return
	}

	if h := p.session.handle; h != nil {
		if err := h.sink.Drain(); err != nil {
			p.logger.Warn("Failed to drain audio output", "error", err)
		}
	}
	p.update(func(s *Status) { s.PositionMs = s.DurationMs })
	p.setStateLocked(StateEnded)
	p.logger.Info("Playback finished")
}

// handleLoopError moves the player to StateError for a failure reported by
// the loop that is still current.
func (p *Player) handleLoopError(gen uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.loopGen {
		return
	}
	p.stopLoopLocked()
	if h := p.session.handle; h != nil {
		if serr := h.sink.Stop(); serr != nil {
			p.logger.Warn("Failed to stop audio output", "error", serr)
		}
	}
	p.failLocked(err)
}

func (p *Player) failLocked(err error) {
	p.logger.Error("Playback failed", "error", err)
	p.update(func(s *Status) {
		s.State = StateError
		s.Err = err
	})
}

func (p *Player) setStateLocked(to State) {
	from := p.State()
	if !canTransition(from, to) {
		p.logger.Warn("Unexpected state transition", "from", from, "to", to)
	}
	p.update(func(s *Status) {
		s.State = to
		if to != StateError {
			s.Err = nil
		}
	})
}

// update applies fn to the status and publishes the result when it changed.
func (p *Player) update(fn func(*Status)) {
	p.statusMu.Lock()
	before := p.status
	fn(&p.status)
	after := p.status
	if statusEqual(before, after) {
		p.statusMu.Unlock()
		return
	}
	close(p.changed)
	p.changed = make(chan struct{})
	p.statusMu.Unlock()

	p.publish(after)
}

func (p *Player) publish(st Status) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		// drop the oldest update to make room
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func statusEqual(a, b Status) bool {
	return a.State == b.State &&
		a.PositionMs == b.PositionMs &&
		a.DurationMs == b.DurationMs &&
		a.Speed == b.Speed &&
		a.SegmentIndex == b.SegmentIndex &&
		errors.Is(a.Err, b.Err) && errors.Is(b.Err, a.Err)
}
