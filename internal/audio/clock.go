package audio

import (
	"sync"
	"time"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// ClockSinks opens sinks that discard audio but consume it at real-time
// pace, for running the player without a sound device. Speed > 1 consumes
// faster.
type ClockSinks struct {
	Speed float64
}

// OpenSink implements playback.SinkFactory.
func (c ClockSinks) OpenSink(sampleRate, channels, bufferBytes int) (playback.AudioSink, error) {
	speed := c.Speed
	if speed <= 0 {
		speed = 1
	}
	if bufferBytes <= 0 {
		bufferBytes = playback.SinkBufferBytes(sampleRate, channels)
	}
	s := &ClockSink{
		bytesPerSecond: float64(sampleRate*channels*bitsPerSample/8) * speed,
		bufferBytes:    bufferBytes,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// ClockSink simulates a device: writes are accepted until bufferBytes are
// queued, and queued bytes drain at bytesPerSecond while running.
type ClockSink struct {
	bytesPerSecond float64
	bufferBytes    int

	mu      sync.Mutex
	cond    *sync.Cond
	queued  float64
	last    time.Time
	running bool
	closed  bool
	played  int64
}

// advance drains queued bytes for the time elapsed since the last call.
func (s *ClockSink) advance() {
	now := time.Now()
	if s.running && !s.last.IsZero() {
		consumed := now.Sub(s.last).Seconds() * s.bytesPerSecond
		if consumed > s.queued {
			consumed = s.queued
		}
		s.queued -= consumed
		s.played += int64(consumed)
	}
	s.last = now
}

func (s *ClockSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return playback.ErrSinkClosed
	}
	s.advance()
	s.running = true
	s.cond.Broadcast()
	return nil
}

func (s *ClockSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.running = false
	return nil
}

func (s *ClockSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.queued = 0
	s.cond.Broadcast()
	return nil
}

// Write blocks while the simulated buffer is full or output is stopped
// with a full buffer.
func (s *ClockSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return 0, playback.ErrSinkClosed
		}
		s.advance()
		if s.queued+float64(len(p)) <= float64(s.bufferBytes) || s.queued == 0 {
			s.queued += float64(len(p))
			return len(p), nil
		}
		if !s.running {
			s.cond.Wait()
			continue
		}
		over := s.queued + float64(len(p)) - float64(s.bufferBytes)
		wait := time.Duration(over / s.bytesPerSecond * float64(time.Second))
		s.mu.Unlock()
		time.Sleep(wait)
		s.mu.Lock()
	}
}

// Drain waits for queued audio to play out. It returns at once if stopped.
func (s *ClockSink) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.advance()
		if s.closed || !s.running || s.queued < 1 {
			return nil
		}
		wait := time.Duration(s.queued / s.bytesPerSecond * float64(time.Second))
		s.mu.Unlock()
		time.Sleep(wait)
		s.mu.Lock()
	}
}

func (s *ClockSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// PlayedBytes returns how many bytes have been consumed so far.
func (s *ClockSink) PlayedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.played
}
