package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// sessionHandle bundles the resources for the one open segment. The decode
// loop borrows it read-only; only session methods change it, and only while
// no loop is running.
type sessionHandle struct {
	index      int
	segment    AudioSegment
	decoder    Decoder
	filter     TempoFilter // nil at normal speed
	sink       AudioSink
	sampleRate int
	channels   int
}

type pendingSeek struct {
	index    int
	offsetMs int64
}

// session owns the decoder, filter and sink for the current segment.
type session struct {
	opts     *Options
	logger   *log.Logger
	segments []AudioSegment

	handle  *sessionHandle
	pending *pendingSeek
}

func newSession(opts *Options, logger *log.Logger) *session {
	return &session{opts: opts, logger: logger}
}

// isOpen reports whether a segment is currently open.
func (s *session) isOpen() bool {
	return s.handle != nil
}

// open closes any current segment, then opens segments[index]: decoder first,
// then format checks, then sink, then the tempo filter for speed. A pending
// seek for this segment is applied last.
func (s *session) open(ctx context.Context, index int, speed float64) error {
	s.close()

	if index < 0 || index >= len(s.segments) {
		return newPlaybackError(OpOpen, index, fmt.Errorf("segment index out of range (have %d)", len(s.segments)))
	}
	if s.opts.Decoders == nil || s.opts.Sinks == nil {
		return newPlaybackError(OpOpen, index, ErrNoBackend)
	}

	seg := s.segments[index]
	decOpts := DecoderOptions{
		SampleRate: s.opts.OutputSampleRate,
		Channels:   s.opts.OutputChannels,
	}
	if seg.Source.IsRemote() {
		decOpts.Timeout = s.opts.RemoteTimeout
		decOpts.Reconnect = s.opts.Reconnect
		if s.opts.Tokens != nil {
			if token := s.opts.Tokens.Token(); token != "" {
				decOpts.Headers = map[string]string{"Authorization": "Bearer " + token}
			}
		}
	}

	s.logger.Debug("Opening segment", "index", index, "source", seg.Source, "offsetMs", seg.OffsetMs)

	decoder, err := s.opts.Decoders.OpenDecoder(ctx, seg.Source, decOpts)
	if err != nil {
		return newPlaybackError(OpOpen, index, err)
	}

	sampleRate, channels := decoder.SampleRate(), decoder.Channels()
	if sampleRate <= 0 || channels <= 0 {
		closeQuietly(s.logger, "decoder", decoder.Close)
		return newPlaybackError(OpFormat, index,
			fmt.Errorf("%w: sample rate %d, channels %d", ErrInvalidFormat, sampleRate, channels))
	}

	sink, err := s.opts.Sinks.OpenSink(sampleRate, channels, SinkBufferBytes(sampleRate, channels))
	if err != nil {
		closeQuietly(s.logger, "decoder", decoder.Close)
		return newPlaybackError(OpOpen, index, fmt.Errorf("open audio output: %w", err))
	}

	s.handle = &sessionHandle{
		index:      index,
		segment:    seg,
		decoder:    decoder,
		sink:       sink,
		sampleRate: sampleRate,
		channels:   channels,
	}

	if speed != DefaultSpeed {
		s.rebuildFilter(speed)
	}

	if p := s.pending; p != nil {
		s.pending = nil
		if p.index == index && p.offsetMs > 0 {
			if err := s.seek(p.offsetMs); err != nil {
				s.close()
				return err
			}
		}
	}

	s.logger.Debug("Segment opened", "index", index, "sampleRate", sampleRate, "channels", channels)
	return nil
}

// close tears down filter, sink and decoder. Each step is independent: a
// failure is logged and the remaining resources are still released.
func (s *session) close() {
	h := s.handle
	if h == nil {
		return
	}
	s.handle = nil

	if h.filter != nil {
		closeQuietly(s.logger, "tempo filter", h.filter.Close)
	}
	if h.sink != nil {
		closeQuietly(s.logger, "audio sink", h.sink.Close)
	}
	if h.decoder != nil {
		closeQuietly(s.logger, "decoder", h.decoder.Close)
	}
	s.logger.Debug("Segment closed", "index", h.index)
}

// rebuildFilter replaces the tempo filter for speed. Construction failures
// leave the session without a filter, i.e. playing at normal speed.
func (s *session) rebuildFilter(speed float64) {
	h := s.handle
	if h == nil {
		return
	}
	if h.filter != nil {
		closeQuietly(s.logger, "tempo filter", h.filter.Close)
		h.filter = nil
	}
	if speed == DefaultSpeed || h.sampleRate <= 0 || h.channels <= 0 {
		return
	}
	if s.opts.Filters == nil {
		s.logger.Warn("No tempo filter backend, playing at normal speed", "speed", speed)
		return
	}

	chain, err := BuildTempoChain(speed)
	if err != nil {
		s.logger.Warn("Invalid tempo chain, playing at normal speed", "speed", speed, "error", err)
		return
	}
	filter, err := s.opts.Filters.NewTempoFilter(chain, h.sampleRate, h.channels)
	if err != nil {
		s.logger.Warn("Failed to build tempo filter, playing at normal speed", "speed", speed, "error", err)
		return
	}
	h.filter = filter
	s.logger.Debug("Tempo filter built", "speed", speed, "chain", chain)
}

// seek moves the open decoder to offsetMs within the current segment.
func (s *session) seek(offsetMs int64) error {
	h := s.handle
	if h == nil {
		return ErrNotOpen
	}
	if offsetMs < 0 {
		offsetMs = 0
	}
	if err := h.decoder.Seek(time.Duration(offsetMs) * time.Millisecond); err != nil {
		return newPlaybackError(OpSeek, h.index, err)
	}
	return nil
}

// setPending records a seek to apply when segment index is next opened.
func (s *session) setPending(index int, offsetMs int64) {
	s.pending = &pendingSeek{index: index, offsetMs: offsetMs}
}

// closeQuietly runs a teardown step, logging rather than returning failures.
// Panics are contained so the next step still runs.
func closeQuietly(logger *log.Logger, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Panic while releasing "+what, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("Failed to release "+what, "error", err)
	}
}
