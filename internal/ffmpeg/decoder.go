package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

const (
	// DefaultFrameSamples is the per-channel sample count of one decoded frame.
	DefaultFrameSamples = 1024

	defaultProbeTimeout = 15 * time.Second
)

// Tools locates the ffmpeg binaries and builds decoders and tempo filters
// from them.
type Tools struct {
	FFmpeg       string
	FFprobe      string
	ProbeTimeout time.Duration
	FrameSamples int
	Logger       *log.Logger
}

// New returns Tools using the given binaries, falling back to "ffmpeg" and
// "ffprobe" on PATH.
func New(ffmpegPath, ffprobePath string, logger *log.Logger) *Tools {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tools{
		FFmpeg:       ffmpegPath,
		FFprobe:      ffprobePath,
		ProbeTimeout: defaultProbeTimeout,
		FrameSamples: DefaultFrameSamples,
		Logger:       logger,
	}
}

// Available reports whether both binaries can be found.
func (t *Tools) Available() error {
	if err := CheckBinary(t.FFmpeg); err != nil {
		return err
	}
	return CheckBinary(t.FFprobe)
}

// OpenDecoder implements playback.DecoderFactory. When the requested format
// is incomplete the source is probed to fill in the missing values.
func (t *Tools) OpenDecoder(ctx context.Context, src playback.Source, opts playback.DecoderOptions) (playback.Decoder, error) {
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		info, err := t.Probe(ctx, src.Location(), opts.Headers)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", src, err)
		}
		if opts.SampleRate <= 0 {
			opts.SampleRate = info.SampleRate
		}
		if opts.Channels <= 0 {
			opts.Channels = info.Channels
		}
	}
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("%w: %s reports %d Hz, %d channels", playback.ErrInvalidFormat, src, opts.SampleRate, opts.Channels)
	}

	frameSamples := t.FrameSamples
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}

	d := &Decoder{
		tools:   t,
		input:   src.Location(),
		label:   src.String(),
		opts:    opts,
		buf:     make([]byte, frameSamples*opts.Channels*2),
		release: context.WithoutCancel(ctx),
	}
	if err := d.start(0); err != nil {
		return nil, err
	}
	return d, nil
}

// Decoder streams s16le PCM out of an ffmpeg subprocess. Seeking restarts the
// subprocess at the new offset.
type Decoder struct {
	tools   *Tools
	input   string
	label   string
	opts    playback.DecoderOptions
	release context.Context

	mu      sync.Mutex
	proc    *process
	buf     []byte
	startAt time.Duration
	samples int64 // per-channel samples read since startAt
	closed  bool

	// reading is the process a ReadFrame is blocked on. It is read without
	// mu so Interrupt and Close never wait behind a stalled stream.
	reading     atomic.Pointer[process]
	interrupted atomic.Bool
}

// errInterrupted is returned by a read cut short by Interrupt.
var errInterrupted = errors.New("ffmpeg read interrupted")

func (d *Decoder) start(at time.Duration) error {
	args := DecodeArgs(d.input, d.opts, at)
	d.tools.Logger.Debug("Starting ffmpeg decoder", "source", d.label, "startAt", at)

	proc, err := startProcess(d.release, false, d.tools.FFmpeg, args...)
	if err != nil {
		return err
	}
	d.proc = proc
	d.startAt = at
	d.samples = 0
	d.interrupted.Store(false)
	return nil
}

// restartLocked replaces the running process with one starting at.
func (d *Decoder) restartLocked(at time.Duration) error {
	if d.proc != nil {
		if err := d.proc.Close(); err != nil {
			d.tools.Logger.Warn("Failed to stop ffmpeg", "source", d.label, "error", err)
		}
		d.proc = nil
	}
	return d.start(at)
}

// SampleRate implements playback.Decoder.
func (d *Decoder) SampleRate() int { return d.opts.SampleRate }

// Channels implements playback.Decoder.
func (d *Decoder) Channels() int { return d.opts.Channels }

// ReadFrame implements playback.Decoder. A short final read is returned as a
// smaller frame before io.EOF. After an Interrupt, the next call restarts
// ffmpeg at Position.
func (d *Decoder) ReadFrame() (*playback.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, playback.ErrNotOpen
	}
	if d.interrupted.Load() {
		if err := d.restartLocked(d.positionLocked()); err != nil {
			return nil, err
		}
	}
	if d.proc == nil {
		return nil, playback.ErrNotOpen
	}

	d.reading.Store(d.proc)
	n, err := io.ReadFull(d.proc.stdout, d.buf)
	d.reading.Store(nil)
	if d.interrupted.Load() {
		// the process is being killed, so the read may be incomplete
		return nil, errInterrupted
	}

	frameBytes := 2 * d.opts.Channels
	n -= n % frameBytes

	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		if n == 0 {
			if werr := d.proc.wait(); werr != nil {
				return nil, fmt.Errorf("ffmpeg decode %s: %w", d.label, werr)
			}
			return nil, io.EOF
		}
	default:
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}

	d.samples += int64(n / frameBytes)
	return &playback.Frame{
		Samples:    playback.DecodePCM(d.buf[:n]),
		SampleRate: d.opts.SampleRate,
		Channels:   d.opts.Channels,
	}, nil
}

// Interrupt implements playback.Interrupter. A ReadFrame blocked on ffmpeg
// returns at once; when no read is in flight it does nothing.
func (d *Decoder) Interrupt() {
	proc := d.reading.Load()
	if proc == nil {
		return
	}
	d.interrupted.Store(true)
	proc.cancel()
	d.tools.Logger.Debug("Interrupted ffmpeg read", "source", d.label)
}

// Position implements playback.Decoder.
func (d *Decoder) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positionLocked()
}

func (d *Decoder) positionLocked() time.Duration {
	return d.startAt + time.Duration(d.samples)*time.Second/time.Duration(d.opts.SampleRate)
}

// Seek implements playback.Decoder by restarting ffmpeg at offset.
func (d *Decoder) Seek(offset time.Duration) error {
	d.Interrupt()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return playback.ErrNotOpen
	}
	if offset < 0 {
		offset = 0
	}
	return d.restartLocked(offset)
}

// Close implements playback.Decoder.
func (d *Decoder) Close() error {
	d.Interrupt()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.proc == nil {
		return nil
	}
	err := d.proc.Close()
	d.proc = nil
	return err
}
