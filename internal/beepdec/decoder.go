// Package beepdec decodes local audio files in-process with beep, for
// machines without ffmpeg.
package beepdec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

const (
	// frameSamples is the per-channel size of one decoded frame.
	frameSamples = 2048

	// resampleQuality trades CPU for fidelity; 4 is beep's usual choice.
	resampleQuality = 4
)

// ErrUnsupported is returned for sources beep cannot decode.
var ErrUnsupported = errors.New("unsupported source for in-process decoding")

type decodeFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".mp3":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(f) },
	".wav":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(f) },
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(f) },
	".ogg":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
}

// Supports reports whether src is a local file with a known extension.
func Supports(src playback.Source) bool {
	if src.IsRemote() {
		return false
	}
	_, ok := decoders[strings.ToLower(filepath.Ext(src.Location()))]
	return ok
}

// Factory opens beep decoders. It implements playback.DecoderFactory.
type Factory struct {
	Logger *log.Logger
}

// OpenDecoder implements playback.DecoderFactory.
func (f *Factory) OpenDecoder(_ context.Context, src playback.Source, opts playback.DecoderOptions) (playback.Decoder, error) {
	if !Supports(src) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, src)
	}

	file, err := os.Open(src.Location())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	decode := decoders[strings.ToLower(filepath.Ext(src.Location()))]
	streamer, format, err := decode(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}

	d := &Decoder{
		src:        streamer,
		format:     format,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		buf:        make([][2]float64, frameSamples),
	}
	if d.sampleRate <= 0 {
		d.sampleRate = int(format.SampleRate)
	}
	if d.channels <= 0 {
		d.channels = format.NumChannels
	}
	if d.channels > 2 {
		d.channels = 2
	}
	d.rebuild()

	if f.Logger != nil {
		f.Logger.Debug("Opened beep decoder", "source", src,
			"sourceRate", int(format.SampleRate), "rate", d.sampleRate, "channels", d.channels)
	}
	return d, nil
}

// Decoder adapts a beep stream to playback.Decoder, resampling to the
// requested rate.
type Decoder struct {
	mu         sync.Mutex
	src        beep.StreamSeekCloser
	format     beep.Format
	stream     beep.Streamer
	sampleRate int
	channels   int
	buf        [][2]float64

	seekBase time.Duration
	produced int64 // output samples per channel since seekBase
}

// rebuild recreates the resampler so no pre-seek audio leaks through.
func (d *Decoder) rebuild() {
	d.stream = d.src
	if out := beep.SampleRate(d.sampleRate); out != d.format.SampleRate {
		d.stream = beep.Resample(resampleQuality, d.format.SampleRate, out, d.src)
	}
}

// SampleRate implements playback.Decoder.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// Channels implements playback.Decoder.
func (d *Decoder) Channels() int { return d.channels }

// ReadFrame implements playback.Decoder.
func (d *Decoder) ReadFrame() (*playback.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.stream.Stream(d.buf)
	if n == 0 {
		if err := d.src.Err(); err != nil {
			return nil, err
		}
		if !ok {
			return nil, io.EOF
		}
		return nil, nil
	}

	samples := make([]int16, 0, n*d.channels)
	for _, s := range d.buf[:n] {
		if d.channels == 1 {
			samples = append(samples, toInt16((s[0]+s[1])/2))
			continue
		}
		samples = append(samples, toInt16(s[0]), toInt16(s[1]))
	}
	d.produced += int64(n)

	return &playback.Frame{Samples: samples, SampleRate: d.sampleRate, Channels: d.channels}, nil
}

// Position implements playback.Decoder.
func (d *Decoder) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seekBase + beep.SampleRate(d.sampleRate).D(int(d.produced))
}

// Seek implements playback.Decoder. Offsets past the end seek to the end.
func (d *Decoder) Seek(offset time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.format.SampleRate.N(offset)
	if idx < 0 {
		idx = 0
	}
	if l := d.src.Len(); idx > l {
		idx = l
	}
	if err := d.src.Seek(idx); err != nil {
		return fmt.Errorf("seek to %v: %w", offset, err)
	}
	d.seekBase = d.format.SampleRate.D(idx)
	d.produced = 0
	d.rebuild()
	return nil
}

// Duration returns the decoded length of the source.
func (d *Decoder) Duration() time.Duration {
	return d.format.SampleRate.D(d.src.Len())
}

// Close implements playback.Decoder.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src.Close()
}

func toInt16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}

// Fallback decodes supported local files with beep and hands everything
// else, or anything beep fails on, to Next.
type Fallback struct {
	Beep   *Factory
	Next   playback.DecoderFactory
	Logger *log.Logger
}

// OpenDecoder implements playback.DecoderFactory.
func (f *Fallback) OpenDecoder(ctx context.Context, src playback.Source, opts playback.DecoderOptions) (playback.Decoder, error) {
	if f.Beep != nil && Supports(src) {
		dec, err := f.Beep.OpenDecoder(ctx, src, opts)
		if err == nil || f.Next == nil {
			return dec, err
		}
		if f.Logger != nil {
			f.Logger.Warn("In-process decoding failed, falling back", "source", src, "error", err)
		}
	}
	if f.Next == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, src)
	}
	return f.Next.OpenDecoder(ctx, src, opts)
}

// ProbeDuration opens src just long enough to read its length.
func (f *Factory) ProbeDuration(ctx context.Context, src playback.Source, _ map[string]string) (time.Duration, error) {
	dec, err := f.OpenDecoder(ctx, src, playback.DecoderOptions{})
	if err != nil {
		return 0, err
	}
	defer dec.Close()
	return dec.(*Decoder).Duration(), nil
}
