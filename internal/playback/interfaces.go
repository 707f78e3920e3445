package playback

import (
	"context"
	"time"
)

// Frame is a block of decoded audio: interleaved signed 16-bit samples.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Empty reports whether the frame carries no samples.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Samples) == 0
}

// Duration returns the playback length of the frame.
func (f *Frame) Duration() time.Duration {
	if f.Empty() || f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Decoder reads audio from exactly one segment source.
// Implementations must always produce signed 16-bit interleaved samples.
type Decoder interface {
	// SampleRate and Channels describe the negotiated output format.
	SampleRate() int
	Channels() int

	// ReadFrame returns the next decoded frame. It returns io.EOF once the
	// source is exhausted. A nil frame with a nil error is allowed and is
	// skipped by callers.
	ReadFrame() (*Frame, error)

	// Position returns the timestamp of the most recently returned frame.
	Position() time.Duration

	// Seek moves the read position within the source.
	Seek(offset time.Duration) error

	// Close releases the decoder.
	Close() error
}

// Interrupter is implemented by decoders whose ReadFrame can block on a slow
// source. Interrupt makes a pending ReadFrame return promptly with an error;
// the next ReadFrame carries on from Position.
type Interrupter interface {
	Interrupt()
}

// DecoderOptions configures how a decoder opens a source.
type DecoderOptions struct {
	SampleRate int               // requested output rate, 0 keeps the source rate
	Channels   int               // requested output channels, 0 keeps the source layout
	Headers    map[string]string // request headers for remote sources
	Timeout    time.Duration     // connect/read timeout for remote sources
	Reconnect  bool              // reconnect dropped remote streams
}

// DecoderFactory opens decoders for segment sources.
type DecoderFactory interface {
	OpenDecoder(ctx context.Context, src Source, opts DecoderOptions) (Decoder, error)
}

// TempoFilter changes playback speed without changing pitch. Output may lag
// input: Pull returns (nil, nil) until the filter has enough audio buffered.
type TempoFilter interface {
	Push(frame *Frame) error
	Pull() (*Frame, error)
	// Drain ends the input and returns all output still held by the filter,
	// or nil if there is none. No frames may be pushed afterwards.
	Drain(ctx context.Context) (*Frame, error)
	Close() error
}

// FilterFactory builds tempo filters from a chain of stage multipliers.
type FilterFactory interface {
	NewTempoFilter(chain []float64, sampleRate, channels int) (TempoFilter, error)
}

// AudioSink accepts signed 16-bit little-endian interleaved PCM.
type AudioSink interface {
	// Start begins or resumes output.
	Start() error
	// Write queues PCM, blocking until buffer space is available.
	Write(p []byte) (int, error)
	// Stop pauses output, keeping queued audio.
	Stop() error
	// Flush discards queued audio.
	Flush() error
	// Drain blocks until queued audio has been played.
	Drain() error
	// Close releases the output.
	Close() error
}

// SinkFactory opens sinks for a negotiated format. bufferBytes is the
// requested queue size.
type SinkFactory interface {
	OpenSink(sampleRate, channels, bufferBytes int) (AudioSink, error)
}

// TokenProvider supplies the bearer token for authenticated streams.
type TokenProvider interface {
	Token() string
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func() string

// Token implements TokenProvider.
func (f TokenFunc) Token() string { return f() }
