package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// pushQueue bounds how many frames may wait for the filter's stdin.
const pushQueue = 16

// NewTempoFilter implements playback.FilterFactory with an ffmpeg atempo
// subprocess.
func (t *Tools) NewTempoFilter(chain []float64, sampleRate, channels int) (playback.TempoFilter, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty tempo chain")
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", playback.ErrInvalidFormat, sampleRate, channels)
	}

	proc, err := startProcess(context.Background(), true, t.FFmpeg, TempoArgs(chain, sampleRate, channels)...)
	if err != nil {
		return nil, err
	}

	f := &TempoFilter{
		proc:       proc,
		sampleRate: sampleRate,
		channels:   channels,
		in:         make(chan []byte, pushQueue),
		eof:        make(chan struct{}),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
	}
	f.wg.Add(2)
	go f.writeLoop()
	go f.readLoop()

	t.Logger.Debug("Started ffmpeg tempo filter", "filter", playback.FormatAtempo(chain))
	return f, nil
}

// TempoFilter pipes PCM through ffmpeg's atempo filter. Output arrives
// asynchronously and is collected until the next Pull.
type TempoFilter struct {
	proc       *process
	sampleRate int
	channels   int

	in       chan []byte
	eof      chan struct{} // closed by Drain
	done     chan struct{} // closed by Close
	readDone chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	out      []byte
	err      error
	draining bool
	closed   bool
	once     sync.Once
}

func (f *TempoFilter) writeLoop() {
	defer f.wg.Done()
	defer f.proc.stdin.Close()
	for {
		select {
		case <-f.done:
			return
		case <-f.eof:
			// flush what was pushed before Drain, then let stdin close
			for {
				select {
				case chunk := <-f.in:
					if !f.write(chunk) {
						return
					}
				default:
					return
				}
			}
		case chunk := <-f.in:
			if !f.write(chunk) {
				return
			}
		}
	}
}

func (f *TempoFilter) write(chunk []byte) bool {
	if _, err := f.proc.stdin.Write(chunk); err != nil {
		f.setErr(fmt.Errorf("write to tempo filter: %w", err))
		return false
	}
	return true
}

func (f *TempoFilter) readLoop() {
	defer f.wg.Done()
	defer close(f.readDone)
	buf := make([]byte, 8192)
	for {
		n, err := f.proc.stdout.Read(buf)
		if n > 0 {
			f.mu.Lock()
			f.out = append(f.out, buf[:n]...)
			f.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.setErr(fmt.Errorf("read from tempo filter: %w", err))
			}
			return
		}
	}
}

func (f *TempoFilter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil && !f.closed {
		f.err = err
	}
}

// Push queues a frame for filtering. It blocks while the filter is backed up.
func (f *TempoFilter) Push(frame *playback.Frame) error {
	if frame.Empty() {
		return nil
	}
	f.mu.Lock()
	err, closed := f.err, f.closed || f.draining
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if closed {
		return playback.ErrNotOpen
	}

	chunk := playback.EncodePCM(nil, frame.Samples)
	select {
	case f.in <- chunk:
		return nil
	case <-f.done:
		return playback.ErrNotOpen
	}
}

// Pull returns whatever filtered audio is ready, or nil while the filter is
// still buffering.
func (f *TempoFilter) Pull() (*playback.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return f.takeLocked(), nil
}

// Drain closes ffmpeg's stdin and waits for it to flush the rest of the
// filtered audio.
func (f *TempoFilter) Drain(ctx context.Context) (*playback.Frame, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, playback.ErrNotOpen
	}
	if !f.draining {
		f.draining = true
		close(f.eof)
	}
	f.mu.Unlock()

	select {
	case <-f.readDone:
	case <-f.done:
		return nil, playback.ErrNotOpen
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.takeLocked(), nil
}

// takeLocked removes every whole sample frame collected so far.
func (f *TempoFilter) takeLocked() *playback.Frame {
	frameBytes := 2 * f.channels
	n := len(f.out) - len(f.out)%frameBytes
	if n == 0 {
		return nil
	}

	samples := playback.DecodePCM(f.out[:n])
	f.out = append(f.out[:0], f.out[n:]...)
	return &playback.Frame{Samples: samples, SampleRate: f.sampleRate, Channels: f.channels}
}

// Close stops the filter subprocess. Buffered output is discarded.
func (f *TempoFilter) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		close(f.done)
		err = f.proc.Close()
		f.wg.Wait()
	})
	return err
}
