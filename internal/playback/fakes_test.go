package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var errFake = errors.New("fake failure")

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// fakeDecoder emits fixed-size frames of silence until length is reached.
// A zero length never ends.
type fakeDecoder struct {
	mu sync.Mutex

	rate     int
	channels int
	frameDur time.Duration
	length   time.Duration
	delay    time.Duration

	pos         time.Duration
	reads       int
	failAt      int // read index that fails, -1 for never
	seeks       []time.Duration
	posAtSeek   []time.Duration
	closeErr    error
	closed      bool
	location    string
	openOptions DecoderOptions

	stall      chan struct{} // when set, reads block until Interrupt
	interrupts int
}

func (d *fakeDecoder) SampleRate() int { return d.rate }
func (d *fakeDecoder) Channels() int   { return d.channels }

func (d *fakeDecoder) ReadFrame() (*Frame, error) {
	d.mu.Lock()
	stall := d.stall
	d.mu.Unlock()
	if stall != nil {
		<-stall
		return nil, errFake
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failAt >= 0 && d.reads == d.failAt {
		return nil, errFake
	}
	d.reads++
	if d.length > 0 && d.pos >= d.length {
		return nil, io.EOF
	}

	step := d.frameDur
	if d.length > 0 && d.pos+step > d.length {
		step = d.length - d.pos
	}
	n := int(int64(d.rate)*int64(step)/int64(time.Second)) * d.channels
	d.pos += step
	return &Frame{Samples: make([]int16, n), SampleRate: d.rate, Channels: d.channels}, nil
}

func (d *fakeDecoder) Position() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func (d *fakeDecoder) Seek(offset time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.posAtSeek = append(d.posAtSeek, d.pos)
	d.seeks = append(d.seeks, offset)
	d.pos = offset
	return nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.closeErr
}

func (d *fakeDecoder) Interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interrupts++
	if d.stall != nil {
		close(d.stall)
		d.stall = nil
	}
}

func (d *fakeDecoder) interruptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interrupts
}

func (d *fakeDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDecoder) seekCalls() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.seeks...)
}

// fakeDecoders opens a fresh fakeDecoder per call, built by newDecoder.
type fakeDecoders struct {
	mu         sync.Mutex
	newDecoder func(src Source) *fakeDecoder
	openErr    map[string]error
	opened     []*fakeDecoder
}

func (f *fakeDecoders) OpenDecoder(_ context.Context, src Source, opts DecoderOptions) (Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[src.Location()]; err != nil {
		return nil, err
	}
	d := f.newDecoder(src)
	d.location = src.Location()
	d.openOptions = opts
	f.opened = append(f.opened, d)
	return d, nil
}

func (f *fakeDecoders) all() []*fakeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeDecoder(nil), f.opened...)
}

// fakeFilter holds back lag frames before emitting anything.
type fakeFilter struct {
	mu      sync.Mutex
	chain   []float64
	lag     int
	queue   []*Frame
	drained bool
	closed  bool
}

func (f *fakeFilter) Push(frame *Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drained {
		return ErrNotOpen
	}
	f.queue = append(f.queue, frame)
	return nil
}

func (f *fakeFilter) Pull() (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) <= f.lag {
		return nil, nil
	}
	out := f.queue[0]
	f.queue = f.queue[1:]
	return out, nil
}

func (f *fakeFilter) Drain(context.Context) (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	if len(f.queue) == 0 {
		return nil, nil
	}
	out := &Frame{SampleRate: f.queue[0].SampleRate, Channels: f.queue[0].Channels}
	for _, frame := range f.queue {
		out.Samples = append(out.Samples, frame.Samples...)
	}
	f.queue = nil
	return out, nil
}

func (f *fakeFilter) isDrained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drained
}

func (f *fakeFilter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeFilters struct {
	mu    sync.Mutex
	lag   int
	err   error
	built []*fakeFilter
}

func (f *fakeFilters) NewTempoFilter(chain []float64, _, _ int) (TempoFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	flt := &fakeFilter{chain: chain, lag: f.lag}
	f.built = append(f.built, flt)
	return flt, nil
}

func (f *fakeFilters) all() []*fakeFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeFilter(nil), f.built...)
}

// fakeSink counts bytes and lifecycle calls without blocking.
type fakeSink struct {
	mu          sync.Mutex
	bufferBytes int
	written     int
	starts      int
	stops       int
	flushes     int
	drains      int
	closed      bool
	closePanics bool
}

func (s *fakeSink) Start() error { s.mu.Lock(); s.starts++; s.mu.Unlock(); return nil }
func (s *fakeSink) Stop() error  { s.mu.Lock(); s.stops++; s.mu.Unlock(); return nil }
func (s *fakeSink) Flush() error { s.mu.Lock(); s.flushes++; s.mu.Unlock(); return nil }
func (s *fakeSink) Drain() error { s.mu.Lock(); s.drains++; s.mu.Unlock(); return nil }

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSinkClosed
	}
	s.written += len(p)
	return len(p), nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	panics := s.closePanics
	s.mu.Unlock()
	if panics {
		panic("sink exploded")
	}
	return nil
}

func (s *fakeSink) bytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

type fakeSinks struct {
	mu          sync.Mutex
	closePanics bool
	opened      []*fakeSink
}

func (f *fakeSinks) OpenSink(_, _, bufferBytes int) (AudioSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSink{bufferBytes: bufferBytes, closePanics: f.closePanics}
	f.opened = append(f.opened, s)
	return s, nil
}

func (f *fakeSinks) all() []*fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSink(nil), f.opened...)
}

// harness bundles a player with its fake backends.
type harness struct {
	player   *Player
	decoders *fakeDecoders
	filters  *fakeFilters
	sinks    *fakeSinks
}

// newHarness builds a player whose decoders are finite when length > 0 and
// endless otherwise. Endless decoders sleep between frames so tests can
// observe the running loop.
func newHarness(length time.Duration) *harness {
	h := &harness{
		decoders: &fakeDecoders{openErr: map[string]error{}},
		filters:  &fakeFilters{},
		sinks:    &fakeSinks{},
	}
	h.decoders.newDecoder = func(Source) *fakeDecoder {
		d := &fakeDecoder{
			rate:     8000,
			channels: 1,
			frameDur: 20 * time.Millisecond,
			length:   length,
			failAt:   -1,
		}
		if length == 0 {
			d.delay = time.Millisecond
		}
		return d
	}
	h.player = NewPlayer(Options{
		Decoders: h.decoders,
		Filters:  h.filters,
		Sinks:    h.sinks,
		Logger:   discardLogger(),
	})
	return h
}

func segmentsOf(durations ...int64) []AudioSegment {
	sources := make([]Source, len(durations))
	for i := range durations {
		sources[i] = LocalSource("part" + string(rune('a'+i)) + ".mp3")
	}
	segs, _ := NewSegments(sources, durations)
	return segs
}

// completeCurrentSegment simulates natural completion of the running loop.
func completeCurrentSegment(p *Player) {
	p.mu.Lock()
	gen := p.loopGen
	p.mu.Unlock()
	p.handleSegmentComplete(gen)
}
