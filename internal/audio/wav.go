package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// WAVFile renders everything written to its sinks into one WAV file. It
// implements playback.SinkFactory; every segment sink appends to the same
// data chunk, so all segments must share one format.
type WAVFile struct {
	mu         sync.Mutex
	file       *os.File
	sampleRate int
	channels   int
	dataSize   int64
	closed     bool
}

// CreateWAV creates path and reserves room for the header.
func CreateWAV(path string) (*WAVFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to reserve WAV header: %w", err)
	}
	return &WAVFile{file: f}, nil
}

// OpenSink implements playback.SinkFactory.
func (w *WAVFile) OpenSink(sampleRate, channels, _ int) (playback.AudioSink, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, playback.ErrSinkClosed
	}
	if w.sampleRate == 0 {
		w.sampleRate, w.channels = sampleRate, channels
	} else if err := checkFormat(DeviceConfig{SampleRate: w.sampleRate, Channels: w.channels}, sampleRate, channels); err != nil {
		return nil, err
	}
	return &wavSink{file: w}, nil
}

// DataSize returns the number of PCM bytes written so far.
func (w *WAVFile) DataSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dataSize
}

// DurationMs returns the length of audio written so far in milliseconds.
func (w *WAVFile) DurationMs() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sampleRate == 0 {
		return 0
	}
	return w.dataSize * 1000 / int64(w.sampleRate*w.channels*bitsPerSample/8)
}

func (w *WAVFile) write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, playback.ErrSinkClosed
	}
	n, err := w.file.Write(p)
	w.dataSize += int64(n)
	return n, err
}

// Close writes the final header and closes the file.
func (w *WAVFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	rate, ch := w.sampleRate, w.channels
	if rate == 0 {
		rate, ch = DefaultDeviceConfig().SampleRate, DefaultDeviceConfig().Channels
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}
	if err := writeWAVHeader(w.file, int(w.dataSize), rate, ch, bitsPerSample); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w.file.Close()
}

// wavSink is one segment's view of a WAVFile. Writes never block, so
// rendering runs as fast as decoding.
type wavSink struct {
	file *WAVFile

	mu     sync.Mutex
	closed bool
}

func (s *wavSink) Start() error { return nil }
func (s *wavSink) Stop() error  { return nil }
func (s *wavSink) Flush() error { return nil }
func (s *wavSink) Drain() error { return nil }

func (s *wavSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, playback.ErrSinkClosed
	}
	return s.file.write(p)
}

// Close detaches the sink; the file stays open for the next segment.
func (s *wavSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// writeWAVHeader writes a canonical 44-byte PCM WAV header.
func writeWAVHeader(w io.Writer, dataSize, sampleRate, channels, bitsPerSample int) error {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	chunkSize := 36 + dataSize

	fields := []any{
		[]byte("RIFF"), uint32(chunkSize), []byte("WAVE"),
		[]byte("fmt "),
		uint32(16), // Subchunk1Size for PCM
		uint16(1),  // AudioFormat: PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[]byte("data"), uint32(dataSize),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}
