//go:build !nocgo

package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// drainPoll is how often Drain checks whether the device has caught up.
const drainPoll = 10 * time.Millisecond

// oto allows one context per process.
var (
	contextOnce   sync.Once
	sharedContext *oto.Context
	contextConfig DeviceConfig
	contextErr    error
)

// Device is the system sound output. It implements playback.SinkFactory.
type Device struct {
	config DeviceConfig
	logger *log.Logger

	// Volume applies to every sink opened afterwards, 0.0 to 1.0.
	Volume float64
}

// OpenDevice initializes the sound device. Only the first call configures
// the hardware; later calls must ask for the same format.
func OpenDevice(config DeviceConfig, logger *log.Logger) (*Device, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	contextOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   config.SampleRate,
			ChannelCount: config.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   config.BufferSize,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			contextErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		// Wait for context to be ready
		<-readyChan

		sharedContext = ctx
		contextConfig = config
		logger.Debug("Audio device ready", "sampleRate", config.SampleRate, "channels", config.Channels)
	})
	if contextErr != nil {
		return nil, contextErr
	}
	if contextConfig.SampleRate != config.SampleRate || contextConfig.Channels != config.Channels {
		return nil, checkFormat(contextConfig, config.SampleRate, config.Channels)
	}

	return &Device{config: contextConfig, logger: logger, Volume: 1.0}, nil
}

// Config returns the format the device runs at.
func (d *Device) Config() DeviceConfig { return d.config }

// OpenSink implements playback.SinkFactory.
func (d *Device) OpenSink(sampleRate, channels, bufferBytes int) (playback.AudioSink, error) {
	if err := checkFormat(d.config, sampleRate, channels); err != nil {
		return nil, err
	}
	if bufferBytes <= 0 {
		bufferBytes = playback.SinkBufferBytes(sampleRate, channels)
	}

	ring := newRingBuffer(bufferBytes)
	player := sharedContext.NewPlayer(ring)
	if player == nil {
		return nil, fmt.Errorf("failed to create oto player")
	}
	sink := &DeviceSink{ring: ring, player: player, logger: d.logger}
	if d.Volume != 1.0 {
		if err := sink.SetVolume(d.Volume); err != nil {
			sink.Close()
			return nil, err
		}
	}
	return sink, nil
}

// DeviceSink plays PCM through an oto player fed from a bounded ring buffer.
type DeviceSink struct {
	ring   *ringBuffer
	player *oto.Player
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

// Start begins or resumes output.
func (s *DeviceSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return playback.ErrSinkClosed
	}
	s.player.Play()
	return nil
}

// Write queues p, blocking while the buffer is full.
func (s *DeviceSink) Write(p []byte) (int, error) {
	n, err := s.ring.Write(p)
	if err == ErrClosed {
		return n, playback.ErrSinkClosed
	}
	return n, err
}

// Stop pauses output. Queued audio is kept.
func (s *DeviceSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.player.Pause()
	return nil
}

// Flush discards queued audio, including what oto has already pulled.
func (s *DeviceSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, err := s.player.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("reset device buffer: %w", err)
	}
	return nil
}

// Drain waits until everything queued has been handed to the device.
// It returns early if output is paused.
func (s *DeviceSink) Drain() error {
	for {
		s.mu.Lock()
		if s.closed || !s.player.IsPlaying() {
			s.mu.Unlock()
			return nil
		}
		pending := s.ring.Len() + s.player.BufferedSize()
		s.mu.Unlock()

		if pending == 0 {
			return nil
		}
		time.Sleep(drainPoll)
	}
}

// Close stops output and releases the player.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.ring.Close()
	s.player.Pause()
	return s.player.Close()
}

// SetVolume sets the output volume (0.0 to 1.0).
func (s *DeviceSink) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.player.SetVolume(volume)
	}
	return nil
}
