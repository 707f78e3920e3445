package audio

import (
	"errors"
	"fmt"
	"time"
)

// DeviceConfig describes the one output format the sound device runs at.
type DeviceConfig struct {
	SampleRate int           // Hz
	Channels   int           // 1 = mono, 2 = stereo
	BufferSize time.Duration // device-side buffering, 0 for the driver default
}

// DefaultDeviceConfig returns the default device configuration.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate: 44100, // CD quality
		Channels:   2,
		BufferSize: 100 * time.Millisecond,
	}
}

// validateConfig validates the device configuration.
func validateConfig(config DeviceConfig) error {
	if config.SampleRate < 8000 || config.SampleRate > 192000 {
		return fmt.Errorf("sample rate must be between 8000 and 192000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BufferSize < 0 {
		return errors.New("buffer size must not be negative")
	}

	return nil
}

// checkFormat rejects segments whose format differs from the device's.
func checkFormat(config DeviceConfig, sampleRate, channels int) error {
	if sampleRate != config.SampleRate || channels != config.Channels {
		return fmt.Errorf("%w: device runs at %d Hz/%d ch, segment is %d Hz/%d ch",
			ErrFormatMismatch, config.SampleRate, config.Channels, sampleRate, channels)
	}
	return nil
}

// ErrFormatMismatch is returned when a sink is requested in a format the
// device was not opened with.
var ErrFormatMismatch = errors.New("audio format mismatch")
