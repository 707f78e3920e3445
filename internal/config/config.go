// Package config holds the listenup configuration: defaults, validation and
// loading from viper plus LISTENUP_* environment overrides.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// Decoder backends.
const (
	DecoderAuto   = "auto"
	DecoderFFmpeg = "ffmpeg"
	DecoderBeep   = "beep"
)

// Output targets.
const (
	OutputDevice = "device"
	OutputNone   = "none"
)

// Config contains all listenup configuration options.
type Config struct {
	Debug   bool   `yaml:"debug" mapstructure:"debug" env:"DEBUG"`
	LogFile string `yaml:"log_file" mapstructure:"log_file" env:"LOG_FILE"`

	Player   PlayerConfig   `yaml:"player" mapstructure:"player" envPrefix:"PLAYER_"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server" envPrefix:"SERVER_"`
	Progress ProgressConfig `yaml:"progress" mapstructure:"progress" envPrefix:"PROGRESS_"`
}

// PlayerConfig controls decoding and output.
type PlayerConfig struct {
	Decoder     string `yaml:"decoder" mapstructure:"decoder" env:"DECODER"`
	FFmpegPath  string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path" env:"FFMPEG_PATH"`
	FFprobePath string `yaml:"ffprobe_path" mapstructure:"ffprobe_path" env:"FFPROBE_PATH"`
	Output      string `yaml:"output" mapstructure:"output" env:"OUTPUT"`

	SampleRate int     `yaml:"sample_rate" mapstructure:"sample_rate" env:"SAMPLE_RATE"`
	Channels   int     `yaml:"channels" mapstructure:"channels" env:"CHANNELS"`
	Speed      float64 `yaml:"speed" mapstructure:"speed" env:"SPEED"`
	Volume     float64 `yaml:"volume" mapstructure:"volume" env:"VOLUME"`

	RemoteTimeout time.Duration `yaml:"remote_timeout" mapstructure:"remote_timeout" env:"REMOTE_TIMEOUT"`
	Reconnect     bool          `yaml:"reconnect" mapstructure:"reconnect" env:"RECONNECT"`
}

// ServerConfig holds the streaming server credentials.
type ServerConfig struct {
	URL       string `yaml:"url" mapstructure:"url" env:"URL"`
	Token     string `yaml:"token" mapstructure:"token" env:"TOKEN"`
	TokenFile string `yaml:"token_file" mapstructure:"token_file" env:"TOKEN_FILE"`
}

// ProgressConfig controls listening progress tracking.
type ProgressConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled" env:"ENABLED"`
	Database string        `yaml:"database" mapstructure:"database" env:"DATABASE"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" env:"INTERVAL"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Player: PlayerConfig{
			Decoder:       DecoderAuto,
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			Output:        OutputDevice,
			SampleRate:    44100,
			Channels:      2,
			Speed:         playback.DefaultSpeed,
			Volume:        1.0,
			RemoteTimeout: 30 * time.Second,
			Reconnect:     true,
		},
		Progress: ProgressConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
	}
}

var (
	validDecoders    = []string{DecoderAuto, DecoderFFmpeg, DecoderBeep}
	validOutputs     = []string{OutputDevice, OutputNone}
	validSampleRates = []int{8000, 16000, 22050, 24000, 44100, 48000}
)

// Validate checks the configuration and normalizes case-insensitive values.
func (c *Config) Validate() error {
	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Progress.Validate(); err != nil {
		return fmt.Errorf("progress config: %w", err)
	}
	return nil
}

// Validate checks the player configuration.
func (c *PlayerConfig) Validate() error {
	c.Decoder = strings.ToLower(c.Decoder)
	if !slices.Contains(validDecoders, c.Decoder) {
		return fmt.Errorf("invalid decoder '%s': must be one of %v", c.Decoder, validDecoders)
	}

	c.Output = strings.ToLower(c.Output)
	if !slices.Contains(validOutputs, c.Output) {
		return fmt.Errorf("invalid output '%s': must be one of %v", c.Output, validOutputs)
	}

	if !slices.Contains(validSampleRates, c.SampleRate) {
		return fmt.Errorf("invalid sample rate %d: must be one of %v", c.SampleRate, validSampleRates)
	}

	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}

	if err := playback.ValidateSpeed(c.Speed); err != nil {
		return err
	}

	if c.Volume < 0.0 || c.Volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", c.Volume)
	}

	if c.RemoteTimeout < time.Second {
		return fmt.Errorf("remote_timeout must be at least 1 second, got %v", c.RemoteTimeout)
	}

	if c.Decoder != DecoderBeep && c.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path cannot be empty")
	}

	return nil
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Token != "" && c.TokenFile != "" {
		return fmt.Errorf("token and token_file are mutually exclusive")
	}
	if c.URL != "" && !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("server url must start with http:// or https://, got %q", c.URL)
	}
	return nil
}

// Validate checks the progress configuration.
func (c *ProgressConfig) Validate() error {
	if c.Enabled && c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1 second, got %v", c.Interval)
	}
	return nil
}
