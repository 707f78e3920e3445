package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName names config, data and log directories.
const AppName = "listenup"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LISTENUP_"

// Load reads the configuration from v, applies LISTENUP_* environment
// overrides and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}
	if v.IsSet("log_file") {
		cfg.LogFile = v.GetString("log_file")
	}

	// Player settings
	if v.IsSet("player.decoder") {
		cfg.Player.Decoder = v.GetString("player.decoder")
	}
	if v.IsSet("player.ffmpeg_path") {
		cfg.Player.FFmpegPath = v.GetString("player.ffmpeg_path")
	}
	if v.IsSet("player.ffprobe_path") {
		cfg.Player.FFprobePath = v.GetString("player.ffprobe_path")
	}
	if v.IsSet("player.output") {
		cfg.Player.Output = v.GetString("player.output")
	}
	if v.IsSet("player.sample_rate") {
		cfg.Player.SampleRate = v.GetInt("player.sample_rate")
	}
	if v.IsSet("player.channels") {
		cfg.Player.Channels = v.GetInt("player.channels")
	}
	if v.IsSet("player.speed") {
		cfg.Player.Speed = v.GetFloat64("player.speed")
	}
	if v.IsSet("player.volume") {
		cfg.Player.Volume = v.GetFloat64("player.volume")
	}
	if v.IsSet("player.remote_timeout") {
		cfg.Player.RemoteTimeout = v.GetDuration("player.remote_timeout")
	}
	if v.IsSet("player.reconnect") {
		cfg.Player.Reconnect = v.GetBool("player.reconnect")
	}

	// Server settings
	if v.IsSet("server.url") {
		cfg.Server.URL = v.GetString("server.url")
	}
	if v.IsSet("server.token") {
		cfg.Server.Token = v.GetString("server.token")
	}
	if v.IsSet("server.token_file") {
		cfg.Server.TokenFile = v.GetString("server.token_file")
	}

	// Progress settings
	if v.IsSet("progress.enabled") {
		cfg.Progress.Enabled = v.GetBool("progress.enabled")
	}
	if v.IsSet("progress.database") {
		cfg.Progress.Database = v.GetString("progress.database")
	}
	if v.IsSet("progress.interval") {
		cfg.Progress.Interval = v.GetDuration("progress.interval")
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("invalid environment configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("debug", defaults.Debug)

	v.SetDefault("player.decoder", defaults.Player.Decoder)
	v.SetDefault("player.ffmpeg_path", defaults.Player.FFmpegPath)
	v.SetDefault("player.ffprobe_path", defaults.Player.FFprobePath)
	v.SetDefault("player.output", defaults.Player.Output)
	v.SetDefault("player.sample_rate", defaults.Player.SampleRate)
	v.SetDefault("player.channels", defaults.Player.Channels)
	v.SetDefault("player.speed", defaults.Player.Speed)
	v.SetDefault("player.volume", defaults.Player.Volume)
	v.SetDefault("player.remote_timeout", defaults.Player.RemoteTimeout.String())
	v.SetDefault("player.reconnect", defaults.Player.Reconnect)

	v.SetDefault("progress.enabled", defaults.Progress.Enabled)
	v.SetDefault("progress.interval", defaults.Progress.Interval.String())
}

// ConfigDirs returns the directories searched for listenup.yml, most
// specific first.
func ConfigDirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("LISTENUP_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// DataPath returns the path of name inside the user data directory.
func DataPath(name string) (string, error) {
	return gap.NewScope(gap.User, AppName).DataPath(name)
}

// LogPath returns the path of name inside the user log directory.
func LogPath(name string) (string, error) {
	return gap.NewScope(gap.User, AppName).LogPath(name)
}

// DatabasePath returns the progress database location, defaulting to the
// user data directory.
func (c *ProgressConfig) DatabasePath() (string, error) {
	if c.Database != "" {
		return homedir.Expand(c.Database)
	}
	return DataPath("progress.db")
}

// EnsureFile writes the commented default configuration to path unless the
// file already exists.
func EnsureFile(path string) error {
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(DefaultFile), 0o600); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

// DefaultFile is written on first run.
const DefaultFile = `# enable debug logging
debug: false

player:
  # decoder backend: auto, ffmpeg or beep
  decoder: "auto"
  ffmpeg_path: "ffmpeg"
  ffprobe_path: "ffprobe"
  # output target: device or none (consume audio in real time, silently)
  output: "device"
  sample_rate: 44100
  channels: 2
  # initial playback speed
  speed: 1.0
  # volume level (0.0 to 1.0)
  volume: 1.0
  # network read timeout for streamed books
  remote_timeout: "30s"
  reconnect: true

server:
  # url: "https://listenup.example.com"
  # token: ""
  # token_file: "~/.config/listenup/token"

progress:
  enabled: true
  # database: "~/.local/share/listenup/progress.db"
  interval: "30s"
`
