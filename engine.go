package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/listenupapp/listenup-desktop/internal/audio"
	"github.com/listenupapp/listenup-desktop/internal/auth"
	"github.com/listenupapp/listenup-desktop/internal/beepdec"
	"github.com/listenupapp/listenup-desktop/internal/config"
	"github.com/listenupapp/listenup-desktop/internal/ffmpeg"
	"github.com/listenupapp/listenup-desktop/internal/logging"
	"github.com/listenupapp/listenup-desktop/internal/manifest"
	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// engine is a loaded player plus everything it was built from.
type engine struct {
	book     *manifest.Manifest
	segments []playback.AudioSegment
	player   *playback.Player
	logger   *log.Logger

	closers []func() error
}

// backends are the decoder, tempo filter and duration prober chosen for a
// configuration.
type backends struct {
	decoders playback.DecoderFactory
	filters  playback.FilterFactory
	prober   manifest.Prober
}

// newEngine resolves args into a book, builds the player around sinks and
// loads it at the configured speed.
func newEngine(ctx context.Context, c config.Config, args []string, sinks playback.SinkFactory) (*engine, error) {
	e := &engine{logger: logging.New("engine")}

	tokens, closeTokens, err := tokenProvider(c.Server)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeTokens)

	be, err := selectBackends(c.Player, e.logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.book, err = loadBook(args)
	if err != nil {
		e.Close()
		return nil, err
	}

	e.segments, err = e.book.Resolve(ctx, manifest.Options{
		BaseURL: c.Server.URL,
		Prober:  be.prober,
		Tokens:  tokens,
		Logger:  logging.New("manifest"),
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("unable to resolve %q: %w", e.book.ID, err)
	}

	e.player = playback.NewPlayer(playback.Options{
		Decoders:         be.decoders,
		Filters:          be.filters,
		Sinks:            sinks,
		Tokens:           tokens,
		OutputSampleRate: c.Player.SampleRate,
		OutputChannels:   c.Player.Channels,
		RemoteTimeout:    c.Player.RemoteTimeout,
		Reconnect:        c.Player.Reconnect,
		Logger:           logging.New("playback"),
	})
	if err := e.player.Load(e.segments); err != nil {
		e.Close()
		return nil, fmt.Errorf("unable to load %q: %w", e.book.ID, err)
	}
	if err := e.player.SetSpeed(c.Player.Speed); err != nil {
		e.Close()
		return nil, err
	}

	e.logger.Debug("Engine ready", "book", e.book.ID, "segments", len(e.segments), "durationMs", e.player.Duration())
	return e, nil
}

// Close releases the player and any token watcher.
func (e *engine) Close() {
	if e.player != nil {
		e.player.Release()
	}
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.logger.Warn("Failed to release engine resource", "error", err)
		}
	}
	e.closers = nil
}

// title returns the book title, falling back to its id.
func (e *engine) title() string {
	if e.book.Title != "" {
		return e.book.Title
	}
	return e.book.ID
}

// tokenProvider picks the bearer token source: a watched token file, the
// configured token, or LISTENUP_TOKEN.
func tokenProvider(c config.ServerConfig) (playback.TokenProvider, func() error, error) {
	noop := func() error { return nil }

	switch {
	case c.TokenFile != "":
		fp, err := auth.NewFileProvider(c.TokenFile, logging.New("auth"))
		if err != nil {
			return nil, noop, fmt.Errorf("unable to watch token file: %w", err)
		}
		return fp, fp.Close, nil
	case c.Token != "":
		return auth.Static(c.Token), noop, nil
	default:
		tok, err := auth.FromEnv()
		if err != nil {
			return nil, noop, err
		}
		return tok, noop, nil
	}
}

// selectBackends maps the decoder setting onto concrete factories. ffmpeg
// provides the tempo filter regardless of decoder; without it speed changes
// are ignored.
func selectBackends(c config.PlayerConfig, logger *log.Logger) (backends, error) {
	tools := ffmpeg.New(c.FFmpegPath, c.FFprobePath, logging.New("ffmpeg"))
	beep := &beepdec.Factory{Logger: logging.New("beep")}
	ffmpegErr := tools.Available()

	var be backends
	if ffmpegErr == nil {
		be.filters = tools
	}

	switch c.Decoder {
	case config.DecoderFFmpeg:
		if ffmpegErr != nil {
			return be, fmt.Errorf("ffmpeg decoder selected: %w", ffmpegErr)
		}
		be.decoders, be.prober = tools, tools
	case config.DecoderBeep:
		be.decoders, be.prober = beep, beep
	default:
		if ffmpegErr != nil {
			logger.Warn("ffmpeg not found, streaming and speed changes are unavailable", "error", ffmpegErr)
			be.decoders, be.prober = beep, beep
			break
		}
		be.decoders = &beepdec.Fallback{Beep: beep, Next: tools, Logger: logger}
		be.prober = tools
	}
	return be, nil
}

// loadBook reads a manifest when given one, otherwise treats args as the
// ordered parts of a book.
func loadBook(args []string) (*manifest.Manifest, error) {
	if len(args) == 0 {
		return nil, errors.New("missing book: pass a manifest or audio files")
	}
	if len(args) == 1 && isManifest(args[0]) {
		return manifest.Load(args[0])
	}
	return manifest.FromFiles(args)
}

func isManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// openSinks returns the output for live playback.
func openSinks(c config.PlayerConfig) (playback.SinkFactory, error) {
	if c.Output == config.OutputNone {
		return audio.ClockSinks{}, nil
	}

	dc := audio.DefaultDeviceConfig()
	dc.SampleRate, dc.Channels = c.SampleRate, c.Channels
	dev, err := audio.OpenDevice(dc, logging.New("audio"))
	if err != nil {
		return nil, fmt.Errorf("unable to open audio device: %w", err)
	}
	dev.Volume = c.Volume
	return dev, nil
}
