package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-desktop/internal/audio"
	"github.com/listenupapp/listenup-desktop/internal/auth"
	"github.com/listenupapp/listenup-desktop/internal/beepdec"
	"github.com/listenupapp/listenup-desktop/internal/config"
	"github.com/listenupapp/listenup-desktop/internal/ffmpeg"
	"github.com/listenupapp/listenup-desktop/internal/playback"
)

const missingBinary = "/nonexistent/listenup-ffmpeg"

// writeTone writes a mono 8kHz wav of the given length using the WAV sink.
func writeTone(t *testing.T, name string, d time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	wav, err := audio.CreateWAV(path)
	require.NoError(t, err)

	sink, err := wav.OpenSink(8000, 1, 0)
	require.NoError(t, err)
	n := int(d.Seconds() * 8000)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(math.Sin(2*math.Pi*440*float64(i)/8000) * 12000)
	}
	_, err = sink.Write(playback.EncodePCM(nil, samples))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, wav.Close())
	return path
}

func beepConfig() config.Config {
	c := config.Default()
	c.Player.Decoder = config.DecoderBeep
	c.Player.FFmpegPath = missingBinary
	c.Player.FFprobePath = missingBinary
	c.Player.SampleRate = 8000
	c.Player.Channels = 1
	return c
}

func TestLoadBook(t *testing.T) {
	_, err := loadBook(nil)
	require.Error(t, err)

	m, err := loadBook([]string{"/books/part01.mp3", "/books/part02.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "part01", m.ID)
	assert.Len(t, m.Segments, 2)

	path := filepath.Join(t.TempDir(), "book.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: b1\ntitle: Book\nsegments:\n  - path: a.mp3\n    duration_ms: 10\n"), 0o644))
	m, err = loadBook([]string{path})
	require.NoError(t, err)
	assert.Equal(t, "b1", m.ID)
	assert.Equal(t, "Book", m.Title)
}

func TestIsManifest(t *testing.T) {
	assert.True(t, isManifest("book.YAML"))
	assert.True(t, isManifest("book.yml"))
	assert.True(t, isManifest("book.json"))
	assert.False(t, isManifest("book.mp3"))
}

func TestSelectBackends(t *testing.T) {
	c := beepConfig().Player

	be, err := selectBackends(c, log.Default())
	require.NoError(t, err)
	assert.IsType(t, &beepdec.Factory{}, be.decoders)
	assert.Nil(t, be.filters, "no tempo filter without ffmpeg")

	c.Decoder = config.DecoderAuto
	be, err = selectBackends(c, log.Default())
	require.NoError(t, err)
	assert.IsType(t, &beepdec.Factory{}, be.decoders)
	assert.IsType(t, &beepdec.Factory{}, be.prober)

	c.Decoder = config.DecoderFFmpeg
	_, err = selectBackends(c, log.Default())
	assert.ErrorContains(t, err, "ffmpeg decoder selected")
}

func TestSelectBackendsWithFFmpeg(t *testing.T) {
	if err := ffmpeg.CheckBinary("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if err := ffmpeg.CheckBinary("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	c := config.Default().Player
	be, err := selectBackends(c, log.Default())
	require.NoError(t, err)
	assert.IsType(t, &beepdec.Fallback{}, be.decoders)
	assert.IsType(t, &ffmpeg.Tools{}, be.filters)
	assert.IsType(t, &ffmpeg.Tools{}, be.prober)
}

func TestTokenProvider(t *testing.T) {
	tok, closeFn, err := tokenProvider(config.ServerConfig{Token: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Token())
	assert.NoError(t, closeFn())

	t.Setenv("LISTENUP_TOKEN", "from-env")
	tok, _, err = tokenProvider(config.ServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, auth.Static("from-env"), tok)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("file-token\n"), 0o600))
	tok, closeFn, err = tokenProvider(config.ServerConfig{TokenFile: path})
	require.NoError(t, err)
	assert.Equal(t, "file-token", tok.Token())
	assert.NoError(t, closeFn())

	_, _, err = tokenProvider(config.ServerConfig{TokenFile: "/nonexistent/dir/token"})
	assert.Error(t, err)
}

func TestEngineRendersBook(t *testing.T) {
	first := writeTone(t, "part01.wav", 300*time.Millisecond)
	second := writeTone(t, "part02.wav", 200*time.Millisecond)

	out, err := audio.CreateWAV(filepath.Join(t.TempDir(), "out.wav"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng, err := newEngine(ctx, beepConfig(), []string{first, second}, out)
	require.NoError(t, err)
	defer eng.Close()

	assert.Equal(t, "part01", eng.title())
	require.Len(t, eng.segments, 2)
	assert.Equal(t, int64(300), eng.segments[1].OffsetMs)
	assert.Equal(t, int64(500), eng.player.Duration())

	require.NoError(t, eng.player.Play())
	require.NoError(t, eng.player.WaitForEnd(ctx))
	assert.Equal(t, playback.StateEnded, eng.player.State())

	eng.player.Release()
	require.NoError(t, out.Close())
	assert.InDelta(t, 500, out.DurationMs(), 20)
}

func TestSeekToStart(t *testing.T) {
	path := writeTone(t, "book.wav", 400*time.Millisecond)

	eng, err := newEngine(context.Background(), beepConfig(), []string{path}, audio.ClockSinks{})
	require.NoError(t, err)
	defer eng.Close()

	defer func(prev time.Duration) { startAt = prev }(startAt)

	startAt = time.Second
	assert.ErrorContains(t, seekToStart(context.Background(), eng, nil, true), "past the end")

	startAt = 250 * time.Millisecond
	require.NoError(t, seekToStart(context.Background(), eng, nil, true))
	assert.Equal(t, int64(250), eng.player.Position())

	require.NoError(t, seekToStart(context.Background(), eng, nil, false), "nothing to resume")
	assert.Equal(t, int64(250), eng.player.Position())
}

func TestPrintProbe(t *testing.T) {
	var buf bytes.Buffer
	printProbe(&buf, "https://example.com/book.m4b", &ffmpeg.ProbeResult{
		Format:     "mov,mp4,m4a",
		Codec:      "aac",
		Duration:   90 * time.Minute,
		SampleRate: 44100,
		Channels:   2,
		BitRate:    64000,
		Tags:       map[string]string{"title": "Book", "ARTIST": "Someone"},
	})

	out := buf.String()
	assert.Contains(t, out, "codec:    aac")
	assert.Contains(t, out, "1h30m0s")
	assert.Contains(t, out, "44.1 kHz, stereo")
	assert.Contains(t, out, "64 kbps")
	assert.NotContains(t, out, "size:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("artist:")), bytes.Index(buf.Bytes(), []byte("title:")))
}

func TestChannelLayout(t *testing.T) {
	assert.Equal(t, "mono", channelLayout(1))
	assert.Equal(t, "stereo", channelLayout(2))
	assert.Equal(t, "6 channels", channelLayout(6))
}
