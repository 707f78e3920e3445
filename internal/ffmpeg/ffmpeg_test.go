package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

func TestDecodeArgs(t *testing.T) {
	tests := []struct {
		name    string
		opts    playback.DecoderOptions
		startAt time.Duration
		want    []string
		absent  []string
	}{
		{
			name: "local file",
			opts: playback.DecoderOptions{SampleRate: 44100, Channels: 2},
			want: []string{"-i book.mp3", "-f s16le", "-ar 44100", "-ac 2", "pipe:1"},
			absent: []string{
				"-ss", "-headers", "-reconnect", "-rw_timeout",
			},
		},
		{
			name:    "remote with seek",
			opts:    playback.DecoderOptions{SampleRate: 48000, Channels: 1, Headers: map[string]string{"Authorization": "Bearer tok"}, Timeout: 3 * time.Second, Reconnect: true},
			startAt: 1500 * time.Millisecond,
			want: []string{
				"-headers Authorization: Bearer tok\r\n",
				"-reconnect 1",
				"-rw_timeout 3000000",
				"-ss 1.500",
				"-ar 48000",
			},
		},
		{
			name:   "source format kept",
			opts:   playback.DecoderOptions{},
			absent: []string{"-ar", "-ac"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := DecodeArgs("book.mp3", tt.opts, tt.startAt)
			joined := strings.Join(args, " ")
			for _, w := range tt.want {
				assert.Contains(t, joined, w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, args, a)
			}
			assert.Equal(t, "pipe:1", args[len(args)-1])
		})
	}
}

func TestDecodeArgsSeekBeforeInput(t *testing.T) {
	args := DecodeArgs("in.m4b", playback.DecoderOptions{}, 2*time.Second)
	ss, in := -1, -1
	for i, a := range args {
		switch a {
		case "-ss":
			ss = i
		case "-i":
			in = i
		}
	}
	require.NotEqual(t, -1, ss)
	assert.Less(t, ss, in, "input seeking must precede -i")
}

func TestTempoArgs(t *testing.T) {
	args := TempoArgs([]float64{2.0, 1.5}, 44100, 2)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i pipe:0")
	assert.Contains(t, joined, "-filter:a atempo=2.000000,atempo=1.500000")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestFormatHeadersSorted(t *testing.T) {
	h := formatHeaders(map[string]string{"X-B": "2", "Authorization": "Bearer t", "X-A": "1"})
	assert.Equal(t, "Authorization: Bearer t\r\nX-A: 1\r\nX-B: 2\r\n", h)
	assert.Empty(t, formatHeaders(nil))
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg"},
			{"codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "channels": 2, "duration": "12.5"}
		],
		"format": {"format_name": "mov,mp4,m4a", "duration": "3600.250", "bit_rate": "64000", "tags": {"title": "Chapter 1"}}
	}`)

	res, err := parseProbe(data)
	require.NoError(t, err)
	assert.Equal(t, "aac", res.Codec)
	assert.Equal(t, 44100, res.SampleRate)
	assert.Equal(t, 2, res.Channels)
	assert.Equal(t, 3600250*time.Millisecond, res.Duration)
	assert.Equal(t, int64(64000), res.BitRate)
	assert.Equal(t, "Chapter 1", res.Tags["title"])
}

func TestParseProbeStreamDurationFallback(t *testing.T) {
	res, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio","sample_rate":"22050","channels":1,"duration":"2.0"}],"format":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, res.Duration)
}

func TestParseProbeErrors(t *testing.T) {
	_, err := parseProbe([]byte(`not json`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"video"}],"format":{}}`))
	assert.ErrorContains(t, err, "no audio stream")
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 8}
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))
	assert.Equal(t, "lo world", tb.String())
}

func TestCheckBinary(t *testing.T) {
	assert.Error(t, CheckBinary("nonexistent_binary_xyz"))
}

func TestNewDefaults(t *testing.T) {
	tools := New("", "", nil)
	assert.Equal(t, "ffmpeg", tools.FFmpeg)
	assert.Equal(t, "ffprobe", tools.FFprobe)
	assert.Equal(t, DefaultFrameSamples, tools.FrameSamples)
}

// requireFFmpeg skips tests that need real binaries.
func requireFFmpeg(t *testing.T) *Tools {
	t.Helper()
	tools := New("", "", log.New(io.Discard))
	if err := tools.Available(); err != nil {
		t.Skip("ffmpeg not installed")
	}
	return tools
}

// sineFile renders a short test tone to a wav file.
func sineFile(t *testing.T, seconds string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	cmd := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "sine=frequency=440:duration="+seconds,
		"-ar", "22050", "-ac", "1", path)
	require.NoError(t, cmd.Run())
	return path
}

func TestProbeAndDecodeIntegration(t *testing.T) {
	tools := requireFFmpeg(t)
	path := sineFile(t, "1")

	info, err := tools.Probe(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 22050, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.InDelta(t, time.Second.Seconds(), info.Duration.Seconds(), 0.05)

	d, err := tools.ProbeDuration(context.Background(), playback.LocalSource(path), nil)
	require.NoError(t, err)
	assert.Equal(t, info.Duration, d)

	dec, err := tools.OpenDecoder(context.Background(), playback.LocalSource(path), playback.DecoderOptions{SampleRate: 8000, Channels: 2})
	require.NoError(t, err)
	defer dec.Close()

	assert.Equal(t, 8000, dec.SampleRate())
	assert.Equal(t, 2, dec.Channels())

	var total int
	for {
		frame, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		total += len(frame.Samples)
	}
	assert.InDelta(t, 8000*2, total, 8000*2*0.05)
	assert.InDelta(t, time.Second.Seconds(), dec.Position().Seconds(), 0.05)

	require.NoError(t, dec.Seek(500*time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, dec.Position())
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.NotEmpty(t, frame.Samples)
}

// stalledDecoder returns a decoder reading from a process that never writes.
func stalledDecoder(t *testing.T) *Decoder {
	t.Helper()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	proc, err := startProcess(context.Background(), false, "sleep", "30")
	require.NoError(t, err)
	return &Decoder{
		tools:   New("", "", log.New(io.Discard)),
		label:   "stalled",
		opts:    playback.DecoderOptions{SampleRate: 8000, Channels: 1},
		release: context.Background(),
		proc:    proc,
		buf:     make([]byte, 1600),
	}
}

func TestDecoderCloseDoesNotWaitForStalledRead(t *testing.T) {
	dec := stalledDecoder(t)

	read := make(chan error, 1)
	go func() {
		_, err := dec.ReadFrame()
		read <- err
	}()
	require.Eventually(t, func() bool { return dec.reading.Load() != nil }, 5*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, dec.Close())
	assert.Less(t, time.Since(start), closeTimeout)

	select {
	case err := <-read:
		assert.ErrorIs(t, err, errInterrupted)
	case <-time.After(5 * time.Second):
		t.Fatal("read still blocked after close")
	}
	_, err := dec.ReadFrame()
	assert.ErrorIs(t, err, playback.ErrNotOpen)
}

func TestDecoderInterrupt(t *testing.T) {
	dec := stalledDecoder(t)
	defer dec.Close()

	dec.Interrupt()
	assert.False(t, dec.interrupted.Load(), "no read in flight")

	read := make(chan error, 1)
	go func() {
		_, err := dec.ReadFrame()
		read <- err
	}()
	require.Eventually(t, func() bool { return dec.reading.Load() != nil }, 5*time.Second, time.Millisecond)

	dec.Interrupt()
	select {
	case err := <-read:
		assert.ErrorIs(t, err, errInterrupted)
	case <-time.After(5 * time.Second):
		t.Fatal("read still blocked after interrupt")
	}
	assert.True(t, dec.interrupted.Load())
	assert.Equal(t, time.Duration(0), dec.Position())
}

func TestTempoFilterIntegration(t *testing.T) {
	tools := requireFFmpeg(t)

	filter, err := tools.NewTempoFilter([]float64{2.0}, 8000, 1)
	require.NoError(t, err)
	defer filter.Close()

	frame := &playback.Frame{Samples: make([]int16, 8000), SampleRate: 8000, Channels: 1}
	for range 20 {
		require.NoError(t, filter.Push(frame))
	}

	var got int
	require.Eventually(t, func() bool {
		out, err := filter.Pull()
		if err != nil {
			return false
		}
		if out != nil {
			got += len(out.Samples)
		}
		return got > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTempoFilterDrainFlushesEverything(t *testing.T) {
	tools := requireFFmpeg(t)

	filter, err := tools.NewTempoFilter([]float64{2.0}, 8000, 1)
	require.NoError(t, err)
	defer filter.Close()

	frame := &playback.Frame{Samples: make([]int16, 8000), SampleRate: 8000, Channels: 1}
	var got int
	for range 4 {
		require.NoError(t, filter.Push(frame))
		out, err := filter.Pull()
		require.NoError(t, err)
		if out != nil {
			got += len(out.Samples)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tail, err := filter.Drain(ctx)
	require.NoError(t, err)
	if tail != nil {
		got += len(tail.Samples)
	}

	// four seconds at double speed
	assert.InDelta(t, 16000, got, 16000*0.05)
	assert.ErrorIs(t, filter.Push(frame), playback.ErrNotOpen)
}

func TestTempoFilterRejectsBadInput(t *testing.T) {
	tools := New("", "", log.New(io.Discard))
	_, err := tools.NewTempoFilter(nil, 8000, 1)
	assert.Error(t, err)
	_, err = tools.NewTempoFilter([]float64{1.5}, 0, 1)
	assert.ErrorIs(t, err, playback.ErrInvalidFormat)
}
