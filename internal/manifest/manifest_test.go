package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

type fakeProber struct {
	durations map[string]time.Duration
	headers   []map[string]string
	err       error
}

func (f *fakeProber) ProbeDuration(_ context.Context, src playback.Source, headers map[string]string) (time.Duration, error) {
	f.headers = append(f.headers, headers)
	if f.err != nil {
		return 0, f.err
	}
	return f.durations[filepath.Base(src.Location())], nil
}

func writeManifest(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeManifest(t, "book.yaml", `
id: book-1
title: The Long Way
author: Someone
segments:
  - path: part01.mp3
    duration_ms: 1000
  - path: /abs/part02.mp3
    duration_ms: 2000
  - url: https://example.com/audio/3
    duration_ms: 500
`)
	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "book-1", m.ID)
	assert.Equal(t, "The Long Way", m.Title)
	require.Len(t, m.Segments, 3)

	segs, err := m.Resolve(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "part01.mp3"), segs[0].Source.Location())
	assert.Equal(t, "/abs/part02.mp3", segs[1].Source.Location())
	assert.True(t, segs[2].Source.IsRemote())
	assert.Equal(t, []int64{0, 1000, 3000}, []int64{segs[0].OffsetMs, segs[1].OffsetMs, segs[2].OffsetMs})
	assert.Equal(t, int64(3500), playback.TotalDurationMs(segs))
	assert.NoError(t, playback.ValidateSegments(segs))
}

func TestLoadJSONDefaultsID(t *testing.T) {
	path := writeManifest(t, "my-book.json", `{"title": "T", "segments": [{"path": "a.mp3", "duration_ms": 10}]}`)
	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-book", m.ID)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "empty", body: "title: x\n", want: ErrEmpty},
		{name: "no source", body: "segments:\n  - duration_ms: 5\n"},
		{name: "both sources", body: "segments:\n  - path: a.mp3\n    url: https://x/a\n"},
		{name: "negative duration", body: "segments:\n  - path: a.mp3\n    duration_ms: -1\n"},
		{name: "malformed", body: "segments: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), ".yaml")
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestResolveProbesMissingDurations(t *testing.T) {
	m, err := FromFiles([]string{"/books/a.mp3", "https://example.com/b.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "a", m.ID)

	prober := &fakeProber{durations: map[string]time.Duration{
		"a.mp3": 1500 * time.Millisecond,
		"b.mp3": 2 * time.Second,
	}}
	segs, err := m.Resolve(context.Background(), Options{Prober: prober, Tokens: playback.TokenFunc(func() string { return "tok" })})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), segs[0].DurationMs)
	assert.Equal(t, int64(1500), segs[1].OffsetMs)
	assert.Equal(t, int64(2000), segs[1].DurationMs)

	require.Len(t, prober.headers, 2)
	assert.Nil(t, prober.headers[0], "local files get no auth header")
	assert.Equal(t, "Bearer tok", prober.headers[1]["Authorization"])
}

func TestResolveWithoutDuration(t *testing.T) {
	m, err := FromFiles([]string{"a.mp3"})
	require.NoError(t, err)

	_, err = m.Resolve(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoDuration)

	_, err = m.Resolve(context.Background(), Options{Prober: &fakeProber{err: errors.New("boom")}})
	assert.ErrorIs(t, err, ErrNoDuration)
	assert.ErrorContains(t, err, "boom")
}

func TestFromFilesEmpty(t *testing.T) {
	_, err := FromFiles(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRelativeURLsUseBaseURL(t *testing.T) {
	m, err := Parse([]byte("segments:\n  - url: /api/books/1/audio/0\n    duration_ms: 10\n"), ".yml")
	require.NoError(t, err)

	_, err = m.Resolve(context.Background(), Options{})
	assert.ErrorContains(t, err, "needs a server url")

	segs, err := m.Resolve(context.Background(), Options{BaseURL: "https://books.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://books.example.com/api/books/1/audio/0", segs[0].Source.Location())
}
