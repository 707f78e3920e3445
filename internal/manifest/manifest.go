// Package manifest loads book manifests: the ordered list of audio files or
// stream URLs that make up one audiobook.
//
// A manifest is YAML (or JSON, chosen by extension):
//
//	id: book-123
//	title: The Long Way
//	segments:
//	  - path: part01.mp3
//	    duration_ms: 1843000
//	  - url: https://server/api/books/123/audio/2
//
// Relative paths are resolved against the manifest's directory. Missing
// durations are filled in by a Prober.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

var (
	// ErrEmpty is returned for a manifest without segments.
	ErrEmpty = errors.New("manifest has no segments")

	// ErrNoDuration is returned when a duration is missing and cannot be
	// probed.
	ErrNoDuration = errors.New("segment duration unknown")
)

// Prober measures the length of a source.
type Prober interface {
	ProbeDuration(ctx context.Context, src playback.Source, headers map[string]string) (time.Duration, error)
}

// Entry is one segment as written in the manifest file.
type Entry struct {
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	URL        string `yaml:"url,omitempty" json:"url,omitempty"`
	DurationMs int64  `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
	Title      string `yaml:"title,omitempty" json:"title,omitempty"`
}

// Manifest describes one book.
type Manifest struct {
	ID       string  `yaml:"id" json:"id"`
	Title    string  `yaml:"title" json:"title"`
	Author   string  `yaml:"author,omitempty" json:"author,omitempty"`
	Segments []Entry `yaml:"segments" json:"segments"`

	dir string
}

// Options controls how a manifest is turned into segments.
type Options struct {
	// BaseURL resolves segment urls that start with "/".
	BaseURL string

	Prober Prober
	Tokens playback.TokenProvider
	Logger *log.Logger
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand manifest path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data, filepath.Ext(expanded))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(expanded)
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(expanded), filepath.Ext(expanded))
	}
	return m, nil
}

// Parse decodes manifest data. ext selects JSON for ".json" and YAML
// otherwise.
func Parse(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FromFiles builds an ad-hoc manifest from a list of local files, played in
// the given order.
func FromFiles(paths []string) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, ErrEmpty
	}
	m := &Manifest{Segments: make([]Entry, len(paths))}
	for i, p := range paths {
		if isURL(p) {
			m.Segments[i] = Entry{URL: p}
		} else {
			m.Segments[i] = Entry{Path: p}
		}
	}
	first := m.Segments[0].Path
	if first == "" {
		first = m.Segments[0].URL
	}
	base := filepath.Base(first)
	m.ID = strings.TrimSuffix(base, filepath.Ext(base))
	m.Title = m.ID
	return m, m.Validate()
}

// Validate checks that every entry names exactly one source.
func (m *Manifest) Validate() error {
	if len(m.Segments) == 0 {
		return ErrEmpty
	}
	for i, e := range m.Segments {
		switch {
		case e.Path == "" && e.URL == "":
			return fmt.Errorf("segment %d: path or url is required", i)
		case e.Path != "" && e.URL != "":
			return fmt.Errorf("segment %d: path and url are mutually exclusive", i)
		case e.DurationMs < 0:
			return fmt.Errorf("segment %d: negative duration %d", i, e.DurationMs)
		}
	}
	return nil
}

// Sources returns the playable source of every entry. Server-relative urls
// are joined to baseURL.
func (m *Manifest) Sources(baseURL string) ([]playback.Source, error) {
	sources := make([]playback.Source, len(m.Segments))
	for i, e := range m.Segments {
		if e.URL != "" {
			u := e.URL
			if strings.HasPrefix(u, "/") {
				if baseURL == "" {
					return nil, fmt.Errorf("segment %d: relative url %q needs a server url", i, u)
				}
				u = strings.TrimRight(baseURL, "/") + u
			}
			sources[i] = playback.RemoteSource(u)
			continue
		}
		p, err := homedir.Expand(e.Path)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if !filepath.IsAbs(p) && m.dir != "" {
			p = filepath.Join(m.dir, p)
		}
		sources[i] = playback.LocalSource(p)
	}
	return sources, nil
}

// Resolve probes any missing durations and returns the
// contiguous segment list for the player.
func (m *Manifest) Resolve(ctx context.Context, opts Options) ([]playback.AudioSegment, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	sources, err := m.Sources(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	durations := make([]int64, len(sources))
	for i, e := range m.Segments {
		if e.DurationMs > 0 {
			durations[i] = e.DurationMs
			continue
		}
		if opts.Prober == nil {
			return nil, fmt.Errorf("segment %d (%s): %w", i, sources[i], ErrNoDuration)
		}

		var headers map[string]string
		if sources[i].IsRemote() && opts.Tokens != nil {
			if tok := opts.Tokens.Token(); tok != "" {
				headers = map[string]string{"Authorization": "Bearer " + tok}
			}
		}
		d, err := opts.Prober.ProbeDuration(ctx, sources[i], headers)
		if err != nil {
			return nil, fmt.Errorf("segment %d (%s): %w: %w", i, sources[i], ErrNoDuration, err)
		}
		durations[i] = d.Milliseconds()
		logger.Debug("Probed segment duration", "index", i, "source", sources[i], "durationMs", durations[i])
	}

	return playback.NewSegments(sources, durations)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
