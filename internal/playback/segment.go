// Package playback implements the segmented audiobook playback engine: the
// position resolver, the tempo chain builder, the per-segment session, the
// decode/output loop and the player state machine that ties them together.
package playback

import (
	"fmt"
	"strings"
)

type sourceKind int

const (
	sourceLocal sourceKind = iota + 1
	sourceRemote
)

// Source locates the audio for one segment. It is either a local file path
// or a remote URL, never both.
type Source struct {
	kind     sourceKind
	location string
}

// LocalSource returns a Source backed by a file on disk.
func LocalSource(path string) Source {
	return Source{kind: sourceLocal, location: path}
}

// RemoteSource returns a Source streamed from the server.
func RemoteSource(url string) Source {
	return Source{kind: sourceRemote, location: url}
}

// IsRemote reports whether the source is streamed over the network.
func (s Source) IsRemote() bool { return s.kind == sourceRemote }

// IsZero reports whether the source was never set.
func (s Source) IsZero() bool { return s.kind == 0 }

// Location returns the path or URL.
func (s Source) Location() string { return s.location }

func (s Source) String() string {
	switch s.kind {
	case sourceLocal:
		return "file:" + s.location
	case sourceRemote:
		return redactQuery(s.location)
	default:
		return "<none>"
	}
}

// redactQuery drops query strings so signed URLs never end up in logs.
func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?…"
	}
	return u
}

// AudioSegment is one playable unit of a book, typically one source file.
type AudioSegment struct {
	Source     Source
	DurationMs int64 // length of this segment
	OffsetMs   int64 // start of this segment in book time
}

// EndMs returns the book-relative end of the segment.
func (s AudioSegment) EndMs() int64 { return s.OffsetMs + s.DurationMs }

// NewSegments builds a contiguous segment list, assigning each segment the
// sum of the preceding durations as its offset.
func NewSegments(sources []Source, durations []int64) ([]AudioSegment, error) {
	if len(sources) != len(durations) {
		return nil, fmt.Errorf("%d sources but %d durations", len(sources), len(durations))
	}
	segments := make([]AudioSegment, len(sources))
	var offset int64
	for i := range sources {
		segments[i] = AudioSegment{
			Source:     sources[i],
			DurationMs: durations[i],
			OffsetMs:   offset,
		}
		offset += durations[i]
	}
	return segments, nil
}

// ValidateSegments checks that segments are contiguous, non-overlapping and
// each carry a source.
func ValidateSegments(segments []AudioSegment) error {
	var expected int64
	for i, s := range segments {
		if s.Source.IsZero() {
			return fmt.Errorf("segment %d: missing source", i)
		}
		if s.DurationMs < 0 {
			return fmt.Errorf("segment %d: negative duration %dms", i, s.DurationMs)
		}
		if s.OffsetMs != expected {
			return fmt.Errorf("segment %d: offset %dms, expected %dms", i, s.OffsetMs, expected)
		}
		expected += s.DurationMs
	}
	return nil
}

// TotalDurationMs returns the sum of all segment durations.
func TotalDurationMs(segments []AudioSegment) int64 {
	var total int64
	for _, s := range segments {
		total += s.DurationMs
	}
	return total
}

// Resolve maps a book-relative position to the segment containing it and the
// offset within that segment. Positions past the end clamp to the end of the
// last segment; an empty list resolves to (0, 0). All position translation in
// the engine goes through here.
func Resolve(positionMs int64, segments []AudioSegment) (index int, offsetMs int64) {
	if len(segments) == 0 {
		return 0, 0
	}
	if positionMs < 0 {
		positionMs = 0
	}

	var accumulated int64
	for i, s := range segments {
		if positionMs >= accumulated && positionMs < accumulated+s.DurationMs {
			return i, positionMs - accumulated
		}
		accumulated += s.DurationMs
	}

	last := len(segments) - 1
	return last, segments[last].DurationMs
}
