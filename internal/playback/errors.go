package playback

import (
	"errors"
	"fmt"
)

// Common errors for the playback engine.
var (
	// Load errors
	ErrNoSegments = errors.New("no segments to play")

	// Control errors
	ErrInvalidState = errors.New("invalid state for operation")
	ErrInvalidSpeed = errors.New("speed must be a finite number greater than zero")

	// Session errors
	ErrInvalidFormat = errors.New("invalid audio format")
	ErrNotOpen       = errors.New("no segment is open")
	ErrNoBackend     = errors.New("playback backend not configured")

	// Sink errors
	ErrSinkClosed = errors.New("audio sink is closed")
)

// Op names the stage in which a PlaybackError happened.
type Op string

const (
	OpOpen   Op = "open"
	OpFormat Op = "format"
	OpDecode Op = "decode"
	OpOutput Op = "output"
	OpFilter Op = "filter"
	OpSeek   Op = "seek"
)

// PlaybackError carries the failing stage and segment for errors that move the
// player into StateError.
type PlaybackError struct {
	Op      Op    // stage that failed
	Segment int   // segment index, -1 when not tied to a segment
	Err     error // underlying error
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	if e.Segment >= 0 {
		return fmt.Sprintf("%s segment %d: %v", e.Op, e.Segment, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PlaybackError) Unwrap() error {
	return e.Err
}

func newPlaybackError(op Op, segment int, err error) *PlaybackError {
	return &PlaybackError{Op: op, Segment: segment, Err: err}
}

// IsFormatError reports whether err came from format negotiation.
func IsFormatError(err error) bool {
	var pe *PlaybackError
	if errors.As(err, &pe) && pe.Op == OpFormat {
		return true
	}
	return errors.Is(err, ErrInvalidFormat)
}

// IsRecoverable reports whether the caller can retry the same operation
// without a fresh Load. Open and decode failures require a new Load.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrNoSegments),
		errors.Is(err, ErrNoBackend):
		return false
	}
	var pe *PlaybackError
	return !errors.As(err, &pe)
}
