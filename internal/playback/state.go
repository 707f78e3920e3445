package playback

// State is the player's playback state.
type State int

const (
	// StateIdle means nothing is loaded.
	StateIdle State = iota
	// StateBuffering means segments are loaded but playback has not started.
	StateBuffering
	// StatePlaying means the decode loop is running.
	StatePlaying
	// StatePaused means a segment is open but output is stopped.
	StatePaused
	// StateEnded means the last segment finished.
	StateEnded
	// StateError means opening or decoding failed; a new Load is required.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsActive returns true while a segment session is in use.
func (s State) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}

// transitions lists the moves allowed through normal control flow. Load and
// Release reset the machine and are not checked against this table.
var transitions = map[State][]State{
	StateIdle:      {StateBuffering, StateError},
	StateBuffering: {StatePlaying, StateError},
	StatePlaying:   {StatePaused, StateEnded, StateError},
	StatePaused:    {StatePlaying, StateError},
	StateEnded:     {StatePlaying, StatePaused, StateError},
	StateError:     {},
}

// canTransition reports whether from -> to is a valid move. Staying in the
// same state is always allowed.
func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is the observable snapshot published to subscribers.
type Status struct {
	State        State
	PositionMs   int64
	DurationMs   int64
	Speed        float64
	SegmentIndex int
	Err          error // set when State is StateError
}
