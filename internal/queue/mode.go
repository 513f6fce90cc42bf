package queue

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned for an unknown loop mode.
var ErrInvalidMode = errors.New("queue: invalid loop mode")

// Mode is the loop policy of a queue.
type Mode int

const (
	// ModeOff plays every track once.
	ModeOff Mode = iota
	// ModeTrack replays the current track until it is skipped.
	ModeTrack
	// ModeQueue re-appends every finished track at the tail.
	ModeQueue
)

// String returns the lower-case name used in configuration and storage.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeTrack:
		return "track"
	case ModeQueue:
		return "queue"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m >= ModeOff && m <= ModeQueue
}

// ParseMode parses the name produced by [Mode.String].
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return ModeOff, nil
	case "track", "song":
		return ModeTrack, nil
	case "queue", "all":
		return ModeQueue, nil
	default:
		return ModeOff, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
