package playback

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/hertz/internal/queue"
)

// EventKind classifies a playback [Event].
type EventKind int

const (
	// EventTrackStarted is published when a track begins streaming.
	EventTrackStarted EventKind = iota
	// EventTrackFinished is published when a track played to its end.
	EventTrackFinished
	// EventTrackFailed is published when a track could not be played or
	// failed mid-stream. The session advances to the next entry.
	EventTrackFailed
	// EventTrackSkipped is published for every track removed by a skip.
	EventTrackSkipped
	// EventFaulted is published when the voice connection could not be
	// recovered. Err wraps [ErrFaulted].
	EventFaulted
	// EventIdle is published when the session runs out of tracks.
	EventIdle
)

func (k EventKind) String() string {
	switch k {
	case EventTrackStarted:
		return "started"
	case EventTrackFinished:
		return "finished"
	case EventTrackFailed:
		return "failed"
	case EventTrackSkipped:
		return "skipped"
	case EventFaulted:
		return "faulted"
	case EventIdle:
		return "idle"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is an observable session transition.
type Event struct {
	GuildID string
	Kind    EventKind

	// Track is the track the event refers to. Zero for EventIdle.
	Track queue.Track

	// Err is the cause for EventTrackFailed and EventFaulted.
	Err error

	At time.Time
}

// Notifier receives session events. Notify is called from the session
// goroutine and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Event)

// Notify implements [Notifier].
func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Notifiers fans an event out to every notifier in order.
type Notifiers []Notifier

// Notify implements [Notifier].
func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		n.Notify(ev)
	}
}

// ChanNotifier delivers events on a buffered channel. Events published while
// the buffer is full are dropped with a warning.
type ChanNotifier struct {
	ch chan Event
}

// NewChanNotifier returns a ChanNotifier buffering up to size events.
func NewChanNotifier(size int) *ChanNotifier {
	return &ChanNotifier{ch: make(chan Event, max(size, 1))}
}

// Notify implements [Notifier].
func (n *ChanNotifier) Notify(ev Event) {
	select {
	case n.ch <- ev:
	default:
		slog.Warn("playback event dropped, notifier buffer full",
			"guild_id", ev.GuildID,
			"event", ev.Kind.String(),
			"track", ev.Track.Title,
		)
	}
}

// Events returns the channel events are delivered on.
func (n *ChanNotifier) Events() <-chan Event {
	return n.ch
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
