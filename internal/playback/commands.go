package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/voicelink"
)

// command is the closed set of requests the session goroutine accepts.
type command interface {
	commandName() string
}

type (
	enqueueCmd struct {
		track    queue.Track
		endpoint voicelink.Endpoint
		pos      queue.Position
	}
	skipCmd        struct{ n int }
	pauseCmd       struct{}
	resumeCmd      struct{}
	stopCmd        struct{}
	queueListCmd   struct{ page, size int }
	loopModeCmd    struct{ mode queue.Mode }
	shuffleCmd     struct{}
	moveCmd        struct{ from, to int }
	removeCmd      struct{ index int }
	volumeCmd      struct{ volume int }
	nowPlayingCmd  struct{}
	clearCmd       struct{ keepCurrent bool }
	leaveCmd       struct{}
	historyCmd     struct{ n int }
	findCmd        struct{ query string }
	statusCmd      struct{}
	closeIfIdleCmd struct{ deadline time.Time }
)

func (enqueueCmd) commandName() string     { return "enqueue" }
func (skipCmd) commandName() string        { return "skip" }
func (pauseCmd) commandName() string       { return "pause" }
func (resumeCmd) commandName() string      { return "resume" }
func (stopCmd) commandName() string        { return "stop" }
func (queueListCmd) commandName() string   { return "queue" }
func (loopModeCmd) commandName() string    { return "loop" }
func (shuffleCmd) commandName() string     { return "shuffle" }
func (moveCmd) commandName() string        { return "move" }
func (removeCmd) commandName() string      { return "remove" }
func (volumeCmd) commandName() string      { return "volume" }
func (nowPlayingCmd) commandName() string  { return "nowplaying" }
func (clearCmd) commandName() string       { return "clear" }
func (leaveCmd) commandName() string       { return "leave" }
func (historyCmd) commandName() string     { return "history" }
func (findCmd) commandName() string        { return "find" }
func (statusCmd) commandName() string      { return "status" }
func (closeIfIdleCmd) commandName() string { return "close_if_idle" }

// Requester identifies the user who asked for a track.
type Requester struct {
	ID   string
	Name string
}

// PlayRequest is the input of [Session.Play].
type PlayRequest struct {
	Query     string
	Requester Requester

	// ChannelID is the voice channel to join when the session is idle.
	ChannelID string

	// Next inserts the track at the front of the queue.
	Next bool
}

// EnqueueResult describes where a track ended up.
type EnqueueResult struct {
	Track queue.Track

	// Position is the 0-based queue index, or -1 when the track started
	// playing immediately.
	Position int

	// Started reports whether the enqueue started playback.
	Started bool
}

// QueuePage is one page of the queue listing.
type QueuePage struct {
	Current       *queue.Track
	Tracks        []queue.Track
	Page          int
	Pages         int
	Total         int
	TotalDuration time.Duration
	LoopMode      queue.Mode
}

// NowPlaying describes the active track.
type NowPlaying struct {
	Track    queue.Track
	Position time.Duration
	Paused   bool
}

// Match is one [Session.Find] hit.
type Match struct {
	Index int
	Track queue.Track
}

// Status is a snapshot of the session.
type Status struct {
	GuildID   string
	State     State
	Current   *queue.Track
	Position  time.Duration
	QueueLen  int
	LoopMode  queue.Mode
	Volume    int
	Health    voicelink.Health
	Endpoint  voicelink.Endpoint
	IdleSince time.Time
	LastFault error
}

// Play resolves req.Query and enqueues the result. Resolution runs on the
// caller's goroutine so slow lookups do not hold up other commands.
func (s *Session) Play(ctx context.Context, req PlayRequest) (EnqueueResult, error) {
	if s.cfg.Resolver == nil {
		return EnqueueResult{}, fmt.Errorf("playback: play: no resolver configured")
	}
	t, err := s.cfg.Resolver.Resolve(observe.WithGuild(ctx, s.guildID), req.Query)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("playback: play %q: %w", req.Query, err)
	}
	t.RequesterID = req.Requester.ID
	t.RequesterName = req.Requester.Name
	pos := queue.End
	if req.Next {
		pos = queue.Front
	}
	return s.Enqueue(ctx, t, req.ChannelID, pos)
}

// Enqueue adds a resolved track. An idle session connects to channelID and
// starts playing; a connection failure wraps [voicelink.ErrConnectFailure]
// and leaves the track queued.
func (s *Session) Enqueue(ctx context.Context, t queue.Track, channelID string, pos queue.Position) (EnqueueResult, error) {
	ep := voicelink.Endpoint{GuildID: s.guildID, ChannelID: channelID}
	return call[EnqueueResult](ctx, s, enqueueCmd{track: t, endpoint: ep, pos: pos})
}

// Skip ends the active track and discards n-1 further queue entries. It
// returns every track that was skipped, the active one first.
func (s *Session) Skip(ctx context.Context, n int) ([]queue.Track, error) {
	return call[[]queue.Track](ctx, s, skipCmd{n: n})
}

// Pause suspends the active track without closing its source.
func (s *Session) Pause(ctx context.Context) error {
	_, err := s.submit(ctx, pauseCmd{})
	return err
}

// Resume continues a paused track where it stopped.
func (s *Session) Resume(ctx context.Context) error {
	_, err := s.submit(ctx, resumeCmd{})
	return err
}

// Stop ends the active track and clears the queue. The voice connection is
// kept until the session idles out or leaves.
func (s *Session) Stop(ctx context.Context) error {
	_, err := s.submit(ctx, stopCmd{})
	return err
}

// QueueList returns the 1-based page of size entries.
func (s *Session) QueueList(ctx context.Context, page, size int) (QueuePage, error) {
	return call[QueuePage](ctx, s, queueListCmd{page: page, size: size})
}

// SetLoopMode changes and persists the loop mode.
func (s *Session) SetLoopMode(ctx context.Context, m queue.Mode) error {
	_, err := s.submit(ctx, loopModeCmd{mode: m})
	return err
}

// Shuffle randomises the queued tracks and returns how many were shuffled.
func (s *Session) Shuffle(ctx context.Context) (int, error) {
	return call[int](ctx, s, shuffleCmd{})
}

// Move relocates the entry at from to index to (both 0-based).
func (s *Session) Move(ctx context.Context, from, to int) error {
	_, err := s.submit(ctx, moveCmd{from: from, to: to})
	return err
}

// Remove deletes the entry at index (0-based) and returns it.
func (s *Session) Remove(ctx context.Context, index int) (queue.Track, error) {
	return call[queue.Track](ctx, s, removeCmd{index: index})
}

// SetVolume changes and persists the volume. It applies from the next track.
func (s *Session) SetVolume(ctx context.Context, volume int) (int, error) {
	return call[int](ctx, s, volumeCmd{volume: volume})
}

// NowPlaying describes the active track.
func (s *Session) NowPlaying(ctx context.Context) (NowPlaying, error) {
	return call[NowPlaying](ctx, s, nowPlayingCmd{})
}

// Clear empties the queue and returns how many entries were removed. Unless
// keepCurrent is set the active track is stopped as well.
func (s *Session) Clear(ctx context.Context, keepCurrent bool) (int, error) {
	return call[int](ctx, s, clearCmd{keepCurrent: keepCurrent})
}

// Leave stops playback, clears the queue and disconnects from voice. The
// session stays usable.
func (s *Session) Leave(ctx context.Context) error {
	_, err := s.submit(ctx, leaveCmd{})
	return err
}

// History returns up to n recently played tracks, newest first.
func (s *Session) History(ctx context.Context, n int) ([]queue.Track, error) {
	return call[[]queue.Track](ctx, s, historyCmd{n: n})
}

// Find returns queue entries matching query, best first.
func (s *Session) Find(ctx context.Context, query string) ([]Match, error) {
	return call[[]Match](ctx, s, findCmd{query: query})
}

// Status returns a snapshot of the session.
func (s *Session) Status(ctx context.Context) (Status, error) {
	return call[Status](ctx, s, statusCmd{})
}
