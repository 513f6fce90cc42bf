package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/voicelink"
	"github.com/MrWong99/hertz/pkg/audio"
)

// defaultPageSize is used by QueueList when size is not positive.
const defaultPageSize = 10

// ─── Per-state handlers ──────────────────────────────────────────────────────

// handleIdle applies cmd while no track is active.
func (s *Session) handleIdle(ctx context.Context, cmd command) (any, error) {
	switch c := cmd.(type) {
	case enqueueCmd:
		t, idx := s.queue.Enqueue(c.track, c.pos)
		s.endpoint = c.endpoint
		if err := s.start(ctx); err != nil {
			return EnqueueResult{Track: t, Position: idx}, err
		}
		if s.current != nil && s.current.ID == t.ID {
			return EnqueueResult{Track: t, Position: -1, Started: true}, nil
		}
		return EnqueueResult{Track: t, Position: s.indexOf(t.ID)}, nil
	case skipCmd, pauseCmd, resumeCmd, stopCmd, nowPlayingCmd:
		return nil, ErrNoActiveTrack
	default:
		return s.handleCommon(ctx, cmd)
	}
}

// handlePlaying applies cmd while a track streams.
func (s *Session) handlePlaying(ctx context.Context, cmd command) (any, error) {
	switch c := cmd.(type) {
	case skipCmd:
		return s.skip(c.n), nil
	case pauseCmd:
		s.link.Unbind()
		s.bound = 0
		s.setState(Paused)
		slog.Info("playback paused", "guild_id", s.guildID, "track", s.current.Title)
		return nil, nil
	case resumeCmd:
		return nil, ErrNotPaused
	case stopCmd:
		s.stop()
		return nil, nil
	case nowPlayingCmd:
		return s.nowPlaying(), nil
	default:
		return s.handleCommon(ctx, cmd)
	}
}

// handlePaused applies cmd while the active track is suspended.
func (s *Session) handlePaused(ctx context.Context, cmd command) (any, error) {
	switch c := cmd.(type) {
	case skipCmd:
		return s.skip(c.n), nil
	case pauseCmd:
		return nil, ErrAlreadyPaused
	case resumeCmd:
		return nil, s.resume(ctx)
	case stopCmd:
		s.stop()
		return nil, nil
	case nowPlayingCmd:
		return s.nowPlaying(), nil
	default:
		return s.handleCommon(ctx, cmd)
	}
}

// handleCommon applies commands whose effect does not depend on the state.
func (s *Session) handleCommon(ctx context.Context, cmd command) (any, error) {
	switch c := cmd.(type) {
	case enqueueCmd:
		t, idx := s.queue.Enqueue(c.track, c.pos)
		return EnqueueResult{Track: t, Position: idx}, nil
	case queueListCmd:
		return s.queuePage(c.page, c.size), nil
	case loopModeCmd:
		return nil, s.setLoopMode(ctx, c.mode)
	case shuffleCmd:
		return s.queue.ShuffleRemaining(), nil
	case moveCmd:
		return nil, s.queue.Move(c.from, c.to)
	case removeCmd:
		return s.queue.Remove(c.index)
	case volumeCmd:
		s.volume = audio.ClampVolume(c.volume)
		s.savePrefs(ctx)
		return s.volume, nil
	case clearCmd:
		return s.clear(c.keepCurrent), nil
	case leaveCmd:
		s.leave()
		return nil, nil
	case historyCmd:
		return s.queue.History(c.n), nil
	case findCmd:
		return s.find(c.query), nil
	case statusCmd:
		return s.status(), nil
	case closeIfIdleCmd:
		since := s.IdleSince()
		if since.IsZero() || since.After(c.deadline) {
			return false, nil
		}
		s.beginClose()
		return true, nil
	default:
		return nil, fmt.Errorf("playback: %s not valid while %s: %w", cmd.commandName(), s.State(), ErrNoActiveTrack)
	}
}

// ─── Transitions ─────────────────────────────────────────────────────────────

// start connects the link and begins playing the head of the queue.
func (s *Session) start(ctx context.Context) error {
	s.setState(Connecting)
	if err := s.link.ConnectWithRetry(ctx, s.endpoint, s.cfg.ConnectRetry); err != nil {
		s.setState(Idle)
		return err
	}
	s.advance()
	return nil
}

// advance starts the next playable queue entry. Entries that fail to open
// are reported and skipped. An empty queue leaves the session idle.
func (s *Session) advance() {
	s.setState(Connecting)
	for {
		t, ok := s.queue.DequeueHead()
		if !ok {
			s.enterIdle()
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OpenTimeout)
		src, err := s.cfg.Opener.Open(ctx, t, s.volume)
		cancel()
		if err != nil {
			if s.ctx.Err() != nil {
				s.requeue(t)
				return
			}
			s.failTrack(t, err)
			continue
		}

		gen, err := s.link.Bind(src)
		if err != nil {
			s.closeSource(src)
			s.requeue(t)
			s.fault(t, err)
			return
		}

		s.current = &t
		s.source = src
		s.bound = gen
		s.lostStreak = 0
		s.setState(Playing)
		slog.Info("playback track started",
			"guild_id", s.guildID,
			"track", t.Title,
			"source", t.Source,
			"requester", t.RequesterName,
		)
		s.notify(EventTrackStarted, t, nil)
		return
	}
}

// onLinkEvent handles the end of a binding. Events of a binding the session
// already abandoned (skip, stop, pause) are dropped, so a stop always wins
// over a racing end of stream.
func (s *Session) onLinkEvent(ev voicelink.Event) {
	if s.bound == 0 || ev.Generation != s.bound || s.current == nil {
		slog.Debug("playback: dropping stale link event",
			"guild_id", s.guildID,
			"event", ev.Kind.String(),
			"generation", ev.Generation,
		)
		return
	}
	if ev.Frames > 0 {
		s.lostStreak = 0
	}

	t := *s.current
	switch ev.Kind {
	case voicelink.EventEndOfStream:
		s.releaseCurrent()
		s.queue.Finished(t)
		s.notify(EventTrackFinished, t, nil)
		s.advance()
	case voicelink.EventTrackFailed:
		s.releaseCurrent()
		s.failTrack(t, ev.Err)
		s.advance()
	case voicelink.EventLost:
		s.recover(t, ev.Err)
	}
}

// recover reconnects once after the link was lost and resumes the current
// source. A second loss without any delivered frame faults immediately.
func (s *Session) recover(t queue.Track, cause error) {
	s.lostStreak++
	s.link.Unbind()
	s.bound = 0

	if s.lostStreak <= 1 {
		s.setState(Connecting)
		slog.Warn("playback: voice link lost, reconnecting", "guild_id", s.guildID, "err", cause)
		err := s.link.ConnectWithRetry(s.ctx, s.endpoint, s.cfg.Reconnect)
		if err == nil {
			var gen uint64
			gen, err = s.link.Bind(s.source)
			if err == nil {
				s.bound = gen
				s.setState(Playing)
				slog.Info("playback: voice link recovered", "guild_id", s.guildID, "track", t.Title)
				return
			}
		}
		cause = errors.Join(cause, err)
	}

	s.releaseCurrent()
	s.requeue(t)
	s.fault(t, cause)
}

// fault drops the link, publishes the failure and resets to Idle. The queue
// is kept so playback can be restarted.
func (s *Session) fault(t queue.Track, cause error) {
	s.setState(Faulted)
	if err := s.link.Disconnect(); err != nil {
		slog.Debug("playback: disconnect after fault", "guild_id", s.guildID, "err", err)
	}
	err := fmt.Errorf("%w: %w", ErrFaulted, cause)
	s.lastFault = err
	slog.Error("playback faulted", "guild_id", s.guildID, "track", t.Title, "err", cause)
	s.notify(EventFaulted, t, err)
	s.enterIdle()
}

func (s *Session) skip(n int) []queue.Track {
	cur := *s.current
	s.releaseCurrent()
	s.queue.DropHead(cur.ID)
	s.queue.Finished(cur)
	s.notify(EventTrackSkipped, cur, nil)

	skipped := []queue.Track{cur}
	for range max(n, 1) - 1 {
		t, err := s.queue.Remove(0)
		if err != nil {
			break
		}
		s.queue.Finished(t)
		s.notify(EventTrackSkipped, t, nil)
		skipped = append(skipped, t)
	}
	slog.Info("playback skipped", "guild_id", s.guildID, "count", len(skipped))
	s.advance()
	return skipped
}

func (s *Session) stop() {
	cur := s.current
	s.releaseCurrent()
	n := s.queue.Clear()
	if cur != nil {
		s.queue.DropHead(cur.ID)
		s.queue.Discarded(*cur)
	}
	slog.Info("playback stopped", "guild_id", s.guildID, "cleared", n)
	s.enterIdle()
}

func (s *Session) resume(ctx context.Context) error {
	gen, err := s.link.Bind(s.source)
	if errors.Is(err, voicelink.ErrNotConnected) {
		if cerr := s.link.ConnectWithRetry(ctx, s.endpoint, s.cfg.ConnectRetry); cerr != nil {
			return cerr
		}
		gen, err = s.link.Bind(s.source)
	}
	if err != nil {
		return fmt.Errorf("playback: resume: %w", err)
	}
	s.bound = gen
	s.setState(Playing)
	slog.Info("playback resumed", "guild_id", s.guildID, "track", s.current.Title)
	return nil
}

func (s *Session) clear(keepCurrent bool) int {
	n := s.queue.Clear()
	if s.current == nil || keepCurrent {
		return n
	}
	cur := *s.current
	s.releaseCurrent()
	s.queue.DropHead(cur.ID)
	s.queue.Discarded(cur)
	s.enterIdle()
	return n
}

func (s *Session) leave() {
	cur := s.current
	s.releaseCurrent()
	s.queue.Clear()
	if cur != nil {
		s.queue.DropHead(cur.ID)
		s.queue.Discarded(*cur)
	}
	if err := s.link.Disconnect(); err != nil {
		slog.Warn("playback: leave disconnect", "guild_id", s.guildID, "err", err)
	}
	s.endpoint = voicelink.Endpoint{}
	s.enterIdle()
}

func (s *Session) setLoopMode(ctx context.Context, m queue.Mode) error {
	old := s.queue.LoopMode()
	if err := s.queue.SetLoopMode(m); err != nil {
		return err
	}
	// Leaving track loop unpins the head inside the queue.
	if s.current != nil && old != queue.ModeTrack && m == queue.ModeTrack {
		s.queue.Pin(*s.current)
	}
	s.savePrefs(ctx)
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// releaseCurrent unbinds and closes the active source.
func (s *Session) releaseCurrent() {
	if s.current == nil {
		return
	}
	s.link.Unbind()
	s.bound = 0
	src := s.source
	s.source = nil
	s.current = nil
	if src != nil {
		s.closeSource(src)
	}
}

// closeSource closes src, waiting at most CloseGrace.
func (s *Session) closeSource(src audio.FrameSource) {
	done := make(chan error, 1)
	go func() { done <- src.Close() }()
	select {
	case err := <-done:
		if err != nil {
			slog.Debug("playback: close source", "guild_id", s.guildID, "err", err)
		}
	case <-time.After(s.cfg.CloseGrace):
		slog.Warn("playback: source close exceeded grace period", "guild_id", s.guildID, "grace", s.cfg.CloseGrace)
	}
}

// failTrack reports a track that could not be played.
func (s *Session) failTrack(t queue.Track, err error) {
	s.queue.DropHead(t.ID)
	s.queue.Discarded(t)
	slog.Warn("playback track failed", "guild_id", s.guildID, "track", t.Title, "err", err)
	s.notify(EventTrackFailed, t, err)
}

// requeue puts t back at the front exactly once.
func (s *Session) requeue(t queue.Track) {
	s.queue.DropHead(t.ID)
	s.queue.Enqueue(t, queue.Front)
}

func (s *Session) enterIdle() {
	was := s.State()
	s.setState(Idle)
	if was != Idle {
		slog.Info("playback idle", "guild_id", s.guildID)
		s.notify(EventIdle, queue.Track{}, nil)
	}
}

func (s *Session) indexOf(id string) int {
	for i, t := range s.queue.Snapshot() {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) nowPlaying() NowPlaying {
	return NowPlaying{
		Track:    *s.current,
		Position: s.link.Position(),
		Paused:   s.State() == Paused,
	}
}

func (s *Session) queuePage(page, size int) QueuePage {
	if size <= 0 {
		size = defaultPageSize
	}
	page = max(page, 1)
	tracks, pages := s.queue.Page(page, size)
	qp := QueuePage{
		Tracks:        tracks,
		Page:          page,
		Pages:         pages,
		Total:         s.queue.Len(),
		TotalDuration: s.queue.TotalDuration(),
		LoopMode:      s.queue.LoopMode(),
	}
	if s.current != nil {
		cur := *s.current
		qp.Current = &cur
	}
	return qp
}

func (s *Session) find(query string) []Match {
	idx := s.queue.Find(query)
	if len(idx) == 0 {
		return nil
	}
	snap := s.queue.Snapshot()
	out := make([]Match, 0, len(idx))
	for _, i := range idx {
		out = append(out, Match{Index: i, Track: snap[i]})
	}
	return out
}

func (s *Session) status() Status {
	st := Status{
		GuildID:   s.guildID,
		State:     s.State(),
		QueueLen:  s.queue.Len(),
		LoopMode:  s.queue.LoopMode(),
		Volume:    s.volume,
		Health:    s.link.Health(),
		Endpoint:  s.endpoint,
		IdleSince: s.IdleSince(),
		LastFault: s.lastFault,
	}
	if s.current != nil {
		cur := *s.current
		st.Current = &cur
		st.Position = s.link.Position()
	}
	return st
}
