package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/pkg/audio"
)

// ChannelMessenger is the subset of *discordgo.Session used to post and
// edit channel messages.
type ChannelMessenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ ChannelMessenger = (*discordgo.Session)(nil)

// NowPlayingFunc returns the active track of a guild.
type NowPlayingFunc func(ctx context.Context, guildID string) (playback.NowPlaying, error)

// Announcer defaults.
const (
	defaultRefreshInterval = 15 * time.Second
	defaultEventBuffer     = 128
	defaultLookupTimeout   = 2 * time.Second
)

// AnnouncerConfig holds dependencies for creating an [Announcer].
type AnnouncerConfig struct {
	Messenger ChannelMessenger

	// NowPlaying refreshes the progress of live panels. Optional; without
	// it panels are posted once and never edited.
	NowPlaying NowPlayingFunc

	// Interval between panel refreshes. Default: 15 seconds.
	Interval time.Duration

	// Buffer is the event queue length. Events beyond it are dropped.
	Buffer int

	// LookupTimeout bounds the NowPlaying call of each guild during a
	// refresh. A session busy opening a track skips one refresh instead of
	// delaying every other guild. Default: 2 seconds.
	LookupTimeout time.Duration
}

// panel is a posted now playing message.
type panel struct {
	channelID string
	messageID string
	track     queue.Track
}

// Announcer is a [playback.Notifier] that posts track changes to the text
// channel a guild last used for music commands. The now playing message is
// edited in place every refresh interval to show progress.
//
// Notify never blocks. Events are handled on the Run goroutine.
type Announcer struct {
	messenger     ChannelMessenger
	nowPlaying    NowPlayingFunc
	interval      time.Duration
	lookupTimeout time.Duration
	events        chan playback.Event

	mu       sync.Mutex
	channels map[string]string // guild → text channel
	panels   map[string]*panel // guild → live now playing message
}

var _ playback.Notifier = (*Announcer)(nil)

// NewAnnouncer creates an Announcer.
func NewAnnouncer(cfg AnnouncerConfig) *Announcer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	lookupTimeout := cfg.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	return &Announcer{
		messenger:     cfg.Messenger,
		nowPlaying:    cfg.NowPlaying,
		interval:      interval,
		lookupTimeout: lookupTimeout,
		events:        make(chan playback.Event, buffer),
		channels:      make(map[string]string),
		panels:        make(map[string]*panel),
	}
}

// Watch makes channelID the announcement channel of guildID.
func (a *Announcer) Watch(guildID, channelID string) {
	if guildID == "" || channelID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channels[guildID] = channelID
}

// Forget drops the announcement channel and live panel of guildID.
func (a *Announcer) Forget(guildID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.channels, guildID)
	delete(a.panels, guildID)
}

// Notify queues ev for the Run loop.
func (a *Announcer) Notify(ev playback.Event) {
	select {
	case a.events <- ev:
	default:
		slog.Warn("discord: announcer queue full, dropping event", "guild_id", ev.GuildID, "event", ev.Kind)
	}
}

// Run handles events and refreshes live panels until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			a.handle(ev)
		case <-ticker.C:
			a.refresh(ctx)
		}
	}
}

// handle posts or edits the messages for one event.
func (a *Announcer) handle(ev playback.Event) {
	a.mu.Lock()
	channelID, ok := a.channels[ev.GuildID]
	current := a.panels[ev.GuildID]
	a.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Kind {
	case playback.EventTrackStarted:
		a.retire(current, "Finished")
		a.post(ev.GuildID, channelID, ev.Track)

	case playback.EventTrackFinished:
		a.endPanel(ev.GuildID, ev.Track, "Finished")

	case playback.EventTrackSkipped:
		a.endPanel(ev.GuildID, ev.Track, "Skipped")

	case playback.EventTrackFailed:
		a.endPanel(ev.GuildID, ev.Track, "Failed")
		a.send(channelID, &discordgo.MessageEmbed{
			Description: fmt.Sprintf("Could not play %s: %s", TrackLine(ev.Track), failureReason(ev.Err)),
			Color:       ColorError,
		})

	case playback.EventFaulted:
		a.endPanel(ev.GuildID, ev.Track, "Voice connection lost")
		a.send(channelID, &discordgo.MessageEmbed{
			Description: "Lost the voice connection and could not get it back. Use `/music play` to start again.",
			Color:       ColorError,
		})

	case playback.EventIdle:
		a.endPanel(ev.GuildID, queue.Track{}, "Queue finished")
		a.send(channelID, &discordgo.MessageEmbed{
			Description: "The queue is empty. Add more with `/music play`.",
			Color:       ColorInfo,
		})
	}
}

// post sends a fresh now playing message with controls.
func (a *Announcer) post(guildID, channelID string, t queue.Track) {
	np := playback.NowPlaying{Track: t}
	msg, err := a.messenger.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{NowPlayingEmbed(np)},
		Components: Controls(false),
	})
	if err != nil {
		slog.Warn("discord: failed to post now playing", "guild_id", guildID, "channel", channelID, "err", err)
		return
	}
	slog.Debug("discord: posted now playing", "guild_id", guildID, "message_id", msg.ID, "track", t.Title)

	a.mu.Lock()
	a.panels[guildID] = &panel{channelID: channelID, messageID: msg.ID, track: t}
	a.mu.Unlock()
}

// endPanel retires the live panel of guildID when it shows t. A zero t
// matches any panel.
func (a *Announcer) endPanel(guildID string, t queue.Track, reason string) {
	a.mu.Lock()
	p, ok := a.panels[guildID]
	if ok && (t.ID == "" || p.track.ID == t.ID) {
		delete(a.panels, guildID)
	} else {
		p = nil
	}
	a.mu.Unlock()
	a.retire(p, reason)
}

// retire edits p into its final form without controls.
func (a *Announcer) retire(p *panel, reason string) {
	if p == nil {
		return
	}
	empty := []discordgo.MessageComponent{}
	embeds := []*discordgo.MessageEmbed{EndedEmbed(p.track, reason)}
	_, err := a.messenger.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         p.messageID,
		Channel:    p.channelID,
		Embeds:     &embeds,
		Components: &empty,
	})
	if err != nil {
		slog.Warn("discord: failed to retire now playing", "message_id", p.messageID, "err", err)
	}
}

// refresh edits every live panel with the current progress. Sessions are
// queried concurrently, each bounded by the lookup timeout, so one busy
// guild cannot hold up the panels of the others.
func (a *Announcer) refresh(ctx context.Context) {
	if a.nowPlaying == nil {
		return
	}
	a.mu.Lock()
	live := make([]panelState, 0, len(a.panels))
	for guildID, p := range a.panels {
		live = append(live, panelState{guildID: guildID, panel: *p})
	}
	a.mu.Unlock()

	var g errgroup.Group
	for i := range live {
		g.Go(func() error {
			st := &live[i]
			lctx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
			defer cancel()
			st.np, st.err = a.nowPlaying(lctx, st.guildID)
			return nil
		})
	}
	_ = g.Wait()

	for _, st := range live {
		if st.err != nil {
			if errors.Is(st.err, context.DeadlineExceeded) {
				slog.Debug("discord: now playing lookup timed out, skipping refresh", "guild_id", st.guildID)
			}
			continue
		}
		if st.np.Track.ID != st.track.ID {
			continue
		}
		embeds := []*discordgo.MessageEmbed{NowPlayingEmbed(st.np)}
		components := Controls(st.np.Paused)
		_, err := a.messenger.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         st.messageID,
			Channel:    st.channelID,
			Embeds:     &embeds,
			Components: &components,
		})
		if err != nil {
			slog.Warn("discord: failed to refresh now playing", "guild_id", st.guildID, "message_id", st.messageID, "err", err)
		}
	}
}

// panelState is one live panel with the result of its lookup.
type panelState struct {
	panel
	guildID string
	np      playback.NowPlaying
	err     error
}

func (a *Announcer) send(channelID string, embed *discordgo.MessageEmbed) {
	_, err := a.messenger.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		slog.Warn("discord: failed to send announcement", "channel", channelID, "err", err)
	}
}

// failureReason describes why a track could not be played.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, audio.ErrUnplayable):
		return "the source is unavailable or not playable"
	case errors.Is(err, audio.ErrNetworkFailure):
		return "the stream connection failed"
	case errors.Is(err, audio.ErrStalled):
		return "the stream stopped delivering audio"
	case errors.Is(err, context.DeadlineExceeded):
		return "opening the stream took too long"
	default:
		return "playback failed"
	}
}
