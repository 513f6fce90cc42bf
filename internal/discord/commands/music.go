// Package commands implements the Discord slash command handlers for Hertz.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hertz/internal/discord"
	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/voicelink"
)

// Sessions is the part of the session registry used by the music commands.
// *app.Registry satisfies it.
type Sessions interface {
	Get(guildID string) (*playback.Session, bool)
	GetOrCreate(ctx context.Context, guildID string) (*playback.Session, error)
}

// VoiceLocator returns the voice channel userID is in, or "".
type VoiceLocator func(guildID, userID string) (string, error)

// Command defaults.
const (
	defaultCommandTimeout = 10 * time.Second
	defaultPlayTimeout    = 45 * time.Second

	queuePageSize = 10
	maxSkip       = 10
	historySize   = 10
)

// MusicConfig holds the dependencies of [MusicCommands].
type MusicConfig struct {
	// Sessions provides the per-guild playback sessions. Required.
	Sessions Sessions

	// Locate finds the caller's voice channel for /music play and for the
	// controls that require sharing the bot's channel. Required.
	Locate VoiceLocator

	// Perms gates stop, clear and leave. Nil allows everyone.
	Perms *discord.PermissionChecker

	// Limiter throttles /music play per user. Nil disables throttling.
	Limiter *discord.UserLimiter

	// Announcer learns the text channel of every music command. Optional.
	Announcer *discord.Announcer

	// Metrics records command outcomes. Default: observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Timeout bounds each command. Default: 10 seconds.
	Timeout time.Duration

	// PlayTimeout bounds /music play including the lookup. Default: 45 seconds.
	PlayTimeout time.Duration
}

// MusicCommands holds the dependencies for /music slash commands.
type MusicCommands struct {
	sessions    Sessions
	locate      VoiceLocator
	perms       *discord.PermissionChecker
	limiter     *discord.UserLimiter
	announcer   *discord.Announcer
	metrics     *observe.Metrics
	timeout     time.Duration
	playTimeout time.Duration
}

// sessionFunc runs a subcommand against the guild's session.
type sessionFunc func(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error

// NewMusicCommands creates a MusicCommands.
func NewMusicCommands(cfg MusicConfig) *MusicCommands {
	mc := &MusicCommands{
		sessions:    cfg.Sessions,
		locate:      cfg.Locate,
		perms:       cfg.Perms,
		limiter:     cfg.Limiter,
		announcer:   cfg.Announcer,
		metrics:     cfg.Metrics,
		timeout:     cfg.Timeout,
		playTimeout: cfg.PlayTimeout,
	}
	if mc.perms == nil {
		mc.perms = discord.NewPermissionChecker("")
	}
	if mc.metrics == nil {
		mc.metrics = observe.DefaultMetrics()
	}
	if mc.timeout <= 0 {
		mc.timeout = defaultCommandTimeout
	}
	if mc.playTimeout <= 0 {
		mc.playTimeout = defaultPlayTimeout
	}
	return mc
}

// Register registers the /music command group and the now playing buttons
// with the router.
func (mc *MusicCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("music", mc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand, for example `/music play`.")
	})
	router.RegisterHandler("music/play", mc.handlePlay)
	router.RegisterHandler("music/skip", mc.existing("skip", accessListener, mc.skip))
	router.RegisterHandler("music/pause", mc.existing("pause", accessListener, mc.pause))
	router.RegisterHandler("music/resume", mc.existing("resume", accessListener, mc.resume))
	router.RegisterHandler("music/stop", mc.existing("stop", accessDJ, mc.stop))
	router.RegisterHandler("music/queue", mc.existing("queue", accessAnyone, mc.queue))
	router.RegisterHandler("music/nowplaying", mc.existing("nowplaying", accessAnyone, mc.nowPlaying))
	router.RegisterHandler("music/loop", mc.created("loop", accessListener, mc.loop))
	router.RegisterHandler("music/shuffle", mc.existing("shuffle", accessListener, mc.shuffle))
	router.RegisterHandler("music/move", mc.existing("move", accessListener, mc.move))
	router.RegisterHandler("music/remove", mc.existing("remove", accessListener, mc.remove))
	router.RegisterHandler("music/volume", mc.created("volume", accessAnyone, mc.volume))
	router.RegisterHandler("music/clear", mc.existing("clear", accessDJ, mc.clear))
	router.RegisterHandler("music/leave", mc.existing("leave", accessDJ, mc.leave))
	router.RegisterHandler("music/history", mc.existing("history", accessAnyone, mc.history))
	router.RegisterHandler("music/find", mc.existing("find", accessAnyone, mc.find))
	router.RegisterHandler("music/status", mc.existing("status", accessAnyone, mc.status))

	router.RegisterAutocomplete("music/move", mc.autocompletePosition)
	router.RegisterAutocomplete("music/remove", mc.autocompletePosition)

	router.RegisterComponentPrefix(discord.ControlPrefix, mc.handleControl)
}

// Definition returns the ApplicationCommand definition for Discord.
func (mc *MusicCommands) Definition() *discordgo.ApplicationCommand {
	one := 1.0
	zero := 0.0
	return &discordgo.ApplicationCommand{
		Name:        "music",
		Description: "Play music in your voice channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Play a link or search YouTube",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "Link or search words", Required: true},
					{Type: discordgo.ApplicationCommandOptionBoolean, Name: "next", Description: "Play after the current track"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "skip",
				Description: "Skip the current track",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "count", Description: "Number of tracks to skip", MinValue: &one, MaxValue: maxSkip},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "pause", Description: "Pause playback"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "resume", Description: "Resume playback"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "stop", Description: "Stop playback and clear the queue"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "queue",
				Description: "Show the queue",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "page", Description: "Page number", MinValue: &one},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "nowplaying", Description: "Show the current track"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "loop",
				Description: "Set the loop mode",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "mode",
						Description: "What to repeat",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Off", Value: queue.ModeOff.String()},
							{Name: "Track", Value: queue.ModeTrack.String()},
							{Name: "Queue", Value: queue.ModeQueue.String()},
						},
					},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "shuffle", Description: "Shuffle the queue"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "move",
				Description: "Move a queued track",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "from", Description: "Current position", Required: true, Autocomplete: true, MinValue: &one},
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "to", Description: "New position", Required: true, MinValue: &one},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove a queued track",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "position", Description: "Queue position or title", Required: true, Autocomplete: true, MinValue: &one},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "volume",
				Description: "Show or set the volume for the next tracks",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "level", Description: "Volume in percent", MinValue: &zero, MaxValue: 100},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Clear the queue",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionBoolean, Name: "keep_current", Description: "Keep the current track playing (default: true)"},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "leave", Description: "Stop and leave the voice channel"},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "history", Description: "Show recently played tracks"},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "find",
				Description: "Search the queue",
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "Title or artist", Required: true},
				},
			},
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "status", Description: "Show the player status"},
		},
	}
}

// ─── Dispatch ────────────────────────────────────────────────────────────────

// access is what a caller needs to run a subcommand.
type access int

const (
	accessAnyone   access = iota
	accessListener        // in the bot's voice channel
	accessDJ              // a listener with the DJ role
)

// wrongChannelError rejects a playback control from outside the voice
// channel the bot is connected to.
type wrongChannelError struct {
	channelID string
}

func (e *wrongChannelError) Error() string {
	return "commands: caller is not in voice channel " + e.channelID
}

// existing wraps fn for commands that need a live session. Guilds without
// one get a "nothing is playing" reply.
func (mc *MusicCommands) existing(name string, need access, fn sessionFunc) discord.HandlerFunc {
	return func(r discord.Responder, i *discordgo.InteractionCreate) {
		if !mc.admit(name, need, r, i) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), mc.timeout)
		defer cancel()

		sess, ok := mc.sessions.Get(i.GuildID)
		if !ok {
			mc.fail(ctx, name, r, i, playback.ErrNoActiveTrack)
			return
		}
		if need >= accessListener {
			if err := mc.sameChannel(ctx, i, sess); err != nil {
				mc.fail(ctx, name, r, i, err)
				return
			}
		}
		_, opts := subcommand(i)
		mc.finish(ctx, name, r, i, fn(ctx, r, i, sess, opts))
	}
}

// created wraps fn for commands that work on an idle guild, creating the
// session when needed.
func (mc *MusicCommands) created(name string, need access, fn sessionFunc) discord.HandlerFunc {
	return func(r discord.Responder, i *discordgo.InteractionCreate) {
		if !mc.admit(name, need, r, i) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), mc.timeout)
		defer cancel()

		_, opts := subcommand(i)
		err := mc.withSession(ctx, i.GuildID, func(sess *playback.Session) error {
			if need >= accessListener {
				if err := mc.sameChannel(ctx, i, sess); err != nil {
					return err
				}
			}
			return fn(ctx, r, i, sess, opts)
		})
		mc.finish(ctx, name, r, i, err)
	}
}

// sameChannel fails when the bot is connected to a voice channel the caller
// is not in. An unconnected session accepts everyone.
func (mc *MusicCommands) sameChannel(ctx context.Context, i *discordgo.InteractionCreate, sess *playback.Session) error {
	st, err := sess.Status(ctx)
	if err != nil {
		return err
	}
	botChannel := st.Endpoint.ChannelID
	if st.Health == voicelink.Disconnected || botChannel == "" {
		return nil
	}
	userID, _ := requester(i)
	channelID, err := mc.locate(i.GuildID, userID)
	if err != nil {
		slog.Warn("discord: voice channel lookup failed", "guild_id", i.GuildID, "user", userID, "err", err)
	}
	if channelID != botChannel {
		return &wrongChannelError{channelID: botChannel}
	}
	return nil
}

// admit checks the guild and the DJ role and remembers the text channel.
func (mc *MusicCommands) admit(name string, need access, r discord.Responder, i *discordgo.InteractionCreate) bool {
	if i.GuildID == "" {
		discord.RespondEphemeral(r, i, "Music commands only work in a server.")
		return false
	}
	if need == accessDJ && !mc.perms.IsDJ(i) {
		mc.metrics.RecordCommand(context.Background(), name, "denied")
		discord.RespondEphemeral(r, i, "You need the DJ role to use this command.")
		return false
	}
	if mc.announcer != nil {
		mc.announcer.Watch(i.GuildID, i.ChannelID)
	}
	return true
}

// withSession runs fn against the guild's session. A session closed by the
// idle sweep between lookup and use is replaced once.
func (mc *MusicCommands) withSession(ctx context.Context, guildID string, fn func(*playback.Session) error) error {
	var err error
	for range 2 {
		var sess *playback.Session
		sess, err = mc.sessions.GetOrCreate(ctx, guildID)
		if err != nil {
			return err
		}
		err = fn(sess)
		if !errors.Is(err, playback.ErrSessionClosed) {
			return err
		}
	}
	return err
}

func (mc *MusicCommands) finish(ctx context.Context, name string, r discord.Responder, i *discordgo.InteractionCreate, err error) {
	if err != nil {
		mc.fail(ctx, name, r, i, err)
		return
	}
	mc.metrics.RecordCommand(ctx, name, "ok")
}

func (mc *MusicCommands) fail(ctx context.Context, name string, r discord.Responder, i *discordgo.InteractionCreate, err error) {
	status := commandStatus(err)
	mc.metrics.RecordCommand(ctx, name, status)
	if status == "error" {
		slog.Warn("discord: music command failed", "command", name, "guild_id", i.GuildID, "err", err)
	}
	discord.RespondEphemeral(r, i, userMessage(err))
}

// ─── /music play ─────────────────────────────────────────────────────────────

func (mc *MusicCommands) handlePlay(r discord.Responder, i *discordgo.InteractionCreate) {
	const name = "play"
	if !mc.admit(name, accessAnyone, r, i) {
		return
	}
	userID, userName := requester(i)

	if ok, wait := mc.limiter.Allow(userID); !ok {
		mc.metrics.RecordCommand(context.Background(), name, "limited")
		discord.RespondEphemeral(r, i, fmt.Sprintf("You are adding tracks too quickly. Try again in %s.",
			max(time.Second, wait.Round(time.Second))))
		return
	}

	channelID, err := mc.locate(i.GuildID, userID)
	if err != nil {
		slog.Warn("discord: voice channel lookup failed", "guild_id", i.GuildID, "user", userID, "err", err)
	}
	if channelID == "" {
		mc.metrics.RecordCommand(context.Background(), name, "rejected")
		discord.RespondEphemeral(r, i, "Join a voice channel first.")
		return
	}

	_, opts := subcommand(i)
	query := opts.String("query")
	if query == "" {
		discord.RespondEphemeral(r, i, "Tell me what to play.")
		return
	}

	// Resolving and connecting may exceed the three second reply window.
	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), mc.playTimeout)
	defer cancel()

	var res playback.EnqueueResult
	err = mc.withSession(ctx, i.GuildID, func(sess *playback.Session) error {
		var perr error
		res, perr = sess.Play(ctx, playback.PlayRequest{
			Query:     query,
			Requester: playback.Requester{ID: userID, Name: userName},
			ChannelID: channelID,
			Next:      opts.Bool("next", false),
		})
		return perr
	})
	if err != nil {
		status := commandStatus(err)
		mc.metrics.RecordCommand(ctx, name, status)
		if status == "error" {
			slog.Warn("discord: play failed", "guild_id", i.GuildID, "query", query, "err", err)
		}
		discord.FollowUp(r, i, userMessage(err))
		return
	}
	mc.metrics.RecordCommand(ctx, name, "ok")

	if res.Started {
		discord.FollowUp(r, i, fmt.Sprintf("Playing %s `%s`", discord.TrackLine(res.Track), discord.Length(res.Track)))
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("Queued %s `%s` at position %d.",
		discord.TrackLine(res.Track), discord.Length(res.Track), res.Position+1))
}

// ─── Subcommands ─────────────────────────────────────────────────────────────

func (mc *MusicCommands) skip(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	n := min(max(opts.Int("count", 1), 1), maxSkip)
	skipped, err := sess.Skip(ctx, n)
	if err != nil {
		return err
	}
	if len(skipped) == 1 {
		discord.RespondText(r, i, "Skipped "+discord.TrackLine(skipped[0])+".")
		return nil
	}
	discord.RespondText(r, i, fmt.Sprintf("Skipped %d tracks.", len(skipped)))
	return nil
}

func (mc *MusicCommands) pause(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	if err := sess.Pause(ctx); err != nil {
		return err
	}
	discord.RespondText(r, i, "Paused.")
	return nil
}

func (mc *MusicCommands) resume(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	if err := sess.Resume(ctx); err != nil {
		return err
	}
	discord.RespondText(r, i, "Resumed.")
	return nil
}

func (mc *MusicCommands) stop(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	if err := sess.Stop(ctx); err != nil {
		return err
	}
	discord.RespondText(r, i, "Stopped playback and cleared the queue.")
	return nil
}

func (mc *MusicCommands) queue(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	page, err := sess.QueueList(ctx, opts.Int("page", 1), queuePageSize)
	if err != nil {
		return err
	}
	discord.RespondEmbed(r, i, queueEmbed(page, queuePageSize))
	return nil
}

func (mc *MusicCommands) nowPlaying(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	np, err := sess.NowPlaying(ctx)
	if err != nil {
		return err
	}
	discord.RespondEmbed(r, i, discord.NowPlayingEmbed(np), discord.Controls(np.Paused)...)
	return nil
}

func (mc *MusicCommands) loop(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	m, err := queue.ParseMode(opts.String("mode"))
	if err != nil {
		return err
	}
	if err := sess.SetLoopMode(ctx, m); err != nil {
		return err
	}
	discord.RespondText(r, i, "Loop mode set to **"+m.String()+"**.")
	return nil
}

func (mc *MusicCommands) shuffle(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	n, err := sess.Shuffle(ctx)
	if err != nil {
		return err
	}
	discord.RespondText(r, i, fmt.Sprintf("Shuffled %d tracks.", n))
	return nil
}

func (mc *MusicCommands) move(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	from, to := opts.Int("from", 0), opts.Int("to", 0)
	if err := sess.Move(ctx, from-1, to-1); err != nil {
		return err
	}
	discord.RespondText(r, i, fmt.Sprintf("Moved track %d to position %d.", from, to))
	return nil
}

func (mc *MusicCommands) remove(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	t, err := sess.Remove(ctx, opts.Int("position", 0)-1)
	if err != nil {
		return err
	}
	discord.RespondText(r, i, "Removed "+discord.TrackLine(t)+".")
	return nil
}

func (mc *MusicCommands) volume(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	if !opts.Has("level") {
		st, err := sess.Status(ctx)
		if err != nil {
			return err
		}
		discord.RespondEphemeral(r, i, fmt.Sprintf("Volume is %d%%.", st.Volume))
		return nil
	}
	if err := mc.sameChannel(ctx, i, sess); err != nil {
		return err
	}
	v, err := sess.SetVolume(ctx, opts.Int("level", 100))
	if err != nil {
		return err
	}
	discord.RespondText(r, i, fmt.Sprintf("Volume set to %d%%. It applies from the next track.", v))
	return nil
}

func (mc *MusicCommands) clear(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	keep := opts.Bool("keep_current", true)
	n, err := sess.Clear(ctx, keep)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Cleared %d tracks.", n)
	if !keep {
		msg = fmt.Sprintf("Stopped playback and cleared %d tracks.", n)
	}
	discord.RespondText(r, i, msg)
	return nil
}

func (mc *MusicCommands) leave(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	if err := sess.Leave(ctx); err != nil {
		return err
	}
	discord.RespondText(r, i, "Left the voice channel.")
	return nil
}

func (mc *MusicCommands) history(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	tracks, err := sess.History(ctx, historySize)
	if err != nil {
		return err
	}
	discord.RespondEmbed(r, i, trackListEmbed("Recently played", "Nothing has been played yet.", tracks))
	return nil
}

func (mc *MusicCommands) find(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, opts options) error {
	query := opts.String("query")
	matches, err := sess.Find(ctx, query)
	if err != nil {
		return err
	}
	discord.RespondEmbed(r, i, findEmbed(query, matches))
	return nil
}

func (mc *MusicCommands) status(ctx context.Context, r discord.Responder, i *discordgo.InteractionCreate, sess *playback.Session, _ options) error {
	st, err := sess.Status(ctx)
	if err != nil {
		return err
	}
	discord.RespondEmbed(r, i, statusEmbed(st))
	return nil
}

// ─── Autocomplete ────────────────────────────────────────────────────────────

// autocompletePosition suggests queue entries for a position option. Text
// input is matched against titles; an empty input lists the queue head.
func (mc *MusicCommands) autocompletePosition(r discord.Responder, i *discordgo.InteractionCreate) {
	sess, ok := mc.sessions.Get(i.GuildID)
	if !ok {
		discord.RespondChoices(r, i, nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, opts := subcommand(i)
	var input string
	if f := opts.focused(); f != nil {
		input = strings.TrimSpace(opts.String(f.Name))
	}
	_, numErr := strconv.Atoi(input)

	var choices []*discordgo.ApplicationCommandOptionChoice
	if input == "" || numErr == nil {
		page, err := sess.QueueList(ctx, 1, maxChoices)
		if err != nil {
			discord.RespondChoices(r, i, nil)
			return
		}
		for j, t := range page.Tracks {
			choices = append(choices, trackChoice(j, t))
		}
	} else {
		matches, err := sess.Find(ctx, input)
		if err != nil {
			discord.RespondChoices(r, i, nil)
			return
		}
		for _, m := range matches[:min(len(matches), maxChoices)] {
			choices = append(choices, trackChoice(m.Index, m.Track))
		}
	}
	discord.RespondChoices(r, i, choices)
}

// ─── Buttons ─────────────────────────────────────────────────────────────────

// handleControl serves the buttons under a now playing message.
func (mc *MusicCommands) handleControl(r discord.Responder, i *discordgo.InteractionCreate) {
	id := i.MessageComponentData().CustomID
	var (
		name string
		need = accessListener
		fn   sessionFunc
	)
	switch id {
	case discord.ControlPause:
		name, fn = "pause", mc.pause
	case discord.ControlResume:
		name, fn = "resume", mc.resume
	case discord.ControlSkip:
		name, fn = "skip", mc.skip
	case discord.ControlStop:
		name, need, fn = "stop", accessDJ, mc.stop
	default:
		discord.RespondEphemeral(r, i, "Unknown control.")
		return
	}
	mc.existing(name, need, fn)(r, i)
}
