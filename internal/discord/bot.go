// Package discord provides the Discord bot layer for Hertz. It owns the
// discordgo.Session lifecycle, routes slash command and button
// interactions to registered handlers, checks DJ role permissions and
// announces playback events in text channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hertz/pkg/audio"
	discordaudio "github.com/MrWong99/hertz/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID scopes command registration to one guild. Empty registers
	// global commands.
	GuildID string

	// DJRoleID is the role allowed to run destructive commands.
	DJRoleID string
}

// VoiceLeaveFunc is called when the bot is removed from voice in a guild.
type VoiceLeaveFunc func(guildID string)

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu           sync.RWMutex
	session      *discordgo.Session
	platform     *discordaudio.Platform
	router       *CommandRouter
	perms        *PermissionChecker
	guildID      string
	commands     []*discordgo.ApplicationCommand
	onVoiceLeave VoiceLeaveFunc
	closeOnce    sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction and
// voice state handlers.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.DJRoleID),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(b.handleVoiceState)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord gateway connected", "guild_id", cfg.GuildID)

	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Session returns the underlying discordgo session. Used by subsystems
// that need direct Discord API access (e.g., now playing announcements).
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// OnVoiceLeave sets the callback for the bot leaving voice in a guild.
func (b *Bot) OnVoiceLeave(fn VoiceLeaveFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onVoiceLeave = fn
}

// UserVoiceChannel returns the voice channel userID is connected to in
// guildID, or "" when the user is not in voice.
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, error) {
	vs, err := b.Session().State.VoiceState(guildID, userID)
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("discord: voice state of %s: %w", userID, err)
	}
	return vs.ChannelID, nil
}

// Ready reports whether the gateway connection is up.
func (b *Bot) Ready(_ context.Context) error {
	s := b.Session()
	if !s.DataReady {
		return errors.New("discord: gateway not ready")
	}
	return nil
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord. Guild-scoped commands are unregistered;
// global commands stay because they take long to propagate.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && b.guildID != "" && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}

// handleVoiceState reacts to the bot being disconnected from voice,
// whoever caused it.
func (b *Bot) handleVoiceState(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || !botLeftVoice(s.State.User.ID, vsu) {
		return
	}
	b.mu.RLock()
	fn := b.onVoiceLeave
	b.mu.RUnlock()

	slog.Info("discord: bot left voice", "guild_id", vsu.GuildID)
	if fn != nil {
		fn(vsu.GuildID)
	}
}

// botLeftVoice reports whether vsu moves botID out of voice.
func botLeftVoice(botID string, vsu *discordgo.VoiceStateUpdate) bool {
	if vsu == nil || vsu.VoiceState == nil || botID == "" {
		return false
	}
	if vsu.UserID != botID || vsu.ChannelID != "" {
		return false
	}
	return vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != ""
}
