package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hertz/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface.
//
// A frame is handed to the voice connection's OpusSend channel in a single
// channel send, so a frame is either delivered whole or not at all.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	guildID string
	botID   string

	// lost is set once Discord reports that the bot left the voice channel.
	lost atomic.Bool

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	if session.State != nil && session.State.User != nil {
		c.botID = session.State.User.ID
	}
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	return c
}

// Transmit sends one Opus packet to Discord. It fails with [audio.ErrClosed]
// after Disconnect, with [audio.ErrTransport] once the bot was removed from
// the channel or when ctx expires before the voice connection accepts the
// packet.
func (c *Connection) Transmit(ctx context.Context, f audio.Frame) error {
	if c.lost.Load() {
		return fmt.Errorf("discord: transmit: %w: removed from voice channel", audio.ErrTransport)
	}
	select {
	case <-c.done:
		return audio.ErrClosed
	default:
	}

	select {
	case c.vc.OpusSend <- f.Opus:
		return nil
	case <-c.done:
		return audio.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("discord: transmit: %w: %w", audio.ErrTransport, ctx.Err())
	}
}

// Speaking sends a speaking notification to Discord.
func (c *Connection) Speaking(on bool) error {
	if err := c.vc.Speaking(on); err != nil {
		return fmt.Errorf("discord: speaking %t: %w", on, err)
	}
	return nil
}

// Disconnect tears down the voice connection. It is safe to call more than
// once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// handleVoiceStateUpdate marks the connection lost when the bot itself is
// moved out of voice in this guild (kicked, channel deleted, …).
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID || c.botID == "" || vsu.UserID != c.botID {
		return
	}
	if vsu.ChannelID == "" {
		if !c.lost.Swap(true) {
			slog.Warn("discord: bot removed from voice channel", "guild_id", c.guildID)
		}
	}
}
