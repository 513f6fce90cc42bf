package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
)

// Embed sidebar colors.
const (
	ColorPlaying = 0x2ECC71
	ColorPaused  = 0xF1C40F
	ColorInfo    = 0x3498DB
	ColorEnded   = 0x95A5A6
	ColorError   = 0xE74C3C
)

// Custom IDs of the now playing buttons. They all share ControlPrefix.
const (
	ControlPrefix = "music:"
	ControlPause  = ControlPrefix + "pause"
	ControlResume = ControlPrefix + "resume"
	ControlSkip   = ControlPrefix + "skip"
	ControlStop   = ControlPrefix + "stop"
)

// progressWidth is the number of cells in the progress bar.
const progressWidth = 20

// NowPlayingEmbed renders the active track with its progress.
func NowPlayingEmbed(np playback.NowPlaying) *discordgo.MessageEmbed {
	t := np.Track
	color := ColorPlaying
	footer := "Playing"
	if np.Paused {
		color = ColorPaused
		footer = "Paused"
	}

	return &discordgo.MessageEmbed{
		Title:       "Now playing",
		Description: fmt.Sprintf("%s\n\n%s", TrackLine(t), Progress(np.Position, t)),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Requested by", Value: requesterMention(t), Inline: true},
			{Name: "Length", Value: Length(t), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// EndedEmbed renders a now playing message after its track is done.
func EndedEmbed(t queue.Track, reason string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Played",
		Description: TrackLine(t),
		Color:       ColorEnded,
		Footer:      &discordgo.MessageEmbedFooter{Text: reason},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// Controls returns the button row under a now playing message.
func Controls(paused bool) []discordgo.MessageComponent {
	toggle := discordgo.Button{
		Label:    "Pause",
		Style:    discordgo.SecondaryButton,
		CustomID: ControlPause,
	}
	if paused {
		toggle = discordgo.Button{
			Label:    "Resume",
			Style:    discordgo.SuccessButton,
			CustomID: ControlResume,
		}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			toggle,
			discordgo.Button{Label: "Skip", Style: discordgo.PrimaryButton, CustomID: ControlSkip},
			discordgo.Button{Label: "Stop", Style: discordgo.DangerButton, CustomID: ControlStop},
		}},
	}
}

// TrackLine formats a track as a bold title, linked when the source is a
// URL, followed by the artist.
func TrackLine(t queue.Track) string {
	title := escapeMarkdown(t.Title)
	if title == "" {
		title = "Unknown title"
	}
	line := "**" + title + "**"
	if strings.HasPrefix(t.Source, "http://") || strings.HasPrefix(t.Source, "https://") {
		line = fmt.Sprintf("[%s](%s)", line, t.Source)
	}
	if t.Artist != "" {
		line += " by " + escapeMarkdown(t.Artist)
	}
	return line
}

// Length formats the duration of t, or "live" for streams.
func Length(t queue.Track) string {
	switch {
	case t.Live:
		return "live"
	case t.Duration <= 0:
		return "unknown"
	default:
		return FormatDuration(t.Duration)
	}
}

// Progress renders elapsed against total time as a text bar.
func Progress(elapsed time.Duration, t queue.Track) string {
	if t.Live || t.Duration <= 0 {
		return fmt.Sprintf("`%s` elapsed", FormatDuration(elapsed))
	}
	elapsed = min(elapsed, t.Duration)
	filled := int(int64(progressWidth) * int64(elapsed) / int64(t.Duration))
	filled = min(filled, progressWidth-1)

	var b strings.Builder
	b.WriteString("`")
	b.WriteString(strings.Repeat("▬", filled))
	b.WriteString("🔘")
	b.WriteString(strings.Repeat("▬", progressWidth-1-filled))
	b.WriteString("` ")
	b.WriteString(FormatDuration(elapsed))
	b.WriteString(" / ")
	b.WriteString(FormatDuration(t.Duration))
	return b.String()
}

// FormatDuration formats d as "h:mm:ss" or "m:ss".
func FormatDuration(d time.Duration) string {
	d = max(d, 0).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func requesterMention(t queue.Track) string {
	if t.RequesterID == "" {
		return "unknown"
	}
	return "<@" + t.RequesterID + ">"
}

var markdownEscaper = strings.NewReplacer(
	`*`, `\*`, `_`, `\_`, "`", "\\`", `~`, `\~`, `|`, `\|`, `[`, `\[`, `]`, `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
