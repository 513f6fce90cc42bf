package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/hertz/internal/discord"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
)

// maxChoices is the Discord limit for autocomplete choices.
const maxChoices = 25

func queueEmbed(p playback.QueuePage, size int) *discordgo.MessageEmbed {
	var b strings.Builder
	if p.Current != nil {
		fmt.Fprintf(&b, "**Now playing:** %s\n\n", discord.TrackLine(*p.Current))
	}
	if len(p.Tracks) == 0 {
		b.WriteString("The queue is empty.")
	}
	offset := (p.Page - 1) * size
	for j, t := range p.Tracks {
		fmt.Fprintf(&b, "`%d.` %s `%s`\n", offset+j+1, discord.TrackLine(t), discord.Length(t))
	}

	pages := max(p.Pages, 1)
	return &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       discord.ColorInfo,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d/%d · %d tracks · %s total · loop %s",
				p.Page, pages, p.Total, discord.FormatDuration(p.TotalDuration), p.LoopMode),
		},
	}
}

func trackListEmbed(title, empty string, tracks []queue.Track) *discordgo.MessageEmbed {
	var b strings.Builder
	if len(tracks) == 0 {
		b.WriteString(empty)
	}
	for j, t := range tracks {
		fmt.Fprintf(&b, "`%d.` %s `%s`\n", j+1, discord.TrackLine(t), discord.Length(t))
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: b.String(),
		Color:       discord.ColorInfo,
	}
}

func findEmbed(query string, matches []playback.Match) *discordgo.MessageEmbed {
	var b strings.Builder
	if len(matches) == 0 {
		b.WriteString("No queued track matches.")
	}
	for _, m := range matches {
		fmt.Fprintf(&b, "`%d.` %s `%s`\n", m.Index+1, discord.TrackLine(m.Track), discord.Length(m.Track))
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Queue matches for %q", query),
		Description: b.String(),
		Color:       discord.ColorInfo,
	}
}

func statusEmbed(st playback.Status) *discordgo.MessageEmbed {
	channel := "none"
	if st.Endpoint.ChannelID != "" {
		channel = "<#" + st.Endpoint.ChannelID + ">"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "State", Value: st.State.String(), Inline: true},
		{Name: "Voice", Value: st.Health.String(), Inline: true},
		{Name: "Channel", Value: channel, Inline: true},
		{Name: "Queued", Value: fmt.Sprintf("%d", st.QueueLen), Inline: true},
		{Name: "Volume", Value: fmt.Sprintf("%d%%", st.Volume), Inline: true},
		{Name: "Loop", Value: st.LoopMode.String(), Inline: true},
	}
	if st.Current != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Current",
			Value: discord.TrackLine(*st.Current) + "\n" + discord.Progress(st.Position, *st.Current),
		})
	}
	if st.LastFault != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Last fault",
			Value: userMessage(st.LastFault),
		})
	}
	return &discordgo.MessageEmbed{
		Title:  "Player status",
		Color:  discord.ColorInfo,
		Fields: fields,
	}
}

// trackChoice labels a queue entry for autocomplete. Choice names are
// limited to 100 characters.
func trackChoice(index int, t queue.Track) *discordgo.ApplicationCommandOptionChoice {
	name := fmt.Sprintf("%d. %s", index+1, t.Title)
	if t.Artist != "" {
		name += " - " + t.Artist
	}
	if r := []rune(name); len(r) > 100 {
		name = string(r[:99]) + "…"
	}
	return &discordgo.ApplicationCommandOptionChoice{Name: name, Value: index + 1}
}
