package commands

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// options indexes the options of one subcommand by name.
type options map[string]*discordgo.ApplicationCommandInteractionDataOption

// subcommand returns the invoked subcommand and its options.
func subcommand(i *discordgo.InteractionCreate) (string, options) {
	if i.Type != discordgo.InteractionApplicationCommand && i.Type != discordgo.InteractionApplicationCommandAutocomplete {
		return "", options{}
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || data.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", options{}
	}
	sub := data.Options[0]
	opts := make(options, len(sub.Options))
	for _, o := range sub.Options {
		opts[o.Name] = o
	}
	return sub.Name, opts
}

// Int returns the integer option name, or def when absent. Autocomplete
// interactions deliver partial input as a string; non-numeric text
// yields def.
func (o options) Int(name string, def int) int {
	opt, ok := o[name]
	if !ok || opt.Value == nil {
		return def
	}
	switch v := opt.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// String returns the string option name, or "" when absent.
func (o options) String(name string) string {
	opt, ok := o[name]
	if !ok || opt.Value == nil {
		return ""
	}
	switch v := opt.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Bool returns the boolean option name, or def when absent or not a boolean.
func (o options) Bool(name string, def bool) bool {
	opt, ok := o[name]
	if !ok {
		return def
	}
	v, ok := opt.Value.(bool)
	if !ok {
		return def
	}
	return v
}

// Has reports whether name was supplied.
func (o options) Has(name string) bool {
	_, ok := o[name]
	return ok
}

// focused returns the option the user is typing in during autocomplete.
func (o options) focused() *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range o {
		if opt.Focused {
			return opt
		}
	}
	return nil
}

// requester returns the ID and display name of the interaction author.
func requester(i *discordgo.InteractionCreate) (id, name string) {
	var u *discordgo.User
	switch {
	case i.Member != nil && i.Member.User != nil:
		u = i.Member.User
		if i.Member.Nick != "" {
			return u.ID, i.Member.Nick
		}
	case i.User != nil:
		u = i.User
	default:
		return "", ""
	}
	if u.GlobalName != "" {
		return u.ID, u.GlobalName
	}
	return u.ID, u.Username
}
