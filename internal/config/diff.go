package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PlaybackChanged is set when any playback tuning changed. New values
	// apply to sessions created afterwards.
	PlaybackChanged bool

	// RateLimitChanged is set when the play rate limit changed.
	RateLimitChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart, by their YAML path.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PlaybackChanged = old.Playback != new.Playback
	d.RateLimitChanged = old.RateLimit != new.RateLimit

	restart := func(changed bool, path string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(!slices.Equal(old.Server.EventOrigins, new.Server.EventOrigins), "server.event_origins")
	restart(old.Discord.Token != new.Discord.Token, "discord.token")
	restart(old.Discord.GuildID != new.Discord.GuildID, "discord.guild_id")
	restart(old.Discord.DJRoleID != new.Discord.DJRoleID, "discord.dj_role_id")
	restart(!streamEqual(old.Stream, new.Stream), "stream")
	restart(old.Resolve != new.Resolve, "resolve")
	restart(old.Store.PostgresDSN != new.Store.PostgresDSN, "store.postgres_dsn")

	return d
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PlaybackChanged || d.RateLimitChanged || len(d.RestartRequired) > 0
}

func streamEqual(a, b StreamConfig) bool {
	return a.FFmpegPath == b.FFmpegPath &&
		a.YTDLPPath == b.YTDLPPath &&
		a.Prefetch == b.Prefetch &&
		slices.Equal(a.FFmpegArgs, b.FFmpegArgs)
}
