package config_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hertz/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Discord: config.DiscordConfig{Token: "t", GuildID: "g"},
		Stream:  config.StreamConfig{FFmpegArgs: []string{"-re"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("identical configs reported a change: %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.PlaybackChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Playback.IdleTimeout = time.Hour
	new.RateLimit.PlayPerMinute = 10

	d := config.Diff(old, new)
	if !d.PlaybackChanged || !d.RateLimitChanged {
		t.Errorf("diff = %+v, want playback and rate limit changes", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.EventOrigins = []string{"dash.example.com"}
	new.Discord.Token = "rotated"
	new.Stream.FFmpegArgs = []string{"-re", "-nostdin"}
	new.Store.PostgresDSN = "postgres://db/hertz"

	d := config.Diff(old, new)
	want := []string{"server.event_origins", "discord.token", "stream", "store.postgres_dsn"}
	if diff := cmp.Diff(want, d.RestartRequired); diff != "" {
		t.Errorf("RestartRequired mismatch (-want +got):\n%s", diff)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}
