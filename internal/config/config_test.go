package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"

	"github.com/MrWong99/hertz/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

discord:
  token: yaml-token
  guild_id: "111"
  dj_role_id: "222"

playback:
  frame_timeout: 3s
  max_failures: 4
  idle_timeout: 10m
  sweep_interval: 1m
  default_volume: 70

stream:
  ffmpeg_path: /usr/bin/ffmpeg
  prefetch: 100
  ffmpeg_args: ["-thread_queue_size", "1024"]

resolve:
  search_prefix: "ytsearch1:"
  timeout: 10s

store:
  postgres_dsn: "postgres://localhost/hertz"

ratelimit:
  play_per_minute: 6
  play_burst: 3
`

func load(t *testing.T, yaml string, env map[string]string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(yaml), config.WithLookuper(envconfig.MapLookuper(env)))
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, sampleYAML, nil)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Discord.Token != "yaml-token" || cfg.Discord.DJRoleID != "222" {
		t.Errorf("discord = %+v", cfg.Discord)
	}
	want := config.PlaybackConfig{
		FrameTimeout:    3 * time.Second,
		SendTimeout:     config.DefaultSendTimeout,
		MaxFailures:     4,
		Backoff:         config.DefaultBackoff,
		MaxBackoff:      config.DefaultMaxBackoff,
		ConnectAttempts: config.DefaultConnectAttempts,
		ConnectBackoff:  config.DefaultConnectBackoff,
		OpenTimeout:     config.DefaultOpenTimeout,
		CloseGrace:      config.DefaultCloseGrace,
		IdleTimeout:     10 * time.Minute,
		SweepInterval:   time.Minute,
		DefaultVolume:   70,
	}
	if diff := cmp.Diff(want, cfg.Playback); diff != "" {
		t.Errorf("playback mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-thread_queue_size", "1024"}, cfg.Stream.FFmpegArgs); diff != "" {
		t.Errorf("ffmpeg_args mismatch (-want +got):\n%s", diff)
	}
	if cfg.Resolve.BreakerFailures != config.DefaultBreakerFailures {
		t.Errorf("breaker_failures = %d, want default", cfg.Resolve.BreakerFailures)
	}
	if cfg.RateLimit.PlayBurst != 3 {
		t.Errorf("play_burst = %d", cfg.RateLimit.PlayBurst)
	}
}

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, "", nil)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Playback.IdleTimeout != config.DefaultIdleTimeout {
		t.Errorf("default idle timeout = %s", cfg.Playback.IdleTimeout)
	}
	if cfg.Resolve.SearchPrefix != config.DefaultSearchPrefix {
		t.Errorf("default search prefix = %q", cfg.Resolve.SearchPrefix)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen addr = %q, want disabled", cfg.Server.ListenAddr)
	}
}

func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, sampleYAML, map[string]string{
		"HERTZ_DISCORD_TOKEN": "env-token",
		"HERTZ_POSTGRES_DSN":  "postgres://db/hertz",
		"HERTZ_LOG_LEVEL":     "warn",
	})
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("token = %q, want env override", cfg.Discord.Token)
	}
	if cfg.Store.PostgresDSN != "postgres://db/hertz" {
		t.Errorf("dsn = %q, want env override", cfg.Store.PostgresDSN)
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log level = %q, want env override", cfg.Server.LogLevel)
	}
	if cfg.Discord.GuildID != "111" {
		t.Errorf("guild id = %q, unset variables must keep the file value", cfg.Discord.GuildID)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := load(t, "playback:\n  idle_timeuot: 5m\n", nil)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_RateLimitBurstDefault(t *testing.T) {
	t.Parallel()

	cfg, err := load(t, "ratelimit:\n  play_per_minute: 2\n", nil)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.RateLimit.PlayBurst != 1 {
		t.Errorf("play_burst = %d, want 1", cfg.RateLimit.PlayBurst)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path,
		config.WithDotenv(""),
		config.WithLookuper(envconfig.MapLookuper(nil)),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.Prefetch != 100 {
		t.Errorf("prefetch = %d", cfg.Stream.Prefetch)
	}

	if _, err := config.Load(filepath.Join(dir, "missing.yaml"), config.WithDotenv("")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
