package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/hertz/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string // substrings of the joined error
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: loud\n",
			want: []string{"server.log_level"},
		},
		{
			name: "volume out of range",
			yaml: "playback:\n  default_volume: 150\n",
			want: []string{"playback.default_volume"},
		},
		{
			name: "negative durations",
			yaml: "playback:\n  frame_timeout: -1s\n  idle_timeout: -5m\n",
			want: []string{"playback.frame_timeout", "playback.idle_timeout"},
		},
		{
			name: "backoff ordering",
			yaml: "playback:\n  backoff: 1s\n  max_backoff: 100ms\n",
			want: []string{"playback.max_backoff"},
		},
		{
			name: "negative counts",
			yaml: "playback:\n  max_failures: -1\nstream:\n  prefetch: -3\nratelimit:\n  play_burst: -1\n",
			want: []string{"playback.max_failures", "stream.prefetch", "ratelimit.play_burst"},
		},
		{
			name: "negative rate",
			yaml: "ratelimit:\n  play_per_minute: -2\n",
			want: []string{"ratelimit.play_per_minute"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := load(t, tt.yaml, nil)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
