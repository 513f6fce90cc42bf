package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultFrameTimeout    = 2 * time.Second
	DefaultSendTimeout     = 100 * time.Millisecond
	DefaultMaxFailures     = 5
	DefaultBackoff         = 20 * time.Millisecond
	DefaultMaxBackoff      = 200 * time.Millisecond
	DefaultConnectAttempts = 3
	DefaultConnectBackoff  = 500 * time.Millisecond
	DefaultOpenTimeout     = 15 * time.Second
	DefaultCloseGrace      = 2 * time.Second
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultSweepInterval   = 30 * time.Second
	DefaultVolume          = 100
	DefaultSearchPrefix    = "ytsearch1:"
	DefaultResolveTimeout  = 20 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookuper envconfig.Lookuper
	dotenv   string
}

// WithLookuper replaces the process environment as the source of
// overrides. Tests use [envconfig.MapLookuper].
func WithLookuper(l envconfig.Lookuper) LoadOption {
	return func(o *loadOptions) { o.lookuper = l }
}

// WithDotenv sets the .env file read by [Load]. Empty skips it.
func WithDotenv(path string) LoadOption {
	return func(o *loadOptions) { o.dotenv = path }
}

func newLoadOptions(opts []LoadOption) loadOptions {
	o := loadOptions{lookuper: envconfig.OsLookuper(), dotenv: ".env"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Load reads the YAML configuration file at path, applies a .env file and
// environment overrides, fills in defaults and validates the result.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := newLoadOptions(opts)
	if o.dotenv != "" {
		// Existing environment variables win over the .env file.
		if err := godotenv.Load(o.dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %q: %w", o.dotenv, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults and validates the result.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	o := newLoadOptions(opts)

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: o.lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: environment overrides: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	p := &cfg.Playback
	setDuration(&p.FrameTimeout, DefaultFrameTimeout)
	setDuration(&p.SendTimeout, DefaultSendTimeout)
	setDuration(&p.Backoff, DefaultBackoff)
	setDuration(&p.MaxBackoff, DefaultMaxBackoff)
	setDuration(&p.ConnectBackoff, DefaultConnectBackoff)
	setDuration(&p.OpenTimeout, DefaultOpenTimeout)
	setDuration(&p.CloseGrace, DefaultCloseGrace)
	setDuration(&p.IdleTimeout, DefaultIdleTimeout)
	setDuration(&p.SweepInterval, DefaultSweepInterval)
	if p.MaxFailures == 0 {
		p.MaxFailures = DefaultMaxFailures
	}
	if p.ConnectAttempts == 0 {
		p.ConnectAttempts = DefaultConnectAttempts
	}
	if p.DefaultVolume == 0 {
		p.DefaultVolume = DefaultVolume
	}

	rc := &cfg.Resolve
	if rc.SearchPrefix == "" {
		rc.SearchPrefix = DefaultSearchPrefix
	}
	setDuration(&rc.Timeout, DefaultResolveTimeout)
	setDuration(&rc.BreakerReset, DefaultBreakerReset)
	if rc.BreakerFailures == 0 {
		rc.BreakerFailures = DefaultBreakerFailures
	}

	if cfg.RateLimit.PlayPerMinute > 0 && cfg.RateLimit.PlayBurst == 0 {
		cfg.RateLimit.PlayBurst = 1
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	p := cfg.Playback
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"frame_timeout", p.FrameTimeout},
		{"send_timeout", p.SendTimeout},
		{"backoff", p.Backoff},
		{"max_backoff", p.MaxBackoff},
		{"connect_backoff", p.ConnectBackoff},
		{"open_timeout", p.OpenTimeout},
		{"close_grace", p.CloseGrace},
		{"idle_timeout", p.IdleTimeout},
		{"sweep_interval", p.SweepInterval},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("playback.%s %s must not be negative", f.name, f.d))
		}
	}
	if p.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("playback.max_failures %d must not be negative", p.MaxFailures))
	}
	if p.ConnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("playback.connect_attempts %d must not be negative", p.ConnectAttempts))
	}
	if p.DefaultVolume < 0 || p.DefaultVolume > 100 {
		errs = append(errs, fmt.Errorf("playback.default_volume %d is out of range [0, 100]", p.DefaultVolume))
	}
	if p.Backoff > 0 && p.MaxBackoff > 0 && p.MaxBackoff < p.Backoff {
		errs = append(errs, fmt.Errorf("playback.max_backoff %s is shorter than playback.backoff %s", p.MaxBackoff, p.Backoff))
	}
	if p.SweepInterval > 0 && p.IdleTimeout > 0 && p.SweepInterval > p.IdleTimeout {
		slog.Warn("playback.sweep_interval exceeds playback.idle_timeout; idle sessions will linger",
			"sweep_interval", p.SweepInterval,
			"idle_timeout", p.IdleTimeout,
		)
	}

	if cfg.Stream.Prefetch < 0 {
		errs = append(errs, fmt.Errorf("stream.prefetch %d must not be negative", cfg.Stream.Prefetch))
	}

	if cfg.Resolve.Timeout < 0 {
		errs = append(errs, fmt.Errorf("resolve.timeout %s must not be negative", cfg.Resolve.Timeout))
	}
	if cfg.Resolve.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("resolve.breaker_failures %d must not be negative", cfg.Resolve.BreakerFailures))
	}

	if cfg.RateLimit.PlayPerMinute < 0 {
		errs = append(errs, fmt.Errorf("ratelimit.play_per_minute %g must not be negative", cfg.RateLimit.PlayPerMinute))
	}
	if cfg.RateLimit.PlayBurst < 0 {
		errs = append(errs, fmt.Errorf("ratelimit.play_burst %d must not be negative", cfg.RateLimit.PlayBurst))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; guild preferences are kept in memory")
	}

	return errors.Join(errs...)
}
