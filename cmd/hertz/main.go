// Command hertz is the main entry point for the Hertz Discord music bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hertz/internal/app"
	"github.com/MrWong99/hertz/internal/config"
	discordbot "github.com/MrWong99/hertz/internal/discord"
	"github.com/MrWong99/hertz/internal/discord/commands"
	"github.com/MrWong99/hertz/internal/feed"
	"github.com/MrWong99/hertz/internal/health"
	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "path to an optional .env file with secrets")
	watch := flag.Duration("watch", 5*time.Second, "config poll interval (0 reloads only on SIGHUP)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath, config.WithDotenv(*envPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hertz: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hertz: %v\n", err)
		}
		return 1
	}
	if cfg.Discord.Token == "" {
		fmt.Fprintln(os.Stderr, "hertz: discord.token is empty, set it in the config or via HERTZ_DISCORD_TOKEN")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("hertz starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hertz",
		ServiceVersion: version,
		Registerer:     promRegistry,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:    cfg.Discord.Token,
		GuildID:  cfg.Discord.GuildID,
		DJRoleID: cfg.Discord.DJRoleID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	// The announcer needs the registry to refresh progress, and the registry
	// needs the announcer as its notifier, so the lookup is late-bound.
	var application *app.App
	announcer := discordbot.NewAnnouncer(discordbot.AnnouncerConfig{
		Messenger: bot.Session(),
		NowPlaying: func(ctx context.Context, guildID string) (playback.NowPlaying, error) {
			sess, ok := application.Registry().Get(guildID)
			if !ok {
				return playback.NowPlaying{}, playback.ErrNoActiveTrack
			}
			return sess.NowPlaying(ctx)
		},
	})

	hub := feed.NewHub(feed.Config{OriginPatterns: cfg.Server.EventOrigins})

	application, err = app.New(ctx, cfg,
		app.WithPlatform(bot.Platform()),
		app.WithNotifier(playback.Notifiers{announcer, hub}),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}
	bot.OnVoiceLeave(func(guildID string) {
		announcer.Forget(guildID)
		application.VoiceLeft(guildID)
	})

	limiter := discordbot.NewUserLimiter(cfg.RateLimit.PlayPerMinute, cfg.RateLimit.PlayBurst)
	commands.NewMusicCommands(commands.MusicConfig{
		Sessions:  application.Registry(),
		Locate:    bot.UserVoiceChannel,
		Perms:     bot.Permissions(),
		Limiter:   limiter,
		Announcer: announcer,
		Metrics:   metrics,
	}).Register(bot.Router())

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Polling runs every -watch interval; SIGHUP forces a reload either way.
	watcher, err := config.NewWatcher(*configPath, func(r config.Reload) {
		if r.Diff.LogLevelChanged {
			level.Set(slogLevel(r.Diff.NewLogLevel))
		}
		if r.Diff.PlaybackChanged {
			application.ApplyPlayback(r.New.Playback)
		}
		if r.Diff.RateLimitChanged {
			limiter.SetRate(r.New.RateLimit.PlayPerMinute, r.New.RateLimit.PlayBurst)
		}
		if len(r.Diff.RestartRequired) > 0 {
			slog.Warn("config changes need a restart to take effect", "settings", r.Diff.RestartRequired)
		}
	}, config.WithInterval(*watch), config.WithLoadOptions(config.WithDotenv(*envPath)))
	if err != nil {
		slog.Warn("config reloads disabled", "err", err)
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// ── HTTP: health, metrics and the event feed ──────────────────────────────
	var server *http.Server
	if cfg.Server.ListenAddr != "" {
		checks := append(application.ReadyChecks(), health.Checker{Name: "discord", Check: bot.Ready})
		mux := http.NewServeMux()
		health.New(checks...).WithSessions(application.Sessions).Register(mux)
		mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry}))
		mux.Handle("GET /events", hub)
		server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(bot.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(application.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(announcer.Run(gctx)) })
	if watcher != nil {
		g.Go(func() error { return ignoreCanceled(watcher.Run(gctx)) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Trigger()
				}
			}
		})
	}
	if server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")

	// Sessions disconnect from voice before the gateway goes away.
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return exit
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	scope := "global"
	if cfg.Discord.GuildID != "" {
		scope = "guild " + cfg.Discord.GuildID
	}
	limit := "off"
	if cfg.RateLimit.PlayPerMinute > 0 {
		limit = fmt.Sprintf("%g/min, burst %d", cfg.RateLimit.PlayPerMinute, cfg.RateLimit.PlayBurst)
	}
	listen := cfg.Server.ListenAddr
	if listen == "" {
		listen = "(disabled)"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Hertz startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Commands", scope)
	printRow("Preferences", store)
	printRow("Idle timeout", cfg.Playback.IdleTimeout.String())
	printRow("Play limit", limit)
	printRow("Listen addr", listen)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
