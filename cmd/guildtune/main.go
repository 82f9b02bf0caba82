package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/guildtune/internal/autocomplete"
	"github.com/sonroyaalmerol/guildtune/internal/config"
	"github.com/sonroyaalmerol/guildtune/internal/handlers"
	"github.com/sonroyaalmerol/guildtune/internal/health"
	"github.com/sonroyaalmerol/guildtune/internal/observe"
	"github.com/sonroyaalmerol/guildtune/internal/repository"
	"github.com/sonroyaalmerol/guildtune/internal/resolve"
	"github.com/sonroyaalmerol/guildtune/internal/sponsorblock"
	"github.com/sonroyaalmerol/guildtune/internal/spotify"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guildtune: %v\n", err)
		return 1
	}
	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))
	slog.Info("guildtune starting", "version", version, "dataDir", cfg.DataDir, "httpAddr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	db, err := repository.OpenDB(cfg.DataDir)
	if err != nil {
		slog.Error("open database", "err", err)
		return 1
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	var sp *spotify.Client
	if cfg.SpotifyClientID != "" {
		sp = spotify.NewClientCredentials(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}
	var sb *sponsorblock.Applier
	if cfg.EnableSponsorBlock {
		sb = sponsorblock.NewApplier(cfg.SponsorBlockTimeout)
	}
	res := resolve.New(resolve.Options{
		CookiesPath:  cfg.YouTubeCookiesPath,
		POToken:      cfg.YouTubePOToken,
		Spotify:      sp,
		SponsorBlock: sb,
		Rate:         cfg.ResolveRate,
		Concurrency:  cfg.ResolveConcurrency,
	})

	bot, err := handlers.NewBot(cfg, repo, res, autocomplete.New(sp), metrics)
	if err != nil {
		slog.Error("create bot", "err", err)
		return 1
	}
	status := health.New(
		health.Checker{Name: "discord", Check: bot.Check},
		health.Checker{Name: "database", Check: repo.Ping},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	if cfg.HTTPAddr != "" {
		g.Go(func() error { return status.Serve(gctx, cfg.HTTPAddr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("guildtune stopped", "err", err)
		return 1
	}
	slog.Info("guildtune stopped")
	return 0
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
