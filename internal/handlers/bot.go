package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/guildtune/internal/autocomplete"
	"github.com/sonroyaalmerol/guildtune/internal/config"
	"github.com/sonroyaalmerol/guildtune/internal/observe"
	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/repository"
	"github.com/sonroyaalmerol/guildtune/internal/resolve"
	"github.com/sonroyaalmerol/guildtune/internal/stream"
)

var ErrNotReady = errors.New("discord session not ready")

type Bot struct {
	cfg     *config.Config
	repo    *repository.Repo
	session *discordgo.Session
	ctrl    *player.Controller
	cmd     *CommandHandler
	ready   atomic.Bool
}

func NewBot(cfg *config.Config, repo *repository.Repo, res *resolve.Resolver, sugg *autocomplete.Suggester, m *observe.Metrics) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	backend := stream.NewBackend(dg, stream.Options{
		FFmpegPath: cfg.FFmpegPath,
		Locate:     res.Locate,
	})
	ctrl := player.NewController(player.NewRegistry(m), player.ControllerConfig{
		Backend:     backend,
		Resolver:    res,
		Authorizer:  newDJAuthorizer(repo, cfg.DJRole, stateRoles(dg.State)),
		Notifier:    channelNotifier{send: dg},
		Settings:    repo,
		Filters:     player.DefaultFilters().With(cfg.Filters),
		Metrics:     m,
		StopTimeout: cfg.StopTimeout,
	})

	return &Bot{
		cfg:     cfg,
		repo:    repo,
		session: dg,
		ctrl:    ctrl,
		cmd:     NewCommandHandler(repo, ctrl, res, sugg, m),
	}, nil
}

// Check reports whether the gateway connection is up. It backs /readyz.
func (b *Bot) Check(context.Context) error {
	if !b.ready.Load() {
		return ErrNotReady
	}
	return nil
}

func (b *Bot) Run(ctx context.Context) error {
	dg := b.session

	dg.AddHandler(b.onReady)
	dg.AddHandler(func(s *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Store(false)
		slog.Warn("discord gateway disconnected")
	})
	dg.AddHandler(func(s *discordgo.Session, _ *discordgo.Resumed) {
		b.ready.Store(true)
	})

	// When registering per guild, register on new guilds too.
	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || s.State.User == nil {
			return
		}
		if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down bot")

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	b.ctrl.Shutdown(sctx)
	b.ready.Store(false)
	return dg.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)
	slog.Info("connected", "user", r.User.Username, "guilds", len(r.Guilds))

	if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: b.cfg.BotStatus,
		Activities: []*discordgo.Activity{
			{Name: b.cfg.BotActivity, Type: discordgo.ActivityTypeListening},
		},
	}); err != nil {
		slog.Warn("update presence", "err", err)
	}

	appID := r.User.ID
	if b.cfg.RegisterCommandsOnBot {
		if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
			slog.Error("register global commands", "err", err)
		}
		return
	}

	var wg sync.WaitGroup
	for _, g := range r.Guilds {
		wg.Add(1)
		go func(guildID string) {
			defer wg.Done()
			if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
				slog.Error("register guild commands", "guildID", guildID, "err", err)
			}
		}(g.ID)
	}
	wg.Wait()

	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
		slog.Error("clear global commands", "err", err)
	}
	slog.Info("registered commands on all guilds", "count", len(r.Guilds))
}

// onVoiceStateUpdate leaves a guild's channel once no human is left in it,
// if the guild has that setting on.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	sess := b.ctrl.Registry().Peek(vs.GuildID)
	if sess == nil {
		return
	}
	snap := sess.Snapshot()
	if !snap.Connected || snap.ChannelID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	set, err := b.repo.GetSettings(ctx, vs.GuildID)
	if err != nil || !set.LeaveIfNoListeners {
		return
	}
	if listeners(s.State, vs.GuildID, snap.ChannelID) > 0 {
		return
	}
	slog.Info("no listeners left, leaving", "guildID", vs.GuildID, "channelID", snap.ChannelID)
	if err := b.ctrl.Leave(ctx, vs.GuildID); err != nil && !errors.Is(err, player.ErrNotConnected) {
		slog.Warn("leave empty channel", "guildID", vs.GuildID, "err", err)
	}
}

// listeners counts the non-bot members in a voice channel.
func listeners(st *discordgo.State, guildID, channelID string) int {
	g, err := st.Guild(guildID)
	if err != nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		m, _ := st.Member(guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			n++
		}
	}
	return n
}
