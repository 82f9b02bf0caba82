package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sonroyaalmerol/guildtune/internal/autocomplete"
	"github.com/sonroyaalmerol/guildtune/internal/observe"
	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/repository"
	"github.com/sonroyaalmerol/guildtune/internal/ui"
	"github.com/sonroyaalmerol/guildtune/internal/utils"
)

const (
	commandTimeout = 2 * time.Minute
	suggestTimeout = 2500 * time.Millisecond
	// Discord allows at most 25 choices per option.
	maxChoices = 25
)

type chapterResolver interface {
	ResolveChapters(ctx context.Context, query string) ([]player.Track, error)
}

type commandFunc func(ctx context.Context, r *response, i *discordgo.InteractionCreate) error

type CommandHandler struct {
	repo     *repository.Repo
	ctrl     *player.Controller
	chapters chapterResolver
	suggest  *autocomplete.Suggester
	metrics  *observe.Metrics
	routes   map[string]commandFunc
}

func NewCommandHandler(repo *repository.Repo, ctrl *player.Controller, chapters chapterResolver, sugg *autocomplete.Suggester, m *observe.Metrics) *CommandHandler {
	h := &CommandHandler{repo: repo, ctrl: ctrl, chapters: chapters, suggest: sugg, metrics: m}
	h.routes = map[string]commandFunc{
		"play":       h.cmdPlay,
		"playlist":   h.cmdPlaylist,
		"stop":       h.cmdStop,
		"leave":      h.cmdLeave,
		"queue":      h.cmdQueue,
		"skip":       h.cmdSkip,
		"pause":      h.cmdPause,
		"resume":     h.cmdResume,
		"volume":     h.cmdVolume,
		"nowplaying": h.cmdNowPlaying,
		"loop":       h.cmdLoop,
		"shuffle":    h.cmdShuffle,
		"clear":      h.cmdClear,
		"filter":     h.cmdFilter,
		"config":     h.cmdConfig,
	}
	return h
}

func boolOpt(name, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Name: name, Description: desc, Type: discordgo.ApplicationCommandOptionBoolean, Required: true}
}

func intOpt(name, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Name: name, Description: desc, Type: discordgo.ApplicationCommandOptionInteger, Required: true}
}

func subcommand(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: name, Description: desc, Options: opts}
}

// Commands returns the application command definitions.
func (h *CommandHandler) Commands() []*discordgo.ApplicationCommand {
	filterChoices := lo.Map(lo.Slice(h.ctrl.Filters().Names(), 0, maxChoices),
		func(name string, _ int) *discordgo.ApplicationCommandOptionChoice {
			return &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name}
		})

	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song (YouTube/Spotify URL or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
				{Name: "split", Description: "queue each chapter as its own track", Type: discordgo.ApplicationCommandOptionBoolean},
			},
		},
		{
			Name:        "playlist",
			Description: "Queue a YouTube or Spotify playlist",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "url", Description: "playlist, album or artist URL", Type: discordgo.ApplicationCommandOptionString, Required: true},
			},
		},
		{Name: "stop", Description: "Stop the current track and keep the queue"},
		{Name: "leave", Description: "Stop playback and leave the voice channel"},
		{
			Name:        "queue",
			Description: "Show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "page-size", Description: "how many items per page [max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{Name: "skip", Description: "Skip to the next track"},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume playback"},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options:     []*discordgo.ApplicationCommandOption{intOpt("level", "0-100")},
		},
		{Name: "nowplaying", Description: "Show the current track"},
		{Name: "loop", Description: "Toggle looping the queue"},
		{Name: "shuffle", Description: "Shuffle the queue"},
		{Name: "clear", Description: "Clear the queue except the current track (DJ only)"},
		{
			Name:        "filter",
			Description: "Apply an audio filter to the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "name", Description: "filter preset", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: filterChoices},
			},
		},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("get", "show settings"),
				subcommand("set-playlist-limit", "set max tracks added from a playlist", intOpt("limit", "max tracks")),
				subcommand("set-wait-after-queue-empties", "time to wait before leaving VC", intOpt("delay", "seconds (0 never leave)")),
				subcommand("set-leave-if-no-listeners", "leave when no listeners", boolOpt("value", "true/false")),
				subcommand("set-queue-add-response-hidden", "ephemeral queue add responses", boolOpt("value", "true/false")),
				subcommand("set-auto-announce-next-song", "auto announce next", boolOpt("value", "true/false")),
				subcommand("set-default-volume", "default volume", intOpt("level", "0-100")),
				subcommand("set-default-queue-page-size", "queue page size", intOpt("page_size", "1-30")),
				subcommand("set-dj-role", "role allowed to manage the queue", &discordgo.ApplicationCommandOption{
					Name: "role", Description: "role name (empty resets)", Type: discordgo.ApplicationCommandOptionString,
				}),
			},
		},
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	start := time.Now()
	cmds := h.Commands()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	slog.Info("registered application commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.dispatch(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
	default:
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) dispatch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name
	fn, ok := h.routes[name]
	if !ok {
		slog.Debug("unknown command", "name", name, "guildID", i.GuildID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "command."+name, trace.WithAttributes(
		attribute.String("guild.id", i.GuildID),
		attribute.String("user.id", userIDOf(i)),
	))
	defer span.End()
	log := observe.Logger(ctx)

	r := &response{s: s, i: i}
	start := time.Now()
	err := fn(ctx, r, i)
	status := "ok"
	if err != nil {
		var msg string
		status, msg = errorStatus(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		log.Info("command failed", "command", name, "guildID", i.GuildID, "status", status, "err", err)
		r.text(msg, true)
	} else {
		log.Info("command", "command", name, "guildID", i.GuildID, "userID", userIDOf(i), "took", time.Since(start))
	}
	h.metrics.RecordCommand(ctx, name, status)
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Focused {
			query = strings.TrimSpace(opt.StringValue())
		}
	}

	choices := []*discordgo.ApplicationCommandOptionChoice{}
	if query != "" && h.suggest != nil {
		ctx, cancel := context.WithTimeout(context.Background(), suggestTimeout)
		defer cancel()
		choices = append(choices, h.suggest.Choices(ctx, query, 10)...)
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		slog.Debug("autocomplete respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) caller(s *discordgo.Session, i *discordgo.InteractionCreate) player.Caller {
	return callerOf(i, func(guildID, userID string) string {
		vs, err := s.State.VoiceState(guildID, userID)
		if err != nil || vs == nil {
			return ""
		}
		return vs.ChannelID
	})
}

// guildSettings returns the guild's stored settings, creating the defaults
// on first use.
func (h *CommandHandler) guildSettings(ctx context.Context, guildID string) (*repository.Settings, error) {
	set, err := h.repo.UpsertSettings(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return set, nil
}

func (h *CommandHandler) cmdPlay(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	opts := optionMap(i.ApplicationCommandData().Options)
	query := opts.str("query")
	set, err := h.guildSettings(ctx, i.GuildID)
	if err != nil {
		return err
	}
	r.deferReply(set.QueueAddEphemeral)

	caller := h.caller(r.s, i)
	var res player.EnqueueResult
	if opts.bool("split") && h.chapters != nil {
		res, err = h.playChapters(ctx, i.GuildID, caller, query)
	} else {
		res, err = h.ctrl.Play(ctx, i.GuildID, caller, query)
	}
	if err != nil {
		return err
	}
	r.embed(ui.EnqueuedEmbed(res), set.QueueAddEphemeral)
	return nil
}

func (h *CommandHandler) playChapters(ctx context.Context, guildID string, caller player.Caller, query string) (player.EnqueueResult, error) {
	if caller.VoiceChannelID == "" {
		return player.EnqueueResult{}, player.ErrNotInVoiceChannel
	}
	tracks, err := h.chapters.ResolveChapters(ctx, query)
	if err != nil {
		return player.EnqueueResult{}, fmt.Errorf("%w: %w", player.ErrResolutionFailed, err)
	}
	for n := range tracks {
		tracks[n] = tracks[n].WithRequester(caller.UserID)
	}
	return h.ctrl.EnqueuePlaylist(ctx, guildID, caller, tracks)
}

func (h *CommandHandler) cmdPlaylist(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	url := optionMap(i.ApplicationCommandData().Options).str("url")
	set, err := h.guildSettings(ctx, i.GuildID)
	if err != nil {
		return err
	}
	r.deferReply(set.QueueAddEphemeral)

	res, err := h.ctrl.PlayPlaylist(ctx, i.GuildID, h.caller(r.s, i), url)
	if err != nil {
		return err
	}
	r.embed(ui.EnqueuedEmbed(res), set.QueueAddEphemeral)
	return nil
}

func (h *CommandHandler) cmdStop(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	if err := h.ctrl.Stop(ctx, i.GuildID); err != nil {
		return err
	}
	r.text("u betcha, stopped", false)
	return nil
}

func (h *CommandHandler) cmdLeave(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	if err := h.ctrl.Leave(ctx, i.GuildID); err != nil {
		return err
	}
	r.text("u betcha, disconnected", false)
	return nil
}

func (h *CommandHandler) cmdQueue(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	set, err := h.guildSettings(ctx, i.GuildID)
	if err != nil {
		return err
	}
	opts := optionMap(i.ApplicationCommandData().Options)
	page := max(opts.int("page", 1), 1)
	pageSize := min(max(opts.int("page-size", set.DefaultQueuePageSize), 1), 30)

	e, err := ui.QueueEmbed(h.ctrl.Queue(i.GuildID), page, pageSize)
	if err != nil {
		return err
	}
	r.embed(e, true)
	return nil
}

func (h *CommandHandler) cmdSkip(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	r.deferReply(false)
	res, err := h.ctrl.Skip(ctx, i.GuildID)
	if res.Skipped.ID == "" && err != nil {
		return err
	}
	msg := "skipped " + utils.EscapeMd(res.Skipped.Title)
	switch {
	case res.Next != nil:
		msg += ", now playing " + utils.EscapeMd(res.Next.Title)
	case err != nil:
		msg += ", but the next track couldn't start"
	default:
		msg += ", queue is empty"
	}
	r.text(msg, false)
	return nil
}

func (h *CommandHandler) cmdPause(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	if err := h.ctrl.Pause(ctx, i.GuildID); err != nil {
		return err
	}
	r.text("the stop-and-go light is now red", false)
	return nil
}

func (h *CommandHandler) cmdResume(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	if err := h.ctrl.Resume(ctx, i.GuildID); err != nil {
		return err
	}
	r.text("the stop-and-go light is now green", false)
	return nil
}

func (h *CommandHandler) cmdVolume(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	level := optionMap(i.ApplicationCommandData().Options).int("level", -1)
	v, err := h.ctrl.SetVolume(i.GuildID, level)
	if err != nil {
		return err
	}
	r.text(fmt.Sprintf("🔊 volume set to %d%%", int(v*100+0.5)), false)
	return nil
}

func (h *CommandHandler) cmdNowPlaying(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	snap, err := h.ctrl.NowPlaying(i.GuildID)
	if err != nil {
		return err
	}
	r.embed(ui.PlayingEmbed(snap), false)
	return nil
}

func (h *CommandHandler) cmdLoop(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	if h.ctrl.ToggleLoop(i.GuildID) {
		r.text("looped queue :)", false)
	} else {
		r.text("stopped looping queue :(", false)
	}
	return nil
}

func (h *CommandHandler) cmdShuffle(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	n, err := h.ctrl.Shuffle(i.GuildID)
	if err != nil {
		return err
	}
	r.text(fmt.Sprintf("shuffled %d tracks", n), false)
	return nil
}

func (h *CommandHandler) cmdClear(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	n, err := h.ctrl.ClearQueue(i.GuildID, h.caller(r.s, i))
	if err != nil {
		return err
	}
	r.text(fmt.Sprintf("clearer than a field after a fresh harvest (%d removed)", n), false)
	return nil
}

func (h *CommandHandler) cmdFilter(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	name := optionMap(i.ApplicationCommandData().Options).str("name")
	r.deferReply(false)
	t, err := h.ctrl.ApplyFilter(ctx, i.GuildID, name)
	if err != nil {
		return err
	}
	r.text(fmt.Sprintf("applied `%s` to %s", name, utils.EscapeMd(t.Title)), false)
	return nil
}

func (h *CommandHandler) cmdConfig(ctx context.Context, r *response, i *discordgo.InteractionCreate) error {
	sub := i.ApplicationCommandData().Options[0]
	if sub.Name == "get" {
		set, err := h.guildSettings(ctx, i.GuildID)
		if err != nil {
			return err
		}
		r.text(formatSettings(set), false)
		return nil
	}

	if !h.ctrl.Authorize(i.GuildID, h.caller(r.s, i)) {
		return player.ErrUnauthorized
	}
	opts := optionMap(sub.Options)
	var update func(*repository.Settings)
	switch sub.Name {
	case "set-playlist-limit":
		update = func(s *repository.Settings) { s.PlaylistLimit = opts.int("limit", 0) }
	case "set-wait-after-queue-empties":
		update = func(s *repository.Settings) { s.SecondsWaitAfterEmpty = opts.int("delay", -1) }
	case "set-leave-if-no-listeners":
		update = func(s *repository.Settings) { s.LeaveIfNoListeners = opts.bool("value") }
	case "set-queue-add-response-hidden":
		update = func(s *repository.Settings) { s.QueueAddEphemeral = opts.bool("value") }
	case "set-auto-announce-next-song":
		update = func(s *repository.Settings) { s.AutoAnnounceNext = opts.bool("value") }
	case "set-default-volume":
		update = func(s *repository.Settings) { s.DefaultVolume = opts.int("level", -1) }
	case "set-default-queue-page-size":
		update = func(s *repository.Settings) { s.DefaultQueuePageSize = opts.int("page_size", 0) }
	case "set-dj-role":
		update = func(s *repository.Settings) { s.DJRole = strings.TrimSpace(opts.str("role")) }
	default:
		return fmt.Errorf("unknown config subcommand %q", sub.Name)
	}

	set, err := h.guildSettings(ctx, i.GuildID)
	if err != nil {
		return err
	}
	update(set)
	if err := h.repo.UpdateSettings(ctx, set); err != nil {
		return err
	}
	h.ctrl.ReloadSettings(ctx, i.GuildID)
	observe.Logger(ctx).Info("config updated", "guildID", i.GuildID, "key", sub.Name)
	r.text("👍 settings updated", false)
	return nil
}

func formatSettings(set *repository.Settings) string {
	wait := "never leave"
	if set.SecondsWaitAfterEmpty > 0 {
		wait = fmt.Sprintf("%ds", set.SecondsWaitAfterEmpty)
	}
	return fmt.Sprintf(
		"Config\n- Playlist Limit: %d\n- Wait before leaving after queue empty: %s\n- Leave if no listeners: %t\n- Auto announce next song: %t\n- Add to queue responses ephemeral: %t\n- Default volume: %d\n- Default queue page size: %d\n- DJ role: %s",
		set.PlaylistLimit,
		wait,
		set.LeaveIfNoListeners,
		set.AutoAnnounceNext,
		set.QueueAddEphemeral,
		set.DefaultVolume,
		set.DefaultQueuePageSize,
		lo.CoalesceOrEmpty(set.DJRole, "(default)"),
	)
}
