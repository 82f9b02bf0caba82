package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sonroyaalmerol/guildtune/internal/observe"
)

const (
	defaultStopTimeout    = 2 * time.Second
	defaultConnectTimeout = 15 * time.Second
)

type ControllerConfig struct {
	Backend    Backend
	Resolver   Resolver
	Authorizer Authorizer
	Notifier   Notifier
	Settings   SettingsStore
	Filters    FilterSet
	Metrics    *observe.Metrics

	// StopTimeout bounds how long a forced stop waits for the backend.
	StopTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Controller runs every playback transition against sessions from its
// registry.
type Controller struct {
	reg            *Registry
	backend        Backend
	resolver       Resolver
	auth           Authorizer
	notify         Notifier
	settings       SettingsStore
	filters        FilterSet
	metrics        *observe.Metrics
	stopTimeout    time.Duration
	connectTimeout time.Duration
}

func NewController(reg *Registry, cfg ControllerConfig) *Controller {
	c := &Controller{
		reg:            reg,
		backend:        cfg.Backend,
		resolver:       cfg.Resolver,
		auth:           cfg.Authorizer,
		notify:         cfg.Notifier,
		settings:       cfg.Settings,
		filters:        cfg.Filters,
		metrics:        cfg.Metrics,
		stopTimeout:    cfg.StopTimeout,
		connectTimeout: cfg.ConnectTimeout,
	}
	if c.auth == nil {
		c.auth = allowAll{}
	}
	if c.notify == nil {
		c.notify = nopNotifier{}
	}
	if c.filters == nil {
		c.filters = DefaultFilters()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.stopTimeout <= 0 {
		c.stopTimeout = defaultStopTimeout
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	return c
}

func (c *Controller) Registry() *Registry { return c.reg }

func (c *Controller) Filters() FilterSet { return c.filters }

// EnqueueResult reports where new tracks landed.
type EnqueueResult struct {
	Added []Track
	// Position is the 1-based queue position of the first added track, or 0
	// when it started playing right away.
	Position int
	Started  *Track
}

// Play resolves query and queues the result, starting playback if the guild
// is idle.
func (c *Controller) Play(ctx context.Context, guildID string, caller Caller, query string) (EnqueueResult, error) {
	if caller.VoiceChannelID == "" {
		return EnqueueResult{}, ErrNotInVoiceChannel
	}
	start := time.Now()
	t, err := c.resolver.Resolve(ctx, query)
	c.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", "single")))
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	return c.EnqueuePlaylist(ctx, guildID, caller, []Track{t.WithRequester(caller.UserID)})
}

// PlayPlaylist resolves every entry behind url, capped by the guild's
// playlist limit, and queues them as one batch.
func (c *Controller) PlayPlaylist(ctx context.Context, guildID string, caller Caller, url string) (EnqueueResult, error) {
	if caller.VoiceChannelID == "" {
		return EnqueueResult{}, ErrNotInVoiceChannel
	}
	limit := c.loadSettings(ctx, guildID).PlaylistLimit
	start := time.Now()
	tracks, err := c.resolver.ResolveAll(ctx, url, limit)
	c.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", "playlist")))
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	if len(tracks) == 0 {
		return EnqueueResult{}, fmt.Errorf("%w: playlist has no playable entries", ErrResolutionFailed)
	}
	for i := range tracks {
		tracks[i] = tracks[i].WithRequester(caller.UserID)
	}
	return c.EnqueuePlaylist(ctx, guildID, caller, tracks)
}

// EnqueuePlaylist appends tracks as a single batch and advances if the
// session was idle.
func (c *Controller) EnqueuePlaylist(ctx context.Context, guildID string, caller Caller, tracks []Track) (EnqueueResult, error) {
	s := c.reg.GetOrCreate(guildID)
	var out outbox
	defer out.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bindLocked(caller)
	s.queue.Enqueue(tracks...)
	res := EnqueueResult{Added: tracks, Position: s.queue.Len() - len(tracks) + 1}

	if s.status != StatusIdle || len(tracks) == 0 {
		return res, nil
	}
	started, err := c.advanceLocked(ctx, s, &out, false)
	if err != nil {
		// The guild could not be joined; leave the queue as it was.
		s.queue.remove(tracks)
		return EnqueueResult{}, err
	}
	res.Started = started
	res.Position = s.queue.position(tracks[0].ID)
	return res, nil
}

// Stop ends the current track. The queue is kept.
func (c *Controller) Stop(ctx context.Context, guildID string) error {
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.streaming() {
		return ErrNothingPlaying
	}
	c.stopStreamLocked(s)
	c.armIdleTimerLocked(s)
	return nil
}

type SkipResult struct {
	Skipped Track
	Next    *Track
}

// Skip ends the current track without loop re-enqueue and starts the next.
func (c *Controller) Skip(ctx context.Context, guildID string) (SkipResult, error) {
	s := c.reg.GetOrCreate(guildID)
	var out outbox
	defer out.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.streaming() {
		return SkipResult{}, ErrNothingPlaying
	}
	res := SkipResult{Skipped: *s.current}
	c.stopStreamLocked(s)
	next, err := c.advanceLocked(ctx, s, &out, false)
	res.Next = next
	return res, err
}

func (c *Controller) Pause(ctx context.Context, guildID string) error {
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPlaying {
		return ErrNothingPlaying
	}
	if err := c.backend.PauseStream(s.conn); err != nil {
		// The stream ended and its completion is still waiting on the lock.
		if errors.Is(err, ErrNothingPlaying) {
			return ErrNothingPlaying
		}
		return fmt.Errorf("%w: pause: %w", ErrOutputBackend, err)
	}
	s.status = StatusPaused
	s.pausedAt = time.Now()
	return nil
}

func (c *Controller) Resume(ctx context.Context, guildID string) error {
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return ErrNothingPaused
	}
	if err := c.backend.ResumeStream(s.conn); err != nil {
		if errors.Is(err, ErrNothingPlaying) {
			return ErrNothingPaused
		}
		return fmt.Errorf("%w: resume: %w", ErrOutputBackend, err)
	}
	s.status = StatusPlaying
	s.pausedFor += time.Since(s.pausedAt)
	s.pausedAt = time.Time{}
	return nil
}

// ApplyFilter switches the session's filter and restarts the current track
// under it. The track is not taken from the queue again. If the restart
// fails the previous filter is kept; a track that cannot start is reported
// and the queue moves on, a lost connection leaves it at the front.
func (c *Controller) ApplyFilter(ctx context.Context, guildID, name string) (Track, error) {
	f, ok := c.filters.Lookup(name)
	if !ok {
		return Track{}, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	s := c.reg.GetOrCreate(guildID)
	var out outbox
	defer out.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.streaming() {
		return Track{}, ErrNothingPlaying
	}
	t := *s.current
	prev := s.filter
	s.filter = f
	c.stopStreamLocked(s)
	err := c.startLocked(ctx, s, t)
	if err == nil {
		slog.Info("filter applied", "guildID", guildID, "filter", name, "title", t.Title)
		return t, nil
	}

	s.filter = prev
	var ce *connectError
	if errors.As(err, &ce) {
		s.queue.pushFront(t)
		c.armIdleTimerLocked(s)
		return t, err
	}
	c.reportStartFailureLocked(ctx, s, &out, t, err)
	if _, aerr := c.advanceLocked(ctx, s, &out, true); aerr != nil {
		slog.Error("advance after failed filter restart", "guildID", guildID, "err", aerr)
	}
	return t, err
}

// ToggleLoop flips loop mode and returns the new value.
func (c *Controller) ToggleLoop(guildID string) bool {
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = !s.loop
	return s.loop
}

// SetVolume takes a percentage and applies it to the live stream, if any.
func (c *Controller) SetVolume(guildID string, percent int) (float64, error) {
	if percent < 0 || percent > 100 {
		return 0, ErrInvalidVolume
	}
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = float64(percent) / 100
	s.volumeSet = true
	if s.streamID != "" {
		c.backend.SetVolume(s.conn, s.volume)
	}
	return s.volume, nil
}

func (c *Controller) Shuffle(guildID string) (int, error) {
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return 0, ErrEmptyQueue
	}
	s.queue.Shuffle()
	return s.queue.Len(), nil
}

// Authorize reports whether caller may run restricted commands in the guild.
func (c *Controller) Authorize(guildID string, caller Caller) bool {
	return c.auth.CanManageQueue(guildID, caller)
}

// ClearQueue drops all pending tracks. It is restricted by the Authorizer.
func (c *Controller) ClearQueue(guildID string, caller Caller) (int, error) {
	if !c.Authorize(guildID, caller) {
		return 0, ErrUnauthorized
	}
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Clear(), nil
}

// NowPlaying returns a snapshot, or ErrNothingPlaying when there is no
// current track.
func (c *Controller) NowPlaying(guildID string) (Snapshot, error) {
	snap := c.reg.GetOrCreate(guildID).Snapshot()
	if snap.Current == nil {
		return snap, ErrNothingPlaying
	}
	return snap, nil
}

func (c *Controller) Queue(guildID string) Snapshot {
	return c.reg.GetOrCreate(guildID).Snapshot()
}

// Leave stops playback and releases the voice connection. The session and
// its queue stay in the registry.
func (c *Controller) Leave(ctx context.Context, guildID string) error {
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	c.leaveLocked(ctx, s)
	return nil
}

// Shutdown leaves every guild that still holds a voice connection.
func (c *Controller) Shutdown(ctx context.Context) {
	for _, id := range c.reg.GuildIDs() {
		if err := c.Leave(ctx, id); err != nil && !errors.Is(err, ErrNotConnected) {
			slog.Warn("leave on shutdown", "guildID", id, "err", err)
		}
	}
}

// ReloadSettings refreshes cached guild settings, e.g. after a config change.
func (c *Controller) ReloadSettings(ctx context.Context, guildID string) {
	set := c.loadSettings(ctx, guildID)
	s := c.reg.GetOrCreate(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.applySettingsLocked(s, set)
}

func (c *Controller) loadSettings(ctx context.Context, guildID string) Settings {
	if c.settings == nil {
		return DefaultSettings
	}
	set, err := c.settings.GuildSettings(ctx, guildID)
	if err != nil {
		slog.Warn("load guild settings", "guildID", guildID, "err", err)
		return DefaultSettings
	}
	return set
}

func (c *Controller) applySettingsLocked(s *GuildSession, set Settings) {
	s.settings = set
	if !s.volumeSet {
		s.volume = float64(set.DefaultVolume) / 100
	}
}

func (c *Controller) leaveLocked(ctx context.Context, s *GuildSession) {
	c.stopStreamLocked(s)
	s.stopIdleTimerLocked()
	conn := s.conn
	s.conn = nil
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.stopTimeout)
	defer cancel()
	if err := c.backend.Disconnect(dctx, conn); err != nil {
		slog.Warn("voice disconnect", "guildID", s.GuildID, "err", err)
	}
	slog.Info("left voice channel", "guildID", s.GuildID, "channelID", conn.ChannelID())
}
