package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// advanceLocked starts the next playable track from the queue. Tracks whose
// stream fails to start are reported and skipped. A connection failure puts
// the track back at the front and leaves the session idle. With an empty
// queue the session goes idle and keeps its connection.
func (c *Controller) advanceLocked(ctx context.Context, s *GuildSession, out *outbox, announce bool) (*Track, error) {
	for {
		t, err := s.queue.DequeueFront()
		if err != nil {
			s.clearCurrentLocked()
			c.armIdleTimerLocked(s)
			if announce {
				text := s.textChannelID
				out.add(func() { c.notify.QueueFinished(s.GuildID, text) })
			}
			return nil, nil
		}

		err = c.startLocked(ctx, s, t)
		if err == nil {
			c.metrics.TrackAdvances.Add(ctx, 1)
			if announce {
				text := s.textChannelID
				out.add(func() { c.notify.NowPlaying(s.GuildID, text, t) })
			}
			return &t, nil
		}

		var ce *connectError
		if errors.As(err, &ce) {
			s.queue.pushFront(t)
			return nil, err
		}
		c.reportStartFailureLocked(ctx, s, out, t, err)
	}
}

// reportStartFailureLocked records a track whose stream could not start so
// the caller can move on to the next one.
func (c *Controller) reportStartFailureLocked(ctx context.Context, s *GuildSession, out *outbox, t Track, err error) {
	slog.Warn("stream start failed, skipping track", "guildID", s.GuildID, "title", t.Title, "err", err)
	c.metrics.StreamErrors.Add(ctx, 1)
	text := s.textChannelID
	out.add(func() { c.notify.PlaybackError(s.GuildID, text, t, err) })
}

// startLocked runs Idle -> Connecting -> Playing for t. On failure the
// session is back in Idle with no current track.
func (c *Controller) startLocked(ctx context.Context, s *GuildSession, t Track) error {
	s.stopIdleTimerLocked()
	s.setCurrentLocked(StatusConnecting, &t)

	if err := c.ensureConnLocked(ctx, s); err != nil {
		s.clearCurrentLocked()
		return fmt.Errorf("%w: %w", ErrOutputBackend, &connectError{err})
	}

	id := uuid.NewString()
	req := StreamRequest{
		GuildID:  s.GuildID,
		StreamID: id,
		Source:   t.Source,
		Filter:   s.filter.Chain,
		Volume:   s.volume,
	}
	if err := c.backend.StartStream(ctx, s.conn, req, c.finisher(s.GuildID, id)); err != nil {
		s.clearCurrentLocked()
		return fmt.Errorf("%w: start stream: %w", ErrOutputBackend, err)
	}
	s.streamID = id
	s.status = StatusPlaying
	s.startedAt = time.Now()
	s.pausedAt = time.Time{}
	s.pausedFor = 0
	c.metrics.ActiveStreams.Add(ctx, 1)
	slog.Info("track started", "guildID", s.GuildID, "title", t.Title, "streamID", id)
	return nil
}

func (c *Controller) ensureConnLocked(ctx context.Context, s *GuildSession) error {
	if s.conn != nil {
		return nil
	}
	if s.channelID == "" {
		return ErrNotInVoiceChannel
	}
	cctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	conn, err := c.backend.Connect(cctx, s.GuildID, s.channelID)
	if err != nil {
		return err
	}
	s.conn = conn
	c.applySettingsLocked(s, c.loadSettings(ctx, s.GuildID))
	slog.Info("joined voice channel", "guildID", s.GuildID, "channelID", s.channelID)
	return nil
}

// stopStreamLocked force-stops the active stream. Its completion becomes
// stale the moment streamID is cleared, so it can never advance the queue.
// The wait on the backend is bounded; on timeout the session goes idle anyway.
func (c *Controller) stopStreamLocked(s *GuildSession) {
	if s.streamID == "" {
		s.clearCurrentLocked()
		return
	}
	id := s.streamID
	s.streamID = ""
	s.setCurrentLocked(StatusStopped, nil)

	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()
	start := time.Now()
	if err := c.backend.StopStream(ctx, s.conn); err != nil {
		slog.Warn("stream did not confirm stop, continuing",
			"guildID", s.GuildID, "streamID", id, "waited", time.Since(start), "err", err)
	}
	c.metrics.ActiveStreams.Add(context.Background(), -1)
	s.clearCurrentLocked()
}

func (c *Controller) finisher(guildID, streamID string) func(error) {
	return func(err error) {
		c.OnStreamFinished(guildID, streamID, err)
	}
}

// OnStreamFinished is the backend's completion callback. It runs under the
// session lock like any command. Completions for a stream that is no longer
// active are dropped.
func (c *Controller) OnStreamFinished(guildID, streamID string, streamErr error) {
	s := c.reg.Peek(guildID)
	if s == nil {
		slog.Debug("completion for unknown guild", "guildID", guildID, "streamID", streamID)
		return
	}
	ctx := context.Background()
	var out outbox
	defer out.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if streamID == "" || streamID != s.streamID || !s.status.streaming() {
		slog.Debug("dropping stale completion", "guildID", guildID, "streamID", streamID, "active", s.streamID)
		c.metrics.StaleCompletions.Add(ctx, 1)
		return
	}

	finished := *s.current
	s.clearCurrentLocked()
	c.metrics.ActiveStreams.Add(ctx, -1)

	switch {
	case streamErr != nil:
		slog.Warn("stream failed", "guildID", guildID, "title", finished.Title, "err", streamErr)
		c.metrics.StreamErrors.Add(ctx, 1)
		text := s.textChannelID
		out.add(func() { c.notify.PlaybackError(guildID, text, finished, streamErr) })
	case s.loop:
		s.queue.Enqueue(finished)
	}

	if _, err := c.advanceLocked(ctx, s, &out, s.settings.AnnounceNext); err != nil {
		slog.Error("advance after completion", "guildID", guildID, "err", err)
	}
}

// armIdleTimerLocked schedules a disconnect once the session has been idle
// for the guild's idle timeout. Any later transition invalidates the timer.
func (c *Controller) armIdleTimerLocked(s *GuildSession) {
	s.stopIdleTimerLocked()
	wait := s.settings.IdleTimeout
	if wait <= 0 || s.conn == nil {
		return
	}
	gen := s.idleGen
	s.idleTimer = time.AfterFunc(wait, func() { c.idleDisconnect(s, gen) })
}

func (c *Controller) idleDisconnect(s *GuildSession, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.idleGen || s.status != StatusIdle || s.conn == nil {
		return
	}
	slog.Info("idle timeout reached", "guildID", s.GuildID)
	c.leaveLocked(context.Background(), s)
}
