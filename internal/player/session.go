package player

import (
	"slices"
	"sync"
	"time"
)

// GuildSession is the playback state of one guild. Every field below mu is
// guarded by it; Controller methods and stream completions both take it, so
// all transitions for a guild are linearized.
type GuildSession struct {
	GuildID string

	mu        sync.Mutex
	queue     Queue
	status    Status
	current   *Track
	loop      bool
	volume    float64
	volumeSet bool
	filter    Filter

	conn          Connection
	channelID     string
	textChannelID string

	// streamID identifies the stream whose completion may advance the queue.
	// Completions carrying any other ID are stale.
	streamID string

	// Playback clock for the current stream.
	startedAt time.Time
	pausedAt  time.Time
	pausedFor time.Duration

	settings  Settings
	idleTimer *time.Timer
	idleGen   uint64
}

func newGuildSession(guildID string) *GuildSession {
	return &GuildSession{
		GuildID:  guildID,
		status:   StatusIdle,
		volume:   float64(DefaultSettings.DefaultVolume) / 100,
		settings: DefaultSettings,
	}
}

// Snapshot is a point-in-time copy of a session for display.
type Snapshot struct {
	GuildID   string
	Status    Status
	Current   *Track
	Queue     []Track
	Loop      bool
	Volume    float64
	Filter    string
	Connected bool
	ChannelID string
	// Position is how far into the current track playback has got.
	Position time.Duration
}

func (s *GuildSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *GuildSession) snapshotLocked() Snapshot {
	snap := Snapshot{
		GuildID:   s.GuildID,
		Status:    s.status,
		Queue:     slices.Collect(s.queue.PeekAll()),
		Loop:      s.loop,
		Volume:    s.volume,
		Filter:    s.filter.Name,
		Connected: s.conn != nil,
		ChannelID: s.channelID,
		Position:  s.positionLocked(time.Now()),
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// bindLocked records where the caller is so later connects and announcements
// know which channels to use. An established connection keeps its channel.
func (s *GuildSession) bindLocked(c Caller) {
	if c.TextChannelID != "" {
		s.textChannelID = c.TextChannelID
	}
	if s.conn == nil && c.VoiceChannelID != "" {
		s.channelID = c.VoiceChannelID
	}
}

func (s *GuildSession) setCurrentLocked(st Status, t *Track) {
	s.status = st
	s.current = t
}

func (s *GuildSession) clearCurrentLocked() {
	s.status = StatusIdle
	s.current = nil
	s.streamID = ""
	s.startedAt = time.Time{}
	s.pausedAt = time.Time{}
	s.pausedFor = 0
}

func (s *GuildSession) positionLocked(now time.Time) time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	if !s.pausedAt.IsZero() {
		now = s.pausedAt
	}
	return max(now.Sub(s.startedAt)-s.pausedFor, 0)
}

func (s *GuildSession) stopIdleTimerLocked() {
	s.idleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}
