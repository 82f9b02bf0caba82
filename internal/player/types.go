package player

import (
	"time"

	"github.com/google/uuid"
)

// Source is the resolver's handle for a playable stream. The controller never
// looks inside it; it is handed to the Backend unchanged.
type Source struct {
	// StreamURL is a direct media URL. Empty means the backend must locate
	// the stream from PageURL when playback starts.
	StreamURL string
	PageURL   string
	VideoID   string
	Start     time.Duration
	Length    time.Duration
	IsLive    bool
}

// Track is one playable item. Values are immutable once built by NewTrack;
// the queue and session copy them around freely.
type Track struct {
	ID          string
	Title       string
	Artist      string
	Thumbnail   string
	Duration    time.Duration
	RequestedBy string
	Source      Source
}

func NewTrack(title string, src Source) Track {
	return Track{
		ID:       uuid.NewString(),
		Title:    title,
		Duration: src.Length,
		Source:   src,
	}
}

// WithRequester returns a copy of t attributed to userID.
func (t Track) WithRequester(userID string) Track {
	t.RequestedBy = userID
	return t
}

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusPlaying
	StatusPaused
	// StatusStopped is held only while a forced stop waits on the backend.
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	}
	return "unknown"
}

// HasCurrent reports whether a session in this status carries a current track.
func (s Status) HasCurrent() bool {
	return s == StatusConnecting || s == StatusPlaying || s == StatusPaused
}

func (s Status) streaming() bool {
	return s == StatusPlaying || s == StatusPaused
}

// Caller identifies who issued a command and from where.
type Caller struct {
	UserID         string
	VoiceChannelID string
	TextChannelID  string
	RoleIDs        []string
	Permissions    int64
}

// Settings are the per-guild defaults applied when a session connects.
type Settings struct {
	DefaultVolume int
	IdleTimeout   time.Duration
	PlaylistLimit int
	AnnounceNext  bool
}

var DefaultSettings = Settings{
	DefaultVolume: 100,
	PlaylistLimit: 50,
	AnnounceNext:  true,
}
