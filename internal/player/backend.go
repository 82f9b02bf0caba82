package player

import "context"

// Connection is a live voice connection handed out by a Backend.
type Connection interface {
	ChannelID() string
}

// StreamRequest describes one stream to start on a connection.
type StreamRequest struct {
	GuildID  string
	StreamID string
	Source   Source
	Filter   string
	Volume   float64
}

// Backend is the audio output side: voice connections and the streams
// played over them.
//
// StartStream must return quickly; ctx only bounds setup, never the stream's
// lifetime. When StartStream returns nil, done is called exactly once when
// the stream ends for any reason, including StopStream. done may block, so
// the backend must consider the stream terminated before calling it.
//
// PauseStream and ResumeStream return an error wrapping ErrNothingPlaying
// when the connection's stream has already ended.
type Backend interface {
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
	Disconnect(ctx context.Context, conn Connection) error
	StartStream(ctx context.Context, conn Connection, req StreamRequest, done func(error)) error
	StopStream(ctx context.Context, conn Connection) error
	PauseStream(conn Connection) error
	ResumeStream(conn Connection) error
	SetVolume(conn Connection, volume float64)
}

// Resolver turns user input into tracks.
type Resolver interface {
	Resolve(ctx context.Context, query string) (Track, error)
	ResolveAll(ctx context.Context, url string, limit int) ([]Track, error)
}

// Authorizer decides whether a caller may run restricted commands.
type Authorizer interface {
	CanManageQueue(guildID string, caller Caller) bool
}

// Notifier renders asynchronous playback events back to the guild.
type Notifier interface {
	NowPlaying(guildID, textChannelID string, t Track)
	PlaybackError(guildID, textChannelID string, t Track, err error)
	QueueFinished(guildID, textChannelID string)
}

// SettingsStore supplies per-guild defaults.
type SettingsStore interface {
	GuildSettings(ctx context.Context, guildID string) (Settings, error)
}

type allowAll struct{}

func (allowAll) CanManageQueue(string, Caller) bool { return true }

type nopNotifier struct{}

func (nopNotifier) NowPlaying(string, string, Track)           {}
func (nopNotifier) PlaybackError(string, string, Track, error) {}
func (nopNotifier) QueueFinished(string, string)               {}

// outbox collects notifications raised under a session lock so they can be
// delivered after it is released.
type outbox []func()

func (o *outbox) add(f func()) { *o = append(*o, f) }

func (o *outbox) flush() {
	for _, f := range *o {
		f()
	}
	*o = nil
}
