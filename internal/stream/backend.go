package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/utils"
)

var (
	ErrStreamActive = errors.New("a stream is already active on this connection")
	ErrNoStream     = fmt.Errorf("no active stream: %w", player.ErrNothingPlaying)
)

// voiceLink is the part of a Discord voice connection the sender uses.
type voiceLink interface {
	Ready() bool
	Opus() chan<- []byte
	Speaking(bool) error
	Disconnect() error
}

type discordVoice struct{ vc *discordgo.VoiceConnection }

func (d discordVoice) Ready() bool {
	d.vc.RLock()
	defer d.vc.RUnlock()
	return d.vc.Ready
}

func (d discordVoice) Opus() chan<- []byte   { return d.vc.OpusSend }
func (d discordVoice) Speaking(b bool) error { return d.vc.Speaking(b) }
func (d discordVoice) Disconnect() error     { return d.vc.Disconnect() }

// Locator finds a direct media URL for sources the resolver left lazy.
type Locator func(ctx context.Context, src player.Source) (string, error)

type Options struct {
	FFmpegPath   string
	Locate       Locator
	ReadyTimeout time.Duration
	SendTimeout  time.Duration
}

// Backend plays streams into Discord voice channels. Each connection carries
// at most one stream.
type Backend struct {
	opts Options

	join       func(ctx context.Context, guildID, channelID string) (voiceLink, error)
	openPCM    func(ctx context.Context, in ffmpegInput) (io.ReadCloser, error)
	newEncoder func() (frameEncoder, error)
}

var _ player.Backend = (*Backend)(nil)

func NewBackend(s *discordgo.Session, opts Options) *Backend {
	b := newBackend(opts)
	b.join = func(ctx context.Context, guildID, channelID string) (voiceLink, error) {
		return joinVoice(ctx, s, guildID, channelID)
	}
	return b
}

func newBackend(opts Options) *Backend {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = time.Second
	}
	b := &Backend{opts: opts}
	b.openPCM = func(ctx context.Context, in ffmpegInput) (io.ReadCloser, error) {
		return startFFmpeg(ctx, b.opts.FFmpegPath, ffmpegArgs(in))
	}
	b.newEncoder = func() (frameEncoder, error) { return NewEncoder() }
	return b
}

// joinVoice runs the blocking discordgo join so ctx can abandon it. A join
// that completes after ctx is done is torn down again.
func joinVoice(ctx context.Context, s *discordgo.Session, guildID, channelID string) (voiceLink, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- result{vc, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return discordVoice{r.vc}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type voiceConn struct {
	guildID   string
	channelID string
	link      voiceLink

	mu     sync.Mutex
	active *playback
}

func (c *voiceConn) ChannelID() string { return c.channelID }

func (c *voiceConn) current() *playback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func asVoiceConn(conn player.Connection) (*voiceConn, error) {
	vc, ok := conn.(*voiceConn)
	if !ok || vc == nil {
		return nil, fmt.Errorf("unexpected connection type %T", conn)
	}
	return vc, nil
}

func (b *Backend) Connect(ctx context.Context, guildID, channelID string) (player.Connection, error) {
	link, err := b.join(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	return &voiceConn{guildID: guildID, channelID: channelID, link: link}, nil
}

func (b *Backend) Disconnect(ctx context.Context, conn player.Connection) error {
	vc, err := asVoiceConn(conn)
	if err != nil {
		return err
	}
	if err := b.StopStream(ctx, conn); err != nil {
		slog.Warn("stream did not stop before disconnect", "guildID", vc.guildID, "err", err)
	}
	return vc.link.Disconnect()
}

// StartStream returns once the stream is registered. Locating the media,
// starting ffmpeg and waiting for voice happen on the stream's goroutine;
// failures there are reported through done.
func (b *Backend) StartStream(ctx context.Context, conn player.Connection, req player.StreamRequest, done func(error)) error {
	vc, err := asVoiceConn(conn)
	if err != nil {
		return err
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.active != nil && !vc.active.done() {
		return ErrStreamActive
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := newPlayback(req.StreamID, cancel)
	p.vol.Set(req.Volume)
	vc.active = p

	go func() {
		err := b.run(pctx, vc, p, req)
		cancel()
		close(p.exited)
		done(err)
	}()
	return nil
}

func (b *Backend) run(ctx context.Context, vc *voiceConn, p *playback, req player.StreamRequest) error {
	log := p.log().With("guildID", vc.guildID)

	url := req.Source.StreamURL
	if url == "" {
		if b.opts.Locate == nil {
			return errors.New("source has no stream URL")
		}
		var err error
		if url, err = b.opts.Locate(ctx, req.Source); err != nil {
			return fmt.Errorf("locate stream: %w", err)
		}
	}

	var extra map[string]string
	if req.Source.PageURL != "" {
		extra = map[string]string{"Referer": req.Source.PageURL}
	}
	src, err := b.openPCM(ctx, ffmpegInput{
		URL:     url,
		Headers: utils.BuildFFmpegHeaders(extra),
		Start:   req.Source.Start,
		Length:  req.Source.Length,
		IsLive:  req.Source.IsLive,
		Filter:  req.Filter,
	})
	if err != nil {
		return err
	}

	enc, err := b.newEncoder()
	if err != nil {
		_ = src.Close()
		return err
	}
	defer enc.Close()

	if err := waitReady(ctx, vc.link, b.opts.ReadyTimeout); err != nil {
		_ = src.Close()
		return err
	}

	log.Debug("stream pumping")
	perr := p.pump(ctx, src, enc, vc.link, b.opts.SendTimeout)
	cerr := src.Close()
	if perr != nil {
		return perr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return cerr
}

// StopStream cancels the active stream and waits, bounded by ctx, for its
// goroutine to exit.
func (b *Backend) StopStream(ctx context.Context, conn player.Connection) error {
	vc, err := asVoiceConn(conn)
	if err != nil {
		return err
	}
	vc.mu.Lock()
	p := vc.active
	vc.active = nil
	vc.mu.Unlock()
	if p == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) PauseStream(conn player.Connection) error {
	p, err := activeOf(conn)
	if err != nil {
		return err
	}
	p.gate.Pause()
	return nil
}

func (b *Backend) ResumeStream(conn player.Connection) error {
	p, err := activeOf(conn)
	if err != nil {
		return err
	}
	p.gate.Resume()
	return nil
}

func (b *Backend) SetVolume(conn player.Connection, v float64) {
	if p, err := activeOf(conn); err == nil {
		p.vol.Set(v)
	}
}

func activeOf(conn player.Connection) (*playback, error) {
	vc, err := asVoiceConn(conn)
	if err != nil {
		return nil, err
	}
	p := vc.current()
	if p == nil || p.done() {
		return nil, ErrNoStream
	}
	return p, nil
}
