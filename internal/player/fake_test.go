package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sonroyaalmerol/guildtune/internal/observe"
)

type fakeConn struct{ guild, channel string }

func (c *fakeConn) ChannelID() string { return c.channel }

type fakeStream struct {
	req     StreamRequest
	done    func(error)
	stopped bool
	ended   bool
}

// fakeBackend records calls and lets tests finish streams by hand. Forced
// stops deliver their completion from another goroutine, like the real
// voice backend does.
type fakeBackend struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	connectErr  error
	holdConnect map[string]chan struct{} // Connect waits on it, keyed by guild
	held        int
	startErr    map[string]error // keyed by Source.PageURL
	stopHang    bool
	streams     []*fakeStream
	active      map[string]*fakeStream // keyed by guild
	paused      bool
	volume      float64

	pending sync.WaitGroup
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		holdConnect: map[string]chan struct{}{},
		startErr:    map[string]error{},
		active:      map[string]*fakeStream{},
	}
}

func (b *fakeBackend) Connect(ctx context.Context, guildID, channelID string) (Connection, error) {
	b.mu.Lock()
	hold := b.holdConnect[guildID]
	if hold != nil {
		b.held++
	}
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	return &fakeConn{guild: guildID, channel: channelID}, nil
}

func (b *fakeBackend) Disconnect(ctx context.Context, conn Connection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	return nil
}

func (b *fakeBackend) StartStream(ctx context.Context, conn Connection, req StreamRequest, done func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.startErr[req.Source.PageURL]; err != nil {
		return err
	}
	if b.active[req.GuildID] != nil {
		return errors.New("stream already active")
	}
	st := &fakeStream{req: req, done: done}
	b.streams = append(b.streams, st)
	b.active[req.GuildID] = st
	b.paused = false
	b.volume = req.Volume
	return nil
}

func (b *fakeBackend) StopStream(ctx context.Context, conn Connection) error {
	b.mu.Lock()
	g := conn.(*fakeConn).guild
	st := b.active[g]
	delete(b.active, g)
	hang := b.stopHang
	if st != nil && !st.ended {
		st.stopped = true
		st.ended = true
		b.pending.Add(1)
		go func() {
			defer b.pending.Done()
			st.done(context.Canceled)
		}()
	}
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (b *fakeBackend) PauseStream(conn Connection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active[conn.(*fakeConn).guild] == nil {
		return fmt.Errorf("no active stream: %w", ErrNothingPlaying)
	}
	b.paused = true
	return nil
}

func (b *fakeBackend) ResumeStream(conn Connection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active[conn.(*fakeConn).guild] == nil {
		return fmt.Errorf("no active stream: %w", ErrNothingPlaying)
	}
	b.paused = false
	return nil
}

func (b *fakeBackend) SetVolume(conn Connection, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = v
}

// finish ends the active stream of the default test guild naturally and
// delivers its completion on the calling goroutine.
func (b *fakeBackend) finish(err error) {
	b.mu.Lock()
	st := b.active[guild]
	delete(b.active, guild)
	if st != nil {
		st.ended = true
	}
	b.mu.Unlock()
	if st != nil {
		st.done(err)
	}
}

// detachActive ends the active stream without calling done, returning the
// callback so the test can deliver it whenever it likes.
func (b *fakeBackend) detachActive() func(error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.active[guild]
	delete(b.active, guild)
	st.ended = true
	return st.done
}

func (b *fakeBackend) heldConnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held
}

func (b *fakeBackend) started() []StreamRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StreamRequest, 0, len(b.streams))
	for _, st := range b.streams {
		out = append(out, st.req)
	}
	return out
}

type fakeResolver struct {
	mu     sync.Mutex
	tracks map[string]Track
	lists  map[string][]Track
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{tracks: map[string]Track{}, lists: map[string][]Track{}}
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[query]
	if !ok {
		return Track{}, fmt.Errorf("no results for %q", query)
	}
	return t, nil
}

func (r *fakeResolver) ResolveAll(ctx context.Context, url string, limit int) ([]Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[url]
	if !ok {
		return nil, fmt.Errorf("no playlist at %q", url)
	}
	if limit > 0 && len(l) > limit {
		l = l[:limit]
	}
	return append([]Track(nil), l...), nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []string
	errors     []string
	finished   int
}

func (n *fakeNotifier) NowPlaying(guildID, text string, t Track) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, t.Title)
}

func (n *fakeNotifier) PlaybackError(guildID, text string, t Track, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, t.Title)
}

func (n *fakeNotifier) QueueFinished(guildID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished++
}

type denyAll struct{}

func (denyAll) CanManageQueue(string, Caller) bool { return false }

type fakeSettings struct{ s Settings }

func (f fakeSettings) GuildSettings(ctx context.Context, guildID string) (Settings, error) {
	return f.s, nil
}

type harness struct {
	ctrl     *Controller
	backend  *fakeBackend
	resolver *fakeResolver
	notifier *fakeNotifier
	reader   *sdkmetric.ManualReader
}

func newHarness(t *testing.T, mutate ...func(*ControllerConfig)) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	h := &harness{
		backend:  newFakeBackend(),
		resolver: newFakeResolver(),
		notifier: &fakeNotifier{},
		reader:   reader,
	}
	cfg := ControllerConfig{
		Backend:     h.backend,
		Resolver:    h.resolver,
		Notifier:    h.notifier,
		Metrics:     m,
		StopTimeout: 100 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	h.ctrl = NewController(NewRegistry(m), cfg)
	t.Cleanup(h.backend.pending.Wait)
	return h
}

var listener = Caller{UserID: "u1", VoiceChannelID: "vc1", TextChannelID: "tc1"}

func track(title string) Track {
	return NewTrack(title, Source{PageURL: "https://example.com/" + title})
}

// addTracks registers titles with the resolver and returns them in order.
func (h *harness) addTracks(titles ...string) []Track {
	h.resolver.mu.Lock()
	defer h.resolver.mu.Unlock()
	out := make([]Track, 0, len(titles))
	for _, title := range titles {
		t := track(title)
		h.resolver.tracks[title] = t
		out = append(out, t)
	}
	return out
}

func (h *harness) play(t *testing.T, guildID string, titles ...string) {
	t.Helper()
	h.addTracks(titles...)
	for _, title := range titles {
		_, err := h.ctrl.Play(context.Background(), guildID, listener, title)
		require.NoError(t, err)
	}
}

func titles(ts []Track) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Title)
	}
	return out
}

func currentTitle(s Snapshot) string {
	if s.Current == nil {
		return ""
	}
	return s.Current.Title
}

// requireConsistent checks the cross-entity invariants of a session.
func requireConsistent(t *testing.T, s Snapshot) {
	t.Helper()
	require.Equal(t, s.Status.HasCurrent(), s.Current != nil, "current must be set iff status is %v", s.Status)
	if s.Current != nil {
		for _, q := range s.Queue {
			require.NotEqual(t, s.Current.ID, q.ID, "current track %q is also queued", s.Current.Title)
		}
	}
}
