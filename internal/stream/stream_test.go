package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/guildtune/internal/player"
)

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs(ffmpegInput{
		URL:     "https://media.example/a.webm",
		Headers: "User-Agent: x\r\n",
		Start:   12500 * time.Millisecond,
		Length:  3 * time.Minute,
		Filter:  "bass=g=10",
	})

	assert.Equal(t, []string{"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5", "-nostdin"}, args[3:10])
	assertPair(t, args, "-headers", "User-Agent: x\r\n")
	assertPair(t, args, "-ss", "12.500")
	assertPair(t, args, "-t", "180.000")
	assertPair(t, args, "-i", "https://media.example/a.webm")
	assertPair(t, args, "-af", "bass=g=10")
	assert.Less(t, slices.Index(args, "-ss"), slices.Index(args, "-i"), "seek must be an input option")
	assert.Contains(t, args, "-vn")
	assert.Equal(t, []string{"-ac", "2", "-ar", "48000", "-f", "s16le", "pipe:1"}, args[len(args)-7:])
}

func TestFFmpegArgsLiveAndUnfiltered(t *testing.T) {
	args := ffmpegArgs(ffmpegInput{URL: "u", IsLive: true, Start: time.Minute, Length: time.Hour})
	assert.NotContains(t, args, "-ss")
	assert.NotContains(t, args, "-t")
	assert.NotContains(t, args, "-af")
	assert.NotContains(t, args, "-headers")
}

func assertPair(t *testing.T, args []string, flag, val string) {
	t.Helper()
	i := slices.Index(args, flag)
	require.GreaterOrEqual(t, i, 0, "missing %s", flag)
	require.Less(t, i+1, len(args))
	assert.Equal(t, val, args[i+1], flag)
}

func pcm(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func TestScalePCM(t *testing.T) {
	b := pcm(1000, -1000, 20000, -20000, 0)
	scalePCM(b, 0.5)
	assert.Equal(t, []int16{500, -500, 10000, -10000, 0}, samples(b))

	b = pcm(30000, -30000)
	scalePCM(b, 2)
	assert.Equal(t, []int16{32767, -32768}, samples(b))

	b = pcm(123)
	scalePCM(b, 1)
	assert.Equal(t, []int16{123}, samples(b))
}

func TestVolumeClampsNegative(t *testing.T) {
	var v volume
	v.Set(0.7)
	assert.InDelta(t, 0.7, v.Get(), 1e-12)
	v.Set(-1)
	assert.Zero(t, v.Get())
}

func TestGate(t *testing.T) {
	var g gate
	ctx := context.Background()
	require.NoError(t, g.Wait(ctx))

	g.Pause()
	g.Pause()
	assert.True(t, g.Paused())

	released := make(chan error, 1)
	go func() { released <- g.Wait(ctx) }()
	select {
	case <-released:
		t.Fatal("wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}
	g.Resume()
	g.Resume()
	require.NoError(t, <-released)

	g.Pause()
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, g.Wait(cctx), context.Canceled)
}

// fakeLink collects packets on a buffered channel.
type fakeLink struct {
	opus         chan []byte
	ready        bool
	mu           sync.Mutex
	disconnected bool
}

func newFakeLink() *fakeLink { return &fakeLink{opus: make(chan []byte, 1024), ready: true} }

func (l *fakeLink) Ready() bool         { return l.ready }
func (l *fakeLink) Opus() chan<- []byte { return l.opus }
func (l *fakeLink) Speaking(bool) error { return nil }
func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = true
	return nil
}

// passthrough "encodes" a frame as itself.
type passthrough struct{}

func (passthrough) EncodeFrame(pcm []byte, onPacket OpusPacketHandler) error {
	return onPacket(append([]byte(nil), pcm...))
}
func (passthrough) Close() {}

// blockingPCM never produces data and ends when ctx is cancelled.
type blockingPCM struct {
	ctx context.Context
}

func (b blockingPCM) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, io.EOF
}
func (b blockingPCM) Close() error { return nil }

type testBackend struct {
	*Backend
	link   *fakeLink
	mu     sync.Mutex
	inputs []ffmpegInput
}

func newTestBackend(t *testing.T, open func(ctx context.Context, in ffmpegInput) (io.ReadCloser, error)) *testBackend {
	t.Helper()
	tb := &testBackend{link: newFakeLink()}
	tb.Backend = newBackend(Options{ReadyTimeout: 200 * time.Millisecond, SendTimeout: time.Second})
	tb.join = func(ctx context.Context, guildID, channelID string) (voiceLink, error) { return tb.link, nil }
	tb.openPCM = func(ctx context.Context, in ffmpegInput) (io.ReadCloser, error) {
		tb.mu.Lock()
		tb.inputs = append(tb.inputs, in)
		tb.mu.Unlock()
		return open(ctx, in)
	}
	tb.newEncoder = func() (frameEncoder, error) { return passthrough{}, nil }
	return tb
}

func framesOf(n int, sample int16) io.ReadCloser {
	buf := make([]int16, n*frameSamples*channels)
	for i := range buf {
		buf[i] = sample
	}
	return io.NopCloser(bytes.NewReader(pcm(buf...)))
}

type doneRecorder struct {
	mu    sync.Mutex
	calls []error
	ch    chan struct{}
}

func newDoneRecorder() *doneRecorder { return &doneRecorder{ch: make(chan struct{}, 8)} }

func (d *doneRecorder) fn(err error) {
	d.mu.Lock()
	d.calls = append(d.calls, err)
	d.mu.Unlock()
	d.ch <- struct{}{}
}

func (d *doneRecorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-d.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("done was not called")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func (d *doneRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func connect(t *testing.T, b *testBackend) player.Connection {
	t.Helper()
	conn, err := b.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	assert.Equal(t, "vc1", conn.ChannelID())
	return conn
}

func request(url string, vol float64) player.StreamRequest {
	return player.StreamRequest{
		GuildID:  "g1",
		StreamID: "s1",
		Source:   player.Source{StreamURL: url},
		Volume:   vol,
	}
}

func TestStreamPlaysToEndAndCallsDoneOnce(t *testing.T) {
	b := newTestBackend(t, func(context.Context, ffmpegInput) (io.ReadCloser, error) {
		return framesOf(3, 1000), nil
	})
	conn := connect(t, b)
	d := newDoneRecorder()

	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 0.5), d.fn))
	require.NoError(t, d.wait(t))

	require.Len(t, b.link.opus, 3)
	pkt := <-b.link.opus
	assert.Len(t, pkt, frameBytes)
	assert.Equal(t, int16(500), samples(pkt)[0])

	// Stopping a finished stream is a no-op and does not call done again.
	require.NoError(t, b.StopStream(context.Background(), conn))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, d.count())
}

func TestStopStreamCancelsAndReportsOnce(t *testing.T) {
	b := newTestBackend(t, func(ctx context.Context, _ ffmpegInput) (io.ReadCloser, error) {
		return blockingPCM{ctx: ctx}, nil
	})
	conn := connect(t, b)
	d := newDoneRecorder()
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 1), d.fn))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.StopStream(ctx, conn))
	assert.ErrorIs(t, d.wait(t), context.Canceled)
	assert.Equal(t, 1, d.count())

	assert.ErrorIs(t, b.PauseStream(conn), ErrNoStream)
	assert.ErrorIs(t, b.ResumeStream(conn), player.ErrNothingPlaying)
}

func TestStartStreamRejectsSecondStream(t *testing.T) {
	b := newTestBackend(t, func(ctx context.Context, _ ffmpegInput) (io.ReadCloser, error) {
		return blockingPCM{ctx: ctx}, nil
	})
	conn := connect(t, b)
	d := newDoneRecorder()
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 1), d.fn))
	assert.ErrorIs(t, b.StartStream(context.Background(), conn, request("https://x/b", 1), d.fn), ErrStreamActive)

	require.NoError(t, b.StopStream(context.Background(), conn))
	d.wait(t)
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/b", 1), d.fn))
	require.NoError(t, b.StopStream(context.Background(), conn))
	d.wait(t)
}

func TestPauseHoldsPackets(t *testing.T) {
	pr, pw := io.Pipe()
	b := newTestBackend(t, func(ctx context.Context, _ ffmpegInput) (io.ReadCloser, error) {
		go func() {
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	})
	conn := connect(t, b)
	d := newDoneRecorder()
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 1), d.fn))

	frame := pcm(make([]int16, frameSamples*channels)...)
	_, err := pw.Write(frame)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(b.link.opus) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.PauseStream(conn))
	written := make(chan struct{})
	go func() {
		_, _ = pw.Write(frame)
		close(written)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, b.link.opus, 1, "no packets while paused")

	require.NoError(t, b.ResumeStream(conn))
	<-written
	require.Eventually(t, func() bool { return len(b.link.opus) == 2 }, time.Second, 5*time.Millisecond)

	b.SetVolume(conn, 0.25)
	require.NoError(t, b.StopStream(context.Background(), conn))
	assert.ErrorIs(t, d.wait(t), context.Canceled)
}

func TestStreamLocatesLazySource(t *testing.T) {
	b := newTestBackend(t, func(context.Context, ffmpegInput) (io.ReadCloser, error) {
		return framesOf(1, 0), nil
	})
	b.opts.Locate = func(ctx context.Context, src player.Source) (string, error) {
		return "https://media/" + src.VideoID, nil
	}
	conn := connect(t, b)
	d := newDoneRecorder()
	req := request("", 1)
	req.Source.VideoID = "abc"
	req.Filter = "aecho=0.8:0.9:1000:0.3"
	require.NoError(t, b.StartStream(context.Background(), conn, req, d.fn))
	require.NoError(t, d.wait(t))

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.inputs, 1)
	assert.Equal(t, "https://media/abc", b.inputs[0].URL)
	assert.Equal(t, "aecho=0.8:0.9:1000:0.3", b.inputs[0].Filter)
	assert.Contains(t, b.inputs[0].Headers, "User-Agent: ")
}

func TestStreamSetupFailureGoesThroughDone(t *testing.T) {
	b := newTestBackend(t, func(context.Context, ffmpegInput) (io.ReadCloser, error) {
		return nil, errors.New("ffmpeg start: not found")
	})
	conn := connect(t, b)
	d := newDoneRecorder()
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 1), d.fn))
	assert.ErrorContains(t, d.wait(t), "not found")

	b.opts.Locate = nil
	require.NoError(t, b.StartStream(context.Background(), conn, request("", 1), d.fn))
	assert.ErrorContains(t, d.wait(t), "no stream URL")
}

func TestStreamWaitsForVoiceReady(t *testing.T) {
	b := newTestBackend(t, func(context.Context, ffmpegInput) (io.ReadCloser, error) {
		return framesOf(1, 0), nil
	})
	b.link.ready = false
	conn := connect(t, b)
	d := newDoneRecorder()
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 1), d.fn))
	assert.ErrorIs(t, d.wait(t), errVoiceNotReady)
}

func TestDisconnectStopsStream(t *testing.T) {
	b := newTestBackend(t, func(ctx context.Context, _ ffmpegInput) (io.ReadCloser, error) {
		return blockingPCM{ctx: ctx}, nil
	})
	conn := connect(t, b)
	d := newDoneRecorder()
	require.NoError(t, b.StartStream(context.Background(), conn, request("https://x/a", 1), d.fn))

	require.NoError(t, b.Disconnect(context.Background(), conn))
	assert.ErrorIs(t, d.wait(t), context.Canceled)
	assert.True(t, b.link.disconnected)
}
