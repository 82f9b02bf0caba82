package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var (
	errVoiceNotReady = errors.New("voice connection not ready")
	errSendTimeout   = errors.New("opus send timeout")
)

// playback is one stream on a voice connection. Its goroutine closes
// exited before it reports completion.
type playback struct {
	id     string
	cancel context.CancelFunc
	exited chan struct{}
	gate   gate
	vol    volume
}

func newPlayback(id string, cancel context.CancelFunc) *playback {
	return &playback{id: id, cancel: cancel, exited: make(chan struct{})}
}

func (p *playback) done() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// waitReady polls the link until Discord reports it ready.
func waitReady(ctx context.Context, link voiceLink, timeout time.Duration) error {
	if link.Ready() {
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errVoiceNotReady
		case <-tick.C:
			if link.Ready() {
				return nil
			}
		}
	}
}

// pump reads PCM frames from src, applies the live volume, encodes them and
// hands packets to the link until src ends or ctx is cancelled.
func (p *playback) pump(ctx context.Context, src io.Reader, enc frameEncoder, link voiceLink, sendTimeout time.Duration) error {
	_ = link.Speaking(true)
	defer func() { _ = link.Speaking(false) }()

	r := bufio.NewReaderSize(src, 64*1024)
	frame := make([]byte, frameBytes)
	send := func(pkt []byte) error {
		t := time.NewTimer(sendTimeout)
		defer t.Stop()
		select {
		case link.Opus() <- pkt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return errSendTimeout
		}
	}

	for {
		if _, err := io.ReadFull(r, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read pcm: %w", err)
		}
		// A frame read before a pause is held until resume.
		if err := p.gate.Wait(ctx); err != nil {
			return err
		}
		scalePCM(frame, p.vol.Get())
		if err := enc.EncodeFrame(frame, send); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (p *playback) log() *slog.Logger {
	return slog.With("streamID", p.id)
}
