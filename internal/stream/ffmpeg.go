package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ffmpegInput describes one decode job.
type ffmpegInput struct {
	URL     string
	Headers string // CRLF-joined, see utils.BuildFFmpegHeaders
	Start   time.Duration
	Length  time.Duration
	IsLive  bool
	Filter  string // -af chain, empty for none
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// ffmpegArgs builds the argument list that decodes in.URL to raw s16le
// 48 kHz stereo on stdout.
func ffmpegArgs(in ffmpegInput) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-nostdin",
	}
	if in.Headers != "" {
		args = append(args, "-headers", in.Headers)
	}
	if !in.IsLive {
		// Input-side seek is fast and accurate enough for audio.
		if in.Start > 0 {
			args = append(args, "-ss", seconds(in.Start))
		}
		if in.Length > 0 {
			args = append(args, "-t", seconds(in.Length))
		}
	}
	args = append(args, "-i", in.URL, "-vn")
	if f := strings.TrimSpace(in.Filter); f != "" {
		args = append(args, "-af", f)
	}
	return append(args,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"pipe:1",
	)
}

// pcmProcess is a running ffmpeg whose stdout carries PCM.
type pcmProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer

	once    sync.Once
	waitErr error
}

func startFFmpeg(ctx context.Context, path string, args []string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	return &pcmProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (p *pcmProcess) Read(b []byte) (int, error) { return p.stdout.Read(b) }

// Close reaps the process. After a natural end of output it reports a
// non-zero exit together with what ffmpeg printed.
func (p *pcmProcess) Close() error {
	p.once.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(p.stderr.String())
			if msg != "" {
				err = fmt.Errorf("ffmpeg: %w: %s", err, msg)
			} else {
				err = fmt.Errorf("ffmpeg: %w", err)
			}
			p.waitErr = err
		}
	})
	return p.waitErr
}
