package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

var errNoInfo = errors.New("yt-dlp returned no info")

// videoInfo is the subset of yt-dlp's JSON the bot uses.
type videoInfo struct {
	ID          string
	Title       string
	Uploader    string
	Duration    float64 // seconds
	IsLive      bool
	WebpageURL  string
	URL         string
	Thumbnail   string
	Description string
	Formats     []string // format URLs, requested formats first
}

// extractor runs yt-dlp. Info handles single videos and ytsearch queries;
// FlatPlaylist lists a playlist's entries without resolving them.
type extractor interface {
	Info(ctx context.Context, target string) (*videoInfo, error)
	FlatPlaylist(ctx context.Context, url string) ([]videoInfo, error)
}

type ytdlpExtractor struct {
	cookiesPath string
	poToken     string
	installOnce sync.Once
}

func newYtdlpExtractor(cookiesPath, poToken string) *ytdlpExtractor {
	return &ytdlpExtractor{cookiesPath: cookiesPath, poToken: poToken}
}

func (x *ytdlpExtractor) command(ctx context.Context, target string) *ytdlp.Command {
	x.installOnce.Do(func() {
		// A missing binary surfaces as a run error below.
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			slog.Warn("yt-dlp install", "err", err)
		}
	})
	cmd := ytdlp.New().NoCheckCertificates()
	if x.cookiesPath != "" {
		cmd = cmd.Cookies(x.cookiesPath)
	}
	if isYouTube(target) {
		args := "youtube:player-client=default,mweb"
		if x.poToken != "" {
			args += ";po_token=" + x.poToken
		}
		cmd = cmd.ExtractorArgs(args)
	}
	return cmd
}

func (x *ytdlpExtractor) Info(ctx context.Context, target string) (*videoInfo, error) {
	cmd := x.command(ctx, target).
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoPlaylist().
		DumpJSON()

	res, err := cmd.Run(ctx, target)
	if err != nil {
		return nil, runError(target, err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, errNoInfo
	}
	ext := infos[0]
	// Searches come back as a container with the hit as its first entry.
	if len(ext.Entries) > 0 {
		for _, e := range ext.Entries {
			if e != nil {
				v := fromExtracted(e)
				return &v, nil
			}
		}
		return nil, errNoInfo
	}
	v := fromExtracted(ext)
	return &v, nil
}

func (x *ytdlpExtractor) FlatPlaylist(ctx context.Context, url string) ([]videoInfo, error) {
	cmd := x.command(ctx, url).FlatPlaylist().DumpSingleJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, runError(url, err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp playlist json for %s: %w", url, err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, errNoInfo
	}
	pl := infos[0]
	out := make([]videoInfo, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e == nil {
			continue
		}
		out = append(out, fromExtracted(e))
	}
	slog.Debug("playlist fetched", "url", url, "entries", len(out))
	return out, nil
}

func runError(target string, err error) error {
	if strings.Contains(err.Error(), "Sign in to confirm") {
		return fmt.Errorf("yt-dlp %s (PO token may be required): %w", target, err)
	}
	return fmt.Errorf("yt-dlp %s: %w", target, err)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func fromExtracted(e *ytdlp.ExtractedInfo) videoInfo {
	v := videoInfo{
		ID:          e.ID,
		Title:       deref(e.Title),
		Uploader:    deref(e.Uploader),
		Duration:    deref(e.Duration),
		IsLive:      deref(e.IsLive),
		WebpageURL:  deref(e.WebpageURL),
		URL:         deref(e.URL),
		Description: deref(e.Description),
	}
	for _, t := range e.Thumbnails {
		if t != nil && t.URL != "" {
			v.Thumbnail = t.URL
		}
	}
	for _, f := range e.RequestedFormats {
		if f != nil && f.URL != "" {
			v.Formats = append(v.Formats, f.URL)
		}
	}
	for _, f := range e.Formats {
		if f != nil && f.URL != "" {
			v.Formats = append(v.Formats, f.URL)
		}
	}
	return v
}

// audioURL picks the best playable URL: requested formats, then the
// top-level url, then any format.
func audioURL(v *videoInfo) string {
	if len(v.Formats) > 0 && strings.HasPrefix(v.Formats[0], "http") {
		return v.Formats[0]
	}
	if strings.HasPrefix(v.URL, "http") {
		return v.URL
	}
	for _, f := range v.Formats {
		if strings.HasPrefix(f, "http") {
			return f
		}
	}
	return ""
}

func isYouTube(u string) bool {
	return strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be") || strings.HasPrefix(u, "ytsearch")
}
