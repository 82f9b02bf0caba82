// Package resolve turns user queries and links into playable tracks.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/sponsorblock"
	"github.com/sonroyaalmerol/guildtune/internal/spotify"
)

var (
	ErrEmptyQuery = errors.New("empty query")
	ErrNoResults  = errors.New("no results")
)

type spotifyLookup interface {
	Lookup(ctx context.Context, raw string, limit int) ([]spotify.Track, spotify.PlaylistMeta, error)
}

type segmentTrimmer interface {
	Adjust(ctx context.Context, videoID string, length, offset time.Duration) sponsorblock.Adjustment
}

type Options struct {
	CookiesPath string
	POToken     string
	// Spotify and SponsorBlock are optional.
	Spotify      *spotify.Client
	SponsorBlock *sponsorblock.Applier
	// Rate is the number of yt-dlp runs allowed per second; 0 is unlimited.
	Rate        float64
	Concurrency int
}

// Resolver implements player.Resolver on yt-dlp, with Spotify links mapped
// to YouTube searches. Tracks come back lazy: the media URL is located when
// playback starts, so queued tracks never hold an expired URL.
type Resolver struct {
	ext         extractor
	spotify     spotifyLookup
	trim        segmentTrimmer
	limiter     *rate.Limiter
	concurrency int
}

var _ player.Resolver = (*Resolver)(nil)

func New(opts Options) *Resolver {
	r := &Resolver{
		ext:         newYtdlpExtractor(opts.CookiesPath, opts.POToken),
		limiter:     rate.NewLimiter(rate.Inf, 1),
		concurrency: max(opts.Concurrency, 1),
	}
	if opts.Rate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(int(opts.Rate), 1))
	}
	if opts.Spotify != nil {
		r.spotify = opts.Spotify
	}
	if opts.SponsorBlock != nil {
		r.trim = opts.SponsorBlock
	}
	return r
}

func (r *Resolver) info(ctx context.Context, target string) (*videoInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.ext.Info(ctx, target)
}

func (r *Resolver) search(ctx context.Context, query string) (*videoInfo, error) {
	return r.info(ctx, "ytsearch1:"+query)
}

// Resolve returns the single best match for query: a Spotify link, a media
// page URL or free text searched on YouTube.
func (r *Resolver) Resolve(ctx context.Context, query string) (player.Track, error) {
	v, err := r.lookup(ctx, query)
	if err != nil {
		return player.Track{}, err
	}
	t := r.toTrack(ctx, *v)
	slog.Debug("resolved", "query", query, "title", t.Title)
	return t, nil
}

// ResolveChapters resolves query like Resolve and splits the result into one
// track per chapter listed in the video description. Videos without a
// chapter list, and live streams, come back as a single track.
func (r *Resolver) ResolveChapters(ctx context.Context, query string) ([]player.Track, error) {
	v, err := r.lookup(ctx, query)
	if err != nil {
		return nil, err
	}
	base := r.toTrack(ctx, *v)
	if base.Source.IsLive {
		return []player.Track{base}, nil
	}
	chapters := parseChapters(v.Description, time.Duration(v.Duration*float64(time.Second)))
	if len(chapters) == 0 {
		return []player.Track{base}, nil
	}
	return lo.Map(chapters, func(ch chapter, _ int) player.Track {
		src := base.Source
		src.Start, src.Length = ch.Start, ch.Length
		t := player.NewTrack(ch.Label+" ("+base.Title+")", src)
		t.Artist = base.Artist
		t.Thumbnail = base.Thumbnail
		return t
	}), nil
}

func (r *Resolver) lookup(ctx context.Context, query string) (*videoInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var (
		v   *videoInfo
		err error
	)
	switch {
	case spotify.IsLink(query):
		if r.spotify == nil {
			return nil, errors.New("spotify links are not enabled")
		}
		var tracks []spotify.Track
		tracks, _, err = r.spotify.Lookup(ctx, query, 1)
		if err != nil {
			return nil, fmt.Errorf("spotify: %w", err)
		}
		if len(tracks) == 0 {
			return nil, ErrNoResults
		}
		v, err = r.search(ctx, tracks[0].Query())
	case isURL(query):
		v, err = r.info(ctx, query)
	default:
		v, err = r.search(ctx, query)
	}
	if errors.Is(err, errNoInfo) {
		return nil, ErrNoResults
	}
	return v, err
}

// ResolveAll expands a playlist, album or Spotify collection into at most
// limit tracks, in order. Entries that cannot be resolved are dropped. A URL
// that turns out to be a single video yields one track.
func (r *Resolver) ResolveAll(ctx context.Context, link string, limit int) ([]player.Track, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, ErrEmptyQuery
	}
	if spotify.IsLink(link) {
		return r.resolveSpotify(ctx, link, limit)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	entries, err := r.ext.FlatPlaylist(ctx, link)
	if err != nil {
		return nil, err
	}
	entries = lo.Filter(entries, func(v videoInfo, _ int) bool { return v.ID != "" || v.WebpageURL != "" || v.URL != "" })
	if len(entries) == 0 {
		t, err := r.Resolve(ctx, link)
		if err != nil {
			return nil, err
		}
		return []player.Track{t}, nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]player.Track, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			out[i] = r.toTrack(gctx, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) resolveSpotify(ctx context.Context, link string, limit int) ([]player.Track, error) {
	if r.spotify == nil {
		return nil, errors.New("spotify links are not enabled")
	}
	tracks, meta, err := r.spotify.Lookup(ctx, link, limit)
	if err != nil {
		return nil, fmt.Errorf("spotify: %w", err)
	}

	found := make([]*player.Track, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, st := range tracks {
		g.Go(func() error {
			v, err := r.search(gctx, st.Query())
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("no youtube match for spotify track", "title", st.Name, "artist", st.Artist, "err", err)
				return nil
			}
			t := r.toTrack(gctx, *v)
			found[i] = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := lo.FilterMap(found, func(t *player.Track, _ int) (player.Track, bool) {
		if t == nil {
			return player.Track{}, false
		}
		return *t, true
	})
	slog.Info("spotify collection resolved", "title", meta.Title, "requested", len(tracks), "found", len(out))
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// Locate finds the direct media URL for a lazy source. It is used by the
// stream backend right before playback.
func (r *Resolver) Locate(ctx context.Context, src player.Source) (string, error) {
	target := src.PageURL
	if target == "" && src.VideoID != "" {
		target = watchURL(src.VideoID)
	}
	if target == "" {
		return "", errors.New("source has neither page URL nor video ID")
	}
	v, err := r.info(ctx, target)
	if err != nil {
		return "", err
	}
	u := audioURL(v)
	if u == "" {
		return "", fmt.Errorf("no playable format for %s", target)
	}
	return u, nil
}

func (r *Resolver) toTrack(ctx context.Context, v videoInfo) player.Track {
	src := player.Source{
		PageURL: v.WebpageURL,
		VideoID: v.ID,
		Length:  time.Duration(v.Duration * float64(time.Second)),
		IsLive:  v.IsLive,
	}
	if src.PageURL == "" {
		if strings.HasPrefix(v.URL, "http") {
			src.PageURL = v.URL
		} else if v.ID != "" {
			src.PageURL = watchURL(v.ID)
		}
	}
	if r.trim != nil && !src.IsLive && isYouTube(src.PageURL) {
		adj := r.trim.Adjust(ctx, v.ID, src.Length, src.Start)
		if adj.Changed {
			slog.Debug("sponsorblock adjusted", "videoID", v.ID, "change", adj.Message)
			src.Start, src.Length = adj.Offset, adj.Length
		}
	}
	t := player.NewTrack(lo.CoalesceOrEmpty(v.Title, v.ID, "Unknown title"), src)
	t.Artist = v.Uploader
	t.Thumbnail = v.Thumbnail
	return t
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
