package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrUnsupported = errors.New("unsupported spotify link")

type Track struct {
	Name     string
	Artist   string
	Duration time.Duration
}

// Query is what a YouTube search for this track should look like.
func (t Track) Query() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Name + " " + t.Artist
}

type PlaylistMeta struct {
	Title  string
	Source string
}

type Client struct {
	raw    *spotify.Client
	market string
}

func NewClientCredentials(ctx context.Context, clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return NewWithHTTP(cfg.Client(ctx), "")
}

// NewWithHTTP builds a client on an already authorised HTTP client. An empty
// baseURL uses the public Web API.
func NewWithHTTP(hc *http.Client, baseURL string) *Client {
	opts := []spotify.ClientOption{spotify.WithRetry(true)}
	if baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(baseURL))
	}
	return &Client{raw: spotify.New(hc, opts...), market: "US"}
}

func IsLink(raw string) bool {
	_, _, err := ParseID(raw)
	return err == nil
}

func ParseID(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && parts[2] != "" {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
		return "", "", fmt.Errorf("not a spotify URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Localised links look like /intl-de/track/<id>.
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", ErrUnsupported
}

// Lookup expands any supported link into its tracks, at most limit of them
// when limit > 0.
func (c *Client) Lookup(ctx context.Context, raw string, limit int) ([]Track, PlaylistMeta, error) {
	typ, id, err := ParseID(raw)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	switch typ {
	case "track":
		t, err := c.GetTrack(ctx, id)
		if err != nil {
			return nil, PlaylistMeta{}, err
		}
		return []Track{t}, PlaylistMeta{Title: t.Name, Source: raw}, nil
	case "album":
		return c.GetAlbum(ctx, id, limit)
	case "playlist":
		return c.GetPlaylist(ctx, id, limit)
	case "artist":
		tracks, err := c.GetArtistTop(ctx, id, limit)
		return tracks, PlaylistMeta{Source: raw}, err
	}
	return nil, PlaylistMeta{}, fmt.Errorf("%w: %s", ErrUnsupported, typ)
}

func fromSimple(t spotify.SimpleTrack) Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return Track{Name: t.Name, Artist: artist, Duration: t.TimeDuration()}
}

func (c *Client) GetAlbum(ctx context.Context, id spotify.ID, limit int) ([]Track, PlaylistMeta, error) {
	alb, err := c.raw.GetAlbum(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	page, err := c.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	out := make([]Track, 0, page.Total)
	add := func(items []spotify.SimpleTrack) {
		for _, t := range items {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, fromSimple(t))
		}
	}
	add(page.Tracks)
	for page.Next != "" && (limit == 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Tracks)
	}
	meta := PlaylistMeta{Title: alb.Name, Source: alb.ExternalURLs["spotify"]}
	return out, meta, nil
}

func (c *Client) GetPlaylist(ctx context.Context, id spotify.ID, limit int) ([]Track, PlaylistMeta, error) {
	pl, err := c.raw.GetPlaylist(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	page, err := c.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, PlaylistMeta{}, err
	}
	out := make([]Track, 0, page.Total)
	add := func(items []spotify.PlaylistItem) {
		for _, it := range items {
			// Episodes and local files have no Track.
			if it.Track.Track == nil {
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, fromSimple(it.Track.Track.SimpleTrack))
		}
	}
	add(page.Items)
	for page.Next != "" && (limit == 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Items)
	}
	meta := PlaylistMeta{Title: pl.Name, Source: pl.ExternalURLs["spotify"]}
	return out, meta, nil
}

func (c *Client) GetTrack(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return Track{}, err
	}
	return fromSimple(t.SimpleTrack), nil
}

func (c *Client) GetArtistTop(ctx context.Context, id spotify.ID, limit int) ([]Track, error) {
	full, err := c.raw.GetArtistsTopTracks(ctx, id, c.market)
	if err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(full))
	for _, t := range full {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, fromSimple(t.SimpleTrack))
	}
	return out, nil
}

// Suggest returns up to limit track search results as "name - artist"
// labels with their spotify: URIs.
func (c *Client) Suggest(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 5
	}
	res, err := c.raw.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	if res.Tracks == nil {
		return nil, nil
	}
	out := make([]Suggestion, 0, limit)
	for _, t := range res.Tracks.Tracks {
		if len(out) >= limit {
			break
		}
		tr := fromSimple(t.SimpleTrack)
		label := tr.Name
		if tr.Artist != "" {
			label += " - " + tr.Artist
		}
		out = append(out, Suggestion{Label: label, URI: "spotify:track:" + t.ID.String()})
	}
	return out, nil
}

type Suggestion struct {
	Label string
	URI   string
}
