package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/ppalone/ytsearch"
	"github.com/samber/lo"

	"github.com/sonroyaalmerol/guildtune/internal/spotify"
	"github.com/sonroyaalmerol/guildtune/internal/utils"
)

const (
	suggestURL = "https://suggestqueries.google.com/complete/search"
	// Discord caps choice names and values at 100 characters.
	maxChoiceLen = 100
)

type spotifySuggester interface {
	Suggest(ctx context.Context, query string, limit int) ([]spotify.Suggestion, error)
}

type video struct {
	ID    string
	Title string
}

type videoSearcher interface {
	Videos(ctx context.Context, query string) ([]video, error)
}

// videoFunc adapts a search function to videoSearcher.
type videoFunc func(ctx context.Context, query string) ([]video, error)

func (f videoFunc) Videos(ctx context.Context, query string) ([]video, error) { return f(ctx, query) }

// ytVideos finds videos by scraping YouTube search results.
func ytVideos() videoFunc {
	c := ytsearch.NewClient(nil)
	return func(ctx context.Context, query string) ([]video, error) {
		res, err := c.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		out := make([]video, 0, len(res.Results))
		for _, r := range res.Results {
			if r.VideoID != "" {
				out = append(out, video{ID: r.VideoID, Title: r.Title})
			}
		}
		return out, nil
	}
}

type Suggester struct {
	http    *http.Client
	baseURL string
	spotify spotifySuggester
	videos  videoSearcher
}

// New returns a Suggester. sp may be nil.
func New(sp *spotify.Client) *Suggester {
	s := &Suggester{
		http:    &http.Client{Timeout: 2 * time.Second},
		baseURL: suggestURL,
		videos:  ytVideos(),
	}
	if sp != nil {
		s.spotify = sp
	}
	return s
}

func (s *Suggester) youtube(ctx context.Context, query string) ([]string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest: http %d", resp.StatusCode)
	}
	// ["query", ["s1", "s2", ...], ...]
	var parsed []any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	arr, ok := parsed[1].([]any)
	if !ok {
		return nil, nil
	}
	return lo.FilterMap(arr, func(v any, _ int) (string, bool) {
		str, ok := v.(string)
		return str, ok && str != ""
	}), nil
}

// Choices merges YouTube query suggestions, direct video hits and Spotify
// track hits. Spotify takes up to half of limit and videos up to a quarter.
func (s *Suggester) Choices(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice {
	if limit <= 0 {
		limit = 10
	}
	if query == "" {
		return nil
	}

	yt, err := s.youtube(ctx, query)
	if err != nil {
		slog.Debug("youtube suggestions", "err", err)
	}

	var sp []spotify.Suggestion
	if s.spotify != nil {
		if sp, err = s.spotify.Suggest(ctx, query, limit/2); err != nil {
			slog.Debug("spotify suggestions", "err", err)
		}
	}

	var vids []video
	if s.videos != nil && limit >= 4 {
		if vids, err = s.videos.Videos(ctx, query); err != nil {
			slog.Debug("youtube video search", "err", err)
		}
		vids = lo.Slice(vids, 0, limit/4)
	}

	ytRoom := max(limit-len(sp)-len(vids), 0)
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)
	for _, v := range lo.Slice(yt, 0, ytRoom) {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  utils.Truncate("YouTube: "+v, maxChoiceLen),
			Value: utils.Truncate(v, maxChoiceLen),
		})
	}
	for _, v := range vids {
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  utils.Truncate("Video: "+v.Title, maxChoiceLen),
			Value: "https://www.youtube.com/watch?v=" + v.ID,
		})
	}
	for _, v := range sp {
		if len(out) >= limit {
			break
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{
			Name:  utils.Truncate("Spotify: "+v.Label, maxChoiceLen),
			Value: v.URI,
		})
	}
	return out
}
