package sponsorblock

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"
)

const defaultBaseURL = "https://sponsor.ajay.app/api/skipSegments"

// ErrUnavailable means the SponsorBlock API timed out at its gateway.
var ErrUnavailable = errors.New("sponsorblock unavailable")

type Segment struct {
	Category   string     `json:"category"`
	Segment    [2]float64 `json:"segment"` // [start, end] seconds
	UUID       string     `json:"UUID"`
	ActionType string     `json:"actionType"`
}

func (s Segment) Start() time.Duration { return secs(s.Segment[0]) }
func (s Segment) End() time.Duration   { return secs(s.Segment[1]) }

func secs(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

type Client struct {
	http    *http.Client
	baseURL string
}

func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: 8 * time.Second},
		baseURL: defaultBaseURL,
	}
}

// GetSegments fetches segments of specified categories for the given YouTube video ID.
func (c *Client) GetSegments(ctx context.Context, videoID string, categories []string) ([]Segment, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("videoID", videoID)
	for _, cat := range categories {
		q.Add("category", cat)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// No segments for this video.
		return []Segment{}, nil
	case http.StatusGatewayTimeout:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("sponsorblock: http %d", resp.StatusCode)
	}
	var segs []Segment
	if err := json.NewDecoder(resp.Body).Decode(&segs); err != nil {
		return nil, fmt.Errorf("sponsorblock: decode: %w", err)
	}
	return segs, nil
}

// MergeSegments sorts segs by start and joins overlapping ones.
func MergeSegments(segs []Segment) []Segment {
	if len(segs) == 0 {
		return segs
	}
	segs = slices.Clone(segs)
	slices.SortFunc(segs, func(a, b Segment) int { return cmp.Compare(a.Segment[0], b.Segment[0]) })
	out := []Segment{segs[0]}
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if s.Segment[0] <= last.Segment[1] {
			last.Segment[1] = max(last.Segment[1], s.Segment[1])
		} else {
			out = append(out, s)
		}
	}
	return out
}
