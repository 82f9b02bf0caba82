package sponsorblock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	category = "music_offtopic"
	// Segments this close to either end count as intro or outro.
	edgeSlack = 2 * time.Second
)

// Adjustment is the playable window after trimming.
type Adjustment struct {
	Offset  time.Duration
	Length  time.Duration
	Message string // e.g. "skipped intro, trimmed outro"
	Changed bool
}

type Applier struct {
	client *Client
	cache  *Cache[[]Segment]

	mu            sync.Mutex
	disabledUntil time.Time
	disableFor    time.Duration
	now           func() time.Time
}

// NewApplier returns an Applier that stops querying for disableFor after
// the API reports it is unavailable.
func NewApplier(disableFor time.Duration) *Applier {
	return &Applier{
		client:     NewClient(),
		cache:      NewCache[[]Segment](time.Hour),
		disableFor: disableFor,
		now:        time.Now,
	}
}

func (a *Applier) disabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Before(a.disabledUntil)
}

func (a *Applier) backOff() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disabledUntil = a.now().Add(a.disableFor)
}

// Adjust trims off-topic intro and outro segments from a video of the given
// length starting at offset. Any lookup failure leaves the window unchanged.
func (a *Applier) Adjust(ctx context.Context, youtubeID string, length, offset time.Duration) Adjustment {
	unchanged := Adjustment{Offset: offset, Length: length}
	if youtubeID == "" || length <= 0 || a.disabled() {
		return unchanged
	}

	key := category + ":" + youtubeID
	segs, ok := a.cache.Get(key)
	if !ok {
		var err error
		segs, err = a.client.GetSegments(ctx, youtubeID, []string{category})
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				slog.Warn("sponsorblock unavailable, pausing lookups", "for", a.disableFor)
				a.backOff()
			} else {
				slog.Debug("sponsorblock lookup failed", "videoID", youtubeID, "err", err)
			}
			return unchanged
		}
		a.cache.Set(key, segs)
	}
	if len(segs) == 0 {
		return unchanged
	}
	segs = MergeSegments(segs)

	adj := unchanged
	var parts []string

	last := segs[len(segs)-1]
	if last.End() >= length-edgeSlack && last.Start() < length && (len(segs) > 1 || last.Start() > edgeSlack) {
		adj.Length = last.Start()
		adj.Changed = true
		parts = append(parts, "trimmed outro")
	}

	first := segs[0]
	if first.Start() <= edgeSlack {
		skip := first.End()
		if skip > 0 && skip < adj.Length {
			adj.Offset += skip
			adj.Length -= skip
			adj.Changed = true
			parts = append(parts, "skipped intro")
		}
	}

	adj.Message = strings.Join(parts, ", ")
	return adj
}
