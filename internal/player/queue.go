package player

import (
	"iter"
	"slices"

	"github.com/sonroyaalmerol/guildtune/internal/utils"
)

// Queue holds pending tracks in play order. It is not safe for concurrent use;
// a GuildSession owns its queue and guards it with the session lock.
type Queue struct {
	items []Track
}

func (q *Queue) Enqueue(tracks ...Track) {
	q.items = append(q.items, tracks...)
}

func (q *Queue) DequeueFront() (Track, error) {
	if len(q.items) == 0 {
		return Track{}, ErrEmptyQueue
	}
	t := q.items[0]
	q.items[0] = Track{}
	q.items = q.items[1:]
	return t, nil
}

// pushFront puts back a track that was dequeued but could not be started.
func (q *Queue) pushFront(t Track) {
	q.items = slices.Insert(q.items, 0, t)
}

// Clear drops every pending track and returns how many there were.
func (q *Queue) Clear() int {
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) Shuffle() {
	utils.ShuffleSlice(q.items)
}

func (q *Queue) Len() int { return len(q.items) }

// remove drops every queued track whose ID matches one of tracks.
func (q *Queue) remove(tracks []Track) {
	ids := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		ids[t.ID] = struct{}{}
	}
	q.items = slices.DeleteFunc(q.items, func(t Track) bool {
		_, ok := ids[t.ID]
		return ok
	})
}

// position returns the 1-based position of the track with id, or 0.
func (q *Queue) position(id string) int {
	return slices.IndexFunc(q.items, func(t Track) bool { return t.ID == id }) + 1
}

// PeekAll returns the pending tracks in order. The sequence iterates over a
// snapshot, so it can be ranged over repeatedly and after the session lock is
// released.
func (q *Queue) PeekAll() iter.Seq[Track] {
	return slices.Values(slices.Clone(q.items))
}
