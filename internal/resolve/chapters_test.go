package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mixDescription = `Full album stream.
Out now everywhere 2:30 on the clock

Tracklist:
0:00 Intro
1:30 - Second Song
Third Song 4:05
10:00:00 bogus 1:00
`

func TestParseChapters(t *testing.T) {
	got := parseChapters(mixDescription, 6*time.Minute)
	require.Len(t, got, 3)
	assert.Equal(t, chapter{Label: "Intro", Start: 0, Length: 90 * time.Second}, got[0])
	assert.Equal(t, chapter{Label: "Second Song", Start: 90 * time.Second, Length: 155 * time.Second}, got[1])
	assert.Equal(t, chapter{Label: "Third Song", Start: 245 * time.Second, Length: 115 * time.Second}, got[2])
}

func TestParseChaptersNeedsListFromZero(t *testing.T) {
	assert.Nil(t, parseChapters("1:00 a\n2:00 b", 5*time.Minute))
	assert.Nil(t, parseChapters("0:00 only one", 5*time.Minute))
	assert.Nil(t, parseChapters("", time.Minute))
}

func TestParseChaptersUnlabelled(t *testing.T) {
	got := parseChapters("0:00\n0:45 -", time.Minute)
	require.Len(t, got, 2)
	assert.Equal(t, "Chapter 1", got[0].Label)
	assert.Equal(t, "Chapter 2", got[1].Label)
	assert.Equal(t, 15*time.Second, got[1].Length)
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, 65*time.Second, parseTimestamp("1:05"))
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, parseTimestamp("1:02:03"))
}

func TestResolveChapters(t *testing.T) {
	v := video("mix", "Album", 360)
	v.Description = mixDescription
	ext := &fakeExtractor{infos: map[string]*videoInfo{"ytsearch1:album": v}}
	r := newTestResolver(ext)

	tracks, err := r.ResolveChapters(context.Background(), "album")
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "Second Song (Album)", tracks[1].Title)
	assert.Equal(t, 90*time.Second, tracks[1].Source.Start)
	assert.Equal(t, 155*time.Second, tracks[1].Duration)
	assert.Equal(t, "https://www.youtube.com/watch?v=mix", tracks[1].Source.PageURL)
	assert.NotEqual(t, tracks[0].ID, tracks[1].ID)
}

func TestResolveChaptersWithoutListIsOneTrack(t *testing.T) {
	ext := &fakeExtractor{infos: map[string]*videoInfo{"ytsearch1:song": video("s", "Song", 200)}}
	tracks, err := newTestResolver(ext).ResolveChapters(context.Background(), "song")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "Song", tracks[0].Title)

	_, err = newTestResolver(ext).ResolveChapters(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoResults)
}
