package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	cases := []struct {
		in, typ, id string
		ok          bool
	}{
		{"spotify:track:abc", "track", "abc", true},
		{"https://open.spotify.com/album/xyz?si=1", "album", "xyz", true},
		{"https://open.spotify.com/intl-de/playlist/pl1", "playlist", "pl1", true},
		{"https://open.spotify.com/artist/a1", "artist", "a1", true},
		{"https://open.spotify.com/show/s1", "", "", false},
		{"https://www.youtube.com/watch?v=x", "", "", false},
		{"spotify:track", "", "", false},
		{"never gonna give you up", "", "", false},
	}
	for _, c := range cases {
		typ, id, err := ParseID(c.in)
		if !c.ok {
			assert.Error(t, err, c.in)
			assert.False(t, IsLink(c.in))
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.typ, typ)
		assert.Equal(t, c.id, id.String())
	}
}

func TestTrackQuery(t *testing.T) {
	assert.Equal(t, "Song Band", Track{Name: "Song", Artist: "Band"}.Query())
	assert.Equal(t, "Song", Track{Name: "Song"}.Query())
}

func fakeAPI(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	artist := []map[string]any{{"name": "Band", "id": "b1"}}
	mux.HandleFunc("/tracks/t1", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"id": "t1", "name": "Song", "artists": artist, "duration_ms": 185000})
	})
	mux.HandleFunc("/albums/al1", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{
			"id": "al1", "name": "Record",
			"external_urls": map[string]string{"spotify": "https://open.spotify.com/album/al1"},
		})
	})
	mux.HandleFunc("/albums/al1/tracks", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{
			"total": 3,
			"items": []map[string]any{
				{"id": "1", "name": "One", "artists": artist, "duration_ms": 1000},
				{"id": "2", "name": "Two", "artists": artist, "duration_ms": 2000},
				{"id": "3", "name": "Three", "artists": artist, "duration_ms": 3000},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewWithHTTP(srv.Client(), srv.URL+"/")
}

func TestLookupTrack(t *testing.T) {
	c := fakeAPI(t)
	tracks, _, err := c.Lookup(context.Background(), "spotify:track:t1", 0)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, Track{Name: "Song", Artist: "Band", Duration: 185 * time.Second}, tracks[0])
}

func TestLookupAlbumHonoursLimit(t *testing.T) {
	c := fakeAPI(t)
	tracks, meta, err := c.Lookup(context.Background(), "https://open.spotify.com/album/al1", 2)
	require.NoError(t, err)
	assert.Equal(t, "Record", meta.Title)
	assert.Equal(t, "https://open.spotify.com/album/al1", meta.Source)
	require.Len(t, tracks, 2)
	assert.Equal(t, "One", tracks[0].Name)
	assert.Equal(t, "Two", tracks[1].Name)
}

func TestLookupRejectsNonSpotify(t *testing.T) {
	c := fakeAPI(t)
	_, _, err := c.Lookup(context.Background(), "https://example.com/x", 0)
	assert.Error(t, err)
}
