package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := OpenDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepo(db)
}

func TestOpenDBIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestUpsertSettingsDefaults(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	s, err := r.UpsertSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", s.GuildID)
	assert.Equal(t, 50, s.PlaylistLimit)
	assert.Equal(t, 30, s.SecondsWaitAfterEmpty)
	assert.True(t, s.LeaveIfNoListeners)
	assert.True(t, s.AutoAnnounceNext)
	assert.Equal(t, 100, s.DefaultVolume)
	assert.Equal(t, 10, s.DefaultQueuePageSize)
	assert.Empty(t, s.DJRole)
}

func TestGetSettingsMissing(t *testing.T) {
	r := newRepo(t)
	_, err := r.GetSettings(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateSettingsRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	s, err := r.UpsertSettings(ctx, "g1")
	require.NoError(t, err)

	s.DefaultVolume = 35
	s.SecondsWaitAfterEmpty = 0
	s.LeaveIfNoListeners = false
	s.DJRole = "Music"
	require.NoError(t, r.UpdateSettings(ctx, s))

	got, err := r.GetSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	// Upserting again must not reset the row.
	again, err := r.UpsertSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 35, again.DefaultVolume)
}

func TestUpdateSettingsValidates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	s, err := r.UpsertSettings(ctx, "g1")
	require.NoError(t, err)

	s.DefaultVolume = 101
	s.PlaylistLimit = 0
	err = r.UpdateSettings(ctx, s)
	require.ErrorIs(t, err, ErrInvalidSetting)
	assert.Contains(t, err.Error(), "volume")
	assert.Contains(t, err.Error(), "playlist")
}

func TestUpdateSettingsUnknownGuild(t *testing.T) {
	r := newRepo(t)
	s := &Settings{GuildID: "ghost", PlaylistLimit: 1, DefaultVolume: 1, DefaultQueuePageSize: 1}
	assert.ErrorIs(t, r.UpdateSettings(context.Background(), s), sql.ErrNoRows)
}

func TestGuildSettingsForPlayer(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	s, err := r.UpsertSettings(ctx, "g1")
	require.NoError(t, err)
	s.SecondsWaitAfterEmpty = 90
	s.AutoAnnounceNext = false
	require.NoError(t, r.UpdateSettings(ctx, s))

	ps, err := r.GuildSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ps.IdleTimeout)
	assert.Equal(t, 100, ps.DefaultVolume)
	assert.Equal(t, 50, ps.PlaylistLimit)
	assert.False(t, ps.AnnounceNext)

	fresh, err := r.GuildSettings(ctx, "g2")
	require.NoError(t, err)
	assert.True(t, fresh.AnnounceNext)
}

func TestPing(t *testing.T) {
	assert.NoError(t, newRepo(t).Ping(context.Background()))
}
