package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sonroyaalmerol/guildtune/internal/player"
)

var ErrInvalidSetting = errors.New("invalid setting")

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// UpsertSettings returns the guild's settings, inserting the defaults first
// if the guild has no row yet.
func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	); err != nil {
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	return r.GetSettings(ctx, guild)
}

// GetSettings returns sql.ErrNoRows for guilds that were never upserted.
func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, playlist_limit, seconds_wait_after_empty, leave_if_no_listeners,
	       queue_add_ephemeral, auto_announce_next_song, default_volume,
	       default_queue_page_size, dj_role
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	if err := row.Scan(
		&s.GuildID,
		&s.PlaylistLimit,
		&s.SecondsWaitAfterEmpty,
		&s.LeaveIfNoListeners,
		&s.QueueAddEphemeral,
		&s.AutoAnnounceNext,
		&s.DefaultVolume,
		&s.DefaultQueuePageSize,
		&s.DJRole,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	if err := s.validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE settings SET
		  playlist_limit=?,
		  seconds_wait_after_empty=?,
		  leave_if_no_listeners=?,
		  queue_add_ephemeral=?,
		  auto_announce_next_song=?,
		  default_volume=?,
		  default_queue_page_size=?,
		  dj_role=?,
		  updated_at=?
		WHERE guild_id=?`,
		s.PlaylistLimit, s.SecondsWaitAfterEmpty, s.LeaveIfNoListeners,
		s.QueueAddEphemeral, s.AutoAnnounceNext, s.DefaultVolume,
		s.DefaultQueuePageSize, s.DJRole, time.Now().Unix(), s.GuildID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Settings) validate() error {
	var errs []error
	if s.PlaylistLimit < 1 {
		errs = append(errs, fmt.Errorf("%w: playlist limit must be at least 1", ErrInvalidSetting))
	}
	if s.SecondsWaitAfterEmpty < 0 {
		errs = append(errs, fmt.Errorf("%w: wait after empty must not be negative", ErrInvalidSetting))
	}
	if s.DefaultVolume < 0 || s.DefaultVolume > 100 {
		errs = append(errs, fmt.Errorf("%w: default volume must be between 0 and 100", ErrInvalidSetting))
	}
	if s.DefaultQueuePageSize < 1 || s.DefaultQueuePageSize > 30 {
		errs = append(errs, fmt.Errorf("%w: queue page size must be between 1 and 30", ErrInvalidSetting))
	}
	return errors.Join(errs...)
}

// GuildSettings implements player.SettingsStore.
func (r *Repo) GuildSettings(ctx context.Context, guildID string) (player.Settings, error) {
	s, err := r.UpsertSettings(ctx, guildID)
	if err != nil {
		return player.Settings{}, err
	}
	return s.Player(), nil
}

// Player converts the row into the playback defaults the session applies.
func (s *Settings) Player() player.Settings {
	return player.Settings{
		DefaultVolume: s.DefaultVolume,
		IdleTimeout:   time.Duration(s.SecondsWaitAfterEmpty) * time.Second,
		PlaylistLimit: s.PlaylistLimit,
		AnnounceNext:  s.AutoAnnounceNext,
	}
}
