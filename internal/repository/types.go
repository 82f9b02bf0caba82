package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

// Settings is one guild's row in the settings table.
type Settings struct {
	GuildID               string
	PlaylistLimit         int
	SecondsWaitAfterEmpty int
	LeaveIfNoListeners    bool
	QueueAddEphemeral     bool
	AutoAnnounceNext      bool
	DefaultVolume         int
	DefaultQueuePageSize  int
	DJRole                string // empty falls back to the process-wide role
}
