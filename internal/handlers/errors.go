package handlers

import (
	"errors"

	"github.com/sonroyaalmerol/guildtune/internal/player"
	"github.com/sonroyaalmerol/guildtune/internal/repository"
	"github.com/sonroyaalmerol/guildtune/internal/ui"
)

// userErrors maps failures to a metric status and the reply users see.
// Order matters: the first match wins.
var userErrors = []struct {
	err    error
	status string
	msg    string
}{
	{player.ErrNotInVoiceChannel, "not_in_voice", "gotta be in a voice channel"},
	{player.ErrNotConnected, "not_connected", "not connected"},
	{player.ErrNothingPlaying, "nothing_playing", "nothing is playing"},
	{player.ErrNothingPaused, "nothing_paused", "nothing is paused"},
	{player.ErrEmptyQueue, "empty_queue", "the queue is empty"},
	{player.ErrUnauthorized, "unauthorized", "only DJs can do that"},
	{player.ErrInvalidVolume, "invalid_volume", "volume must be between 0 and 100"},
	{player.ErrUnknownFilter, "unknown_filter", "no filter with that name"},
	{player.ErrResolutionFailed, "not_found", "couldn't find anything for that"},
	{player.ErrOutputBackend, "backend", "couldn't play in your voice channel"},
	{ui.ErrPageOutOfRange, "bad_page", ""},
	{repository.ErrInvalidSetting, "invalid_setting", ""},
}

// errorStatus returns a metric status and a user-facing message for err.
// An empty msg in the table means err's own text is safe to show.
func errorStatus(err error) (status, msg string) {
	for _, ue := range userErrors {
		if errors.Is(err, ue.err) {
			if ue.msg == "" {
				return ue.status, err.Error()
			}
			return ue.status, ue.msg
		}
	}
	return "error", "something went wrong"
}
