package player

import "errors"

var (
	ErrEmptyQueue        = errors.New("queue is empty")
	ErrNothingPlaying    = errors.New("nothing is playing")
	ErrNothingPaused     = errors.New("nothing is paused")
	ErrNotInVoiceChannel = errors.New("not in a voice channel")
	ErrNotConnected      = errors.New("not connected to a voice channel")
	ErrUnauthorized      = errors.New("not allowed")
	ErrResolutionFailed  = errors.New("could not resolve track")
	ErrOutputBackend     = errors.New("output backend error")
	ErrInvalidVolume     = errors.New("volume must be between 0 and 100")
	ErrUnknownFilter     = errors.New("unknown filter")
)

// connectError marks a failure to establish the voice connection, as opposed
// to a failure to start one particular stream.
type connectError struct{ err error }

func (e *connectError) Error() string { return "connect: " + e.err.Error() }
func (e *connectError) Unwrap() error { return e.err }
