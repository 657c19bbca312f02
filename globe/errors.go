package globe

import "errors"

var (
	// ErrDataFetch wraps category load and leaf resolution failures. The map
	// stays interactive; callers surface it as a passive indicator at most.
	ErrDataFetch = errors.New("data fetch failed")

	// ErrBadCoordinate marks non-finite lat/lng input to camera operations.
	ErrBadCoordinate = errors.New("coordinate is not finite")

	// ErrRoutePlaying is returned when route playback is requested while a
	// route is already running.
	ErrRoutePlaying = errors.New("route playback already in progress")
)
