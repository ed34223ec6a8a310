package opencast

import "errors"

var (
	// ErrNoEpisodeID is returned for links that are not engage play links.
	ErrNoEpisodeID = errors.New("link does not contain an opencast episode id")

	// ErrNoTrack is returned when an episode offers no plain MP4 track.
	ErrNoTrack = errors.New("episode has no downloadable mp4 track")

	// ErrEmptyLTIForm is returned when the LTI form has no inputs.
	ErrEmptyLTIForm = errors.New("opencast lti form has no inputs")
)
