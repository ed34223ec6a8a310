package opencast

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Track is a media track of an episode.
type Track struct {
	URL       string          `json:"url"`
	MimeType  string          `json:"mimetype"`
	Transport json.RawMessage `json:"transport"`
	Video     struct {
		Resolution string `json:"resolution"`
	} `json:"video"`
}

// Width returns the horizontal resolution, or -1 when it is unknown.
func (t Track) Width() int {
	w, _, _ := strings.Cut(t.Video.Resolution, "x")
	n, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return -1
	}
	return n
}

type episode struct {
	SearchResults struct {
		Result struct {
			MediaPackage struct {
				Media struct {
					Track json.RawMessage `json:"track"`
				} `json:"media"`
			} `json:"mediapackage"`
		} `json:"result"`
	} `json:"search-results"`
}

// ParseTracks decodes the tracks of an episode.json document. Engage
// encodes a single track as an object instead of a one-element array.
func ParseTracks(data []byte) ([]Track, error) {
	var ep episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("decode episode: %w", err)
	}
	raw := bytes.TrimSpace(ep.SearchResults.Result.MediaPackage.Media.Track)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var t Track
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		return []Track{t}, nil
	}
	var tracks []Track
	if err := json.Unmarshal(raw, &tracks); err != nil {
		return nil, fmt.Errorf("decode tracks: %w", err)
	}
	return tracks, nil
}

// SelectTrack returns the widest video/mp4 track served without a
// streaming transport. Among equally wide tracks the last one wins.
func SelectTrack(tracks []Track) (Track, error) {
	best, found := Track{}, false
	for _, t := range tracks {
		if t.MimeType != "video/mp4" || len(t.Transport) > 0 || t.URL == "" {
			continue
		}
		if !found || t.Width() >= best.Width() {
			best, found = t, true
		}
	}
	if !found {
		return Track{}, ErrNoTrack
	}
	return best, nil
}
