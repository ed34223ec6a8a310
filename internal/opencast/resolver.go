package opencast

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Romern/syncMyMoodle/internal/parser"
	"github.com/Romern/syncMyMoodle/internal/session"
)

// FormSource hands out the LTI launch form of a course. *moodle.Client
// satisfies it.
type FormSource interface {
	OpencastLTIForm(ctx context.Context, courseID int, opencastToken string) (string, error)
}

// HTTP fetches engage pages. *session.Client satisfies it.
type HTTP interface {
	Get(ctx context.Context, rawURL string) (*session.Page, error)
	PostForm(ctx context.Context, rawURL string, values url.Values) (*session.Page, error)
}

// Resolver turns play links into track URLs.
type Resolver struct {
	http      HTTP
	forms     FormSource
	engageURL *url.URL
	token     string
	playRegex *regexp.Regexp
	logger    *slog.Logger

	mu       sync.Mutex
	launched map[int]bool
	group    singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithToken sets the web service token of the Opencast service.
func WithToken(token string) Option {
	return func(r *Resolver) {
		r.token = token
	}
}

// NewResolver returns a resolver for the engage server at engageURL.
func NewResolver(client HTTP, forms FormSource, engageURL *url.URL, opts ...Option) *Resolver {
	r := &Resolver{
		http:      client,
		forms:     forms,
		engageURL: engageURL,
		playRegex: PlayRegex(engageURL),
		logger:    slog.Default(),
		launched:  make(map[int]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PlayRegex matches a complete engage play link and captures the episode id.
func PlayRegex(engageURL *url.URL) *regexp.Regexp {
	base := strings.TrimSuffix(engageURL.String(), "/")
	return regexp.MustCompile("^" + regexp.QuoteMeta(base) + `/play/([a-z0-9-]{36})$`)
}

// EpisodeID returns the episode id of a play link.
func (r *Resolver) EpisodeID(playURL string) (string, error) {
	m := r.playRegex.FindStringSubmatch(playURL)
	if m == nil {
		return "", fmt.Errorf("%s: %w", playURL, ErrNoEpisodeID)
	}
	return m[1], nil
}

// RealURL returns the URL of the best MP4 track behind playURL.
func (r *Resolver) RealURL(ctx context.Context, courseID int, playURL string) (string, error) {
	if err := r.launch(ctx, courseID); err != nil {
		return "", err
	}
	id, err := r.EpisodeID(playURL)
	if err != nil {
		return "", err
	}

	endpoint := r.engageURL.JoinPath("search", "episode.json")
	endpoint.RawQuery = url.Values{"id": {id}}.Encode()
	page, err := r.http.Get(ctx, endpoint.String())
	if err != nil {
		return "", fmt.Errorf("fetch episode %s: %w", id, err)
	}
	tracks, err := ParseTracks(page.Body)
	if err != nil {
		return "", fmt.Errorf("episode %s: %w", id, err)
	}
	track, err := SelectTrack(tracks)
	if err != nil {
		return "", fmt.Errorf("episode %s: %w", id, err)
	}
	r.logger.Debug("resolved opencast episode", "episode", id, "resolution", track.Video.Resolution)
	return track.URL, nil
}

// launch submits the LTI form of a course once. Concurrent callers for the
// same course share one submission.
func (r *Resolver) launch(ctx context.Context, courseID int) error {
	r.mu.Lock()
	done := r.launched[courseID]
	r.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := r.group.Do(strconv.Itoa(courseID), func() (any, error) {
		html, err := r.forms.OpencastLTIForm(ctx, courseID, r.token)
		if err != nil {
			return nil, fmt.Errorf("opencast lti form for course %d: %w", courseID, err)
		}
		p, err := parser.New(r.engageURL.String())
		if err != nil {
			return nil, err
		}
		form, err := p.ParseString(html)
		if err != nil {
			return nil, fmt.Errorf("parse opencast lti form: %w", err)
		}
		values := form.InputValues()
		if len(values) == 0 {
			return nil, ErrEmptyLTIForm
		}
		if _, err := r.http.PostForm(ctx, r.engageURL.JoinPath("lti").String(), values); err != nil {
			return nil, fmt.Errorf("opencast lti launch: %w", err)
		}

		r.mu.Lock()
		r.launched[courseID] = true
		r.mu.Unlock()
		return nil, nil
	})
	return err
}
