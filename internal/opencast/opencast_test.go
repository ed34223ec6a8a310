package opencast

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Romern/syncMyMoodle/internal/log"
	"github.com/Romern/syncMyMoodle/internal/session"
)

const episodeID = "0f3c6a4e-1b2d-4c5e-8f90-a1b2c3d4e5f6"

const episodeArray = `{"search-results":{"result":{"mediapackage":{"media":{"track":[
	{"url":"https://cdn/low.mp4","mimetype":"video/mp4","video":{"resolution":"640x360"}},
	{"url":"https://cdn/hls.m3u8","mimetype":"video/mp4","transport":"HLS","video":{"resolution":"3840x2160"}},
	{"url":"https://cdn/high.mp4","mimetype":"video/mp4","video":{"resolution":"1920x1080"}},
	{"url":"https://cdn/audio.m4a","mimetype":"audio/mp4"}
]}}}}}`

const episodeObject = `{"search-results":{"result":{"mediapackage":{"media":{"track":
	{"url":"https://cdn/only.mp4","mimetype":"video/mp4","video":{"resolution":"1280x720"}}
}}}}}`

func TestParseTracks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{name: "array", data: episodeArray, want: 4},
		{name: "single object", data: episodeObject, want: 1},
		{name: "no media", data: `{"search-results":{"result":{}}}`, want: 0},
		{name: "invalid", data: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tracks, err := ParseTracks([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTracks() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(tracks) != tt.want {
				t.Errorf("ParseTracks() returned %d tracks, want %d", len(tracks), tt.want)
			}
		})
	}
}

func TestSelectTrack(t *testing.T) {
	t.Parallel()

	t.Run("widest plain mp4", func(t *testing.T) {
		t.Parallel()
		tracks, err := ParseTracks([]byte(episodeArray))
		if err != nil {
			t.Fatal(err)
		}
		got, err := SelectTrack(tracks)
		if err != nil {
			t.Fatalf("SelectTrack() error = %v", err)
		}
		if got.URL != "https://cdn/high.mp4" {
			t.Errorf("SelectTrack() = %s, want high.mp4", got.URL)
		}
	})

	t.Run("last of equal width wins", func(t *testing.T) {
		t.Parallel()
		a := Track{URL: "a", MimeType: "video/mp4"}
		a.Video.Resolution = "1280x720"
		b := Track{URL: "b", MimeType: "video/mp4"}
		b.Video.Resolution = "1280x720"
		got, err := SelectTrack([]Track{a, b})
		if err != nil || got.URL != "b" {
			t.Errorf("SelectTrack() = %q, %v; want b", got.URL, err)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		t.Parallel()
		if _, err := SelectTrack([]Track{{URL: "x", MimeType: "audio/mp4"}}); !errors.Is(err, ErrNoTrack) {
			t.Errorf("SelectTrack() error = %v, want ErrNoTrack", err)
		}
	})
}

func TestTrackWidth(t *testing.T) {
	t.Parallel()

	for res, want := range map[string]int{"1920x1080": 1920, "640x360": 640, "": -1, "axb": -1} {
		tr := Track{}
		tr.Video.Resolution = res
		if got := tr.Width(); got != want {
			t.Errorf("Width(%q) = %d, want %d", res, got, want)
		}
	}
}

type fakeForms struct {
	calls atomic.Int32
	err   error
}

func (f *fakeForms) OpencastLTIForm(_ context.Context, courseID int, token string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return `<form action="https://engage/lti" method="post">
		<input type="hidden" name="oauth_signature" value="sig">
		<input type="hidden" name="custom_token" value="` + token + `">
	</form>`, nil
}

func newEngage(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var launches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/lti", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("oauth_signature") != "sig" || r.PostForm.Get("custom_token") != "oc-token" {
			http.Error(w, "bad launch", http.StatusForbidden)
			return
		}
		launches.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "engage", Path: "/"})
		_, _ = io.WriteString(w, "ok")
	})
	mux.HandleFunc("/search/episode.json", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("JSESSIONID"); err != nil || c.Value != "engage" {
			http.Error(w, "not launched", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("id") != episodeID {
			_, _ = io.WriteString(w, `{"search-results":{"result":{}}}`)
			return
		}
		_, _ = io.WriteString(w, episodeArray)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &launches
}

func newTestResolver(t *testing.T, server *httptest.Server, forms FormSource) *Resolver {
	t.Helper()
	client, err := session.New(session.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	engage, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return NewResolver(client, forms, engage, WithToken("oc-token"), WithLogger(log.Discard()))
}

func TestResolverRealURL(t *testing.T) {
	t.Parallel()

	t.Run("resolves and launches once per course", func(t *testing.T) {
		t.Parallel()
		server, launches := newEngage(t)
		forms := &fakeForms{}
		r := newTestResolver(t, server, forms)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Go(func() {
				got, err := r.RealURL(t.Context(), 3, server.URL+"/play/"+episodeID)
				if err == nil && got != "https://cdn/high.mp4" {
					err = errors.New("unexpected track " + got)
				}
				errs <- err
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("RealURL() error = %v", err)
			}
		}
		if n := launches.Load(); n != 1 {
			t.Errorf("lti launches = %d, want 1", n)
		}
		if _, err := r.RealURL(t.Context(), 4, server.URL+"/play/"+episodeID); err != nil {
			t.Fatalf("RealURL() second course error = %v", err)
		}
		if n := forms.calls.Load(); n != 2 {
			t.Errorf("form requests = %d, want 2", n)
		}
	})

	t.Run("not a play link", func(t *testing.T) {
		t.Parallel()
		server, _ := newEngage(t)
		r := newTestResolver(t, server, &fakeForms{})
		for _, link := range []string{
			server.URL + "/play/short",
			"https://elsewhere/play/" + episodeID,
			server.URL + "/play/" + episodeID + "/extra",
		} {
			if _, err := r.RealURL(t.Context(), 3, link); !errors.Is(err, ErrNoEpisodeID) {
				t.Errorf("RealURL(%s) error = %v, want ErrNoEpisodeID", link, err)
			}
		}
	})

	t.Run("episode without tracks", func(t *testing.T) {
		t.Parallel()
		server, _ := newEngage(t)
		r := newTestResolver(t, server, &fakeForms{})
		_, err := r.RealURL(t.Context(), 3, server.URL+"/play/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
		if !errors.Is(err, ErrNoTrack) {
			t.Errorf("RealURL() error = %v, want ErrNoTrack", err)
		}
	})

	t.Run("form failure is retried on next call", func(t *testing.T) {
		t.Parallel()
		server, launches := newEngage(t)
		forms := &fakeForms{err: errors.New("moodle down")}
		r := newTestResolver(t, server, forms)
		if _, err := r.RealURL(t.Context(), 3, server.URL+"/play/"+episodeID); err == nil {
			t.Fatal("RealURL() error = nil")
		}
		if _, err := r.RealURL(t.Context(), 3, server.URL+"/play/"+episodeID); err == nil {
			t.Fatal("RealURL() error = nil")
		}
		if forms.calls.Load() != 2 || launches.Load() != 0 {
			t.Errorf("calls = %d launches = %d", forms.calls.Load(), launches.Load())
		}
	})
}
