package sciebo

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Romern/syncMyMoodle/internal/log"
	"github.com/Romern/syncMyMoodle/internal/session"
)

const davResponse = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
 <d:response>
  <d:href>/public.php/webdav/</d:href>
  <d:propstat>
   <d:prop><d:displayname>uebung 3.pdf</d:displayname><d:resourcetype/></d:prop>
   <d:status>HTTP/1.1 200 OK</d:status>
  </d:propstat>
 </d:response>
</d:multistatus>`

const davFolder = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
 <d:response><d:href>/public.php/webdav/</d:href>
  <d:propstat><d:prop><d:displayname>Ordner</d:displayname><d:resourcetype><d:collection/></d:resourcetype></d:prop></d:propstat>
 </d:response>
</d:multistatus>`

func newSciebo(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/s/PageShare", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body>
			<input type="hidden" name="filename" value="skript.pdf">
			<input type="hidden" name="downloadURL" value="https://sciebo/s/PageShare/download">
		</body></html>`)
	})
	mux.HandleFunc("/s/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body>no inputs here</body></html>`)
	})
	mux.HandleFunc("/public.php/webdav/", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if r.Method != "PROPFIND" || r.Header.Get("Depth") != "0" || !ok {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch user {
		case "DavShare":
			w.WriteHeader(http.StatusMultiStatus)
			_, _ = io.WriteString(w, davResponse)
		case "FolderShare":
			w.WriteHeader(http.StatusMultiStatus)
			_, _ = io.WriteString(w, davFolder)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestResolver(t *testing.T, server *httptest.Server, withDAV bool) *Resolver {
	t.Helper()
	client, err := session.New(session.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	base, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	var dav Doer
	if withDAV {
		dav = client.HTTPClient()
	}
	return NewResolver(client, dav, base, log.Discard())
}

func TestResolve(t *testing.T) {
	t.Parallel()

	server := newSciebo(t)

	t.Run("share page inputs", func(t *testing.T) {
		t.Parallel()
		f, err := newTestResolver(t, server, true).Resolve(t.Context(), server.URL+"/s/PageShare")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if f.Name != "skript.pdf" || f.URL != "https://sciebo/s/PageShare/download" {
			t.Errorf("Resolve() = %+v", f)
		}
	})

	t.Run("webdav fallback", func(t *testing.T) {
		t.Parallel()
		f, err := newTestResolver(t, server, true).Resolve(t.Context(), server.URL+"/s/DavShare")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if f.Name != "uebung 3.pdf" || f.URL != server.URL+"/s/DavShare/download" {
			t.Errorf("Resolve() = %+v", f)
		}
	})

	t.Run("folder share", func(t *testing.T) {
		t.Parallel()
		_, err := newTestResolver(t, server, true).Resolve(t.Context(), server.URL+"/s/FolderShare")
		if !errors.Is(err, ErrNotResolvable) {
			t.Errorf("Resolve() error = %v, want ErrNotResolvable", err)
		}
	})

	t.Run("unknown share", func(t *testing.T) {
		t.Parallel()
		_, err := newTestResolver(t, server, true).Resolve(t.Context(), server.URL+"/s/Gone")
		if !errors.Is(err, session.ErrUnexpectedStatus) || !errors.Is(err, ErrNotResolvable) {
			t.Errorf("Resolve() error = %v, want status and not resolvable", err)
		}
	})

	t.Run("without webdav", func(t *testing.T) {
		t.Parallel()
		_, err := newTestResolver(t, server, false).Resolve(t.Context(), server.URL+"/s/DavShare")
		if !errors.Is(err, ErrNotResolvable) {
			t.Errorf("Resolve() error = %v, want ErrNotResolvable", err)
		}
	})
}

func TestShareToken(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://rwth-aachen.sciebo.de/s/AbC-123":  "AbC-123",
		"https://rwth-aachen.sciebo.de/s/AbC-123/": "AbC-123",
		"https://rwth-aachen.sciebo.de/s/":         "",
		"https://rwth-aachen.sciebo.de":            "",
		"::":                                       "",
	}
	for in, want := range tests {
		if got := ShareToken(in); got != want {
			t.Errorf("ShareToken(%q) = %q, want %q", in, got, want)
		}
	}
}
