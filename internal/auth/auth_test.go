package auth

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Romern/syncMyMoodle/internal/log"
	"github.com/Romern/syncMyMoodle/internal/session"
)

const (
	testUser     = "ab123456"
	testPassword = "correct horse"
	testSessKey  = "Skey123abc"
	testToken    = "0123456789abcdef0123456789abcdef"
)

// newFakeMoodle serves a Moodle instance fronted by a Shibboleth identity
// provider on the same host.
func newFakeMoodle(t *testing.T) *httptest.Server {
	t.Helper()

	loggedIn := func(r *http.Request) bool {
		c, err := r.Cookie("MoodleSession")
		return err == nil && c.Value == "valid"
	}
	loginForm := `<html><body><form method="post" action="?execution=e1s1">
		<input type="hidden" name="csrf_token" value="csrf-1">
		<input name="j_username"><input type="password" name="j_password">
	</form></body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>home</html>")
	})
	mux.HandleFunc("/auth/shibboleth/index.php", func(w http.ResponseWriter, r *http.Request) {
		if loggedIn(r) {
			http.Redirect(w, r, "/my/", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/idp/profile/SAML2/Redirect/SSO?execution=e1s1", http.StatusFound)
	})
	mux.HandleFunc("/idp/profile/SAML2/Redirect/SSO", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			_, _ = io.WriteString(w, loginForm)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, proceed := r.PostForm["_eventId_proceed"]
		if r.URL.Query().Get("execution") != "e1s1" || !proceed ||
			r.PostForm.Get("csrf_token") != "csrf-1" ||
			r.PostForm.Get("j_username") != testUser ||
			r.PostForm.Get("j_password") != testPassword {
			_, _ = io.WriteString(w, loginForm)
			return
		}
		_, _ = io.WriteString(w, `<html><body onload="document.forms[0].submit()">
			<form method="post" action="/Shibboleth.sso/SAML2/POST">
				<input type="hidden" name="RelayState" value="cookie:1">
				<input type="hidden" name="SAMLResponse" value="PHNhbWw+">
			</form></body></html>`)
	})
	mux.HandleFunc("/Shibboleth.sso/SAML2/POST", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("RelayState") != "cookie:1" || r.PostForm.Get("SAMLResponse") != "PHNhbWw+" {
			http.Error(w, "bad assertion", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "MoodleSession", Value: "valid", Path: "/"})
		http.Redirect(w, r, "/my/", http.StatusSeeOther)
	})
	mux.HandleFunc("/my/", func(w http.ResponseWriter, r *http.Request) {
		if !loggedIn(r) {
			http.Redirect(w, r, "/auth/shibboleth/index.php", http.StatusSeeOther)
			return
		}
		_, _ = io.WriteString(w, `<html><head><script>M.cfg = {"sesskey":"`+testSessKey+`"};</script></head></html>`)
	})
	mux.HandleFunc("/admin/tool/mobile/launch.php", func(w http.ResponseWriter, r *http.Request) {
		if !loggedIn(r) {
			http.Redirect(w, r, "/login/index.php", http.StatusSeeOther)
			return
		}
		q := r.URL.Query()
		if q.Get("passport") != "1" || q.Get("urlscheme") != "moodlemobile" {
			http.Error(w, "bad launch", http.StatusBadRequest)
			return
		}
		payload := "sig:::" + testToken + "-" + q.Get("service") + ":::private"
		w.Header().Set("Location", "moodlemobile://token="+base64.StdEncoding.EncodeToString([]byte(payload)))
		w.WriteHeader(http.StatusSeeOther)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newAuthenticator(t *testing.T, baseURL, user, password, cookieFile string) *Authenticator {
	t.Helper()

	client, err := session.New(session.WithCookieFile(cookieFile), session.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(client, baseURL, user, password, WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("full identity provider flow", func(t *testing.T) {
		t.Parallel()

		server := newFakeMoodle(t)
		cookieFile := filepath.Join(t.TempDir(), "session")
		a := newAuthenticator(t, server.URL, testUser, testPassword, cookieFile)

		key, err := a.Login(t.Context())
		if err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if key != testSessKey {
			t.Errorf("expected sesskey %q, got %q", testSessKey, key)
		}
		if _, err := os.Stat(cookieFile); err != nil {
			t.Errorf("expected cookie file to be written: %v", err)
		}
	})

	t.Run("stored session skips the identity provider", func(t *testing.T) {
		t.Parallel()

		server := newFakeMoodle(t)
		cookieFile := filepath.Join(t.TempDir(), "session")
		if _, err := newAuthenticator(t, server.URL, testUser, testPassword, cookieFile).Login(t.Context()); err != nil {
			t.Fatalf("first login failed: %v", err)
		}

		// No credentials: only the stored cookie can succeed.
		key, err := newAuthenticator(t, server.URL, "", "", cookieFile).Login(t.Context())
		if err != nil {
			t.Fatalf("expected stored session to be reused, got %v", err)
		}
		if key != testSessKey {
			t.Errorf("expected sesskey %q, got %q", testSessKey, key)
		}
	})

	t.Run("wrong password fails", func(t *testing.T) {
		t.Parallel()

		server := newFakeMoodle(t)
		a := newAuthenticator(t, server.URL, testUser, "wrong", filepath.Join(t.TempDir(), "session"))
		if _, err := a.Login(t.Context()); !errors.Is(err, ErrLoginFailed) {
			t.Errorf("expected ErrLoginFailed, got %v", err)
		}
	})

	t.Run("missing credentials fail before posting", func(t *testing.T) {
		t.Parallel()

		server := newFakeMoodle(t)
		a := newAuthenticator(t, server.URL, testUser, "", filepath.Join(t.TempDir(), "session"))
		if _, err := a.Login(t.Context()); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("unreachable moodle fails", func(t *testing.T) {
		t.Parallel()

		server := newFakeMoodle(t)
		url := server.URL
		server.Close()

		a := newAuthenticator(t, url, testUser, testPassword, filepath.Join(t.TempDir(), "session"))
		if _, err := a.Login(t.Context()); err == nil {
			t.Error("expected error for unreachable server")
		}
	})
}

func TestToken(t *testing.T) {
	t.Parallel()

	server := newFakeMoodle(t)
	a := newAuthenticator(t, server.URL, testUser, testPassword, filepath.Join(t.TempDir(), "session"))
	if _, err := a.Login(t.Context()); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	for _, service := range []string{ServiceMobileApp, ServiceOpencast} {
		t.Run(service, func(t *testing.T) {
			t.Parallel()

			token, err := a.Token(t.Context(), service)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := testToken + "-" + service; token != want {
				t.Errorf("expected %q, got %q", want, token)
			}
		})
	}
}

func TestTokenWithoutSession(t *testing.T) {
	t.Parallel()

	server := newFakeMoodle(t)
	a := newAuthenticator(t, server.URL, testUser, testPassword, filepath.Join(t.TempDir(), "session"))
	if _, err := a.Token(t.Context(), ServiceMobileApp); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestParseLaunchLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		location string
		want     string
		wantErr  bool
	}{
		{
			name:     "padded token",
			location: "moodlemobile://token=ZDQxZDhjZDk4ZjAwYjIwNDo6OjAxMjM0NTY3ODlhYmNkZWYwMTIzNDU2Nzg5YWJjZGVmOjo6cHJpdnRvaw==",
			want:     "0123456789abcdef0123456789abcdef",
		},
		{
			name:     "unpadded token",
			location: "moodlemobile://token=" + base64.RawStdEncoding.EncodeToString([]byte("a:::tok")),
			want:     "tok",
		},
		{
			name:     "escaped padding",
			location: "moodlemobile://token=" + "YTo6OnRvaw%3D%3D",
			want:     "tok",
		},
		{name: "no token parameter", location: "https://moodle.example.org/login/index.php", wantErr: true},
		{name: "empty location", location: "", wantErr: true},
		{name: "not base64", location: "moodlemobile://token=***", wantErr: true},
		{name: "no separator", location: "moodlemobile://token=" + base64.StdEncoding.EncodeToString([]byte("plain")), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLaunchLocation(tt.location)
			if tt.wantErr {
				if !errors.Is(err, ErrTokenNotFound) {
					t.Errorf("expected ErrTokenNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
