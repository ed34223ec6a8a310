package session

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar that can be saved to and restored from a file.
// Cookie matching is delegated to net/http/cookiejar; Jar additionally
// remembers every cookie it was given so the set can be written out.
type Jar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	entries map[string]storedCookie
	now     func() time.Time
}

// storedCookie is the on-disk form of a cookie.
type storedCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// NewJar returns an empty jar that uses the public suffix list.
func NewJar() *Jar {
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}) //nolint:errcheck // only fails with invalid options
	return &Jar{
		inner:   inner,
		entries: make(map[string]storedCookie),
		now:     time.Now,
	}
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)

	now := j.now()
	for _, c := range cookies {
		sc := storedCookie{
			URL:      (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String(),
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		switch {
		case c.MaxAge < 0:
			sc.Expires = now.Add(-time.Second)
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		j.entries[cookieKey(u, c)] = sc
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

func cookieKey(u *url.URL, c *http.Cookie) string {
	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	return domain + "|" + c.Path + "|" + c.Name
}

// Len returns the number of stored cookies, expired ones included.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Save writes all unexpired cookies to path with mode 0600.
func (j *Jar) Save(path string) error {
	j.mu.Lock()
	now := j.now()
	cookies := make([]storedCookie, 0, len(j.entries))
	for _, sc := range j.entries {
		if !sc.Expires.IsZero() && !sc.Expires.After(now) {
			continue
		}
		cookies = append(cookies, sc)
	}
	j.mu.Unlock()

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Load restores cookies written by Save. A missing file is not an error.
// Expired cookies are skipped.
func (j *Jar) Load(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided cookie path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var cookies []storedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return err
	}

	now := j.now()
	for _, sc := range cookies {
		if !sc.Expires.IsZero() && !sc.Expires.After(now) {
			continue
		}
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		j.SetCookies(u, []*http.Cookie{{
			Name:     sc.Name,
			Value:    sc.Value,
			Domain:   sc.Domain,
			Path:     sc.Path,
			Expires:  sc.Expires,
			Secure:   sc.Secure,
			HttpOnly: sc.HTTPOnly,
		}})
	}
	return nil
}
