package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Romern/syncMyMoodle/internal/parser"
	"github.com/Romern/syncMyMoodle/internal/session"
)

// Web services a token can be requested for.
const (
	// ServiceMobileApp grants access to the REST functions used for syncing.
	ServiceMobileApp = "moodle_mobile_app"

	// ServiceOpencast grants access to the Opencast LTI form.
	ServiceOpencast = "filter_opencast_authentication"
)

// Authenticator performs the single sign-on flow for one account.
type Authenticator struct {
	client   *session.Client
	baseURL  *url.URL
	user     string
	password string
	logger   *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// New creates an Authenticator for the Moodle instance at baseURL.
func New(client *session.Client, baseURL, user, password string, opts ...Option) (*Authenticator, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid moodle url: %w", err)
	}
	a := &Authenticator{
		client:   client,
		baseURL:  u,
		user:     user,
		password: password,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Authenticator) endpoint(path string) string {
	return a.baseURL.String() + path
}

// Login establishes a Moodle session and returns its session key.
//
// A session restored from the cookie file is reused when Moodle lands on
// the dashboard directly. Otherwise the credentials are posted to the
// identity provider and the SAML assertion is relayed back to Moodle.
// Cookies are saved after a successful login.
func (a *Authenticator) Login(ctx context.Context) (string, error) {
	if _, err := a.client.Get(ctx, a.endpoint("/")); err != nil {
		return "", fmt.Errorf("failed to reach moodle: %w", err)
	}
	page, err := a.client.Get(ctx, a.endpoint("/auth/shibboleth/index.php"))
	if err != nil {
		return "", fmt.Errorf("failed to start shibboleth login: %w", err)
	}

	if a.isDashboard(page.URL) {
		a.logger.Debug("reusing stored session")
		return a.finish(page)
	}

	doc, err := parsePage(page)
	if err != nil {
		return "", err
	}

	if _, ok := doc.Input("RelayState"); !ok {
		if a.user == "" || a.password == "" {
			return "", ErrMissingCredentials
		}
		form := url.Values{
			"j_username":       {a.user},
			"j_password":       {a.password},
			"_eventId_proceed": {""},
		}
		if csrf, ok := doc.Input("csrf_token"); ok {
			form.Set("csrf_token", csrf)
		}
		a.logger.Debug("posting credentials to identity provider", "url", page.URL.String())
		page, err = a.client.PostForm(ctx, page.URL.String(), form)
		if err != nil {
			return "", fmt.Errorf("failed to post credentials: %w", err)
		}
		if doc, err = parsePage(page); err != nil {
			return "", err
		}
	}

	relayState, ok := doc.Input("RelayState")
	if !ok {
		a.logger.Debug("identity provider response without assertion", "url", page.URL.String())
		return "", ErrLoginFailed
	}
	samlResponse, _ := doc.Input("SAMLResponse")

	page, err = a.client.PostForm(ctx, a.endpoint("/Shibboleth.sso/SAML2/POST"), url.Values{
		"RelayState":   {relayState},
		"SAMLResponse": {samlResponse},
	})
	if err != nil {
		return "", fmt.Errorf("failed to relay SAML response: %w", err)
	}
	return a.finish(page)
}

// finish saves the cookies and extracts the session key from page.
// A missing session key is logged but not fatal: only the Opencast AJAX
// call needs it, and that call has a token based fallback.
func (a *Authenticator) finish(page *session.Page) (string, error) {
	if err := a.client.SaveCookies(); err != nil {
		a.logger.Warn("could not persist session", "error", err)
	}
	doc, err := parsePage(page)
	if err != nil {
		return "", err
	}
	key, err := doc.SessKey()
	if err != nil {
		a.logger.Warn("logged in, but no session key found", "url", page.URL.String())
		return "", nil
	}
	return key, nil
}

func (a *Authenticator) isDashboard(u *url.URL) bool {
	return strings.EqualFold(u.Host, a.baseURL.Host) && u.Path == a.baseURL.Path+"/my/"
}

func parsePage(page *session.Page) (*parser.ParseResult, error) {
	p, err := parser.New(page.URL.String())
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", page.URL.Redacted(), err)
	}
	return doc, nil
}

// Token requests a web service token for service. The session must be
// logged in. Moodle answers the mobile app launch with a redirect to a
// custom scheme that carries "<signature>:::<token>[:::<private token>]"
// in base64.
func (a *Authenticator) Token(ctx context.Context, service string) (string, error) {
	query := url.Values{
		"service":   {service},
		"passport":  {"1"},
		"urlscheme": {"moodlemobile"},
	}
	location, err := a.client.Location(ctx, a.endpoint("/admin/tool/mobile/launch.php?"+query.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to request %s token: %w", service, err)
	}
	token, err := ParseLaunchLocation(location)
	if err != nil {
		return "", fmt.Errorf("%s: %w", service, err)
	}
	return token, nil
}

// ParseLaunchLocation extracts the web service token from a mobile app
// launch redirect.
func ParseLaunchLocation(location string) (string, error) {
	_, encoded, ok := strings.Cut(location, "token=")
	if !ok || encoded == "" {
		return "", ErrTokenNotFound
	}
	if i := strings.IndexAny(encoded, "&#"); i >= 0 {
		encoded = encoded[:i]
	}
	if unescaped, err := url.PathUnescape(encoded); err == nil {
		encoded = unescaped
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrTokenNotFound, err)
		}
	}

	parts := strings.Split(string(decoded), ":::")
	if len(parts) < 2 || parts[1] == "" {
		return "", ErrTokenNotFound
	}
	return parts[1], nil
}
