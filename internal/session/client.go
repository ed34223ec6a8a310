package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// Default client settings.
const (
	// DefaultTimeout applies to page and API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultDownloadTimeout applies to file transfers.
	DefaultDownloadTimeout = time.Hour

	// DefaultMaxBodySize limits pages read into memory.
	DefaultMaxBodySize = 32 * 1024 * 1024

	// maxRedirects matches the redirect limit of browsers closely enough
	// for the identity provider chain.
	maxRedirects = 10
)

// Client is the HTTP client shared by the login flow, the API client, the
// crawler and the downloader.
type Client struct {
	jar        *Jar
	cookieFile string

	timeout         time.Duration
	downloadTimeout time.Duration
	maxBodySize     int64
	userAgent       string
	rateLimit       float64
	proxyAddress    string
	transport       http.RoundTripper
	logger          *slog.Logger

	httpClient     *http.Client
	noRedirect     *http.Client
	downloadClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCookieFile persists cookies to path. Existing cookies are loaded by New.
func WithCookieFile(path string) Option {
	return func(c *Client) {
		c.cookieFile = path
	}
}

// WithTimeout sets the timeout for page and API requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithDownloadTimeout sets the timeout for file transfers.
func WithDownloadTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.downloadTimeout = d
	}
}

// WithMaxBodySize limits the size of pages read by Fetch.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		c.maxBodySize = n
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRateLimit caps the requests per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.rateLimit = rps
	}
}

// WithProxy routes all connections through a SOCKS5 proxy at "host:port".
func WithProxy(address string) Option {
	return func(c *Client) {
		c.proxyAddress = address
	}
}

// WithTransport replaces the base transport. Pacing and the User-Agent
// are still applied on top of it.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. When a cookie file is configured its cookies are
// loaded immediately.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		jar:             NewJar(),
		timeout:         DefaultTimeout,
		downloadTimeout: DefaultDownloadTimeout,
		maxBodySize:     DefaultMaxBodySize,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.transport
	if base == nil {
		t, err := newTransport(c.proxyAddress)
		if err != nil {
			return nil, err
		}
		base = t
	}

	var limiter *rate.Limiter
	if c.rateLimit > 0 {
		burst := int(c.rateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(c.rateLimit), burst)
	}
	rt := &pacingTransport{base: base, limiter: limiter, userAgent: c.userAgent}

	c.httpClient = &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
		Jar:       c.jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	c.noRedirect = &http.Client{
		Transport: rt,
		Timeout:   c.timeout,
		Jar:       c.jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	c.downloadClient = &http.Client{
		Transport:     rt,
		Timeout:       c.downloadTimeout,
		Jar:           c.jar,
		CheckRedirect: c.httpClient.CheckRedirect,
	}

	if c.cookieFile != "" {
		if err := c.jar.Load(c.cookieFile); err != nil {
			c.logger.Warn("ignoring unreadable cookie file", "path", c.cookieFile, "error", err)
		}
	}
	return c, nil
}

func newTransport(proxyAddress string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8
	if proxyAddress == "" {
		return transport, nil
	}
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return transport, nil
}

// isValidProxyAddress checks if the address is in valid "host:port" format.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// pacingTransport waits for the rate limiter and sets the User-Agent.
type pacingTransport struct {
	base      http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *pacingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// HTTPClient returns the redirect-following client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// NoRedirectClient returns a client that never follows redirects.
func (c *Client) NoRedirectClient() *http.Client {
	return c.noRedirect
}

// DownloadClient returns the client used for file transfers.
func (c *Client) DownloadClient() *http.Client {
	return c.downloadClient
}

// Jar returns the cookie jar.
func (c *Client) Jar() *Jar {
	return c.jar
}

// SaveCookies writes the cookie jar to the configured cookie file.
// It is a no-op without a cookie file.
func (c *Client) SaveCookies() error {
	if c.cookieFile == "" {
		return nil
	}
	if err := c.jar.Save(c.cookieFile); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

// Page is a fetched document.
type Page struct {
	// URL is the final URL after redirects.
	URL *url.URL

	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// IsHTML reports whether the page declares an HTML content type.
func (p *Page) IsHTML() bool {
	return p.ContentType == "text/html"
}

// Get fetches a page.
func (c *Client) Get(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.fetch(req)
}

// PostForm submits form values and fetches the resulting page.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.fetch(req)
}

// PostJSON posts body encoded as JSON and fetches the response.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body any) (*Page, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.fetch(req)
}

// Head issues a HEAD request and returns the response metadata.
// Redirects are followed so the content type of the final target is reported.
func (c *Client) Head(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.fetch(req)
}

// Location issues a GET without following redirects and returns the
// Location header of the response.
func (c *Client) Location(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodySize)) //nolint:errcheck // drain for connection reuse
	return resp.Header.Get("Location"), nil
}

func (c *Client) fetch(req *http.Request) (*Page, error) {
	c.logger.Debug("http request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) //nolint:errcheck // drain for connection reuse
		return nil, &StatusError{Code: resp.StatusCode, URL: resp.Request.URL.Redacted()}
	}

	page := &Page{
		URL:         resp.Request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Header:      resp.Header,
	}
	if req.Method == http.MethodHead {
		return page, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, fmt.Errorf("%s: %w", page.URL.Redacted(), ErrBodyTooLarge)
	}
	page.Body = body
	return page, nil
}

// mediaType returns the media type of a Content-Type header without parameters.
func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt, _, _ = strings.Cut(header, ";")
		return strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}
