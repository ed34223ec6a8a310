package sciebo

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/Romern/syncMyMoodle/internal/parser"
	"github.com/Romern/syncMyMoodle/internal/session"
)

// ErrNotResolvable is returned when neither the share page nor WebDAV
// reveal the shared file.
var ErrNotResolvable = errors.New("sciebo share cannot be resolved")

const propfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:displayname/><d:resourcetype/></d:prop></d:propfind>`

// File is a shared file.
type File struct {
	Name string
	URL  string
}

// Getter fetches pages. *session.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*session.Page, error)
}

// Doer sends raw requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver resolves share links.
type Resolver struct {
	pages     Getter
	dav       Doer
	scieboURL *url.URL
	logger    *slog.Logger
}

// NewResolver returns a resolver for shares hosted at scieboURL. dav may be
// nil, which disables the WebDAV fallback.
func NewResolver(pages Getter, dav Doer, scieboURL *url.URL, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{pages: pages, dav: dav, scieboURL: scieboURL, logger: logger}
}

// Resolve returns the file behind a share link.
func (r *Resolver) Resolve(ctx context.Context, shareURL string) (File, error) {
	f, pageErr := r.fromSharePage(ctx, shareURL)
	if pageErr == nil {
		return f, nil
	}
	if r.dav == nil || ctx.Err() != nil {
		return File{}, pageErr
	}
	r.logger.Debug("share page gave no download, trying webdav", "url", shareURL, "error", pageErr)
	f, davErr := r.fromWebDAV(ctx, shareURL)
	if davErr != nil {
		return File{}, errors.Join(pageErr, davErr)
	}
	return f, nil
}

func (r *Resolver) fromSharePage(ctx context.Context, shareURL string) (File, error) {
	page, err := r.pages.Get(ctx, shareURL)
	if err != nil {
		return File{}, err
	}
	p, err := parser.New(page.URL.String())
	if err != nil {
		return File{}, err
	}
	doc, err := p.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return File{}, err
	}
	download, okURL := doc.Input("downloadURL")
	name, okName := doc.Input("filename")
	if !okURL || !okName || download == "" {
		return File{}, fmt.Errorf("%s: %w: no download inputs", shareURL, ErrNotResolvable)
	}
	return File{Name: name, URL: download}, nil
}

type multistatus struct {
	Responses []struct {
		Href     string `xml:"href"`
		Propstat []struct {
			Prop struct {
				DisplayName  string `xml:"displayname"`
				ResourceType struct {
					Collection *struct{} `xml:"collection"`
				} `xml:"resourcetype"`
			} `xml:"prop"`
			Status string `xml:"status"`
		} `xml:"propstat"`
	} `xml:"response"`
}

func (r *Resolver) fromWebDAV(ctx context.Context, shareURL string) (File, error) {
	token := ShareToken(shareURL)
	if token == "" {
		return File{}, fmt.Errorf("%s: %w: no share token", shareURL, ErrNotResolvable)
	}
	endpoint := r.scieboURL.JoinPath("public.php", "webdav").String() + "/"
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", endpoint, strings.NewReader(propfindBody))
	if err != nil {
		return File{}, err
	}
	req.SetBasicAuth(token, "")
	req.Header.Set("Depth", "0")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := r.dav.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus {
		return File{}, &session.StatusError{Code: resp.StatusCode, URL: endpoint}
	}
	var ms multistatus
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ms); err != nil {
		return File{}, fmt.Errorf("decode propfind: %w", err)
	}
	for _, res := range ms.Responses {
		for _, ps := range res.Propstat {
			if ps.Prop.ResourceType.Collection != nil {
				return File{}, fmt.Errorf("%s: %w: share is a folder", shareURL, ErrNotResolvable)
			}
			if ps.Prop.DisplayName != "" {
				return File{Name: ps.Prop.DisplayName, URL: strings.TrimSuffix(shareURL, "/") + "/download"}, nil
			}
		}
	}
	return File{}, fmt.Errorf("%s: %w: no display name", shareURL, ErrNotResolvable)
}

// ShareToken returns the token of a share link, its last path segment.
func ShareToken(shareURL string) string {
	u, err := url.Parse(shareURL)
	if err != nil {
		return ""
	}
	segment := path.Base(strings.TrimSuffix(u.Path, "/"))
	if segment == "." || segment == "/" || segment == "s" {
		return ""
	}
	return segment
}
