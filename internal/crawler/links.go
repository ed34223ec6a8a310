package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// youtubeRegex finds youtube.com watch and embed links and youtu.be links.
var youtubeRegex = regexp.MustCompile(`(https?://(www\.)?(youtube\.com/(watch\?[a-zA-Z0-9_=&-]*v=|embed/)|youtu.be/).{11})`)

// Patterns finds links to external video and file hosts in text.
type Patterns struct {
	Opencast *regexp.Regexp
	Sciebo   *regexp.Regexp
}

// NewPatterns returns patterns for the Opencast engage server and the
// Sciebo instance at the given base URLs.
func NewPatterns(engageURL, scieboURL *url.URL) *Patterns {
	return &Patterns{
		Opencast: regexp.MustCompile(quoteBase(engageURL) + `/play/[a-zA-Z0-9-]+`),
		Sciebo:   regexp.MustCompile(quoteBase(scieboURL) + `/s/[a-zA-Z0-9-]+`),
	}
}

func quoteBase(u *url.URL) string {
	return regexp.QuoteMeta(strings.TrimSuffix(u.String(), "/"))
}

// YouTubeLinks returns the YouTube links in text.
func YouTubeLinks(text string) []string {
	return youtubeRegex.FindAllString(text, -1)
}

// OpencastLinks returns the engage play links in text.
func (p *Patterns) OpencastLinks(text string) []string {
	return p.Opencast.FindAllString(text, -1)
}

// ScieboLinks returns the Sciebo share links in text.
func (p *Patterns) ScieboLinks(text string) []string {
	return p.Sciebo.FindAllString(text, -1)
}

func isYouTube(link string) bool {
	return strings.Contains(link, "youtube.com") || strings.Contains(link, "youtu.be")
}

// fileNameFromURL returns the last path segment of a link as it appears
// in the URL, still escaped.
func fileNameFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return path.Base(link)
	}
	p := u.EscapedPath()
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// joinFilePath prefixes a file name with its Moodle file path, which is
// "/" for files at the top level.
func joinFilePath(filePath, fileName string) string {
	dir := strings.Trim(filePath, "/")
	if dir == "" {
		return fileName
	}
	return dir + "/" + fileName
}
