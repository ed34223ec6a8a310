package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Romern/syncMyMoodle/internal/filetree"
)

// youtubeIDLength is the length of a YouTube video id. Links end with it.
const youtubeIDLength = 11

// YouTubeArgs returns the yt-dlp arguments that download link into dir.
func YouTubeArgs(dir, link string) []string {
	return []string{
		"--output", filepath.Join(dir, "%(title)s-%(id)s.%(ext)s"),
		"--ignore-errors",
		"--no-overwrites",
		"--retries", "15",
		"--newline",
		"--no-warnings",
		link,
	}
}

func youtubeID(link string) string {
	if len(link) < youtubeIDLength {
		return link
	}
	return link[len(link)-youtubeIDLength:]
}

// findVideo returns the first entry of dir whose name contains id.
func findVideo(dir, id string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), id) && !strings.HasSuffix(e.Name(), ".part") {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

func (d *Downloader) youtube(ctx context.Context, n *filetree.Node, r *Result) {
	dir := d.baseDir
	if p := n.Parent(); p != nil {
		dir = p.SanitizedPath(d.baseDir)
	}
	r.Path = dir
	id := youtubeID(n.URL)
	if existing, ok := findVideo(dir, id); ok {
		r.Path = existing
		r.skip(ReasonExists)
		return
	}
	if d.ytdlp == "" {
		r.fail(fmt.Errorf("yt-dlp: %w", ErrToolNotFound))
		return
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		r.fail(fmt.Errorf("create directory: %w", err))
		return
	}

	err := d.runner.Run(ctx, Command{
		Name: d.ytdlp,
		Args: YouTubeArgs(dir, n.URL),
		OnLine: func(line string) {
			d.logger.Debug("yt-dlp", "url", n.URL, "output", line)
		},
	})
	if err != nil {
		r.fail(fmt.Errorf("%w (an outdated yt-dlp is a common cause)", err))
		return
	}
	video, ok := findVideo(dir, id)
	if !ok {
		// yt-dlp ignores errors, so an unavailable video ends without a file.
		r.fail(fmt.Errorf("yt-dlp produced no file for %s", n.URL))
		return
	}
	r.Path = video
	d.finish(video, r)
}
