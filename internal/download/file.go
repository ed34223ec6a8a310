package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Romern/syncMyMoodle/internal/filetree"
	"github.com/Romern/syncMyMoodle/internal/session"
)

const tempSuffix = ".temp"

func (d *Downloader) file(ctx context.Context, n *filetree.Node, r *Result) {
	dest := n.SanitizedPath(d.baseDir)
	r.Path = dest
	defer d.paths.lock(dest)()
	if exists(dest) {
		r.skip(ReasonExists)
		return
	}
	if reason := d.excluded(n.SanitizedName()); reason != "" {
		r.skip(reason)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		r.fail(fmt.Errorf("create directory: %w", err))
		return
	}
	if err := d.fetch(ctx, n.URL, dest); err != nil {
		r.fail(err)
		return
	}
	d.finish(dest, r)
}

// finish records size and digest of a completed file.
func (d *Downloader) finish(dest string, r *Result) {
	size, digest, err := Digest(dest)
	if err != nil {
		r.fail(fmt.Errorf("digest: %w", err))
		return
	}
	r.Outcome = OutcomeDownloaded
	r.Bytes = size
	r.Digest = digest
	d.logger.Info("downloaded", "path", dest, "type", string(r.Kind), "bytes", size)
}

// fetch downloads rawURL to dest through a resumable temp file.
func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) error {
	tmp := dest + tempSuffix
	var lastErr error
	for attempt := range d.retries {
		if attempt > 0 {
			wait := time.Duration(attempt) * d.backoff
			d.logger.Warn("retrying download", "path", dest, "attempt", attempt+1, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err := d.fetchOnce(ctx, rawURL, tmp)
		if err == nil {
			if err := os.Rename(tmp, dest); err != nil {
				return fmt.Errorf("finalize download: %w", err)
			}
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", d.retries, lastErr)
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL, tmp string) error {
	var offset int64
	if fi, err := os.Stat(tmp); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		d.logger.Debug("resuming download", "url", req.URL.Redacted(), "offset", offset)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		if !rangeStartsAt(resp.Header.Get("Content-Range"), offset) {
			_ = os.Remove(tmp) //nolint:errcheck // restarted on the next attempt
			return ErrContentRange
		}
		flags |= os.O_APPEND
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		flags |= os.O_TRUNC
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) //nolint:errcheck // drain for connection reuse
		return &session.StatusError{Code: resp.StatusCode, URL: req.URL.Redacted()}
	}

	f, err := os.OpenFile(tmp, flags, 0o600)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close() //nolint:errcheck // the copy error is reported
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	return f.Close()
}

// rangeStartsAt reports whether a Content-Range header starts at offset.
// A missing header is accepted.
func rangeStartsAt(header string, offset int64) bool {
	if header == "" {
		return true
	}
	rangeSpec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return false
	}
	start, _, ok := strings.Cut(rangeSpec, "-")
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	return err == nil && n == offset
}

// retryable reports whether a failed attempt may succeed when repeated.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *session.StatusError
	if errors.As(err, &status) {
		return status.Code >= 500 || status.Code == http.StatusTooManyRequests || status.Code == http.StatusRequestTimeout
	}
	return true
}
