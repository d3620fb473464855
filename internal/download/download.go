package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hutchvm/hutch/internal/logging"
	"github.com/hutchvm/hutch/internal/models"
)

// Downloader fetches a URL's contents to a local path, reporting progress
// through monitor. The call is synchronous: when it returns without error
// the file at path is complete. On error the file may be partially
// written; cleanup is the caller's concern.
type Downloader interface {
	DownloadTo(ctx context.Context, url, path string, monitor models.ProgressMonitor) error
}

// Error reports a failed transfer.
type Error struct {
	URL  string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %q to %q: %v", e.URL, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// progressWindow is the byte interval between monitor notifications.
const progressWindow = 1 << 20

// HTTPDownloader transfers over HTTP, retrying connection-level failures
// and 429/5xx responses.
// A stream that dies mid-body is surfaced, not resumed.
type HTTPDownloader struct {
	Logger *slog.Logger

	client *retryablehttp.Client
}

// NewHTTPDownloader constructs a downloader with default retry policy.
func NewHTTPDownloader(logger *slog.Logger) *HTTPDownloader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	return &HTTPDownloader{Logger: logger, client: client}
}

// DownloadTo streams url to path. Progress is emitted as a fraction of
// Content-Length; when the server does not announce a length, only the
// final 1.0 notification is sent.
func (d *HTTPDownloader) DownloadTo(ctx context.Context, url, path string, monitor models.ProgressMonitor) error {
	logging.Ensure(d.Logger).Debug("downloading", "url", url, "path", path)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return &Error{URL: url, Path: path, Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{URL: url, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return &Error{URL: url, Path: path, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &Error{URL: url, Path: path, Err: err}
	}

	writer := io.Writer(out)
	if monitor != nil && resp.ContentLength > 0 {
		writer = io.MultiWriter(out, &progressWriter{total: resp.ContentLength, monitor: monitor})
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		out.Close()
		return &Error{URL: url, Path: path, Err: err}
	}
	if err := out.Close(); err != nil {
		return &Error{URL: url, Path: path, Err: err}
	}

	if monitor != nil {
		monitor(1.0)
	}
	return nil
}

// progressWriter notifies the monitor once per progressWindow of written
// bytes. The final notification is the downloader's, after close.
type progressWriter struct {
	total    int64
	written  int64
	notified int64
	monitor  models.ProgressMonitor
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.written-w.notified >= progressWindow {
		w.notified = w.written
		w.monitor(float64(w.written) / float64(w.total))
	}
	return len(p), nil
}
