package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestDownloadToWritesFile(t *testing.T) {
	content := strings.Repeat("x", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "img.img")
	d := NewHTTPDownloader(nil)
	if err := d.DownloadTo(context.Background(), server.URL, path, nil); err != nil {
		t.Fatalf("download: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != content {
		t.Fatalf("downloaded %d bytes, want %d", len(data), len(content))
	}
}

func TestDownloadToReportsProgress(t *testing.T) {
	content := strings.Repeat("y", 3*progressWindow)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.Write([]byte(content))
	}))
	t.Cleanup(server.Close)

	var fractions []float64
	monitor := func(fraction float64) {
		fractions = append(fractions, fraction)
	}

	path := filepath.Join(t.TempDir(), "img.img")
	d := NewHTTPDownloader(nil)
	if err := d.DownloadTo(context.Background(), server.URL, path, monitor); err != nil {
		t.Fatalf("download: %v", err)
	}

	if len(fractions) < 2 {
		t.Fatalf("monitor called %d times, want periodic notifications", len(fractions))
	}
	if last := fractions[len(fractions)-1]; last != 1.0 {
		t.Fatalf("final fraction = %v, want 1.0", last)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("progress went backwards: %v", fractions)
		}
	}
}

func TestDownloadToStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "img.img")
	d := NewHTTPDownloader(nil)
	err := d.DownloadTo(context.Background(), server.URL+"/missing.img", path, nil)

	var downloadErr *Error
	if !errors.As(err, &downloadErr) {
		t.Fatalf("error = %v, want download.Error", err)
	}
	if downloadErr.URL != server.URL+"/missing.img" {
		t.Fatalf("error url = %q", downloadErr.URL)
	}
}

func TestDownloadToTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "img.img")
	d := NewHTTPDownloader(nil)
	err := d.DownloadTo(context.Background(), server.URL, path, nil)

	var downloadErr *Error
	if !errors.As(err, &downloadErr) {
		t.Fatalf("error = %v, want download.Error", err)
	}

	// The partial file is left in place; cleanup is the caller's concern.
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("partial file missing: %v", statErr)
	}
}

func TestDownloadToUnwritablePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	}))
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "no-such-dir", "img.img")
	d := NewHTTPDownloader(nil)
	err := d.DownloadTo(context.Background(), server.URL, path, nil)

	var downloadErr *Error
	if !errors.As(err, &downloadErr) {
		t.Fatalf("error = %v, want download.Error", err)
	}
}
