// Package extract turns raw taxi-trip CSV archives into typed batches.
package extract

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Source supplies one raw CSV stream plus its source-file identifier.
type Source interface {
	// Open returns the decompressed CSV stream.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Name returns the source-file identifier recorded on every record
	// (the archive base name, without compression suffix).
	Name() string
}

// FileSource reads a local CSV file, gzip-transparently.
type FileSource struct {
	Path string
}

// Open opens the file, decompressing .gz transparently.
func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %q: %w", s.Path, err)
	}
	if strings.HasSuffix(s.Path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %q: %w", s.Path, err)
		}
		return &gzipReadCloser{gz: gz, underlying: f}, nil
	}
	return f, nil
}

// Name returns the base file name without a .gz suffix.
func (s *FileSource) Name() string {
	return strings.TrimSuffix(filepath.Base(s.Path), ".gz")
}

// HTTPSource downloads a public CSV archive.
type HTTPSource struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Open issues a context-aware GET and returns the decompressed body.
func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		timeout := s.Timeout
		if timeout == 0 {
			timeout = 10 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, s.URL)
	}

	gzipped := strings.HasSuffix(s.URL, ".gz") ||
		strings.Contains(resp.Header.Get("Content-Type"), "gzip")
	if gzipped {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return &gzipReadCloser{gz: gz, underlying: resp.Body}, nil
	}
	return resp.Body, nil
}

// Name returns the URL's base path without a .gz suffix.
func (s *HTTPSource) Name() string {
	u, err := url.Parse(s.URL)
	if err != nil {
		return strings.TrimSuffix(path.Base(s.URL), ".gz")
	}
	return strings.TrimSuffix(path.Base(u.Path), ".gz")
}

type gzipReadCloser struct {
	gz         *gzip.Reader
	underlying io.Closer
}

func (r *gzipReadCloser) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *gzipReadCloser) Close() error {
	gzErr := r.gz.Close()
	if err := r.underlying.Close(); err != nil {
		return err
	}
	return gzErr
}
