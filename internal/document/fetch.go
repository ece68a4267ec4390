package document

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalPath returns the filesystem path for file:// URLs and absolute paths.
func LocalPath(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, "/") {
		return filepath.Clean(rawURL), true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return filepath.Clean(u.Path), true
}

// fetcher reads document bytes from http(s) URLs and local files, within
// the limits of access.
type fetcher struct {
	client   *http.Client
	access   Access
	maxBytes int64
}

func newFetcher(timeout time.Duration, maxBytes int64, access Access) *fetcher {
	dialer := &net.Dialer{Timeout: timeout, Control: access.dialControl}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &fetcher{
		client:   &http.Client{Timeout: timeout, Transport: transport},
		access:   access,
		maxBytes: maxBytes,
	}
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if path, ok := LocalPath(rawURL); ok {
		resolved, err := f.access.ResolveLocal(path)
		if err != nil {
			return nil, err
		}
		return f.readFile(resolved)
	}
	if _, err := f.access.Check(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("fetch: document is %d bytes, limit is %d", resp.ContentLength, f.maxBytes)
	}
	return f.readLimited(resp.Body)
}

func (f *fetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path) //#nosec G304 -- path is resolved under the local document root
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer file.Close()
	return f.readLimited(file)
}

func (f *fetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("read: document exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}
