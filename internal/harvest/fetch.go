// Package harvest downloads per-entity records from a JSON mirror of the
// content site and stores them in a dump that ingest can replay.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound means the source has no record for an href. The record is
// treated as absent.
var ErrNotFound = errors.New("record not found")

// TransientError wraps a failure worth retrying: network errors, 5xx and 429.
type TransientError struct {
	Href   string
	Status int // 0 for network errors
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Href, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Href, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Fetcher retrieves raw records.
type Fetcher interface {
	// Index lists every href the source can serve.
	Index(ctx context.Context) ([]string, error)
	// Fetch returns the JSON record for href.
	Fetch(ctx context.Context, href string) ([]byte, error)
}

const indexName = "index.json"

// HTTPFetcher reads a mirror that serves index.json (a JSON array of hrefs)
// and one JSON document per href below BaseURL.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher returns a fetcher with a per-request timeout.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) resolve(href string) (string, error) {
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	base.Path = path.Join(base.Path, href)
	return base.String(), nil
}

func (f *HTTPFetcher) get(ctx context.Context, href string) ([]byte, error) {
	u, err := f.resolve(href)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Href: href, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", href, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Href: href, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", href, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Href: href, Err: err}
	}
	return body, nil
}

// Index implements Fetcher.
func (f *HTTPFetcher) Index(ctx context.Context) ([]string, error) {
	body, err := f.get(ctx, indexName)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	if err := json.Unmarshal(body, &hrefs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", indexName, err)
	}
	return hrefs, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, href string) ([]byte, error) {
	return f.get(ctx, href)
}

// DirFetcher serves records from a directory of .json files; the href is
// the slash-separated path relative to Root.
type DirFetcher struct {
	Root string
}

// Index implements Fetcher.
func (f *DirFetcher) Index(ctx context.Context) ([]string, error) {
	var hrefs []string
	err := filepath.WalkDir(f.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" || d.Name() == indexName {
			return nil
		}
		rel, err := filepath.Rel(f.Root, p)
		if err != nil {
			return err
		}
		hrefs = append(hrefs, "/"+filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(hrefs)
	return hrefs, err
}

// Fetch implements Fetcher.
func (f *DirFetcher) Fetch(ctx context.Context, href string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := path.Clean("/" + strings.TrimPrefix(href, "/"))
	b, err := os.ReadFile(filepath.Join(f.Root, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", href, ErrNotFound)
	}
	return b, err
}
