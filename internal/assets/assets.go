// Package assets fetches the bootstrap assets (prebuilt database image and
// schema script) from an HTTP base URL or a local directory.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
)

// Well-known asset paths relative to the asset base.
const (
	PrebuiltPath = "db/praxis.db"
	SchemaPath   = "db/schema.sql"
)

// Response carries the status and body of a fetch.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Fetcher retrieves an asset by relative path. Transport failures are
// returned as errors; application-level failures as a non-2xx Response.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, path string) (Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, path string) (Response, error) { return f(ctx, path) }

// New picks an HTTP fetcher for http(s) bases and a directory fetcher otherwise.
func New(base string) (Fetcher, error) {
	if base == "" {
		return nil, fmt.Errorf("asset base required")
	}
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return NewHTTP(base, nil)
	}
	return NewDir(base), nil
}

// HTTPFetcher issues GET requests relative to a base URL. The default client
// has no timeout; callers bound a fetch through ctx.
type HTTPFetcher struct {
	base   *url.URL
	client *http.Client
}

// NewHTTP constructs an HTTPFetcher. A nil client uses http.DefaultClient.
func NewHTTP(base string, client *http.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse asset base: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{base: u, client: client}, nil
}

// Fetch GETs base+p and returns the status and full body.
func (f *HTTPFetcher) Fetch(ctx context.Context, p string) (Response, error) {
	ref, err := url.Parse(strings.TrimPrefix(p, "/"))
	if err != nil {
		return Response{}, fmt.Errorf("parse asset path: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "praxisdb/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", p, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read %s: %w", p, err)
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}

// FSFetcher reads assets from a filesystem. Missing files map to 404.
type FSFetcher struct {
	fsys fs.FS
}

// NewDir serves assets from a directory on disk.
func NewDir(dir string) *FSFetcher { return &FSFetcher{fsys: os.DirFS(dir)} }

// NewFS serves assets from fsys (embedded bundles, fstest.MapFS).
func NewFS(fsys fs.FS) *FSFetcher { return &FSFetcher{fsys: fsys} }

// Fetch reads p from the filesystem.
func (f *FSFetcher) Fetch(ctx context.Context, p string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	name := path.Clean(strings.TrimPrefix(p, "/"))
	if !fs.ValidPath(name) {
		return Response{Status: http.StatusBadRequest}, nil
	}
	body, err := fs.ReadFile(f.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return Response{Status: http.StatusNotFound}, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("read %s: %w", name, err)
	}
	return Response{Status: http.StatusOK, Body: body}, nil
}
