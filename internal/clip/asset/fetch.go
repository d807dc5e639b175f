package asset

import (
	"context"
	"fmt"
	"net/http"

	"github.com/qmuntal/gltf"
)

// Fetcher retrieves and decodes the glTF container at a manifest location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (*gltf.Document, error)
}

// FileFetcher opens assets from the local file system. External buffers are
// resolved relative to the asset file.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, location string) (*gltf.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := gltf.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return doc, nil
}

// HTTPFetcher downloads self-contained assets (GLB, or glTF with data URIs).
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, location string) (*gltf.Document, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", location, resp.StatusCode)
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(resp.Body).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", location, err)
	}
	return doc, nil
}

// MultiFetcher dispatches URLs to HTTP and everything else to the file system.
type MultiFetcher struct {
	File Fetcher
	HTTP Fetcher
}

// DefaultFetcher handles both local paths and http(s) URLs.
func DefaultFetcher() Fetcher {
	return MultiFetcher{File: FileFetcher{}, HTTP: HTTPFetcher{}}
}

func (m MultiFetcher) Fetch(ctx context.Context, location string) (*gltf.Document, error) {
	if isURL(location) {
		return m.HTTP.Fetch(ctx, location)
	}
	return m.File.Fetch(ctx, location)
}
