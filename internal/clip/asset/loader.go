package asset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

var (
	ErrAssetLoad = errors.New("asset clip load failed")
	ErrDisposed  = errors.New("asset loader disposed")
)

// Loader fetches, decodes and caches authored clips for a single rig.
// Concurrent loads of the same uncached clip share one fetch.
type Loader struct {
	manifest *Manifest
	rig      *rig.Rig
	fetcher  Fetcher
	logger   zerolog.Logger

	group singleflight.Group

	// lifetime of the loader; fetches run under it rather than under a
	// single caller's context since their result is shared
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	cache  map[string]*clip.Clip
	closed bool
}

// NewLoader creates a loader. A nil fetcher uses DefaultFetcher.
func NewLoader(m *Manifest, r *rig.Rig, f Fetcher, logger zerolog.Logger) *Loader {
	if m == nil {
		m = &Manifest{}
	}
	if f == nil {
		f = DefaultFetcher()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		manifest: m,
		rig:      r,
		fetcher:  f,
		logger:   logger.With().Str("component", "clip-assets").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		cache:    make(map[string]*clip.Clip),
	}
}

// Resolve maps a requested preset to the preset whose asset will serve it.
func (l *Loader) Resolve(requested string) string {
	return l.manifest.Resolve(requested)
}

func (l *Loader) HasAsset(name string) bool {
	return l.manifest.HasAsset(name)
}

// Cached returns the clip for an already loaded resolved name.
func (l *Loader) Cached(name string) (*clip.Clip, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, false
	}
	c, ok := l.cache[name]
	if ok {
		metrics.AssetCacheHits.Inc()
	}
	return c, ok
}

// Load resolves requested and returns its clip, fetching it on first use.
// Cancelling ctx abandons the wait but not a fetch other callers share.
func (l *Loader) Load(ctx context.Context, requested string) (*clip.Clip, error) {
	name := l.Resolve(requested)

	if l.isClosed() {
		return nil, ErrDisposed
	}
	if c, ok := l.Cached(name); ok {
		return c, nil
	}
	if !l.HasAsset(name) {
		return nil, fmt.Errorf("%w: no asset for %q", ErrAssetLoad, requested)
	}

	ch := l.group.DoChan(name, func() (interface{}, error) {
		return l.fetch(name)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*clip.Clip), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) fetch(name string) (c *clip.Clip, err error) {
	// a panic here would escape singleflight and take the process down
	defer func() {
		if r := recover(); r != nil {
			metrics.AssetLoads.WithLabelValues("error").Inc()
			l.logger.Error().Str("preset", name).Interface("panic", r).Msg("Clip asset decode panicked")
			c, err = nil, fmt.Errorf("%w: %s: malformed asset: %v", ErrAssetLoad, name, r)
		}
	}()

	loc, _ := l.manifest.Location(name)
	l.logger.Debug().Str("preset", name).Str("location", loc).Msg("Fetching clip asset")

	doc, err := l.fetcher.Fetch(l.ctx, loc)
	if err != nil {
		metrics.AssetLoads.WithLabelValues("error").Inc()
		if l.isClosed() {
			return nil, ErrDisposed
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrAssetLoad, name, err)
	}

	c, err = Decode(doc, l.rig, name)
	if err != nil {
		metrics.AssetLoads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrAssetLoad, name, err)
	}
	if p, err := preset.Lookup(name); err == nil {
		c.Loop = p.Loop
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		// the rig went away while we were fetching
		metrics.AssetLoads.WithLabelValues("stale").Inc()
		return nil, ErrDisposed
	}
	l.cache[name] = c
	metrics.AssetLoads.WithLabelValues("ok").Inc()

	l.logger.Info().
		Str("preset", name).
		Int("tracks", len(c.Tracks)).
		Float32("duration", c.Duration).
		Msg("Clip asset loaded")
	return c, nil
}

// Evict drops a cached clip so the next Load fetches it again.
func (l *Loader) Evict(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.mu.Unlock()
	l.group.Forget(name)
}

// EvictLocation drops every cached clip whose asset lives at path.
func (l *Loader) EvictLocation(path string) []string {
	path = filepath.Clean(path)
	var evicted []string
	for name := range l.manifest.Assets {
		loc, _ := l.manifest.Location(name)
		if isURL(loc) || filepath.Clean(loc) != path {
			continue
		}
		l.Evict(name)
		evicted = append(evicted, name)
	}
	return evicted
}

// Locations lists the local file paths of every asset in the manifest.
func (l *Loader) Locations() []string {
	var out []string
	for name := range l.manifest.Assets {
		if loc, _ := l.manifest.Location(name); !isURL(loc) {
			out = append(out, loc)
		}
	}
	return out
}

// Close disposes the loader. Fetches still in flight finish without touching
// the cache and report ErrDisposed.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.cache = make(map[string]*clip.Clip)
	l.mu.Unlock()
	l.cancel()
}

func (l *Loader) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}
