package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/colormap"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
)

// DefaultLegendSteps is the number of legend stops rendered per layer.
const DefaultLegendSteps = 7

// DefaultMaxLayers bounds the number of layers a cache holds when
// LayerOptions.MaxLayers is unset.
const DefaultMaxLayers = 16

// LayerPins reports whether a live handle still references a layer for key.
// compositor.Registry implements it.
type LayerPins interface {
	Holds(key domain.DatasetKey) bool
}

// LayerOptions tunes raster decoding, colorization, and retention.
type LayerOptions struct {
	Raster      raster.Options
	Colorize    colormap.ColorizeOptions
	LegendSteps int

	// MaxLayers bounds the cache. Past it the least recently used layer
	// without a live handle is dropped. Zero selects DefaultMaxLayers.
	MaxLayers int
	// IdleTTL drops a layer without a live handle once it has gone unused
	// this long (see Sweep). Zero keeps layers until MaxLayers evicts them.
	IdleTTL time.Duration
	// Pins protects layers that sessions still display. Nil pins nothing.
	Pins LayerPins
	// Clock defaults to domain.Clock().
	Clock clockwork.Clock
}

type cachedLayer struct {
	layer    *compositor.Layer
	lastUsed time.Time
}

// invalidator is implemented by sources that cache resource bodies.
type invalidator interface {
	Invalidate(name string)
}

// LayerCache builds colorized layers from raster resources and keeps at most
// one per dataset key. Layers are shared across sessions; a layer is
// immutable once built. Layers no session holds are dropped by size and age.
type LayerCache struct {
	src     domain.Source
	opts    LayerOptions
	logger  *slog.Logger
	metrics *observability.Metrics

	group  singleflight.Group
	mu     sync.Mutex
	layers map[domain.DatasetKey]*cachedLayer
}

// NewLayerCache creates an empty cache reading rasters from src.
func NewLayerCache(src domain.Source, opts LayerOptions, logger *slog.Logger, metrics *observability.Metrics) *LayerCache {
	if opts.LegendSteps < 2 {
		opts.LegendSteps = DefaultLegendSteps
	}
	if opts.MaxLayers <= 0 {
		opts.MaxLayers = DefaultMaxLayers
	}
	if opts.Clock == nil {
		opts.Clock = domain.Clock()
	}
	return &LayerCache{
		src:     src,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		layers:  make(map[domain.DatasetKey]*cachedLayer),
	}
}

// Get returns the cached layer for key, building it on first use. Concurrent
// callers share one build. A caller whose ctx ends stops waiting, but the
// shared build runs to completion so the next caller finds it cached.
// Failed builds are not cached.
func (c *LayerCache) Get(ctx context.Context, key domain.DatasetKey) (*compositor.Layer, error) {
	c.mu.Lock()
	e, ok := c.layers[key]
	if ok {
		e.lastUsed = c.opts.Clock.Now()
	}
	c.mu.Unlock()
	if ok {
		return e.layer, nil
	}
	return c.await(ctx, key.String(), func(bctx context.Context) (*compositor.Layer, error) {
		return c.Build(bctx, key)
	})
}

// Refresh rebuilds the layer for key from the source, replacing any cached
// copy. Used when a newer release of the raster is published.
func (c *LayerCache) Refresh(ctx context.Context, key domain.DatasetKey) (*compositor.Layer, error) {
	if inv, ok := c.src.(invalidator); ok {
		inv.Invalidate(key.RasterName())
	}
	return c.await(ctx, "refresh:"+key.String(), func(bctx context.Context) (*compositor.Layer, error) {
		return c.Build(bctx, key)
	})
}

func (c *LayerCache) await(ctx context.Context, flight string, build func(context.Context) (*compositor.Layer, error)) (*compositor.Layer, error) {
	bctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flight, func() (any, error) {
		l, err := build(bctx)
		if err != nil {
			return nil, err
		}
		c.store(l)
		return l, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*compositor.Layer), nil
	}
}

// Cached reports whether a layer for key is held.
func (c *LayerCache) Cached(key domain.DatasetKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.layers[key]
	return ok
}

// Len reports the number of cached layers.
func (c *LayerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.layers)
}

func (c *LayerCache) store(l *compositor.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers[l.Key] = &cachedLayer{layer: l, lastUsed: c.opts.Clock.Now()}
	for len(c.layers) > c.opts.MaxLayers {
		key, ok := c.oldestUnpinnedLocked()
		if !ok {
			// Every layer is on screen somewhere; hold them until released.
			break
		}
		delete(c.layers, key)
		c.logger.Debug("layer evicted", "dataset", key.String(), "reason", "size")
	}
}

func (c *LayerCache) oldestUnpinnedLocked() (domain.DatasetKey, bool) {
	var (
		oldest domain.DatasetKey
		at     time.Time
		found  bool
	)
	for key, e := range c.layers {
		if c.pinned(key) {
			continue
		}
		if !found || e.lastUsed.Before(at) {
			oldest, at, found = key, e.lastUsed, true
		}
	}
	return oldest, found
}

func (c *LayerCache) pinned(key domain.DatasetKey) bool {
	return c.opts.Pins != nil && c.opts.Pins.Holds(key)
}

// Sweep drops layers that no live handle references and that have gone
// unused for IdleTTL. It returns how many it dropped.
func (c *LayerCache) Sweep() int {
	if c.opts.IdleTTL <= 0 {
		return 0
	}
	now := c.opts.Clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.layers {
		if now.Sub(e.lastUsed) < c.opts.IdleTTL || c.pinned(key) {
			continue
		}
		delete(c.layers, key)
		n++
		c.logger.Debug("layer evicted", "dataset", key.String(), "reason", "idle")
	}
	return n
}

// Build fetches, decodes, and colorizes one raster without touching the cache.
// Unreadable sources and corrupt files fail with domain.ErrRasterDecode; a
// grid of nothing but no-data fails with domain.ErrEmptyDomain.
func (c *LayerCache) Build(ctx context.Context, key domain.DatasetKey) (*compositor.Layer, error) {
	start := time.Now()
	defer func() {
		c.metrics.LayerBuildDuration.Observe(time.Since(start).Seconds())
	}()

	name := key.RasterName()
	data, err := c.src.Open(ctx, name)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrRasterDecode, err)
	}

	r, err := raster.Decode(data, c.opts.Raster)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", key, err)
	}

	scale, err := colormap.BuildScale(r.Values, r.IsNoData, key.Kind)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", key, err)
	}

	img, err := colormap.Colorize(ctx, r, scale, c.opts.Colorize)
	if err != nil {
		return nil, fmt.Errorf("colorize %s: %w", key, err)
	}

	layer, err := compositor.NewLayer(key, r.Bound, img, colormap.NewLegend(scale, c.opts.LegendSteps))
	if err != nil {
		return nil, err
	}

	c.logger.Info("layer built",
		"dataset", key.String(),
		"width", r.Width,
		"height", r.Height,
		"duration", time.Since(start),
	)
	return layer, nil
}
