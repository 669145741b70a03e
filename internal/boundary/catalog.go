// Package boundary loads the island, division, moku, and ahupuaʻa boundary
// collections from GeoJSON or ESRI shapefiles.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// DefaultNames maps each granularity to its resource base name.
var DefaultNames = map[domain.Granularity]string{
	domain.Islands:   "hawaii_islands_simplified",
	domain.Divisions: "hawaii_islands_divisions",
	domain.Moku:      "hawaii_moku",
	domain.Ahupuaa:   "hawaii_ahupuaa",
}

// Catalog loads each boundary collection once and serves it from memory.
// Returned slices are shared and must not be modified.
type Catalog struct {
	src    domain.Source
	gaz    *domain.Gazetteer
	names  map[domain.Granularity]string
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[domain.Granularity][]domain.Feature
}

// NewCatalog creates a catalog over src. A nil names map selects DefaultNames.
// A name with a .geojson, .json, or .shp extension is read as that format;
// a bare name is tried as GeoJSON first and then as a shapefile.
func NewCatalog(src domain.Source, gaz *domain.Gazetteer, names map[domain.Granularity]string, logger *slog.Logger) *Catalog {
	if names == nil {
		names = DefaultNames
	}
	return &Catalog{
		src:    src,
		gaz:    gaz,
		names:  names,
		logger: logger,
		cache:  make(map[domain.Granularity][]domain.Feature),
	}
}

// Features returns the collection for a granularity, loading it on first use.
// Concurrent first calls share one load.
func (c *Catalog) Features(ctx context.Context, g domain.Granularity) ([]domain.Feature, error) {
	c.mu.RLock()
	fs, ok := c.cache[g]
	c.mu.RUnlock()
	if ok {
		return fs, nil
	}

	v, err, _ := c.group.Do(string(g), func() (any, error) {
		fs, err := c.load(ctx, g)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[g] = fs
		c.mu.Unlock()
		c.logger.Info("boundaries loaded", "granularity", g, "features", len(fs))
		return fs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Feature), nil
}

// Preload loads every collection in parallel. Island outlines are required;
// a missing finer collection is logged and left to fail on first use.
func (c *Catalog) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, gran := range domain.Granularities {
		g.Go(func() error {
			_, err := c.Features(ctx, gran)
			if err == nil {
				return nil
			}
			if gran == domain.Islands {
				return err
			}
			c.logger.Warn("boundaries unavailable", "granularity", gran, "error", err)
			return nil
		})
	}
	return g.Wait()
}

// PreloadWithRetry repeats Preload until it succeeds, backing off from
// initial up to maxBackoff between attempts. Once ctx ends it returns the
// last error.
func (c *Catalog) PreloadWithRetry(ctx context.Context, initial, maxBackoff time.Duration) error {
	backoff := initial
	for attempt := 1; ; attempt++ {
		err := c.Preload(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("boundary preload failed", "attempt", attempt, "retry_in", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return err
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

func (c *Catalog) load(ctx context.Context, g domain.Granularity) ([]domain.Feature, error) {
	name, ok := c.names[g]
	if !ok {
		return nil, fmt.Errorf("load %s boundaries: no resource configured", g)
	}

	switch strings.ToLower(path.Ext(name)) {
	case ".geojson", ".json":
		return c.loadGeoJSON(ctx, g, name)
	case ".shp":
		return c.loadShapefile(ctx, g, strings.TrimSuffix(name, path.Ext(name)))
	}

	fs, err := c.loadGeoJSON(ctx, g, name+".geojson")
	if errors.Is(err, domain.ErrNotFound) {
		return c.loadShapefile(ctx, g, name)
	}
	return fs, err
}

func (c *Catalog) loadGeoJSON(ctx context.Context, g domain.Granularity, name string) ([]domain.Feature, error) {
	data, err := c.src.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load %s boundaries: %w", g, err)
	}
	return ParseGeoJSON(data, g, c.gaz)
}

func (c *Catalog) loadShapefile(ctx context.Context, g domain.Granularity, base string) ([]domain.Feature, error) {
	shpData, err := c.src.Open(ctx, base+".shp")
	if err != nil {
		return nil, fmt.Errorf("load %s boundaries: %w", g, err)
	}
	dbfData, err := c.src.Open(ctx, base+".dbf")
	if err != nil {
		return nil, fmt.Errorf("load %s boundaries: %w", g, err)
	}
	return ParseShapefile(shpData, dbfData, g, c.gaz)
}
