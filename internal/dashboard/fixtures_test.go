package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/boundary"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
)

var (
	stateBound = orb.Bound{Min: orb.Point{-160, 18}, Max: orb.Point{-154, 23}}

	droughtJune  = domain.DatasetKey{Kind: domain.Drought, Period: "2024-06"}
	droughtJuly  = domain.DatasetKey{Kind: domain.Drought, Period: "2024-07"}
	rainfallJune = domain.DatasetKey{Kind: domain.Rainfall, Period: "2024-06"}
	tempJune     = domain.DatasetKey{Kind: domain.Temperature, Period: "2024-06"}
)

// memSource serves fixtures from memory. A gate holds Open for a name until closed.
type memSource struct {
	mu          sync.Mutex
	files       map[string][]byte
	gates       map[string]chan struct{}
	opens       map[string]int
	invalidated []string
}

func newMemSource(files map[string][]byte) *memSource {
	return &memSource{files: files, gates: make(map[string]chan struct{}), opens: make(map[string]int)}
}

func (m *memSource) Open(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	m.opens[name]++
	gate := m.gates[name]
	data, ok := m.files[name]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, domain.ErrNotFound)
	}
	return data, nil
}

func (m *memSource) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, name)
}

func (m *memSource) gate(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.gates[name] = ch
	return ch
}

func (m *memSource) openCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[name]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boxFeature(props map[string]any, minX, minY, maxX, maxY float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func collection(t *testing.T, features ...*geojson.Feature) []byte {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	return data
}

func islandsFixture(t *testing.T) []byte {
	isle := func(name string) map[string]any { return map[string]any{"isle": name} }
	return collection(t,
		boxFeature(isle("Niihau"), -160.25, 21.75, -160.05, 22.0),
		boxFeature(isle("Kauai"), -159.8, 21.85, -159.3, 22.25),
		boxFeature(isle("Oahu"), -158.3, 21.25, -157.65, 21.72),
		boxFeature(isle("Molokai"), -157.35, 21.05, -156.7, 21.22),
		boxFeature(isle("Lanai"), -157.07, 20.73, -156.8, 20.93),
		boxFeature(isle("Maui"), -156.7, 20.57, -155.98, 21.03),
		boxFeature(isle("Kahoolawe"), -156.7, 20.5, -156.53, 20.6),
		boxFeature(isle("Hawaii"), -156.07, 18.9, -154.8, 20.27),
	)
}

func divisionsFixture(t *testing.T) []byte {
	div := func(island, name string) map[string]any { return map[string]any{"isle": island, "division": name} }
	return collection(t,
		boxFeature(div("Molokai", "West Molokaʻi"), -157.35, 21.05, -157.0, 21.22),
		boxFeature(div("Molokai", "East Molokaʻi"), -157.0, 21.05, -156.7, 21.22),
		boxFeature(div("Lanai", "Central Lānaʻi"), -157.07, 20.73, -156.8, 20.93),
		boxFeature(div("Maui", "West Maui"), -156.7, 20.75, -156.45, 21.03),
		boxFeature(div("Maui", "East Maui"), -156.45, 20.57, -155.98, 20.95),
		boxFeature(div("Hawaii", "Kona"), -156.07, 18.9, -155.5, 20.27),
		boxFeature(div("Hawaii", "Hilo"), -155.5, 18.9, -154.8, 20.27),
	)
}

// encodeGrid writes a 6x5 float32 GeoTIFF over the statewide box.
func encodeGrid(t *testing.T, values []float64) []byte {
	t.Helper()
	noData := -9999.0
	r := raster.New(6, 5, values, stateBound, &noData, 0)
	var buf bytes.Buffer
	require.NoError(t, raster.Encode(&buf, r, raster.EncodeOptions{Deflate: true}))
	return buf.Bytes()
}

func droughtGrid() []float64 {
	vals := make([]float64, 30)
	for i := range vals {
		vals[i] = -3.5 + float64(i)*0.25
	}
	vals[7] = -9999
	return vals
}

func fixtureFiles(t *testing.T) map[string][]byte {
	empty := make([]float64, 30)
	for i := range empty {
		empty[i] = -9999
	}
	rain := make([]float64, 30)
	for i := range rain {
		rain[i] = 1 + float64(i)
	}
	return map[string][]byte{
		"hawaii_islands_simplified.geojson": islandsFixture(t),
		"hawaii_islands_divisions.geojson":  divisionsFixture(t),
		droughtJune.RasterName():            encodeGrid(t, droughtGrid()),
		droughtJuly.RasterName():            encodeGrid(t, empty),
		rainfallJune.RasterName():           encodeGrid(t, rain),
		tempJune.RasterName():               []byte("not a tiff"),
		"spi_islands_1mo.csv":               []byte("label,Jan,Feb,Mar\nStatewide,0.5,-1.0,0.2\nMaui,1.0,1.5,2.0\nMolokaʻi,-0.5,-0.2,0.1\n"),
		"spi_divisions_1mo.csv":             []byte("label,Jan,Feb\nWest Molokai,0.3,0.4\n,9,9\n"),
	}
}

type testEnv struct {
	src      *memSource
	metrics  *observability.Metrics
	registry *compositor.Registry
	layers   *LayerCache
	clock    *clockwork.FakeClock
	manager  *Manager
}

func newTestEnv(t *testing.T, ttl time.Duration) *testEnv {
	t.Helper()
	return newTestEnvWithLayers(t, ttl, LayerOptions{})
}

// newTestEnvWithLayers pins layers through the env's registry and runs the
// layer cache on the env's fake clock.
func newTestEnvWithLayers(t *testing.T, ttl time.Duration, opts LayerOptions) *testEnv {
	t.Helper()
	src := newMemSource(fixtureFiles(t))
	m := observability.NewMetricsForTesting()
	logger := discardLogger()
	gaz := domain.DefaultGazetteer()

	env := &testEnv{
		src:      src,
		metrics:  m,
		registry: compositor.NewRegistry(m),
		clock:    clockwork.NewFakeClock(),
	}
	opts.Pins = env.registry
	opts.Clock = env.clock
	env.layers = NewLayerCache(src, opts, logger, m)
	env.manager = NewManager(Deps{
		Boundaries: boundary.NewCatalog(src, gaz, boundary.DefaultNames, logger),
		Gazetteer:  gaz,
		Layers:     env.layers,
		Series:     src,
		Registry:   env.registry,
		Size:       projection.DefaultSize,
		Logger:     logger,
		Metrics:    m,
	}, ttl, env.clock)
	return env
}

func (e *testEnv) session(t *testing.T) *Session {
	t.Helper()
	s, err := e.manager.Create(context.Background())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for decode")
	}
}

func featureKeys(s *Session) []string {
	fs := s.ActiveFeatures()
	keys := make([]string, len(fs))
	for i, f := range fs {
		keys[i] = f.Key
	}
	sort.Strings(keys)
	return keys
}

func finiteRect(r projection.Rect) bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}
