package boundary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

type memSource struct {
	mu    sync.Mutex
	files map[string][]byte
	opens map[string]int
	// failures makes the next n opens of a name fail with a transient error.
	failures map[string]int
}

func newMemSource(files map[string][]byte) *memSource {
	return &memSource{files: files, opens: make(map[string]int)}
}

func (m *memSource) Open(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens[name]++
	if m.failures[name] > 0 {
		m.failures[name]--
		return nil, fmt.Errorf("open %s: connection reset", name)
	}
	b, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, domain.ErrNotFound)
	}
	return b, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const islandsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"isle": "Kauai"},
     "geometry": {"type": "Polygon", "coordinates": [[[-160,21.8],[-159.3,21.8],[-159.3,22.3],[-160,22.3],[-160,21.8]]]}},
    {"type": "Feature", "properties": {"Island": "Hawaiʻi"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-156.1,18.9],[-154.8,18.9],[-154.8,20.3],[-156.1,20.3],[-156.1,18.9]]]]}},
    {"type": "Feature", "properties": {"name": "Lighthouse"},
     "geometry": {"type": "Point", "coordinates": [-157.9, 21.3]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "Polygon", "coordinates": [[[-150,10],[-149,10],[-149,11],[-150,10]]]}}
  ]
}`

const divisionsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"isle": "Maui", "division": "West Maui"},
     "geometry": {"type": "Polygon", "coordinates": [[[-156.7,20.8],[-156.5,20.8],[-156.5,21],[-156.7,21],[-156.7,20.8]]]}},
    {"type": "Feature", "properties": {"isle": "Maui"},
     "geometry": {"type": "Polygon", "coordinates": [[[-156.4,20.6],[-156,20.6],[-156,21],[-156.4,21],[-156.4,20.6]]]}}
  ]
}`

func TestParseGeoJSON_Islands(t *testing.T) {
	fs, err := ParseGeoJSON([]byte(islandsJSON), domain.Islands, domain.DefaultGazetteer())
	require.NoError(t, err)
	require.Len(t, fs, 3, "the point feature is skipped")

	assert.Equal(t, "Kauaʻi", fs[0].Name, "spelling follows the gazetteer")
	assert.Equal(t, "Kauaʻi", fs[0].Island)
	assert.Equal(t, "Kauaʻi", fs[0].County)
	assert.Equal(t, "kauai", fs[0].ID)

	assert.Equal(t, "Hawaiʻi", fs[1].Name)
	assert.IsType(t, orb.MultiPolygon{}, fs[1].Geometry)

	assert.Equal(t, "Island", fs[2].Name, "unnamed outline falls back to a default")
	assert.Empty(t, fs[2].County)
}

func TestParseGeoJSON_Divisions(t *testing.T) {
	fs, err := ParseGeoJSON([]byte(divisionsJSON), domain.Divisions, domain.DefaultGazetteer())
	require.NoError(t, err)
	require.Len(t, fs, 2)

	assert.Equal(t, "West Maui", fs[0].Name)
	assert.Equal(t, "Maui", fs[0].Island)
	assert.Equal(t, "maui::west-maui", fs[0].Key)
	assert.Equal(t, "Division", fs[1].Name)
	assert.Equal(t, "Maui", fs[1].County)
}

func TestParseGeoJSON_Invalid(t *testing.T) {
	_, err := ParseGeoJSON([]byte(`{"type":`), domain.Islands, domain.DefaultGazetteer())
	assert.Error(t, err)
}

type shpRecord struct {
	isle, moku string
	rings      [][]shp.Point
}

// writeShapefile writes records with go-shp and returns the .shp and .dbf bytes.
func writeShapefile(t *testing.T, records []shpRecord) ([]byte, []byte) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "hawaii_moku")

	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("ISLE", 20),
		shp.StringField("MOKU", 30),
	}))
	for _, r := range records {
		poly := shp.Polygon(*shp.NewPolyLine(r.rings))
		row := int(w.Write(&poly))
		require.NoError(t, w.WriteAttribute(row, 0, r.isle))
		require.NoError(t, w.WriteAttribute(row, 1, r.moku))
	}
	w.Close()

	shpData, err := os.ReadFile(base + ".shp")
	require.NoError(t, err)
	// go-shp v0.1.1 names the attribute table <base>dbf, without the dot.
	dbfData, err := os.ReadFile(base + "dbf")
	if errors.Is(err, fs.ErrNotExist) {
		dbfData, err = os.ReadFile(base + ".dbf")
	}
	require.NoError(t, err)
	require.NotEmpty(t, dbfData)
	return shpData, dbfData
}

// cw and ccw build closed rings over a box in the stated winding.
func cw(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{{X: minX, Y: minY}, {X: minX, Y: maxY}, {X: maxX, Y: maxY}, {X: maxX, Y: minY}, {X: minX, Y: minY}}
}

func ccw(minX, minY, maxX, maxY float64) []shp.Point {
	return []shp.Point{{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY}, {X: minX, Y: minY}}
}

func TestParseShapefile(t *testing.T) {
	shpData, dbfData := writeShapefile(t, []shpRecord{
		{isle: "Oahu", moku: "Koʻolaupoko", rings: [][]shp.Point{
			cw(-157.9, 21.3, -157.6, 21.6),
			ccw(-157.8, 21.4, -157.7, 21.5),
		}},
		{isle: "Oahu", moku: "Waianae", rings: [][]shp.Point{
			cw(-158.3, 21.3, -158.1, 21.6),
			cw(-158.05, 21.3, -158.0, 21.35),
		}},
	})

	fs, err := ParseShapefile(shpData, dbfData, domain.Moku, domain.DefaultGazetteer())
	require.NoError(t, err)
	require.Len(t, fs, 2)

	assert.Equal(t, "Koʻolaupoko", fs[0].Name)
	assert.Equal(t, "Oʻahu", fs[0].Island)
	assert.Equal(t, "Honolulu", fs[0].County)
	poly, ok := fs[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2, "counter-clockwise ring is a hole")

	mp, ok := fs[1].Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2, "two clockwise rings are two polygons")
}

func TestCatalog_FallsBackToShapefileAndCaches(t *testing.T) {
	shpData, dbfData := writeShapefile(t, []shpRecord{
		{isle: "Maui", moku: "Lahaina", rings: [][]shp.Point{cw(-156.7, 20.8, -156.5, 21)}},
	})
	src := newMemSource(map[string][]byte{
		"hawaii_islands_simplified.geojson": []byte(islandsJSON),
		"hawaii_moku.shp":                   shpData,
		"hawaii_moku.dbf":                   dbfData,
	})
	c := NewCatalog(src, domain.DefaultGazetteer(), nil, discardLogger())

	fs, err := c.Features(context.Background(), domain.Moku)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "Lahaina", fs[0].Name)

	_, err = c.Features(context.Background(), domain.Moku)
	require.NoError(t, err)
	assert.Equal(t, 1, src.opens["hawaii_moku.shp"], "second call is served from memory")
	assert.Equal(t, 1, src.opens["hawaii_moku.geojson"])
}

func TestCatalog_ExplicitNames(t *testing.T) {
	src := newMemSource(map[string][]byte{"divisions.json": []byte(divisionsJSON)})
	c := NewCatalog(src, domain.DefaultGazetteer(), map[domain.Granularity]string{
		domain.Divisions: "divisions.json",
	}, discardLogger())

	fs, err := c.Features(context.Background(), domain.Divisions)
	require.NoError(t, err)
	assert.Len(t, fs, 2)

	_, err = c.Features(context.Background(), domain.Moku)
	assert.Error(t, err, "granularity without a configured resource")
}

func TestCatalog_Preload(t *testing.T) {
	src := newMemSource(map[string][]byte{"hawaii_islands_simplified.geojson": []byte(islandsJSON)})
	c := NewCatalog(src, domain.DefaultGazetteer(), nil, discardLogger())
	require.NoError(t, c.Preload(context.Background()), "finer collections are optional")

	missing := NewCatalog(newMemSource(nil), domain.DefaultGazetteer(), nil, discardLogger())
	err := missing.Preload(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_PreloadWithRetry(t *testing.T) {
	const name = "hawaii_islands_simplified.geojson"
	src := newMemSource(map[string][]byte{name: []byte(islandsJSON)})
	src.failures = map[string]int{name: 2}
	c := NewCatalog(src, domain.DefaultGazetteer(), nil, discardLogger())

	require.NoError(t, c.PreloadWithRetry(context.Background(), time.Millisecond, 2*time.Millisecond))
	assert.Equal(t, 3, src.opens[name])

	fs, err := c.Features(context.Background(), domain.Islands)
	require.NoError(t, err)
	assert.Len(t, fs, 3)
}

func TestCatalog_PreloadWithRetry_StopsWithContext(t *testing.T) {
	missing := NewCatalog(newMemSource(nil), domain.DefaultGazetteer(), nil, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := missing.PreloadWithRetry(ctx, time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalog_ConcurrentFirstLoad(t *testing.T) {
	src := newMemSource(map[string][]byte{"hawaii_islands_simplified.geojson": []byte(islandsJSON)})
	c := NewCatalog(src, domain.DefaultGazetteer(), nil, discardLogger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs, err := c.Features(context.Background(), domain.Islands)
			assert.NoError(t, err)
			assert.Len(t, fs, 3)
		}()
	}
	wg.Wait()
}
