package dashboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

func TestSession_StartsStatewide(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)

	v := s.View()
	assert.Equal(t, Statewide, v.State)
	assert.Equal(t, "Statewide", v.Label)
	assert.Len(t, v.Features, 8)
	assert.Empty(t, v.GeometryError)
	assert.Nil(t, v.Raster)
	assert.Equal(t, 1, v.Timescale)
	require.NotNil(t, s.Projection())

	for _, f := range v.Features {
		assert.NotEmpty(t, f.Path, f.Key)
		assert.NotNil(t, f.Centroid, f.Key)
	}
}

func TestSession_CountyGroupingRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	require.NoError(t, s.SelectIsland(ctx, "Lānaʻi"))
	want := featureKeys(s)
	require.Len(t, want, 4, "Maui county has four islands")
	wantScale := s.Projection().Scale()

	for _, island := range []string{"Molokai", "Lanai", "Maui", "Kahoolawe"} {
		require.NoError(t, s.SelectIsland(ctx, island))
		assert.Empty(t, cmp.Diff(want, featureKeys(s)), island)

		county := s.View().County
		require.Equal(t, "Maui", county)

		for range 2 {
			require.NoError(t, s.SelectCounty(ctx, county))
			v := s.View()
			assert.Equal(t, CountySelected, v.State)
			assert.Equal(t, "Maui", v.Island, "county stands in via its representative island")
			assert.Empty(t, cmp.Diff(want, featureKeys(s)), island)
			assert.InDelta(t, wantScale, s.Projection().Scale(), 1e-12)
		}
	}
}

func TestSession_SelectCountyClearsScopeAndDivision(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	require.NoError(t, s.SetScope(ctx, domain.ScopeDivisions))
	require.NoError(t, s.SelectIsland(ctx, "Maui"))
	require.NoError(t, s.SelectDivision(ctx, "West Maui"))
	assert.Len(t, s.ActiveFeatures(), 5)

	require.NoError(t, s.SelectCounty(ctx, "maui"))
	v := s.View()
	assert.Equal(t, domain.ScopeNone, v.Scope)
	assert.Empty(t, v.Division)
	assert.Equal(t, "Maui", v.Label)
	assert.Len(t, v.Features, 4, "county renders island outlines")
}

func TestSession_SetScope(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	t.Run("pending without an island", func(t *testing.T) {
		require.NoError(t, s.SetScope(ctx, domain.ScopeDivisions))
		v := s.View()
		assert.Equal(t, Statewide, v.State)
		assert.Equal(t, domain.ScopeDivisions, v.Scope)
		assert.Len(t, v.Features, 8)

		require.NoError(t, s.SelectIsland(ctx, "Hawaii"))
		names := []string{}
		for _, f := range s.View().Features {
			names = append(names, f.Name)
		}
		assert.ElementsMatch(t, []string{"Kona", "Hilo"}, names)
	})

	t.Run("reselects the island in place", func(t *testing.T) {
		require.NoError(t, s.SelectDivision(ctx, "Kona"))
		require.NoError(t, s.SetScope(ctx, domain.ScopeNone))
		v := s.View()
		assert.Equal(t, IslandSelected, v.State)
		assert.Equal(t, "Hawaiʻi", v.Island)
		assert.Empty(t, v.Division)
		assert.Len(t, v.Features, 1)
	})

	t.Run("accepts spelled forms", func(t *testing.T) {
		require.NoError(t, s.SetScope(ctx, domain.Scope("none")))
		assert.Equal(t, domain.ScopeNone, s.View().Scope)
	})
}

func TestSession_SelectDivision(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	err := s.SelectDivision(ctx, "West Molokaʻi")
	require.ErrorIs(t, err, domain.ErrNoIslandSelected)

	done, err := s.SelectDataset(ctx, droughtJune)
	require.NoError(t, err)
	wait(t, done)

	require.NoError(t, s.SelectIsland(ctx, "Molokaʻi"))
	before := s.Projection()

	require.NoError(t, s.SelectDivision(ctx, "west molokai"))
	v := s.View()
	assert.Equal(t, DivisionSelected, v.State)
	assert.Equal(t, "West Molokaʻi", v.Division)
	assert.Equal(t, "West Molokaʻi", v.Label)
	assert.Same(t, before, s.Projection(), "division selection keeps the projection")

	assert.Equal(t, "spi_divisions_1mo.csv", v.Series.Name)
	assert.Equal(t, "West Molokai", v.Series.Label)
	require.Len(t, v.Series.Rows, 2)
	assert.InDelta(t, 0.4, v.Series.Rows[1].Value, 1e-12)

	err = s.SelectDivision(ctx, "Kona")
	require.ErrorIs(t, err, domain.ErrUnknownDivision)
}

func TestSession_Reset(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	require.NoError(t, s.SetScope(ctx, domain.ScopeDivisions))
	require.NoError(t, s.SelectIsland(ctx, "Molokai"))
	require.NoError(t, s.SelectDivision(ctx, "East Molokai"))

	require.NoError(t, s.Reset(ctx))
	v := s.View()
	assert.Equal(t, Statewide, v.State)
	assert.Empty(t, v.Island)
	assert.Empty(t, v.County)
	assert.Empty(t, v.Division)
	assert.Equal(t, domain.ScopeDivisions, v.Scope, "scope survives reset")
	assert.Len(t, v.Features, 8)
}

func TestSession_InvalidTransitions(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	require.ErrorIs(t, s.SelectCounty(ctx, "Atlantis"), domain.ErrUnknownCounty)
	require.ErrorIs(t, s.SelectIsland(ctx, "Atlantis"), domain.ErrUnknownIsland)
	require.ErrorIs(t, s.SetScope(ctx, domain.Scope("county")), domain.ErrInvalidScope)
	require.ErrorIs(t, s.SetTimescale(ctx, 3), domain.ErrInvalidTimescale)
	_, err := s.SelectDataset(ctx, domain.DatasetKey{Kind: "snow", Period: "2024-06"})
	require.ErrorIs(t, err, domain.ErrUnknownDataset)
	_, err = s.SelectDataset(ctx, domain.DatasetKey{Kind: domain.Drought})
	require.ErrorIs(t, err, domain.ErrUnknownDataset)

	assert.Equal(t, Statewide, s.View().State, "failed transitions leave the state alone")
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("select_county", "error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("select_dataset", "error")), 0)
}

func TestSession_RasterStaysAlignedAcrossTransitions(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	done, err := s.SelectDataset(ctx, droughtJune)
	require.NoError(t, err)
	wait(t, done)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"statewide", func() error { return s.Reset(ctx) }},
		{"island", func() error { return s.SelectIsland(ctx, "Hawaii") }},
		{"scope", func() error { return s.SetScope(ctx, domain.ScopeDivisions) }},
		{"division", func() error { return s.SelectDivision(ctx, "Kona") }},
		{"county", func() error { return s.SelectCounty(ctx, "Maui") }},
		{"other island", func() error { return s.SelectIsland(ctx, "Oahu") }},
		{"reset", func() error { return s.Reset(ctx) }},
	}

	for _, step := range steps {
		require.NoError(t, step.fn(), step.name)

		v := s.View()
		require.NotNil(t, v.Raster, step.name)
		require.Empty(t, v.Raster.Error, step.name)
		require.NotNil(t, v.Raster.Rect, step.name)
		assert.True(t, finiteRect(*v.Raster.Rect), step.name)

		layer, ok := s.Layer()
		require.True(t, ok, step.name)
		assert.True(t, compositor.Aligned(*v.Raster.Rect, layer.Bound, s.Projection(), 1e-6), step.name)
	}

	assert.Equal(t, 1, env.src.openCount(droughtJune.RasterName()), "the raster is decoded once")
	assert.Equal(t, 1, env.registry.Len())
}

func TestSession_StaleDecodeDiscarded(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	gate := env.src.gate(rainfallJune.RasterName())

	slow, err := s.SelectDataset(ctx, rainfallJune)
	require.NoError(t, err)
	fast, err := s.SelectDataset(ctx, droughtJune)
	require.NoError(t, err)

	wait(t, fast)
	close(gate)
	wait(t, slow)

	v := s.View()
	require.NotNil(t, v.Dataset)
	assert.Equal(t, droughtJune, *v.Dataset)
	require.NotNil(t, v.Raster)
	assert.False(t, v.Raster.Loading)
	assert.NotEmpty(t, v.Raster.Handle)
	assert.Equal(t, "SPI", v.Raster.Legend.Unit)

	layer, ok := s.Layer()
	require.True(t, ok)
	assert.Equal(t, droughtJune, layer.Key)
	assert.Equal(t, 1, env.registry.Len(), "only the latest layer holds a handle")
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.StaleDecodes), 0)

	// The abandoned build still completes for the next session that wants it.
	assert.Eventually(t, func() bool { return env.layers.Cached(rainfallJune) }, 5*time.Second, 10*time.Millisecond)
}

func TestSession_ReplacingLayerReleasesHandle(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	for _, key := range []domain.DatasetKey{droughtJune, rainfallJune, droughtJune} {
		done, err := s.SelectDataset(ctx, key)
		require.NoError(t, err)
		wait(t, done)
		assert.Equal(t, 1, env.registry.Len(), key.String())
	}

	s.Close()
	assert.Equal(t, 0, env.registry.Len())
	assert.InDelta(t, 0, testutil.ToFloat64(env.metrics.LayerHandles), 0)
	require.Error(t, s.Reset(ctx), "closed sessions reject transitions")
	s.Close()
}

func TestSession_LayerErrorsKeepVectors(t *testing.T) {
	tests := []struct {
		name string
		key  domain.DatasetKey
		kind string
	}{
		{"corrupt raster", tempJune, "raster_decode"},
		{"missing raster", domain.DatasetKey{Kind: domain.Rainfall, Period: "2030-01"}, "raster_decode"},
		{"all no-data", droughtJuly, "empty_domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			s := env.session(t)

			done, err := s.SelectDataset(context.Background(), tt.key)
			require.NoError(t, err)
			wait(t, done)

			v := s.View()
			require.NotNil(t, v.Raster)
			assert.Equal(t, tt.kind, v.Raster.Error)
			assert.Nil(t, v.Raster.Rect)
			assert.Empty(t, v.Raster.Handle)
			assert.Len(t, v.Features, 8, "vector layer still renders")
			assert.Equal(t, 0, env.registry.Len())
			assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.LayerErrors.WithLabelValues(tt.kind)), 0)
		})
	}
}

func TestSession_MissingBoundariesSuppressRaster(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	done, err := s.SelectDataset(ctx, droughtJune)
	require.NoError(t, err)
	wait(t, done)

	require.NoError(t, s.SetScope(ctx, domain.ScopeMoku))
	require.NoError(t, s.SelectIsland(ctx, "Oahu"))

	v := s.View()
	assert.Equal(t, "not_found", v.GeometryError)
	assert.Empty(t, v.Features)
	assert.Nil(t, s.Projection())
	require.NotNil(t, v.Raster)
	assert.Equal(t, "no_geometry", v.Raster.Error)

	// Switching back to a scope with data recovers both layers.
	require.NoError(t, s.SetScope(ctx, domain.ScopeNone))
	v = s.View()
	assert.Empty(t, v.GeometryError)
	assert.Len(t, v.Features, 1)
	require.NotNil(t, v.Raster.Rect)
	assert.Empty(t, v.Raster.Error)
}

func TestSession_Series(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	assert.Empty(t, s.View().Series.Rows, "no dataset, no series")

	done, err := s.SelectDataset(ctx, droughtJune)
	require.NoError(t, err)
	wait(t, done)

	v := s.View()
	assert.Equal(t, "spi_islands_1mo.csv", v.Series.Name)
	assert.Equal(t, "Statewide", v.Series.Label)
	require.Len(t, v.Series.Rows, 3)
	require.NotNil(t, v.Series.Summary)
	assert.Equal(t, 3, v.Series.Summary.Count)
	assert.Equal(t, "Mar", v.Series.Summary.LatestMonth)

	data, err := json.Marshal(v.Series.Rows[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"Statewide","month":"Jan","value":0.5}`, string(data))

	require.NoError(t, s.SelectCounty(ctx, "Maui"))
	v = s.View()
	assert.Equal(t, "Maui", v.Series.Label)
	assert.InDelta(t, 2.0, v.Series.Summary.Latest, 1e-12)

	require.NoError(t, s.SelectIsland(ctx, "Kauai"))
	v = s.View()
	assert.Equal(t, "no_rows", v.Series.Error)
	assert.Empty(t, v.Series.Rows)

	require.NoError(t, s.SetTimescale(ctx, 6))
	v = s.View()
	assert.Equal(t, 6, v.Timescale)
	assert.Equal(t, "spi_islands_6mo.csv", v.Series.Name)
	assert.Equal(t, "not_found", v.Series.Error)
}

func TestSession_ViewIsASnapshot(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	before := s.View()
	require.NoError(t, s.SelectIsland(ctx, "Oahu"))
	assert.Len(t, before.Features, 8)
	assert.Equal(t, Statewide, before.State)

	data, err := json.Marshal(s.View())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"island"`)
}

func TestSession_ViewDoesNotWaitOnBoundaryLoad(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()
	require.NoError(t, s.SelectIsland(ctx, "Maui"))

	const divisions = "hawaii_islands_divisions.geojson"
	gate := env.src.gate(divisions)
	errc := make(chan error, 1)
	go func() { errc <- s.SetScope(ctx, domain.ScopeDivisions) }()
	require.Eventually(t, func() bool { return env.src.openCount(divisions) > 0 }, 5*time.Second, time.Millisecond)

	views := make(chan View, 1)
	go func() { views <- s.View() }()
	select {
	case v := <-views:
		assert.Equal(t, "Maui", v.Island)
		assert.Len(t, v.Features, 4, "the previous outlines stay until the load is applied")
	case <-time.After(time.Second):
		t.Fatal("View blocked on the boundary load")
	}

	close(gate)
	require.NoError(t, <-errc)
	v := s.View()
	assert.Equal(t, domain.ScopeDivisions, v.Scope)
	assert.Len(t, v.Features, 5)
}

func TestSession_CloseDuringLoadDiscardsResult(t *testing.T) {
	env := newTestEnv(t, 0)
	s := env.session(t)
	ctx := context.Background()

	name := "spi_islands_1mo.csv"
	gate := env.src.gate(name)
	errc := make(chan error, 1)
	go func() {
		_, err := s.SelectDataset(ctx, droughtJune)
		errc <- err
	}()
	require.Eventually(t, func() bool { return env.src.openCount(name) > 0 }, 5*time.Second, time.Millisecond)

	s.Close()
	close(gate)
	require.ErrorIs(t, <-errc, ErrSessionClosed)
	assert.Equal(t, "Statewide", s.View().Series.Label)
	assert.Empty(t, s.View().Series.Rows)
}
