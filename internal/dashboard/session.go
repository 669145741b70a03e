package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/timeseries"
)

// Boundaries supplies boundary collections by granularity.
type Boundaries interface {
	Features(ctx context.Context, g domain.Granularity) ([]domain.Feature, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Boundaries Boundaries
	Gazetteer  *domain.Gazetteer
	Layers     *LayerCache
	Series     domain.Source
	Registry   *compositor.Registry
	Size       projection.Size
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Session is one viewer's selection state. Its methods are safe for
// concurrent use; transitions are serialized by opMu while mu guards the state
// itself.
type Session struct {
	id     string
	deps   Deps
	logger *slog.Logger

	// ctx bounds background decodes and ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	opMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	selGen   uint64
	state    State
	scope    domain.Scope
	county   string
	island   string
	division string

	features []domain.Feature
	proj     *projection.Projection
	geomErr  error
	shapes   []FeatureView

	dataset      *domain.DatasetKey
	gen          uint64
	cancelDecode context.CancelFunc
	layer        *compositor.Layer
	handle       string
	layerErr     error
	loading      bool
	rect         *projection.Rect

	timescale domain.Timescale
	series    SeriesView
}

func newSession(id string, deps Deps) *Session {
	if deps.Size.Width <= 0 || deps.Size.Height <= 0 {
		deps.Size = projection.DefaultSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		deps:      deps,
		logger:    deps.Logger.With("session", id),
		ctx:       ctx,
		cancel:    cancel,
		timescale: domain.Timescales[0],
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Projection returns the projection fitted by the last transition, or nil
// when nothing could be fitted.
func (s *Session) Projection() *projection.Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj
}

// ActiveFeatures returns the boundary features the projection is fitted to.
func (s *Session) ActiveFeatures() []domain.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Feature(nil), s.features...)
}

// Layer returns the placed raster layer, if any.
func (s *Session) Layer() (*compositor.Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layer, s.layer != nil && s.layerErr == nil
}

// reload names the derived state a transition invalidates.
type reload uint8

const (
	reloadSeries reload = 1 << iota
	reloadGeometry
)

// SelectCounty stands the county's representative island in for the county.
// The division and scope are cleared so the county renders as island outlines.
func (s *Session) SelectCounty(ctx context.Context, county string) error {
	return s.transition(ctx, "select_county", func() (reload, error) {
		name, ok := s.deps.Gazetteer.County(county)
		if !ok {
			return 0, fmt.Errorf("%w: %q", domain.ErrUnknownCounty, county)
		}
		rep, _ := s.deps.Gazetteer.Representative(name)
		s.state = CountySelected
		s.county, s.island, s.division = name, rep, ""
		s.scope = domain.ScopeNone
		return reloadGeometry | reloadSeries, nil
	})
}

// SelectIsland narrows the map to the island's county group at the current
// scope and clears any division.
func (s *Session) SelectIsland(ctx context.Context, island string) error {
	return s.transition(ctx, "select_island", func() (reload, error) {
		name, ok := s.deps.Gazetteer.Island(island)
		if !ok {
			return 0, fmt.Errorf("%w: %q", domain.ErrUnknownIsland, island)
		}
		return s.selectIsland(name), nil
	})
}

func (s *Session) selectIsland(island string) reload {
	county, _ := s.deps.Gazetteer.CountyOf(island)
	s.state = IslandSelected
	s.county, s.island, s.division = county, island, ""
	return reloadGeometry | reloadSeries
}

// SelectDivision records a unit of the selected island's county group and
// narrows the time series to it. The projection is unchanged.
func (s *Session) SelectDivision(ctx context.Context, division string) error {
	return s.transition(ctx, "select_division", func() (reload, error) {
		if !s.state.hasIsland() {
			return 0, domain.ErrNoIslandSelected
		}
		name, ok := s.resolveDivision(division)
		if !ok {
			return 0, fmt.Errorf("%w: %q", domain.ErrUnknownDivision, division)
		}
		s.state = DivisionSelected
		s.division = name
		return reloadSeries, nil
	})
}

// resolveDivision matches name against the rendered units, then against the
// gazetteer's climate divisions of the county group.
func (s *Session) resolveDivision(name string) (string, bool) {
	if s.scope != domain.ScopeNone {
		for _, f := range s.features {
			if domain.SameName(f.Name, name) {
				return f.Name, true
			}
		}
	}
	for _, is := range s.deps.Gazetteer.Siblings(s.island) {
		for _, d := range s.deps.Gazetteer.Divisions(is) {
			if domain.SameName(d, name) {
				return d, true
			}
		}
	}
	return "", false
}

// SetScope changes the boundary granularity. With an island selected the
// island is re-selected at the new scope; otherwise the scope applies to the
// next island selection.
func (s *Session) SetScope(ctx context.Context, scope domain.Scope) error {
	return s.transition(ctx, "set_scope", func() (reload, error) {
		parsed, err := domain.ParseScope(string(scope))
		if err != nil {
			return 0, err
		}
		s.scope = parsed
		if s.state.hasIsland() {
			return s.selectIsland(s.island), nil
		}
		return 0, nil
	})
}

// Reset returns to the statewide view. The scope is kept for the next island selection.
func (s *Session) Reset(ctx context.Context) error {
	return s.transition(ctx, "reset", func() (reload, error) {
		s.state = Statewide
		s.county, s.island, s.division = "", "", ""
		return reloadGeometry | reloadSeries, nil
	})
}

// SetTimescale switches the series aggregation window.
func (s *Session) SetTimescale(ctx context.Context, months int) error {
	return s.transition(ctx, "set_timescale", func() (reload, error) {
		ts, err := domain.NewTimescale(months)
		if err != nil {
			return 0, err
		}
		s.timescale = ts
		return reloadSeries, nil
	})
}

// SelectDataset switches the raster layer. The decode runs in the background
// and the returned channel closes once its result is applied or discarded.
// Only the latest selection is ever displayed: an earlier decode that
// completes afterwards is dropped. ctx bounds the series reload only.
func (s *Session) SelectDataset(ctx context.Context, key domain.DatasetKey) (<-chan struct{}, error) {
	var done chan struct{}
	err := s.transition(ctx, "select_dataset", func() (reload, error) {
		if _, err := domain.ParseDatasetKind(string(key.Kind)); err != nil {
			return 0, err
		}
		if key.Period == "" {
			return 0, fmt.Errorf("%w: %s has no period", domain.ErrUnknownDataset, key.Kind)
		}
		if s.cancelDecode != nil {
			s.cancelDecode()
		}
		s.gen++
		dctx, cancel := context.WithCancel(s.ctx)
		s.cancelDecode = cancel
		s.dataset = &key
		s.loading = true
		s.releaseLayer()
		s.layerErr = nil
		s.rect = nil

		done = make(chan struct{})
		go s.decode(dctx, s.gen, key, done)
		return reloadSeries, nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

func (s *Session) decode(ctx context.Context, gen uint64, key domain.DatasetKey, done chan struct{}) {
	defer close(done)
	layer, err := s.deps.Layers.Get(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		s.deps.Metrics.StaleDecodes.Inc()
		s.logger.Debug("stale decode discarded", "dataset", key.String())
		return
	}
	s.loading = false
	if err != nil {
		s.failLayer(err)
		return
	}
	s.layer = layer
	s.handle = s.deps.Registry.Acquire(layer)
	s.place()
}

// Refresh re-applies the current dataset if it matches key, picking up a
// rebuilt layer.
func (s *Session) Refresh(ctx context.Context, key domain.DatasetKey) (<-chan struct{}, bool) {
	s.mu.Lock()
	current := s.dataset
	s.mu.Unlock()
	if current == nil || *current != key {
		return nil, false
	}
	done, err := s.SelectDataset(ctx, key)
	return done, err == nil
}

// Close cancels any in-flight decode and releases the layer handle.
// Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.selGen++
	s.cancel()
	s.releaseLayer()
}

// transition applies fn to the selection under the state lock, then loads
// what fn invalidated with the lock released so that View and background
// decodes never wait on source I/O. The loaded state is applied only if the
// selection generation is unchanged.
func (s *Session) transition(ctx context.Context, op string, fn func() (reload, error)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	what, err := fn()
	if err != nil {
		s.mu.Unlock()
		s.deps.Metrics.Transitions.WithLabelValues(op, "error").Inc()
		return err
	}
	s.selGen++
	gen := s.selGen
	gq, sq := s.geometryQuery(), s.seriesQuery()
	s.mu.Unlock()

	var geo geometry
	if what&reloadGeometry != 0 {
		geo = s.loadGeometry(ctx, gq)
	}
	var series SeriesView
	if what&reloadSeries != 0 {
		series = s.loadSeries(ctx, sq)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.selGen {
		s.deps.Metrics.Transitions.WithLabelValues(op, "error").Inc()
		return ErrSessionClosed
	}
	if what&reloadGeometry != 0 {
		s.features, s.proj, s.shapes, s.geomErr = geo.features, geo.proj, geo.shapes, geo.err
		s.place()
	}
	if what&reloadSeries != 0 {
		s.series = series
	}
	s.deps.Metrics.Transitions.WithLabelValues(op, "ok").Inc()
	s.logger.Debug("transition", "op", op, "state", s.state, "scope", s.scope, "island", s.island)
	return nil
}

type geometryQuery struct {
	state  State
	scope  domain.Scope
	island string
}

func (s *Session) geometryQuery() geometryQuery {
	return geometryQuery{state: s.state, scope: s.scope, island: s.island}
}

// geometry is the state derived from the active feature set.
type geometry struct {
	features []domain.Feature
	proj     *projection.Projection
	shapes   []FeatureView
	err      error
}

// loadGeometry runs the chain that follows every change of the active feature
// set: load features, refit, project shapes. The raster is placed when the
// result is applied.
func (s *Session) loadGeometry(ctx context.Context, q geometryQuery) geometry {
	var g geometry
	g.features, g.err = s.activeFeatures(ctx, q)
	if g.err == nil {
		g.proj, g.err = projection.Fit(g.features, s.deps.Size)
	}
	if g.err != nil {
		s.logger.Warn("no geometry to render", "state", q.state, "scope", q.scope, "error", g.err)
		return g
	}
	g.shapes = project(g.features, g.proj)
	return g
}

func (s *Session) activeFeatures(ctx context.Context, q geometryQuery) ([]domain.Feature, error) {
	if q.state == Statewide {
		return s.deps.Boundaries.Features(ctx, domain.Islands)
	}
	all, err := s.deps.Boundaries.Features(ctx, q.scope.Granularity())
	if err != nil {
		return nil, err
	}
	return domain.FilterIslands(all, s.deps.Gazetteer.Siblings(q.island)), nil
}

func project(features []domain.Feature, proj *projection.Projection) []FeatureView {
	out := make([]FeatureView, 0, len(features))
	for _, f := range features {
		fv := FeatureView{
			ID:     f.ID,
			Key:    f.Key,
			Name:   f.Name,
			Island: f.Island,
			County: f.County,
			Path:   proj.Path(f),
		}
		if c, ok := proj.Centroid(f); ok {
			fv.Centroid = &[2]float64{c[0], c[1]}
		}
		out = append(out, fv)
	}
	return out
}

// place recomputes the raster rectangle under the current projection.
func (s *Session) place() {
	if s.layer == nil {
		return
	}
	if s.proj == nil {
		s.rect = nil
		s.layerErr = domain.ErrNoGeometry
		return
	}
	pl, err := compositor.Place(s.layer, s.proj)
	if err != nil {
		s.rect = nil
		s.layerErr = err
		s.deps.Metrics.LayerErrors.WithLabelValues(domain.ErrorKind(err)).Inc()
		s.logger.Warn("raster layer suppressed", "dataset", s.layer.Key.String(), "error", err)
		return
	}
	s.layerErr = nil
	s.rect = &pl.Rect
}

func (s *Session) failLayer(err error) {
	s.layerErr = err
	s.rect = nil
	s.deps.Metrics.LayerErrors.WithLabelValues(domain.ErrorKind(err)).Inc()
	s.logger.Warn("raster layer suppressed", "dataset", s.dataset.String(), "error", err)
}

func (s *Session) releaseLayer() {
	if s.handle != "" {
		s.deps.Registry.Release(s.handle)
	}
	s.handle = ""
	s.layer = nil
}

// seriesQuery names the table and labels for the current selection. Labels
// are tried in order; county tables fall back to the representative island.
type seriesQuery struct {
	dataset   *domain.DatasetKey
	timescale domain.Timescale
	g         domain.Granularity
	key       string
	labels    []string
}

func (s *Session) seriesQuery() seriesQuery {
	q := seriesQuery{dataset: s.dataset, timescale: s.timescale}
	switch s.state {
	case CountySelected:
		q.g, q.key, q.labels = domain.Islands, "county", []string{s.county, s.island}
	case IslandSelected:
		q.g, q.key, q.labels = domain.Islands, "island", []string{s.island}
	case DivisionSelected:
		q.g = s.scope.Granularity()
		if q.g == domain.Islands {
			q.g = domain.Divisions
		}
		q.key, q.labels = "division", []string{s.division}
	default:
		q.g, q.key, q.labels = domain.Islands, "state", []string{"Statewide"}
	}
	return q
}

func (s *Session) loadSeries(ctx context.Context, q seriesQuery) SeriesView {
	series := SeriesView{Label: q.labels[0], Rows: []timeseries.Row{}}
	if q.dataset == nil {
		return series
	}
	name := timeseries.FileName(q.dataset.Kind, q.g, q.timescale)
	series.Name = name

	data, err := s.deps.Series.Open(ctx, name)
	if err != nil {
		series.Error = seriesErrorKind(err)
		s.logger.Warn("time series unavailable", "name", name, "error", err)
		return series
	}
	rows, err := timeseries.Parse(bytes.NewReader(data), q.key)
	if err != nil {
		series.Error = "malformed"
		s.logger.Warn("time series malformed", "name", name, "error", err)
		return series
	}
	for _, label := range q.labels {
		if match := timeseries.ForLabel(rows, label); len(match) > 0 {
			series.Label = match[0].Label
			series.Rows = match
			if sum, ok := timeseries.Summarize(match); ok {
				series.Summary = &sum
			}
			return series
		}
	}
	series.Error = "no_rows"
	return series
}

func seriesErrorKind(err error) string {
	if errors.Is(err, domain.ErrNotFound) {
		return "not_found"
	}
	return "unavailable"
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:        s.id,
		State:     s.state,
		Scope:     s.scope,
		County:    s.county,
		Island:    s.island,
		Division:  s.division,
		Label:     s.label(),
		Timescale: int(s.timescale),
		Size:      s.deps.Size,
		Features:  append([]FeatureView{}, s.shapes...),
		Series:    s.series,
	}
	v.Series.Rows = append([]timeseries.Row{}, s.series.Rows...)
	if s.geomErr != nil {
		v.GeometryError = geometryErrorKind(s.geomErr)
	}
	if s.dataset != nil {
		key := *s.dataset
		v.Dataset = &key
		v.Raster = s.rasterView()
	}
	return v
}

func (s *Session) rasterView() *RasterView {
	rv := &RasterView{Loading: s.loading}
	if s.layerErr != nil {
		rv.Error = domain.ErrorKind(s.layerErr)
		return rv
	}
	if s.layer == nil {
		return rv
	}
	legend := s.layer.Legend
	rv.Legend = &legend
	rv.Handle = s.handle
	if s.rect != nil {
		rect := *s.rect
		rv.Rect = &rect
	}
	return rv
}

func (s *Session) label() string {
	switch s.state {
	case DivisionSelected:
		return s.division
	case IslandSelected:
		return s.island
	case CountySelected:
		return s.county
	default:
		return "Statewide"
	}
}

func geometryErrorKind(err error) string {
	if errors.Is(err, domain.ErrNotFound) {
		return "not_found"
	}
	return domain.ErrorKind(err)
}
