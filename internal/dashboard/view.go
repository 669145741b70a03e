package dashboard

import (
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/colormap"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/timeseries"
)

// View is an immutable snapshot of a session, shaped for the presentation layer.
type View struct {
	ID        string             `json:"id"`
	State     State              `json:"state"`
	Scope     domain.Scope       `json:"scope"`
	County    string             `json:"county,omitempty"`
	Island    string             `json:"island,omitempty"`
	Division  string             `json:"division,omitempty"`
	Label     string             `json:"label"`
	Dataset   *domain.DatasetKey `json:"dataset,omitempty"`
	Timescale int                `json:"timescale"`
	Size      projection.Size    `json:"size"`

	Features []FeatureView `json:"features"`
	// GeometryError is the error kind when no boundaries could be rendered.
	GeometryError string `json:"geometry_error,omitempty"`

	Raster *RasterView `json:"raster,omitempty"`
	Series SeriesView  `json:"series"`
}

// FeatureView is one projected boundary.
type FeatureView struct {
	ID       string      `json:"id"`
	Key      string      `json:"key"`
	Name     string      `json:"name"`
	Island   string      `json:"island"`
	County   string      `json:"county,omitempty"`
	Path     string      `json:"path"`
	Centroid *[2]float64 `json:"centroid,omitempty"`
}

// RasterView is the active raster layer. Handle and Rect are set once the
// layer is decoded and placed; Error carries the kind of a suppressed layer.
type RasterView struct {
	Handle  string           `json:"handle,omitempty"`
	Rect    *projection.Rect `json:"rect,omitempty"`
	Legend  *colormap.Legend `json:"legend,omitempty"`
	Loading bool             `json:"loading,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// SeriesView is the time series for the selected label.
type SeriesView struct {
	Name    string              `json:"name,omitempty"`
	Label   string              `json:"label"`
	Rows    []timeseries.Row    `json:"rows"`
	Summary *timeseries.Summary `json:"summary,omitempty"`
	Error   string              `json:"error,omitempty"`
}
