// Package raster decodes single-band GeoTIFF grids into value arrays with a
// geographic bounding box and no-data handling.
package raster

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultNoDataThreshold is the magnitude above which a sample is treated as
// no-data when the file declares no sentinel.
const DefaultNoDataThreshold = 1e20

// Raster is an immutable decoded grid. Values are row-major, north row first.
type Raster struct {
	Width  int
	Height int
	Values []float64
	Bound  orb.Bound

	// NoData is the declared sentinel, nil when the file declares none.
	NoData    *float64
	threshold float64
}

// IsNoData reports whether v carries no measurement: the declared sentinel,
// a non-finite value, or a magnitude beyond the threshold.
func (r *Raster) IsNoData(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return true
	}
	if r.NoData != nil && v == *r.NoData {
		return true
	}
	return math.Abs(v) > r.threshold
}

// At returns the sample at column x, row y.
func (r *Raster) At(x, y int) float64 {
	return r.Values[y*r.Width+x]
}

// BBox returns the bounding box as [minX, minY, maxX, maxY].
func (r *Raster) BBox() [4]float64 {
	return [4]float64{r.Bound.Min[0], r.Bound.Min[1], r.Bound.Max[0], r.Bound.Max[1]}
}

// Valid returns every sample that is not no-data.
func (r *Raster) Valid() []float64 {
	out := make([]float64, 0, len(r.Values))
	for _, v := range r.Values {
		if !r.IsNoData(v) {
			out = append(out, v)
		}
	}
	return out
}

// New builds a raster from values, for synthetic grids and tests.
// threshold <= 0 selects DefaultNoDataThreshold.
func New(width, height int, values []float64, bound orb.Bound, noData *float64, threshold float64) *Raster {
	if threshold <= 0 {
		threshold = DefaultNoDataThreshold
	}
	return &Raster{
		Width:     width,
		Height:    height,
		Values:    values,
		Bound:     bound,
		NoData:    noData,
		threshold: threshold,
	}
}
