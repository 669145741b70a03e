// Package compositor places a painted raster layer on the projected map.
// The image is painted once per dataset; only its destination rectangle is
// recomputed when the projection changes.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/colormap"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
	"github.com/paulmach/orb"
)

// Layer is a colorized raster ready for placement. It is immutable.
type Layer struct {
	Key    domain.DatasetKey
	Bound  orb.Bound
	Image  *image.NRGBA
	PNG    []byte
	Legend colormap.Legend
}

// NewLayer encodes img once so every placement can serve the same bytes.
func NewLayer(key domain.DatasetKey, bound orb.Bound, img *image.NRGBA, legend colormap.Legend) (*Layer, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode layer %s: %w", key, err)
	}
	return &Layer{Key: key, Bound: bound, Image: img, PNG: buf.Bytes(), Legend: legend}, nil
}

// Placement is a layer image and its destination rectangle in screen space.
type Placement struct {
	Image *image.NRGBA
	Rect  projection.Rect
}

// Place projects all four corners of the layer's bounding box and returns
// their axis-aligned bounding rectangle. A corner the projection cannot map,
// or a rectangle without positive finite size, fails with
// domain.ErrDegenerateRect.
func Place(layer *Layer, p *projection.Projection) (Placement, error) {
	rect, err := PlaceBound(layer.Bound, p)
	if err != nil {
		return Placement{}, fmt.Errorf("place %s: %w", layer.Key, err)
	}
	return Placement{Image: layer.Image, Rect: rect}, nil
}

// PlaceBound computes the destination rectangle of a geographic bound.
func PlaceBound(b orb.Bound, p *projection.Projection) (projection.Rect, error) {
	rect, ok := p.ProjectBound(b)
	if !ok {
		return projection.Rect{}, fmt.Errorf("%w: bound %v has no projection", domain.ErrDegenerateRect, b)
	}
	if !positive(rect.Width) || !positive(rect.Height) {
		return projection.Rect{}, fmt.Errorf("%w: %gx%g", domain.ErrDegenerateRect, rect.Width, rect.Height)
	}
	return rect, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Aligned reports whether every corner of b, projected by p, lies within tol
// of the matching edge of rect.
func Aligned(rect projection.Rect, b orb.Bound, p *projection.Projection, tol float64) bool {
	corners := [4]orb.Point{
		{b.Min[0], b.Max[1]}, // top-left
		{b.Max[0], b.Max[1]}, // top-right
		{b.Max[0], b.Min[1]}, // bottom-right
		{b.Min[0], b.Min[1]}, // bottom-left
	}
	want := [4]orb.Point{
		{rect.X, rect.Y},
		{rect.X + rect.Width, rect.Y},
		{rect.X + rect.Width, rect.Y + rect.Height},
		{rect.X, rect.Y + rect.Height},
	}
	for i, c := range corners {
		q, ok := p.Project(c)
		if !ok || math.Abs(q[0]-want[i][0]) > tol || math.Abs(q[1]-want[i][1]) > tol {
			return false
		}
	}
	return true
}
