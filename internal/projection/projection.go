// Package projection fits a north-up identity projection to a set of boundary
// features and projects their geometry into screen space.
//
// The fit follows d3's geoIdentity().reflectY(true).fitSize(size, features):
// a uniform scale chosen so the features' bounding box fills the output along
// its tighter axis, centered along the other.
package projection

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// Size is an output canvas size in logical units.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DefaultSize is the dashboard map canvas.
var DefaultSize = Size{Width: 560, Height: 320}

// Rect is an axis-aligned screen-space rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Projection maps [lon, lat] to screen [x, y]:
//
//	x = k*lon + tx
//	y = -k*lat + ty
//
// It is immutable; refitting builds a new value.
type Projection struct {
	k, tx, ty float64
	size      Size
}

// Fit computes the projection that fits every feature into size.
// It returns domain.ErrNoGeometry when there is nothing with extent to fit.
func Fit(features []domain.Feature, size Size) (*Projection, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("fit projection: invalid size %gx%g", size.Width, size.Height)
	}

	bound, ok := boundOf(features)
	if !ok {
		return nil, domain.ErrNoGeometry
	}

	// Bounds in reflected space: y runs from -maxLat to -minLat.
	x0, x1 := bound.Min[0], bound.Max[0]
	y0, y1 := -bound.Max[1], -bound.Min[1]

	k := math.Min(size.Width/(x1-x0), size.Height/(y1-y0))
	if math.IsInf(k, 0) || math.IsNaN(k) || k <= 0 {
		return nil, domain.ErrNoGeometry
	}

	return &Projection{
		k:    k,
		tx:   (size.Width - k*(x0+x1)) / 2,
		ty:   (size.Height - k*(y0+y1)) / 2,
		size: size,
	}, nil
}

// boundOf unions the bounds of every non-empty, finite geometry.
func boundOf(features []domain.Feature) (orb.Bound, bool) {
	var out orb.Bound
	found := false
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if !finite(b.Min) || !finite(b.Max) || b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
			continue
		}
		if isEmpty(f.Geometry) {
			continue
		}
		if !found {
			out, found = b, true
			continue
		}
		out = out.Union(b)
	}
	return out, found
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		for _, p := range g {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range g {
			if !isEmpty(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Scale returns the fitted scale factor.
func (p *Projection) Scale() float64 { return p.k }

// Translate returns the fitted translation.
func (p *Projection) Translate() (float64, float64) { return p.tx, p.ty }

// Size returns the output size the projection was fitted to.
func (p *Projection) Size() Size { return p.size }

// Project maps a geographic point to screen space. It reports false for
// non-finite input or output.
func (p *Projection) Project(pt orb.Point) (orb.Point, bool) {
	out := orb.Point{p.k*pt[0] + p.tx, -p.k*pt[1] + p.ty}
	return out, finite(out)
}

// Invert maps a screen point back to geographic coordinates.
func (p *Projection) Invert(pt orb.Point) orb.Point {
	return orb.Point{(pt[0] - p.tx) / p.k, (p.ty - pt[1]) / p.k}
}

// ProjectBound projects the four corners of a geographic bound and returns the
// axis-aligned rectangle that contains them.
func (p *Projection) ProjectBound(b orb.Bound) (Rect, bool) {
	corners := [4]orb.Point{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		q, ok := p.Project(c)
		if !ok {
			return Rect{}, false
		}
		minX, maxX = math.Min(minX, q[0]), math.Max(maxX, q[0])
		minY, maxY = math.Min(minY, q[1]), math.Max(maxY, q[1])
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}

// Path renders the feature's geometry as SVG path data, one closed subpath per ring.
// Empty geometry yields "".
func (p *Projection) Path(f domain.Feature) string {
	var b strings.Builder
	p.writeGeometry(&b, f.Geometry)
	return b.String()
}

func (p *Projection) writeGeometry(b *strings.Builder, g orb.Geometry) {
	switch g := g.(type) {
	case orb.Polygon:
		for _, ring := range g {
			p.writeRing(b, ring)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, ring := range poly {
				p.writeRing(b, ring)
			}
		}
	case orb.Ring:
		p.writeRing(b, g)
	case orb.Collection:
		for _, c := range g {
			p.writeGeometry(b, c)
		}
	}
}

func (p *Projection) writeRing(b *strings.Builder, ring orb.Ring) {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n-- // closing point is implied by Z
	}
	if n == 0 {
		return
	}
	started := false
	for i := 0; i < n; i++ {
		q, ok := p.Project(ring[i])
		if !ok {
			continue
		}
		if started {
			b.WriteByte('L')
		} else {
			b.WriteByte('M')
			started = true
		}
		b.WriteString(formatCoord(q[0]))
		b.WriteByte(',')
		b.WriteString(formatCoord(q[1]))
	}
	if started {
		b.WriteByte('Z')
	}
}

// Centroid returns the projected area-weighted centroid of the feature, used
// for label placement. It reports false for empty geometry.
func (p *Projection) Centroid(f domain.Feature) (orb.Point, bool) {
	if f.Geometry == nil || isEmpty(f.Geometry) {
		return orb.Point{}, false
	}
	// The projection is affine with uniform scale, so projecting the planar
	// centroid equals the centroid of the projected shape.
	c, _ := planar.CentroidArea(f.Geometry)
	return p.Project(c)
}

func formatCoord(v float64) string {
	v = math.Round(v*1000) / 1000
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func finite(pt orb.Point) bool {
	return !math.IsNaN(pt[0]) && !math.IsInf(pt[0], 0) && !math.IsNaN(pt[1]) && !math.IsInf(pt[1], 0)
}
