package colormap

import (
	"fmt"
	"image/color"
	"math"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// DroughtDomain is the fixed, clamped SPI domain. Drought colors must mean
// the same thing across periods and regions, so the observed range is ignored.
var DroughtDomain = [3]float64{-3, 0, 3}

// Scale maps values to colors for one dataset.
type Scale struct {
	Kind      domain.DatasetKind
	Diverging bool
	// Domain is [t0, t1] for sequential scales and [lo, mid, hi] for
	// diverging ones. A sequential domain may be reversed.
	Domain []float64
	// Min and Max are the observed extent of the valid values.
	Min, Max float64

	ramp Ramp
}

// BuildScale computes the observed extent of values, skipping no-data, and
// applies the dataset's domain policy. It fails with domain.ErrEmptyDomain
// when every value is no-data.
func BuildScale(values []float64, isNoData func(float64) bool, kind domain.DatasetKind) (*Scale, error) {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !isNoData(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("build %s scale: %w", kind, domain.ErrEmptyDomain)
	}
	lo, hi := floats.Min(valid), floats.Max(valid)

	s := &Scale{Kind: kind, Min: lo, Max: hi}
	switch kind {
	case domain.Rainfall:
		s.Domain, s.ramp = []float64{hi, lo}, Viridis
	case domain.Temperature:
		s.Domain, s.ramp = []float64{lo, hi}, YlOrRd
	case domain.Drought:
		s.Domain, s.ramp, s.Diverging = DroughtDomain[:], RdBu, true
	default:
		return nil, fmt.Errorf("build scale: %w: %q", domain.ErrUnknownDataset, kind)
	}
	return s, nil
}

// T returns the ramp position of v in [0, 1], clamping out-of-domain values.
func (s *Scale) T(v float64) float64 {
	d := s.Domain
	var t float64
	if s.Diverging {
		switch {
		case v < d[1]:
			t = 0.5 * ratio(v, d[0], d[1])
		default:
			t = 0.5 + 0.5*ratio(v, d[1], d[2])
		}
	} else {
		t = ratio(v, d[0], d[1])
	}
	return math.Max(0, math.Min(1, t))
}

// ratio is zero on a collapsed interval.
func ratio(v, a, b float64) float64 {
	if a == b {
		return 0
	}
	return (v - a) / (b - a)
}

// Color returns the opaque color of v.
func (s *Scale) Color(v float64) color.NRGBA {
	return s.ramp.At(s.T(v))
}

// Extent returns the lowest and highest domain values.
func (s *Scale) Extent() (float64, float64) {
	return floats.Min(s.Domain), floats.Max(s.Domain)
}
