package colormap

import (
	"fmt"
	"strings"
)

// Stop is one legend gradient stop.
type Stop struct {
	Offset float64 `json:"offset"`
	Value  float64 `json:"value"`
	Color  string  `json:"color"`
}

// Legend describes a scale's gradient from its lowest to highest value.
type Legend struct {
	Unit     string  `json:"unit"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Stops    []Stop  `json:"stops"`
	Gradient string  `json:"gradient"`
}

// NewLegend samples s at steps evenly spaced values (at least two).
func NewLegend(s *Scale, steps int) Legend {
	steps = max(steps, 2)
	lo, hi := s.Extent()

	lg := Legend{Unit: s.Kind.Unit(), Min: lo, Max: hi, Stops: make([]Stop, steps)}
	parts := make([]string, steps)
	for i := range steps {
		off := float64(i) / float64(steps-1)
		v := lo + off*(hi-lo)
		hex := Hex(s.Color(v))
		lg.Stops[i] = Stop{Offset: off, Value: v, Color: hex}
		parts[i] = fmt.Sprintf("%s %g%%", hex, off*100)
	}
	lg.Gradient = "linear-gradient(to right, " + strings.Join(parts, ", ") + ")"
	return lg
}
