// Package colormap turns raster values into colors: per-dataset domain
// policy, sequential and diverging scales, pixel colorization and legends.
package colormap

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
)

// Ramp is a color ramp sampled at evenly spaced stops and interpolated
// linearly in RGB.
type Ramp []color.NRGBA

// Fixed ramps, sampled from the matplotlib and ColorBrewer schemes.
var (
	Viridis = mustRamp("#440154", "#482475", "#414487", "#355f8d", "#2a788e", "#21918c",
		"#22a884", "#44bf70", "#7ad151", "#bddf26", "#fde725")
	YlOrRd = mustRamp("#ffffcc", "#ffeda0", "#fed976", "#feb24c", "#fd8d3c", "#fc4e2a",
		"#e31a1c", "#bd0026", "#800026")
	RdBu = mustRamp("#67001f", "#b2182b", "#d6604d", "#f4a582", "#fddbc7", "#f7f7f7",
		"#d1e5f0", "#92c5de", "#4393c3", "#2166ac", "#053061")
)

// At returns the opaque color at t, clamped to [0, 1].
func (r Ramp) At(t float64) color.NRGBA {
	if math.IsNaN(t) || t <= 0 {
		return r[0]
	}
	if t >= 1 {
		return r[len(r)-1]
	}
	pos := t * float64(len(r)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := r[i], r[i+1]
	return color.NRGBA{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
		A: 255,
	}
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

// Hex formats c as #rrggbb.
func Hex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func mustRamp(hexes ...string) Ramp {
	r := make(Ramp, len(hexes))
	for i, h := range hexes {
		c, err := parseHex(h)
		if err != nil {
			panic(err)
		}
		r[i] = c
	}
	return r
}

func parseHex(s string) (color.NRGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("parse color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
