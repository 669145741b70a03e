package colormap

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
	"golang.org/x/sync/errgroup"
)

// DefaultAlpha is the opacity of valid pixels, round(0.86 * 255), so the
// raster reads as an overlay above the basemap.
var DefaultAlpha = uint8(math.Round(0.86 * 255))

const rowsPerBand = 32

// ColorizeOptions controls Colorize.
type ColorizeOptions struct {
	// Workers bounds concurrent row bands. Zero selects GOMAXPROCS.
	Workers int
	// Alpha is the opacity of valid pixels. Zero selects DefaultAlpha.
	Alpha uint8
}

// Colorize paints r through s into an image at the raster's resolution.
// No-data pixels are fully transparent. The output does not depend on the
// worker count.
func Colorize(ctx context.Context, r *raster.Raster, s *Scale, opts ColorizeOptions) (*image.NRGBA, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	alpha := opts.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for y0 := 0; y0 < r.Height; y0 += rowsPerBand {
		y1 := min(y0+rowsPerBand, r.Height)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			paintRows(img, r, s, alpha, y0, y1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("colorize: %w", err)
	}
	return img, nil
}

// paintRows writes rows [y0, y1). Bands never overlap, so no locking.
func paintRows(img *image.NRGBA, r *raster.Raster, s *Scale, alpha uint8, y0, y1 int) {
	for y := y0; y < y1; y++ {
		for x := 0; x < r.Width; x++ {
			v := r.At(x, y)
			if r.IsNoData(v) {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			c := s.Color(v)
			c.A = alpha
			img.SetNRGBA(x, y, c)
		}
	}
}
