package raster

import "math"

// resampleNearest shrinks a grid to maxWidth columns by nearest neighbour,
// scaling the height to keep the aspect ratio.
func resampleNearest(src []float64, w, h, maxWidth int) ([]float64, int, int) {
	outW := maxWidth
	outH := int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
	if outH < 1 {
		outH = 1
	}

	out := make([]float64, outW*outH)
	for y := 0; y < outH; y++ {
		sy := min(h-1, int((float64(y)+0.5)*float64(h)/float64(outH)))
		for x := 0; x < outW; x++ {
			sx := min(w-1, int((float64(x)+0.5)*float64(w)/float64(outW)))
			out[y*outW+x] = src[sy*w+sx]
		}
	}
	return out, outW, outH
}
