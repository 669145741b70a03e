package raster

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/paulmach/orb"
	"golang.org/x/image/tiff/lzw"
)

// Compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946
)

// Sample formats.
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// Predictors.
const (
	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3
)

// bboxTolerance bounds disagreement between the corner-derived and the
// origin+resolution bounding boxes.
const bboxTolerance = 1e-9

// Options controls decoding.
type Options struct {
	// MaxWidth downsamples wider rasters by nearest neighbour. Zero disables.
	MaxWidth int
	// NoDataThreshold is the magnitude above which samples are no-data.
	// Zero selects DefaultNoDataThreshold.
	NoDataThreshold float64
}

// DecodeReader reads r fully and decodes it.
func DecodeReader(r io.Reader, opts Options) (*Raster, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	return Decode(data, opts)
}

// Decode parses a GeoTIFF and returns its first band. Every failure wraps
// domain.ErrRasterDecode.
func Decode(data []byte, opts Options) (*Raster, error) {
	r, err := decode(data, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRasterDecode, err)
	}
	return r, nil
}

type layout struct {
	width, height  int
	bits           int
	bytesPerSample int
	format         uint64
	spp            int
	planar         uint64
	compression    uint64
	predictor      uint64
}

func decode(data []byte, opts Options) (*Raster, error) {
	d, err := parseIFD(data)
	if err != nil {
		return nil, err
	}

	lay, err := readLayout(d)
	if err != nil {
		return nil, err
	}

	values, err := readBand(d, lay)
	if err != nil {
		return nil, err
	}

	bound, err := readBound(d, lay.width, lay.height)
	if err != nil {
		return nil, err
	}

	noData, err := readNoData(d, lay)
	if err != nil {
		return nil, err
	}

	w, h := lay.width, lay.height
	if opts.MaxWidth > 0 && w > opts.MaxWidth {
		values, w, h = resampleNearest(values, w, h, opts.MaxWidth)
	}

	return New(w, h, values, bound, noData, opts.NoDataThreshold), nil
}

func readLayout(d *ifd) (layout, error) {
	var lay layout

	w, err := d.uint(tagImageWidth, 0)
	if err != nil {
		return lay, err
	}
	h, err := d.uint(tagImageLength, 0)
	if err != nil {
		return lay, err
	}
	if w == 0 || h == 0 {
		return lay, fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	lay.width, lay.height = int(w), int(h)

	spp, err := d.uint(tagSamplesPerPixel, 1)
	if err != nil {
		return lay, err
	}
	if spp == 0 {
		return lay, errors.New("image has no bands")
	}
	lay.spp = int(spp)

	bits, err := d.uint(tagBitsPerSample, 1)
	if err != nil {
		return lay, err
	}
	lay.bits = int(bits)

	if lay.format, err = d.uint(tagSampleFormat, sampleUint); err != nil {
		return lay, err
	}
	switch {
	case lay.format == sampleFloat && (bits == 32 || bits == 64):
	case (lay.format == sampleUint || lay.format == sampleInt) && (bits == 8 || bits == 16 || bits == 32):
	default:
		return lay, fmt.Errorf("unsupported sample format %d with %d bits", lay.format, bits)
	}
	lay.bytesPerSample = lay.bits / 8

	if lay.planar, err = d.uint(tagPlanarConfig, 1); err != nil {
		return lay, err
	}
	if lay.compression, err = d.uint(tagCompression, compressionNone); err != nil {
		return lay, err
	}
	switch lay.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return lay, fmt.Errorf("unsupported compression %d", lay.compression)
	}
	if lay.predictor, err = d.uint(tagPredictor, predictorNone); err != nil {
		return lay, err
	}
	switch lay.predictor {
	case predictorNone, predictorHorizontal, predictorFloat:
	default:
		return lay, fmt.Errorf("unsupported predictor %d", lay.predictor)
	}
	return lay, nil
}

// readBand decodes every strip or tile holding the first band.
func readBand(d *ifd, lay layout) ([]float64, error) {
	chunkW, chunkH := lay.width, lay.height
	var offsets, counts []uint64

	if d.has(tagTileOffsets) {
		tw, err := d.uint(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := d.uint(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 {
			return nil, errors.New("invalid tile size")
		}
		chunkW, chunkH = int(tw), int(th)
		if offsets, err = d.uints(tagTileOffsets); err != nil {
			return nil, err
		}
		if counts, err = d.uints(tagTileByteCounts); err != nil {
			return nil, err
		}
	} else {
		rps, err := d.uint(tagRowsPerStrip, uint64(lay.height))
		if err != nil {
			return nil, err
		}
		if rps == 0 || rps > uint64(lay.height) {
			rps = uint64(lay.height)
		}
		chunkH = int(rps)
		if offsets, err = d.uints(tagStripOffsets); err != nil {
			return nil, fmt.Errorf("strip offsets: %w", err)
		}
		if counts, err = d.uints(tagStripByteCounts); err != nil {
			return nil, fmt.Errorf("strip byte counts: %w", err)
		}
	}
	if len(offsets) != len(counts) {
		return nil, errors.New("chunk offsets and byte counts differ in length")
	}

	across := (lay.width + chunkW - 1) / chunkW
	down := (lay.height + chunkH - 1) / chunkH
	if len(offsets) < across*down {
		return nil, fmt.Errorf("expected %d chunks, found %d", across*down, len(offsets))
	}

	// Interleaved chunks carry every band; planar chunks carry one band
	// each and the first band comes first.
	stride := lay.spp
	if lay.planar == 2 {
		stride = 1
	}

	values := make([]float64, lay.width*lay.height)
	for cy := 0; cy < down; cy++ {
		for cx := 0; cx < across; cx++ {
			i := cy*across + cx
			start, n := offsets[i], counts[i]
			if start+n > uint64(len(d.data)) {
				return nil, fmt.Errorf("chunk %d out of range", i)
			}
			raw, err := inflate(d.data[start:start+n], lay.compression)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", i, err)
			}

			rowBytes := chunkW * stride * lay.bytesPerSample
			rows := chunkH
			if len(raw) < rowBytes*rows {
				// The last strip of an image may be short.
				rows = len(raw) / rowBytes
			}
			raw = raw[:rowBytes*rows]
			if err := unpredict(raw, lay, rowBytes, stride, d); err != nil {
				return nil, err
			}

			for y := 0; y < rows; y++ {
				py := cy*chunkH + y
				if py >= lay.height {
					break
				}
				for x := 0; x < chunkW; x++ {
					px := cx*chunkW + x
					if px >= lay.width {
						break
					}
					off := y*rowBytes + x*stride*lay.bytesPerSample
					values[py*lay.width+px] = sample(raw[off:off+lay.bytesPerSample], lay, d)
				}
			}
		}
	}
	return values, nil
}

func inflate(chunk []byte, compression uint64) ([]byte, error) {
	switch compression {
	case compressionNone:
		return chunk, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(chunk), lzw.MSB, 8)
		defer rc.Close()
		out, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		return out, nil
	default:
		zr, err := zlib.NewReader(bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out, nil
	}
}

// unpredict reverses the horizontal or floating point predictor in place.
func unpredict(raw []byte, lay layout, rowBytes, stride int, d *ifd) error {
	switch lay.predictor {
	case predictorHorizontal:
		if lay.format == sampleFloat {
			return errors.New("horizontal predictor on float samples")
		}
		bps := lay.bytesPerSample
		for row := 0; row+rowBytes <= len(raw); row += rowBytes {
			line := raw[row : row+rowBytes]
			for i := stride * bps; i < len(line); i += bps {
				prev := line[i-stride*bps:]
				switch bps {
				case 1:
					line[i] += prev[0]
				case 2:
					d.order.PutUint16(line[i:], d.order.Uint16(line[i:])+d.order.Uint16(prev))
				case 4:
					d.order.PutUint32(line[i:], d.order.Uint32(line[i:])+d.order.Uint32(prev))
				}
			}
		}
	case predictorFloat:
		if lay.format != sampleFloat {
			return errors.New("floating point predictor on integer samples")
		}
		bps := lay.bytesPerSample
		n := rowBytes / bps
		tmp := make([]byte, rowBytes)
		for row := 0; row+rowBytes <= len(raw); row += rowBytes {
			line := raw[row : row+rowBytes]
			for i := stride; i < len(line); i++ {
				line[i] += line[i-stride]
			}
			// Bytes are stored as planes, most significant first.
			copy(tmp, line)
			for i := 0; i < n; i++ {
				for b := 0; b < bps; b++ {
					v := tmp[b*n+i]
					if d.little {
						line[i*bps+bps-1-b] = v
					} else {
						line[i*bps+b] = v
					}
				}
			}
		}
	}
	return nil
}

func sample(b []byte, lay layout, d *ifd) float64 {
	switch lay.format {
	case sampleFloat:
		if lay.bits == 64 {
			return math.Float64frombits(d.order.Uint64(b))
		}
		return float64(math.Float32frombits(d.order.Uint32(b)))
	case sampleInt:
		switch lay.bits {
		case 8:
			return float64(int8(b[0]))
		case 16:
			return float64(int16(d.order.Uint16(b)))
		default:
			return float64(int32(d.order.Uint32(b)))
		}
	default:
		switch lay.bits {
		case 8:
			return float64(b[0])
		case 16:
			return float64(d.order.Uint16(b))
		default:
			return float64(d.order.Uint32(b))
		}
	}
}

// readBound derives the geographic bounding box. A model transformation or
// two or more tie points give the corners directly; otherwise the first tie
// point is combined with the pixel scale.
func readBound(d *ifd, width, height int) (orb.Bound, error) {
	if m, err := d.floats(tagModelTransform); err == nil && len(m) >= 16 {
		corner := func(i, j float64) orb.Point {
			return orb.Point{m[0]*i + m[1]*j + m[3], m[4]*i + m[5]*j + m[7]}
		}
		w, h := float64(width), float64(height)
		b := orb.MultiPoint{corner(0, 0), corner(w, 0), corner(0, h), corner(w, h)}.Bound()
		return b, nil
	}

	tie, err := d.floats(tagModelTiepoint)
	if err != nil || len(tie) < 6 {
		return orb.Bound{}, errors.New("missing georeferencing")
	}

	if direct, ok := tiepointBound(tie); ok {
		if scaled, err := scaleBound(d, tie, width, height); err == nil && !boundsAgree(direct, scaled) {
			return orb.Bound{}, fmt.Errorf("tie points disagree with pixel scale: %v vs %v", direct, scaled)
		}
		return direct, nil
	}
	return scaleBound(d, tie, width, height)
}

// tiepointBound spans the model coordinates of every tie point when they
// cover more than one raster row and column.
func tiepointBound(tie []float64) (orb.Bound, bool) {
	if len(tie) < 12 {
		return orb.Bound{}, false
	}
	var mp orb.MultiPoint
	minI, maxI := math.Inf(1), math.Inf(-1)
	minJ, maxJ := math.Inf(1), math.Inf(-1)
	for k := 0; k+6 <= len(tie); k += 6 {
		i, j := tie[k], tie[k+1]
		minI, maxI = math.Min(minI, i), math.Max(maxI, i)
		minJ, maxJ = math.Min(minJ, j), math.Max(maxJ, j)
		mp = append(mp, orb.Point{tie[k+3], tie[k+4]})
	}
	if minI == maxI || minJ == maxJ {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}

func scaleBound(d *ifd, tie []float64, width, height int) (orb.Bound, error) {
	scale, err := d.floats(tagModelPixelScale)
	if err != nil || len(scale) < 2 {
		return orb.Bound{}, errors.New("missing pixel scale")
	}
	sx, sy := scale[0], scale[1]
	if sx <= 0 || sy <= 0 {
		return orb.Bound{}, fmt.Errorf("invalid pixel scale %v", scale[:2])
	}
	originX := tie[3] - tie[0]*sx
	originY := tie[4] + tie[1]*sy
	return orb.Bound{
		Min: orb.Point{originX, originY - float64(height)*sy},
		Max: orb.Point{originX + float64(width)*sx, originY},
	}, nil
}

func boundsAgree(a, b orb.Bound) bool {
	return math.Abs(a.Min[0]-b.Min[0]) <= bboxTolerance &&
		math.Abs(a.Min[1]-b.Min[1]) <= bboxTolerance &&
		math.Abs(a.Max[0]-b.Max[0]) <= bboxTolerance &&
		math.Abs(a.Max[1]-b.Max[1]) <= bboxTolerance
}

// readNoData parses the GDAL_NODATA sentinel at the band's precision so it
// compares equal to the samples that carry it.
func readNoData(d *ifd, lay layout) (*float64, error) {
	s, ok := d.ascii(tagGDALNoData)
	if !ok || s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ToLower(s), 64)
	if err != nil {
		return nil, fmt.Errorf("parse nodata %q: %w", s, err)
	}
	if lay.format == sampleFloat && lay.bits == 32 {
		v = float64(float32(v))
	}
	return &v, nil
}
