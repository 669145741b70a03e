package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

const tagPhotometric = 262

// EncodeOptions controls Encode.
type EncodeOptions struct {
	// Deflate compresses the strip with zlib.
	Deflate bool
	// CornerTiepoints writes tie points for the north-west and south-east
	// corners in addition to the pixel scale.
	CornerTiepoints bool
}

type encField struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// Encode writes r as a single-strip little-endian GeoTIFF of float32
// samples in WGS84 degrees. Values not representable as float32 are rounded.
func Encode(w io.Writer, r *Raster, opts EncodeOptions) error {
	if r.Width <= 0 || r.Height <= 0 || len(r.Values) != r.Width*r.Height {
		return fmt.Errorf("encode raster: %dx%d grid with %d values", r.Width, r.Height, len(r.Values))
	}
	le := binary.LittleEndian

	pix := make([]byte, 4*len(r.Values))
	for i, v := range r.Values {
		le.PutUint32(pix[i*4:], math.Float32bits(float32(v)))
	}
	compression := uint16(compressionNone)
	if opts.Deflate {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(pix); err != nil {
			return fmt.Errorf("encode raster: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("encode raster: %w", err)
		}
		pix = buf.Bytes()
		compression = compressionDeflate
	}

	b := r.Bound
	sx := (b.Max[0] - b.Min[0]) / float64(r.Width)
	sy := (b.Max[1] - b.Min[1]) / float64(r.Height)
	tie := []float64{0, 0, 0, b.Min[0], b.Max[1], 0}
	if opts.CornerTiepoints {
		tie = append(tie, float64(r.Width), float64(r.Height), 0, b.Max[0], b.Min[1], 0)
	}

	fields := []encField{
		{tagImageWidth, typeLong, 1, u32s(uint32(r.Width))},
		{tagImageLength, typeLong, 1, u32s(uint32(r.Height))},
		{tagBitsPerSample, typeShort, 1, u16s(32)},
		{tagCompression, typeShort, 1, u16s(compression)},
		{tagPhotometric, typeShort, 1, u16s(1)},
		{tagStripOffsets, typeLong, 1, u32s(0)},
		{tagSamplesPerPixel, typeShort, 1, u16s(1)},
		{tagRowsPerStrip, typeLong, 1, u32s(uint32(r.Height))},
		{tagStripByteCounts, typeLong, 1, u32s(uint32(len(pix)))},
		{tagPlanarConfig, typeShort, 1, u16s(1)},
		{tagSampleFormat, typeShort, 1, u16s(sampleFloat)},
		{tagModelPixelScale, typeDouble, 3, f64s(sx, sy, 0)},
		{tagModelTiepoint, typeDouble, uint32(len(tie)), f64s(tie...)},
		// GeographicLatLong, PixelIsArea, WGS84.
		{tagGeoKeyDirectory, typeShort, 16, u16s(1, 1, 0, 3, 1024, 0, 1, 2, 1025, 0, 1, 1, 2048, 0, 1, 4326)},
	}
	if r.NoData != nil {
		s := strconv.FormatFloat(*r.NoData, 'g', -1, 64) + "\x00"
		fields = append(fields, encField{tagGDALNoData, typeASCII, uint32(len(s)), []byte(s)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	ifdSize := 2 + 12*len(fields) + 4
	extraOff := 8 + ifdSize
	var extra []byte
	offsets := make([]uint32, len(fields))
	for i, f := range fields {
		if len(f.value) > 4 {
			if len(extra)%2 == 1 {
				extra = append(extra, 0)
			}
			offsets[i] = uint32(extraOff + len(extra))
			extra = append(extra, f.value...)
		}
	}
	stripOff := uint32(extraOff + len(extra))

	out := make([]byte, 0, int(stripOff)+len(pix))
	out = append(out, 'I', 'I')
	out = le.AppendUint16(out, 42)
	out = le.AppendUint32(out, 8)
	out = le.AppendUint16(out, uint16(len(fields)))
	for i, f := range fields {
		if f.tag == tagStripOffsets {
			f.value = u32s(stripOff)
		}
		out = le.AppendUint16(out, f.tag)
		out = le.AppendUint16(out, f.typ)
		out = le.AppendUint32(out, f.count)
		if len(f.value) > 4 {
			out = le.AppendUint32(out, offsets[i])
			continue
		}
		var inline [4]byte
		copy(inline[:], f.value)
		out = append(out, inline[:]...)
	}
	out = le.AppendUint32(out, 0) // no further IFDs
	out = append(out, extra...)
	out = append(out, pix...)

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("encode raster: %w", err)
	}
	return nil
}

func u16s(vs ...uint16) []byte {
	out := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	return out
}

func u32s(vs ...uint32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func f64s(vs ...float64) []byte {
	out := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}
