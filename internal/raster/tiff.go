package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// TIFF and GeoTIFF tags read by the decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// Field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4, typeSRational: 8,
	typeFloat: 4, typeDouble: 8,
}

var errNoTag = errors.New("tag not present")

type field struct {
	typ   uint16
	count uint32
	raw   []byte
}

// ifd is the first image file directory of a classic TIFF.
type ifd struct {
	order  binary.ByteOrder
	little bool
	data   []byte
	fields map[uint16]field
}

func parseIFD(data []byte) (*ifd, error) {
	if len(data) < 8 {
		return nil, errors.New("file too short for TIFF header")
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}
	switch magic := order.Uint16(data[2:4]); magic {
	case 42:
	case 43:
		return nil, errors.New("BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("bad TIFF magic %d", magic)
	}

	off := int(order.Uint32(data[4:8]))
	if off < 8 || off+2 > len(data) {
		return nil, fmt.Errorf("IFD offset %d out of range", off)
	}
	n := int(order.Uint16(data[off : off+2]))
	if off+2+n*12 > len(data) {
		return nil, errors.New("truncated IFD")
	}

	d := &ifd{order: order, little: data[0] == 'I', data: data, fields: make(map[uint16]field, n)}
	for i := 0; i < n; i++ {
		e := data[off+2+i*12 : off+2+(i+1)*12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])

		size, ok := typeSizes[typ]
		if !ok {
			continue // unknown field types are skipped, as TIFF readers must
		}
		total := size * int(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := int(order.Uint32(e[8:12]))
			if vo < 0 || vo+total > len(data) {
				return nil, fmt.Errorf("tag %d value out of range", tag)
			}
			raw = data[vo : vo+total]
		}
		d.fields[tag] = field{typ: typ, count: count, raw: raw}
	}
	return d, nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

// uints reads an unsigned integer field.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, errNoTag
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(f.raw[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(f.raw[i*2:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(f.raw[i*4:]))
		default:
			return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", tag, f.typ)
		}
	}
	return out, nil
}

// uint reads the first value of an unsigned integer field, or def when absent.
func (d *ifd) uint(tag uint16, def uint64) (uint64, error) {
	v, err := d.uints(tag)
	if errors.Is(err, errNoTag) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return def, nil
	}
	return v[0], nil
}

// floats reads a numeric field as float64.
func (d *ifd) floats(tag uint16) ([]float64, error) {
	f, ok := d.fields[tag]
	if !ok {
		return nil, errNoTag
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.typ {
		case typeDouble:
			out[i] = math.Float64frombits(d.order.Uint64(f.raw[i*8:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.raw[i*4:])))
		case typeShort:
			out[i] = float64(d.order.Uint16(f.raw[i*2:]))
		case typeLong:
			out[i] = float64(d.order.Uint32(f.raw[i*4:]))
		case typeRational:
			num, den := d.order.Uint32(f.raw[i*8:]), d.order.Uint32(f.raw[i*8+4:])
			out[i] = float64(num) / float64(den)
		default:
			return nil, fmt.Errorf("tag %d: type %d is not numeric", tag, f.typ)
		}
	}
	return out, nil
}

// ascii reads an ASCII field, trimmed of NULs and whitespace.
func (d *ifd) ascii(tag uint16) (string, bool) {
	f, ok := d.fields[tag]
	if !ok || f.typ != typeASCII {
		return "", false
	}
	return strings.TrimSpace(strings.TrimRight(string(f.raw), "\x00")), true
}
