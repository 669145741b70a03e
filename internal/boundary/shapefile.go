package boundary

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// ParseShapefile reads polygon records from a .shp body and its .dbf
// attribute table. Non-polygon and empty records are skipped.
func ParseShapefile(shpData, dbfData []byte, g domain.Granularity, gaz *domain.Gazetteer) ([]domain.Feature, error) {
	reader := shp.SequentialReaderFromExt(
		io.NopCloser(bytes.NewReader(shpData)),
		io.NopCloser(bytes.NewReader(dbfData)),
	)
	defer func() { _ = reader.Close() }()

	var fieldIdx map[string]int
	var out []domain.Feature
	for reader.Next() {
		if fieldIdx == nil {
			fieldIdx = indexFields(reader.Fields())
		}
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}
		geom := polygonGeometry(poly)
		if geom == nil {
			continue
		}

		lookup := func(keys ...string) string {
			for _, k := range keys {
				idx, ok := fieldIdx[domain.Canonicalize(k)]
				if !ok {
					continue
				}
				if v := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00")); v != "" {
					return v
				}
			}
			return ""
		}
		out = append(out, newFeature(g, gaz, lookup, geom))
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read %s shapefile: %w", g, err)
	}
	return out, nil
}

// indexFields maps canonical DBF field names to their column index.
func indexFields(fields []shp.Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		idx[domain.Canonicalize(name)] = i
	}
	return idx
}

// polygonGeometry splits shapefile parts into polygons: a clockwise ring
// starts a new polygon, a counter-clockwise ring is a hole in the previous one.
func polygonGeometry(p *shp.Polygon) orb.Geometry {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}

		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}

	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	default:
		return mp
	}
}
