package boundary

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// Property fallbacks, most specific first.
var (
	islandProps = []string{"isle", "island", "name"}
	unitProps   = []string{"division", "moku", "ahupuaa", "ahupuaʻa", "name"}
)

// ParseGeoJSON reads a FeatureCollection. Features without polygonal
// geometry are skipped.
func ParseGeoJSON(data []byte, g domain.Granularity, gaz *domain.Gazetteer) ([]domain.Feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s geojson: %w", g, err)
	}

	out := make([]domain.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || !polygonal(f.Geometry) {
			continue
		}
		lookup := func(keys ...string) string { return stringProp(f.Properties, keys...) }
		out = append(out, newFeature(g, gaz, lookup, f.Geometry))
	}
	return out, nil
}

// stringProp returns the first non-empty string property among keys,
// matching keys case-insensitively.
func stringProp(p geojson.Properties, keys ...string) string {
	for _, k := range keys {
		if s, ok := p[k].(string); ok && s != "" {
			return s
		}
		for pk, v := range p {
			if s, ok := v.(string); ok && s != "" && domain.SameName(pk, k) {
				return s
			}
		}
	}
	return ""
}

func polygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}

// newFeature names a boundary feature. Island outlines take their name from
// the island properties; finer units from the unit properties, keeping the
// owning island. Island names are normalized to the gazetteer's spelling.
func newFeature(g domain.Granularity, gaz *domain.Gazetteer, lookup func(...string) string, geom orb.Geometry) domain.Feature {
	island := lookup(islandProps...)
	if g != domain.Islands {
		island = lookup("isle", "island")
	}
	if canon, ok := gaz.Island(island); ok {
		island = canon
	}

	name := island
	if g != domain.Islands {
		name = lookup(unitProps...)
	}
	if name == "" {
		name = defaultName(g)
	}
	if island == "" {
		island = name
	}

	f := domain.NewFeature(island, name, geom)
	if county, ok := gaz.CountyOf(island); ok {
		f.County = county
	}
	return f
}

func defaultName(g domain.Granularity) string {
	switch g {
	case domain.Islands:
		return "Island"
	case domain.Divisions:
		return "Division"
	case domain.Moku:
		return "Moku"
	default:
		return "Ahupuaʻa"
	}
}
