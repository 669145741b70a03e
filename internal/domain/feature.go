package domain

import "github.com/paulmach/orb"

// Feature is a named boundary polygon owned by an island.
type Feature struct {
	ID       string       `json:"id"`  // UI-safe slug of the name
	Key      string       `json:"key"` // island::name, unique across islands
	Name     string       `json:"name"`
	Island   string       `json:"island"`
	County   string       `json:"county,omitempty"`
	Geometry orb.Geometry `json:"-"`
}

// NewFeature builds a feature with derived ID and Key. For island outlines
// name and island are the same.
func NewFeature(island, name string, g orb.Geometry) Feature {
	return Feature{
		ID:       Slug(name),
		Key:      Slug(island) + "::" + Slug(name),
		Name:     name,
		Island:   island,
		Geometry: g,
	}
}

// FilterIslands returns the features whose island canonically matches one of
// the given names, preserving order.
func FilterIslands(features []Feature, islands []string) []Feature {
	want := make(map[string]bool, len(islands))
	for _, is := range islands {
		want[Canonicalize(is)] = true
	}
	out := make([]Feature, 0, len(features))
	for _, f := range features {
		if want[Canonicalize(f.Island)] {
			out = append(out, f)
		}
	}
	return out
}
