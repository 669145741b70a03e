package domain

import "fmt"

// IslandEntry is one row of the island lookup table.
type IslandEntry struct {
	Island    string
	County    string
	Divisions []string
	// Representative marks the island that stands in for its county when the
	// county itself is selected.
	Representative bool
}

// Gazetteer is an immutable island/county/division lookup. All lookups are
// canonical-name insensitive; results use display spellings.
type Gazetteer struct {
	islands        []string            // display names, table order
	islandByName   map[string]string   // canonical island -> display
	countyOf       map[string]string   // canonical island -> county display
	countyByName   map[string]string   // canonical county -> display
	countyIslands  map[string][]string // canonical county -> island display names
	representative map[string]string   // canonical county -> island display
	divisions      map[string][]string // canonical island -> division display names
}

// NewGazetteer builds a lookup from the entries. Every county must have
// exactly one representative island; the first island listed is used when
// none is marked.
func NewGazetteer(entries []IslandEntry) (*Gazetteer, error) {
	g := &Gazetteer{
		islandByName:   make(map[string]string, len(entries)),
		countyOf:       make(map[string]string, len(entries)),
		countyByName:   make(map[string]string),
		countyIslands:  make(map[string][]string),
		representative: make(map[string]string),
		divisions:      make(map[string][]string, len(entries)),
	}
	for _, e := range entries {
		ci := Canonicalize(e.Island)
		if _, dup := g.islandByName[ci]; dup {
			return nil, fmt.Errorf("gazetteer: duplicate island %q", e.Island)
		}
		if e.County == "" {
			return nil, fmt.Errorf("gazetteer: island %q has no county", e.Island)
		}
		cc := Canonicalize(e.County)

		g.islands = append(g.islands, e.Island)
		g.islandByName[ci] = e.Island
		g.countyOf[ci] = e.County
		g.countyByName[cc] = e.County
		g.countyIslands[cc] = append(g.countyIslands[cc], e.Island)
		g.divisions[ci] = append([]string(nil), e.Divisions...)

		if e.Representative {
			if prev, ok := g.representative[cc]; ok {
				return nil, fmt.Errorf("gazetteer: county %q has two representatives (%q, %q)", e.County, prev, e.Island)
			}
			g.representative[cc] = e.Island
		}
	}
	for cc, members := range g.countyIslands {
		if _, ok := g.representative[cc]; !ok {
			g.representative[cc] = members[0]
		}
	}
	return g, nil
}

// DefaultGazetteer returns the statewide table of counties, islands, and
// climate divisions.
func DefaultGazetteer() *Gazetteer {
	g, err := NewGazetteer([]IslandEntry{
		{Island: "Niʻihau", County: "Kauaʻi", Divisions: []string{"Niʻihau"}},
		{Island: "Kauaʻi", County: "Kauaʻi", Divisions: []string{"North Kauaʻi", "South Kauaʻi"}, Representative: true},
		{Island: "Oʻahu", County: "Honolulu", Divisions: []string{"Windward Oʻahu", "Leeward Oʻahu", "Honolulu"}, Representative: true},
		{Island: "Molokaʻi", County: "Maui", Divisions: []string{"West Molokaʻi", "East Molokaʻi"}},
		{Island: "Lānaʻi", County: "Maui", Divisions: []string{"Central Lānaʻi"}},
		{Island: "Maui", County: "Maui", Divisions: []string{"West Maui", "Central Maui", "East Maui"}, Representative: true},
		{Island: "Kahoʻolawe", County: "Maui", Divisions: []string{"Kahoʻolawe"}},
		{Island: "Hawaiʻi", County: "Hawaiʻi", Divisions: []string{"Hawaiʻi Mauka", "Windward Kohala", "Kaʻu", "Hilo", "Leeward Kohala", "Kona"}, Representative: true},
	})
	if err != nil {
		panic(err)
	}
	return g
}

// Islands returns every island display name in table order.
func (g *Gazetteer) Islands() []string {
	return append([]string(nil), g.islands...)
}

// Island resolves a name to its display spelling.
func (g *Gazetteer) Island(name string) (string, bool) {
	is, ok := g.islandByName[Canonicalize(name)]
	return is, ok
}

// County resolves a county name to its display spelling.
func (g *Gazetteer) County(name string) (string, bool) {
	c, ok := g.countyByName[Canonicalize(name)]
	return c, ok
}

// CountyOf returns the county an island belongs to.
func (g *Gazetteer) CountyOf(island string) (string, bool) {
	c, ok := g.countyOf[Canonicalize(island)]
	return c, ok
}

// Siblings returns every island in the same county as island, itself included.
func (g *Gazetteer) Siblings(island string) []string {
	county, ok := g.CountyOf(island)
	if !ok {
		return nil
	}
	return append([]string(nil), g.countyIslands[Canonicalize(county)]...)
}

// Representative returns the island that stands in for a county.
func (g *Gazetteer) Representative(county string) (string, bool) {
	is, ok := g.representative[Canonicalize(county)]
	return is, ok
}

// Divisions returns the climate division names of an island.
func (g *Gazetteer) Divisions(island string) []string {
	return append([]string(nil), g.divisions[Canonicalize(island)]...)
}
