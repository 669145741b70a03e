package dashboard

import "fmt"

// State is the selection depth of a session.
type State int

const (
	Statewide State = iota
	CountySelected
	IslandSelected
	DivisionSelected
)

func (s State) String() string {
	switch s {
	case Statewide:
		return "statewide"
	case CountySelected:
		return "county"
	case IslandSelected:
		return "island"
	case DivisionSelected:
		return "division"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// hasIsland reports whether an island (possibly a county's representative) is selected.
func (s State) hasIsland() bool {
	return s != Statewide
}
