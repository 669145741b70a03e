package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// DatasetKind identifies a raster dataset.
type DatasetKind string

const (
	Rainfall    DatasetKind = "rainfall"
	Temperature DatasetKind = "temperature"
	Drought     DatasetKind = "drought"
)

// ParseDatasetKind accepts the dataset names case-insensitively; "spi" is an
// alias for drought.
func ParseDatasetKind(s string) (DatasetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rainfall", "rain":
		return Rainfall, nil
	case "temperature", "temp":
		return Temperature, nil
	case "drought", "spi":
		return Drought, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDataset, s)
	}
}

// Unit is the display unit for the dataset's values.
func (k DatasetKind) Unit() string {
	switch k {
	case Rainfall:
		return "in"
	case Temperature:
		return "°F"
	case Drought:
		return "SPI"
	default:
		return ""
	}
}

// filePrefix is the raster and time-series file prefix for the dataset.
func (k DatasetKind) filePrefix() string {
	if k == Drought {
		return "spi"
	}
	return string(k)
}

// DatasetKey addresses one raster: a dataset kind and a period such as "2024-06".
type DatasetKey struct {
	Kind   DatasetKind `json:"dataset"`
	Period string      `json:"period"`
}

func (k DatasetKey) String() string {
	return string(k.Kind) + "/" + k.Period
}

// RasterName is the resource name of the key's grid, e.g. "spi_2024-06.tif".
func (k DatasetKey) RasterName() string {
	return k.Kind.filePrefix() + "_" + k.Period + ".tif"
}

// Scope selects the boundary granularity shown below the island level.
type Scope string

const (
	ScopeNone      Scope = ""
	ScopeDivisions Scope = "divisions"
	ScopeMoku      Scope = "moku"
	ScopeAhupuaa   Scope = "ahupuaa"
)

// ParseScope accepts "", "none", "divisions", "moku", and "ahupuaa" (with or
// without the ʻokina).
func ParseScope(s string) (Scope, error) {
	switch Canonicalize(s) {
	case "", "none":
		return ScopeNone, nil
	case "divisions", "division":
		return ScopeDivisions, nil
	case "moku":
		return ScopeMoku, nil
	case "ahupua": // canonical form of ahupuaʻa
		return ScopeAhupuaa, nil
	default:
		return ScopeNone, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Granularity is the boundary dataset for this scope. ScopeNone renders island outlines.
func (s Scope) Granularity() Granularity {
	switch s {
	case ScopeDivisions:
		return Divisions
	case ScopeMoku:
		return Moku
	case ScopeAhupuaa:
		return Ahupuaa
	default:
		return Islands
	}
}

// Granularity names a boundary feature collection.
type Granularity string

const (
	Islands   Granularity = "islands"
	Divisions Granularity = "divisions"
	Moku      Granularity = "moku"
	Ahupuaa   Granularity = "ahupuaa"
)

// Granularities lists every boundary collection, coarse to fine.
var Granularities = []Granularity{Islands, Divisions, Moku, Ahupuaa}

// Timescale is the aggregation window of a time series, in months.
type Timescale int

// ParseTimescale accepts 1, 6, or 12, optionally suffixed with "m" or "mo".
func ParseTimescale(s string) (Timescale, error) {
	s = strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "o"), "m")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimescale, s)
	}
	return NewTimescale(n)
}

// NewTimescale validates a month count.
func NewTimescale(months int) (Timescale, error) {
	switch months {
	case 1, 6, 12:
		return Timescale(months), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimescale, months)
	}
}

// Timescales lists the supported aggregation windows.
var Timescales = []Timescale{1, 6, 12}

// SeriesName is the resource name of the time-series table for a granularity
// and timescale, e.g. "spi_divisions_6mo.csv".
func SeriesName(kind DatasetKind, g Granularity, ts Timescale) string {
	return fmt.Sprintf("%s_%s_%dmo.csv", kind.filePrefix(), g, int(ts))
}

// ParseRasterName is the inverse of DatasetKey.RasterName.
func ParseRasterName(name string) (DatasetKey, bool) {
	base, ok := strings.CutSuffix(name, ".tif")
	if !ok {
		return DatasetKey{}, false
	}
	prefix, period, ok := strings.Cut(base, "_")
	if !ok || period == "" {
		return DatasetKey{}, false
	}
	kind, err := ParseDatasetKind(prefix)
	if err != nil {
		return DatasetKey{}, false
	}
	return DatasetKey{Kind: kind, Period: period}, true
}
