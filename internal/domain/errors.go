package domain

import "errors"

// Layer errors. All are recoverable: the affected layer is suppressed and the
// rest of the view still renders.
var (
	// ErrNoGeometry means the feature set was empty or every geometry was degenerate.
	ErrNoGeometry = errors.New("no geometry")
	// ErrRasterDecode means the raster source could not be opened or had no bands.
	ErrRasterDecode = errors.New("raster decode failed")
	// ErrEmptyDomain means every raster sample was no-data.
	ErrEmptyDomain = errors.New("raster has no valid samples")
	// ErrDegenerateRect means the projected raster rectangle was empty or non-finite.
	ErrDegenerateRect = errors.New("degenerate raster rectangle")
	// ErrInvalidRelease means a dataset release notice could not be parsed.
	ErrInvalidRelease = errors.New("invalid release notice")
)

// Selection errors returned by invalid state transitions.
var (
	ErrUnknownCounty    = errors.New("unknown county")
	ErrUnknownIsland    = errors.New("unknown island")
	ErrUnknownDivision  = errors.New("unknown division")
	ErrNoIslandSelected = errors.New("no island selected")
	ErrUnknownDataset   = errors.New("unknown dataset")
	ErrInvalidScope     = errors.New("invalid scope")
	ErrInvalidTimescale = errors.New("invalid timescale")
)

// ErrorKind returns a short label for a layer error, used in logs, metrics,
// and view payloads. Unrecognized errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoGeometry):
		return "no_geometry"
	case errors.Is(err, ErrRasterDecode):
		return "raster_decode"
	case errors.Is(err, ErrEmptyDomain):
		return "empty_domain"
	case errors.Is(err, ErrDegenerateRect):
		return "degenerate_rect"
	case errors.Is(err, ErrInvalidRelease):
		return "invalid_release"
	default:
		return "internal"
	}
}
