package domain

import (
	"context"
	"errors"
)

// ErrNotFound means a data source has no resource with the requested name.
var ErrNotFound = errors.New("resource not found")

// Source reads named data resources: boundary files, raster grids, and
// time-series tables. Implementations live in the datastore adapter.
type Source interface {
	Open(ctx context.Context, name string) ([]byte, error)
}
