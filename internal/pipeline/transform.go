package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// LayerBuilder rebuilds a dataset layer, bypassing any cached copy.
type LayerBuilder interface {
	Refresh(ctx context.Context, key domain.DatasetKey) (*compositor.Layer, error)
}

// SessionRefresher re-applies a rebuilt layer to the sessions showing it and
// reports how many were updated.
type SessionRefresher interface {
	Refresh(ctx context.Context, key domain.DatasetKey) int
}

// LayerTransformer implements Transformer by rebuilding the announced layer
// and pushing it to open sessions.
type LayerTransformer struct {
	layers   LayerBuilder
	sessions SessionRefresher
	logger   *slog.Logger
}

// NewTransformer creates a LayerTransformer. Pass a nil sessions to rebuild
// layers without touching open sessions.
func NewTransformer(layers LayerBuilder, sessions SessionRefresher, logger *slog.Logger) *LayerTransformer {
	return &LayerTransformer{layers: layers, sessions: sessions, logger: logger}
}

func (t *LayerTransformer) Transform(ctx context.Context, raw domain.RawRelease) (domain.LayerNotice, error) {
	key, err := domain.ParseRelease(raw)
	if err != nil {
		return domain.LayerNotice{}, err
	}

	layer, err := t.layers.Refresh(ctx, key)
	if err != nil {
		return domain.LayerNotice{}, err
	}

	n := 0
	if t.sessions != nil {
		n = t.sessions.Refresh(ctx, key)
	}
	t.logger.Debug("layer refreshed", "key", key.String(), "sessions", n)

	b := layer.Image.Bounds()
	return domain.LayerNotice{
		Key:        key,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Bound:      [4]float64{layer.Bound.Min[0], layer.Bound.Min[1], layer.Bound.Max[0], layer.Bound.Max[1]},
		Min:        layer.Legend.Min,
		Max:        layer.Legend.Max,
		Unit:       layer.Legend.Unit,
		Sessions:   n,
		RenderedAt: domain.Clock().Now().UTC(),
	}, nil
}
