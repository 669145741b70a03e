package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/datastore"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/boundary"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/dashboard"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
)

type renderOptions struct {
	county    string
	island    string
	scope     string
	division  string
	timescale int
	dataset   string
	period    string
	out       string
	width     float64
	height    float64
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	o := &renderOptions{}
	c := &cobra.Command{
		Use:   "render",
		Short: "Render one dashboard view",
		Long: `Open a session over the data directory, apply the selections given by
flags, and write view.json, map.svg, and (when a dataset is selected)
raster.png to the output directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			view, err := o.run(ctx, g)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rendered %s (%d features) to %s\n", view.Label, len(view.Features), o.out)
			return nil
		},
	}
	c.Flags().StringVar(&o.county, "county", "", "county to select")
	c.Flags().StringVar(&o.island, "island", "", "island to select")
	c.Flags().StringVar(&o.scope, "scope", "", "boundary scope: divisions, moku, ahupuaa")
	c.Flags().StringVar(&o.division, "division", "", "division to select (requires --island or --county)")
	c.Flags().IntVar(&o.timescale, "timescale", 1, "series window in months: 1, 6, 12")
	c.Flags().StringVar(&o.dataset, "dataset", "", "raster dataset: rainfall, temperature, drought")
	c.Flags().StringVar(&o.period, "period", "", "raster period (YYYY or YYYY-MM)")
	c.Flags().StringVar(&o.out, "out", ".", "output directory")
	c.Flags().Float64Var(&o.width, "width", projection.DefaultSize.Width, "canvas width")
	c.Flags().Float64Var(&o.height, "height", projection.DefaultSize.Height, "canvas height")
	return c
}

func (o *renderOptions) run(ctx context.Context, g *globalFlags) (dashboard.View, error) {
	logger := g.logger()
	metrics := observability.NewMetricsForTesting()
	src := datastore.NewFileSource(g.dataDir, metrics)
	gaz := domain.DefaultGazetteer()
	registry := compositor.NewRegistry(metrics)

	manager := dashboard.NewManager(dashboard.Deps{
		Boundaries: boundary.NewCatalog(src, gaz, nil, logger),
		Gazetteer:  gaz,
		Layers:     dashboard.NewLayerCache(src, dashboard.LayerOptions{}, logger, metrics),
		Series:     src,
		Registry:   registry,
		Size:       projection.Size{Width: o.width, Height: o.height},
		Logger:     logger,
		Metrics:    metrics,
	}, 0, clockwork.NewRealClock())

	s, err := manager.Create(ctx)
	if err != nil {
		return dashboard.View{}, fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = manager.Delete(s.ID()) }()

	if err := o.apply(ctx, s); err != nil {
		return dashboard.View{}, err
	}
	view := s.View()

	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return view, fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return view, fmt.Errorf("encode view: %w", err)
	}
	if err := os.WriteFile(filepath.Join(o.out, "view.json"), data, 0o644); err != nil {
		return view, fmt.Errorf("write view.json: %w", err)
	}

	layer, hasLayer := s.Layer()
	if hasLayer {
		if err := os.WriteFile(filepath.Join(o.out, "raster.png"), layer.PNG, 0o644); err != nil {
			return view, fmt.Errorf("write raster.png: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(o.out, "map.svg"), []byte(mapSVG(view, hasLayer)), 0o644); err != nil {
		return view, fmt.Errorf("write map.svg: %w", err)
	}
	return view, nil
}

// apply replays the flag selections in the order a user would make them.
func (o *renderOptions) apply(ctx context.Context, s *dashboard.Session) error {
	if o.scope != "" {
		if err := s.SetScope(ctx, domain.Scope(o.scope)); err != nil {
			return err
		}
	}
	switch {
	case o.county != "" && o.island != "":
		return errors.New("--county and --island are mutually exclusive")
	case o.county != "":
		if err := s.SelectCounty(ctx, o.county); err != nil {
			return err
		}
	case o.island != "":
		if err := s.SelectIsland(ctx, o.island); err != nil {
			return err
		}
	}
	if o.division != "" {
		if err := s.SelectDivision(ctx, o.division); err != nil {
			return err
		}
	}
	if err := s.SetTimescale(ctx, o.timescale); err != nil {
		return err
	}
	if o.dataset == "" {
		return nil
	}
	kind, err := domain.ParseDatasetKind(o.dataset)
	if err != nil {
		return err
	}
	done, err := s.SelectDataset(ctx, domain.DatasetKey{Kind: kind, Period: o.period})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mapSVG draws the projected boundaries over the placed raster, referencing
// raster.png beside it.
func mapSVG(v dashboard.View, hasLayer bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" viewBox="0 0 %g %g">`+"\n",
		v.Size.Width, v.Size.Height, v.Size.Width, v.Size.Height)
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(v.Label))
	if hasLayer && v.Raster != nil && v.Raster.Rect != nil {
		r := v.Raster.Rect
		fmt.Fprintf(&b, `<image href="raster.png" x="%g" y="%g" width="%g" height="%g" preserveAspectRatio="none"/>`+"\n",
			r.X, r.Y, r.Width, r.Height)
	}
	b.WriteString(`<g fill="none" stroke="#333" stroke-width="0.5">` + "\n")
	for _, f := range v.Features {
		fmt.Fprintf(&b, `<path id="%s" d="%s"><title>%s</title></path>`+"\n",
			html.EscapeString(f.Key), f.Path, html.EscapeString(f.Name))
	}
	b.WriteString("</g>\n</svg>\n")
	return b.String()
}
