package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/datastore"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/boundary"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/colormap"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/timeseries"
)

// alignTolerance is the largest screen-space gap allowed between a projected
// raster corner and its placed rectangle.
const alignTolerance = 1e-6

// errValidationFailed is returned when any phase reports an error.
var errValidationFailed = errors.New("validation failed")

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a data directory",
		Long: `Check that the boundary collections load, every raster decodes to a
non-empty domain, every time-series table parses, and every raster placed
under each island's fitted projection stays aligned with its bounding box.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), g)
		},
	}
}

type decodedRaster struct {
	key domain.DatasetKey
	r   *raster.Raster
}

func runValidate(ctx context.Context, out io.Writer, g *globalFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := g.logger()
	metrics := observability.NewMetricsForTesting()
	src := datastore.NewFileSource(g.dataDir, metrics)
	gaz := domain.DefaultGazetteer()
	catalog := boundary.NewCatalog(src, gaz, nil, logger)

	fmt.Fprintln(out, "=== Climate Data Validation ===")
	fmt.Fprintln(out)

	bp, islands := validateBoundaries(ctx, catalog, gaz)
	rp, rasters := validateRasters(g.dataDir)
	phases := []*phase{
		bp,
		rp,
		validateSeries(g.dataDir),
		validateAlignment(islands, rasters, gaz),
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Data: %d island outlines, %d rasters\n", len(islands), len(rasters))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return nil
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return errValidationFailed
}

// validateBoundaries requires every gazetteer island among the outlines and
// every loadable finer collection to name islands the gazetteer knows.
func validateBoundaries(ctx context.Context, catalog *boundary.Catalog, gaz *domain.Gazetteer) (*phase, []domain.Feature) {
	p := &phase{name: "Phase 1: Boundary collections"}

	islands, err := catalog.Features(ctx, domain.Islands)
	if err != nil {
		p.errorf("islands: %v", err)
		return p, nil
	}
	for _, name := range gaz.Islands() {
		if len(domain.FilterIslands(islands, []string{name})) == 0 {
			p.errorf("islands: no outline for %s", name)
		}
	}

	for _, g := range domain.Granularities[1:] {
		fs, err := catalog.Features(ctx, g)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			p.errorf("%s: %v", g, err)
			continue
		}
		for _, f := range fs {
			if _, ok := gaz.Island(f.Island); !ok {
				p.errorf("%s: %q belongs to unknown island %q", g, f.Name, f.Island)
			}
		}
	}
	return p, islands
}

func validateRasters(dir string) (*phase, []decodedRaster) {
	p := &phase{name: "Phase 2: Raster grids"}

	names, err := filepath.Glob(filepath.Join(dir, "*.tif"))
	if err != nil {
		p.errorf("list rasters: %v", err)
		return p, nil
	}
	sort.Strings(names)
	if len(names) == 0 {
		p.errorf("no rasters in %s", dir)
	}

	var out []decodedRaster
	for _, path := range names {
		name := filepath.Base(path)
		key, ok := domain.ParseRasterName(name)
		if !ok {
			p.errorf("%s: name is not <dataset>_<period>.tif", name)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		r, err := raster.Decode(data, raster.Options{})
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if _, err := colormap.BuildScale(r.Values, r.IsNoData, key.Kind); err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		out = append(out, decodedRaster{key: key, r: r})
	}
	return p, out
}

func validateSeries(dir string) *phase {
	p := &phase{name: "Phase 3: Time-series tables"}

	names, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		p.errorf("list tables: %v", err)
		return p
	}
	sort.Strings(names)
	for _, path := range names {
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		rows, err := timeseries.Parse(bytes.NewReader(data), "label")
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if len(rows) == 0 {
			p.errorf("%s: no rows", name)
			continue
		}
		if strings.Contains(name, "_"+string(domain.Islands)+"_") && len(timeseries.ForLabel(rows, "Statewide")) == 0 {
			p.errorf("%s: no Statewide row", name)
		}
	}
	return p
}

// validateAlignment fits each island's county group and checks that every
// raster's rectangle matches its projected bounding box.
func validateAlignment(islands []domain.Feature, rasters []decodedRaster, gaz *domain.Gazetteer) *phase {
	p := &phase{name: "Phase 4: Raster alignment"}
	if len(islands) == 0 || len(rasters) == 0 {
		p.errorf("nothing to align: %d outlines, %d rasters", len(islands), len(rasters))
		return p
	}

	groups := append([]string{"Statewide"}, gaz.Islands()...)
	for _, group := range groups {
		features := islands
		if group != "Statewide" {
			features = domain.FilterIslands(islands, gaz.Siblings(group))
		}
		proj, err := projection.Fit(features, projection.DefaultSize)
		if err != nil {
			p.errorf("%s: %v", group, err)
			continue
		}
		for _, dr := range rasters {
			rect, err := compositor.PlaceBound(dr.r.Bound, proj)
			if err != nil {
				p.errorf("%s %s: %v", group, dr.key, err)
				continue
			}
			if !compositor.Aligned(rect, dr.r.Bound, proj, alignTolerance) {
				p.errorf("%s %s: rectangle %+v does not match the projected bounding box", group, dr.key, rect)
			}
		}
	}
	return p
}
