package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/boundary"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/timeseries"
)

const mockNoData = -9999.0

// mockBound is the statewide grid extent; every island box lies inside it.
var mockBound = orb.Bound{Min: orb.Point{-160.5, 18.5}, Max: orb.Point{-154.5, 22.5}}

// islandBoxes are approximate island extents in WGS84 degrees.
var islandBoxes = map[string]orb.Bound{
	"Niʻihau":    {Min: orb.Point{-160.25, 21.77}, Max: orb.Point{-160.05, 22.03}},
	"Kauaʻi":     {Min: orb.Point{-159.79, 21.87}, Max: orb.Point{-159.29, 22.24}},
	"Oʻahu":      {Min: orb.Point{-158.28, 21.25}, Max: orb.Point{-157.65, 21.71}},
	"Molokaʻi":   {Min: orb.Point{-157.32, 21.05}, Max: orb.Point{-156.70, 21.22}},
	"Lānaʻi":     {Min: orb.Point{-157.07, 20.73}, Max: orb.Point{-156.80, 20.93}},
	"Maui":       {Min: orb.Point{-156.70, 20.57}, Max: orb.Point{-155.98, 21.03}},
	"Kahoʻolawe": {Min: orb.Point{-156.70, 20.50}, Max: orb.Point{-156.53, 20.60}},
	"Hawaiʻi":    {Min: orb.Point{-156.07, 18.91}, Max: orb.Point{-154.81, 20.27}},
}

type genmockOptions struct {
	out     string
	periods []string
	asOf    string
	cell    float64
}

func newGenmockCmd() *cobra.Command {
	o := &genmockOptions{}
	c := &cobra.Command{
		Use:   "genmock",
		Short: "Write a mock data directory",
		Long: `Write island and division boundaries, one raster per dataset and period,
and the time-series tables for every granularity and timescale. Output is
deterministic for the same flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := o.run()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", written, o.out)
			return nil
		},
	}
	c.Flags().StringVar(&o.out, "out", "", "output directory")
	c.Flags().StringSliceVar(&o.periods, "periods", []string{"2024-05", "2024-06"}, "raster periods")
	c.Flags().StringVar(&o.asOf, "as-of", "2024-06", "last month of the time series (YYYY-MM)")
	c.Flags().Float64Var(&o.cell, "cell", 0.05, "raster cell size in degrees")
	_ = c.MarkFlagRequired("out")
	return c
}

func (o *genmockOptions) run() (int, error) {
	asOf, err := time.Parse("2006-01", o.asOf)
	if err != nil {
		return 0, fmt.Errorf("invalid --as-of %q: %w", o.asOf, err)
	}
	if o.cell <= 0 {
		return 0, fmt.Errorf("invalid --cell %g", o.cell)
	}
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	gaz := domain.DefaultGazetteer()
	files := map[string][]byte{}

	islands, divisions, err := mockBoundaries(gaz)
	if err != nil {
		return 0, err
	}
	files[boundary.DefaultNames[domain.Islands]+".geojson"] = islands
	files[boundary.DefaultNames[domain.Divisions]+".geojson"] = divisions

	for _, kind := range []domain.DatasetKind{domain.Rainfall, domain.Temperature, domain.Drought} {
		for _, period := range o.periods {
			key := domain.DatasetKey{Kind: kind, Period: period}
			data, err := mockRaster(key, o.cell)
			if err != nil {
				return 0, err
			}
			files[key.RasterName()] = data
		}
		for _, g := range []domain.Granularity{domain.Islands, domain.Divisions} {
			for _, ts := range domain.Timescales {
				data, err := mockTable(gaz, kind, g, ts, asOf)
				if err != nil {
					return 0, err
				}
				files[timeseries.FileName(kind, g, ts)] = data
			}
		}
	}

	for name, data := range files {
		if err := os.WriteFile(filepath.Join(o.out, name), data, 0o644); err != nil {
			return 0, fmt.Errorf("write %s: %w", name, err)
		}
	}
	return len(files), nil
}

func boxPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{{
		{b.Min[0], b.Min[1]}, {b.Max[0], b.Min[1]}, {b.Max[0], b.Max[1]}, {b.Min[0], b.Max[1]}, {b.Min[0], b.Min[1]},
	}}
}

// mockBoundaries writes each island as its box and splits the box into
// equal west-to-east strips, one per climate division.
func mockBoundaries(gaz *domain.Gazetteer) ([]byte, []byte, error) {
	islands := geojson.NewFeatureCollection()
	divisions := geojson.NewFeatureCollection()
	for _, name := range gaz.Islands() {
		b, ok := islandBoxes[name]
		if !ok {
			return nil, nil, fmt.Errorf("no mock extent for island %q", name)
		}
		f := geojson.NewFeature(boxPolygon(b))
		f.Properties["isle"] = name
		islands.Append(f)

		divs := gaz.Divisions(name)
		step := (b.Max[0] - b.Min[0]) / float64(len(divs))
		for i, d := range divs {
			strip := orb.Bound{
				Min: orb.Point{b.Min[0] + float64(i)*step, b.Min[1]},
				Max: orb.Point{b.Min[0] + float64(i+1)*step, b.Max[1]},
			}
			df := geojson.NewFeature(boxPolygon(strip))
			df.Properties["isle"] = name
			df.Properties["division"] = d
			divisions.Append(df)
		}
	}
	is, err := islands.MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("encode islands: %w", err)
	}
	ds, err := divisions.MarshalJSON()
	if err != nil {
		return nil, nil, fmt.Errorf("encode divisions: %w", err)
	}
	return is, ds, nil
}

// mockRaster fills the statewide grid with a smooth field over land and
// no-data over the ocean.
func mockRaster(key domain.DatasetKey, cell float64) ([]byte, error) {
	w := int(math.Round((mockBound.Max[0] - mockBound.Min[0]) / cell))
	h := int(math.Round((mockBound.Max[1] - mockBound.Min[1]) / cell))
	shift := float64(len(key.Period)+int(key.Period[len(key.Period)-1])) / 10

	vals := make([]float64, w*h)
	for y := range h {
		lat := mockBound.Max[1] - (float64(y)+0.5)*cell
		for x := range w {
			lon := mockBound.Min[0] + (float64(x)+0.5)*cell
			if !onLand(orb.Point{lon, lat}) {
				vals[y*w+x] = mockNoData
				continue
			}
			wave := math.Sin(lon*3+shift) * math.Cos(lat*2-shift)
			switch key.Kind {
			case domain.Rainfall:
				vals[y*w+x] = math.Max(0, 4+3*wave+(lat-18.5))
			case domain.Temperature:
				vals[y*w+x] = 78 - 2.5*(lat-18.5) + 4*wave
			default:
				vals[y*w+x] = 2.8 * wave
			}
		}
	}

	noData := mockNoData
	r := raster.New(w, h, vals, mockBound, &noData, 0)
	var buf bytes.Buffer
	if err := raster.Encode(&buf, r, raster.EncodeOptions{Deflate: true, CornerTiepoints: true}); err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func onLand(p orb.Point) bool {
	for _, b := range islandBoxes {
		if b.Contains(p) {
			return true
		}
	}
	return false
}

// mockTable writes one synthetic row per label. Island tables carry the
// statewide row, every island, and the counties not named after an island.
func mockTable(gaz *domain.Gazetteer, kind domain.DatasetKind, g domain.Granularity, ts domain.Timescale, asOf time.Time) ([]byte, error) {
	var labels []string
	if g == domain.Islands {
		labels = append(labels, "Statewide")
		labels = append(labels, gaz.Islands()...)
		labels = append(labels, "Honolulu")
	} else {
		for _, is := range gaz.Islands() {
			labels = append(labels, gaz.Divisions(is)...)
		}
	}

	var t timeseries.Table
	for _, label := range labels {
		rows := timeseries.Synthetic(fmt.Sprintf("%s/%d", label, ts), kind, asOf)
		if t.Months == nil {
			for _, r := range rows {
				t.Months = append(t.Months, r.Month)
			}
		}
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = r.Value
		}
		t.Rows = append(t.Rows, timeseries.TableRow{Label: label, Values: values})
	}

	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("write %s: %w", timeseries.FileName(kind, g, ts), err)
	}
	return buf.Bytes(), nil
}
