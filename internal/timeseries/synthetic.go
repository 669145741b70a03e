package timeseries

import (
	"math"
	"time"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// Synthetic generates a deterministic twelve-month series ending at now's
// month. The seed string picks the phase and offset of a seasonal curve.
// It produces fixtures for tests and dashctl genmock; the dashboard never
// substitutes it for missing data.
func Synthetic(seed string, kind domain.DatasetKind, now time.Time) []Row {
	h := 0
	for _, c := range []byte(seed) {
		h = (h*31 + int(c)) % 1000
	}
	phase := float64(h%360) * math.Pi / 180
	offset := float64(h%37 - 18)

	rows := make([]Row, 0, 12)
	for i := 11; i >= 0; i-- {
		d := time.Date(now.Year(), now.Month()-time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		t := float64(11-i) / 11
		seasonal := math.Sin(t*2*math.Pi + phase)

		var v float64
		switch kind {
		case domain.Rainfall:
			v = math.Max(0, 2.2+1.4*seasonal+offset/60)
		case domain.Drought:
			v = math.Max(-3, math.Min(3, 1.5*seasonal+offset/30))
		default:
			v = 72 + 5*seasonal + offset/10
		}
		rows = append(rows, Row{
			Key:   "label",
			Label: seed,
			Month: d.Format("Jan"),
			Value: math.Round(v*10) / 10,
		})
	}
	return rows
}
