package timeseries

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a series for the stat boxes next to the chart.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
	// LatestMonth is the month of the last row.
	LatestMonth string `json:"latest_month"`
}

// Summarize reports false for an empty series.
func Summarize(rows []Row) (Summary, bool) {
	if len(rows) == 0 {
		return Summary{}, false
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Value
	}
	s := Summary{
		Count:       len(values),
		Mean:        stat.Mean(values, nil),
		Min:         floats.Min(values),
		Max:         floats.Max(values),
		Latest:      values[len(values)-1],
		LatestMonth: rows[len(rows)-1].Month,
	}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s, true
}
