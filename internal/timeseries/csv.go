// Package timeseries parses the per-label monthly tables that back the
// dashboard's trend chart and summarizes the selected series.
package timeseries

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
)

// Row is one labelled monthly value. Key names the label column in JSON, so
// a row parsed with key "state" encodes as {"state": ..., "month": ..., "value": ...}.
type Row struct {
	Key   string
	Label string
	Month string
	Value float64
}

// MarshalJSON encodes the label under the row's key.
func (r Row) MarshalJSON() ([]byte, error) {
	key := r.Key
	if key == "" {
		key = "label"
	}
	return json.Marshal(map[string]any{key: r.Label, "month": r.Month, "value": r.Value})
}

// Parse reads a table whose header row holds month labels after a leading
// label column. Rows with a blank label and cells that are not numbers are
// skipped; a malformed file is an error.
func Parse(r io.Reader, labelKey string) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows may be ragged
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read series header: %w", err)
	}
	months := make([]string, len(header))
	for i, h := range header {
		months[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read series row: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		label := strings.TrimSpace(record[0])
		if label == "" {
			continue
		}
		for i := 1; i < len(record) && i < len(months); i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				continue
			}
			rows = append(rows, Row{Key: labelKey, Label: label, Month: months[i], Value: v})
		}
	}
	return rows, nil
}

// ForLabel returns the rows whose label names the same place as label.
func ForLabel(rows []Row, label string) []Row {
	var out []Row
	for _, r := range rows {
		if domain.SameName(r.Label, label) {
			out = append(out, r)
		}
	}
	return out
}

// Labels returns the distinct labels in first-seen order.
func Labels(rows []Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.Label] {
			seen[r.Label] = true
			out = append(out, r.Label)
		}
	}
	return out
}

// FileName is the table resource for a dataset, granularity, and timescale.
func FileName(kind domain.DatasetKind, g domain.Granularity, ts domain.Timescale) string {
	return domain.SeriesName(kind, g, ts)
}

// Table is a labelled monthly table, the inverse of Parse.
type Table struct {
	Months []string
	Rows   []TableRow
}

// TableRow is one label's values, aligned with Table.Months.
type TableRow struct {
	Label  string
	Values []float64
}

// WriteCSV writes the table in the format Parse reads.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"label"}, t.Months...)); err != nil {
		return fmt.Errorf("write series header: %w", err)
	}
	for _, r := range t.Rows {
		rec := make([]string, 0, len(r.Values)+1)
		rec = append(rec, r.Label)
		for _, v := range r.Values {
			rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write series row %q: %w", r.Label, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write series: %w", err)
	}
	return nil
}
