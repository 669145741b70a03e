package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// RawRelease represents an unprocessed message from the release topic.
type RawRelease struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ReleaseNotice announces that a new raster grid is available on the data
// host, e.g. {"dataset":"drought","period":"2024-06"}.
type ReleaseNotice struct {
	Dataset string `json:"dataset"`
	Period  string `json:"period"`
}

var periodPattern = regexp.MustCompile(`^\d{4}(-\d{2})?$`)

// ParseRelease decodes a release notice and resolves its dataset key.
func ParseRelease(raw RawRelease) (DatasetKey, error) {
	var n ReleaseNotice
	if err := json.Unmarshal(raw.Value, &n); err != nil {
		return DatasetKey{}, fmt.Errorf("%w: %w", ErrInvalidRelease, err)
	}
	kind, err := ParseDatasetKind(n.Dataset)
	if err != nil {
		return DatasetKey{}, fmt.Errorf("%w: %w", ErrInvalidRelease, err)
	}
	if !periodPattern.MatchString(n.Period) {
		return DatasetKey{}, fmt.Errorf("%w: period %q", ErrInvalidRelease, n.Period)
	}
	return DatasetKey{Kind: kind, Period: n.Period}, nil
}

// LayerNotice reports a rebuilt layer to downstream consumers.
type LayerNotice struct {
	Key        DatasetKey `json:"key"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Bound      [4]float64 `json:"bbox"`
	Min        float64    `json:"min"`
	Max        float64    `json:"max"`
	Unit       string     `json:"unit"`
	Sessions   int        `json:"sessions"`
	RenderedAt time.Time  `json:"rendered_at"`
}
