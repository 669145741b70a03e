// Package datastore implements domain.Source over a local data directory or
// an HTTP data host, with an LRU decorator for repeated reads.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
)

// FileSource reads resources from a directory.
type FileSource struct {
	dir     string
	metrics *observability.Metrics
}

// NewFileSource creates a source rooted at dir.
func NewFileSource(dir string, metrics *observability.Metrics) *FileSource {
	return &FileSource{dir: dir, metrics: metrics}
}

// Open reads dir/name. Names that would escape the directory are rejected.
func (s *FileSource) Open(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(name) {
		s.metrics.SourceRequests.WithLabelValues("file", "error").Inc()
		return nil, fmt.Errorf("open %q: name escapes data directory", name)
	}

	start := time.Now()
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(name)))
	s.metrics.SourceFetchDuration.WithLabelValues("file").Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.metrics.SourceRequests.WithLabelValues("file", "not_found").Inc()
		return nil, fmt.Errorf("open %s: %w", name, domain.ErrNotFound)
	case err != nil:
		s.metrics.SourceRequests.WithLabelValues("file", "error").Inc()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	s.metrics.SourceRequests.WithLabelValues("file", "success").Inc()
	return data, nil
}
