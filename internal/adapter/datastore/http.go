package datastore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
)

// maxBodyBytes caps a single resource download.
const maxBodyBytes = 256 << 20

// HTTPSource reads resources from a static data host.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxBody    int64
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHTTPSource creates a source that fetches baseURL/name. requestsPerSecond
// bounds the request rate; zero or less disables the limit.
func NewHTTPSource(baseURL string, timeout time.Duration, requestsPerSecond float64, logger *slog.Logger, metrics *observability.Metrics) *HTTPSource {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = max(1, int(requestsPerSecond))
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		maxBody: maxBodyBytes,
		logger:  logger,
		metrics: metrics,
	}
}

// Open fetches one resource. A 404 maps to domain.ErrNotFound. Names that
// would climb out of the base URL and bodies over the size cap are errors.
func (s *HTTPSource) Open(ctx context.Context, name string) ([]byte, error) {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		s.metrics.SourceRequests.WithLabelValues("http", "error").Inc()
		return nil, fmt.Errorf("open %q: name escapes data host path", name)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("open %s: rate limit: %w", name, err)
	}

	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := s.baseURL + "/" + strings.Join(segments, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	s.metrics.SourceFetchDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.SourceRequests.WithLabelValues("http", "error").Inc()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		s.metrics.SourceRequests.WithLabelValues("http", "not_found").Inc()
		return nil, fmt.Errorf("open %s: %w", name, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		s.metrics.SourceRequests.WithLabelValues("http", "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("open %s: data host error: status %d: %s", name, resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		s.metrics.SourceRequests.WithLabelValues("http", "error").Inc()
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > s.maxBody {
		s.metrics.SourceRequests.WithLabelValues("http", "error").Inc()
		return nil, fmt.Errorf("read %s: body exceeds %d bytes", name, s.maxBody)
	}
	s.metrics.SourceRequests.WithLabelValues("http", "success").Inc()
	s.logger.Debug("resource fetched", "name", name, "bytes", len(data), "duration", time.Since(start))
	return data, nil
}
