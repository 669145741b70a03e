package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/dashboard"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const maxRequestBytes = 1 << 16

// Sessions opens, finds, and closes dashboard sessions.
type Sessions interface {
	Create(ctx context.Context) (*dashboard.Session, error)
	Get(id string) (*dashboard.Session, error)
	Delete(id string) error
}

// Handles resolves live layer image handles.
type Handles interface {
	Get(id string) (*compositor.Layer, bool)
}

// API serves the session state machine over JSON.
type API struct {
	sessions Sessions
	handles  Handles
	logger   *slog.Logger
}

// NewAPI creates the session API handlers.
func NewAPI(sessions Sessions, handles Handles, logger *slog.Logger) *API {
	return &API{sessions: sessions, handles: handles, logger: logger}
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", a.handleCreate)
	mux.HandleFunc("GET /api/sessions/{id}", a.withSession(a.handleView))
	mux.HandleFunc("DELETE /api/sessions/{id}", a.handleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/{op}", a.withSession(a.handleTransition))
	mux.HandleFunc("GET /api/sessions/{id}/raster.png", a.withSession(a.handleRaster))
	mux.HandleFunc("GET /api/layers/{handle}", a.handleLayer)
}

// transitionRequest is the body of a transition. Value is a string, or a
// number for timescale; Period is only read by the dataset transition.
type transitionRequest struct {
	Value  json.RawMessage `json:"value"`
	Period string          `json:"period"`
}

var errBadRequest = errors.New("bad request")

func (r transitionRequest) text() (string, error) {
	if len(r.Value) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(r.Value, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: value must be a string or number", errBadRequest)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Create(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusCreated, s.View())
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) withSession(h func(http.ResponseWriter, *http.Request, *dashboard.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := a.sessions.Get(r.PathValue("id"))
		if err != nil {
			a.writeError(w, err)
			return
		}
		h(w, r, s)
	}
}

func (a *API) handleView(w http.ResponseWriter, _ *http.Request, s *dashboard.Session) {
	sharedobs.WriteJSON(w, http.StatusOK, s.View())
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request, s *dashboard.Session) {
	var req transitionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	value, err := req.text()
	if err != nil {
		a.writeError(w, err)
		return
	}

	ctx := r.Context()
	switch op := r.PathValue("op"); op {
	case "county":
		err = s.SelectCounty(ctx, value)
	case "island":
		err = s.SelectIsland(ctx, value)
	case "division":
		err = s.SelectDivision(ctx, value)
	case "scope":
		err = s.SetScope(ctx, domain.Scope(value))
	case "timescale":
		var ts domain.Timescale
		if ts, err = domain.ParseTimescale(value); err == nil {
			err = s.SetTimescale(ctx, int(ts))
		}
	case "reset":
		err = s.Reset(ctx)
	case "dataset":
		err = a.selectDataset(r, s, value, req.Period)
	default:
		a.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown transition %q", op))
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, s.View())
}

// selectDataset switches the layer. With ?wait=true the response is held
// until the decode has been applied or the request ends.
func (a *API) selectDataset(r *http.Request, s *dashboard.Session, value, period string) error {
	kind, err := domain.ParseDatasetKind(value)
	if err != nil {
		return err
	}
	done, err := s.SelectDataset(r.Context(), domain.DatasetKey{Kind: kind, Period: period})
	if err != nil {
		return err
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}
	return nil
}

func (a *API) handleRaster(w http.ResponseWriter, _ *http.Request, s *dashboard.Session) {
	view := s.View()
	if view.Raster == nil || view.Raster.Handle == "" || view.Raster.Error != "" {
		a.writeJSONError(w, http.StatusNotFound, "no raster layer")
		return
	}
	a.writeLayer(w, view.Raster.Handle)
}

func (a *API) handleLayer(w http.ResponseWriter, r *http.Request) {
	a.writeLayer(w, r.PathValue("handle"))
}

func (a *API) writeLayer(w http.ResponseWriter, handle string) {
	layer, ok := a.handles.Get(handle)
	if !ok {
		a.writeJSONError(w, http.StatusNotFound, "unknown layer handle")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(layer.PNG)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(layer.PNG) //nolint:errcheck // client went away
}

// statusFor maps selection and session errors to HTTP statuses. Layer errors
// never reach here; they are reported inside the view.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrSessionNotFound), errors.Is(err, dashboard.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrUnknownCounty),
		errors.Is(err, domain.ErrUnknownIsland),
		errors.Is(err, domain.ErrUnknownDivision),
		errors.Is(err, domain.ErrNoIslandSelected),
		errors.Is(err, domain.ErrUnknownDataset),
		errors.Is(err, domain.ErrInvalidScope),
		errors.Is(err, domain.ErrInvalidTimescale):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err, "status", status)
	}
	a.writeJSONError(w, status, err.Error())
}

func (a *API) writeJSONError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
