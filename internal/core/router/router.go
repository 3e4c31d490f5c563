// Package router serves the grid API over the panel registry.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/core/arcgis"
	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/panel"
)

// Registry is the panel state the API reads and drives.
type Registry interface {
	Layers() ([]arcgis.Sublayer, error)
	Panels() ([]*panel.Panel, error)
	Panel(index int) (*panel.Panel, error)
	OpenSession(id string) (*panel.Session, error)
	DataStateChange(ctx context.Context, sessionID string, index int, st panel.DataState) error
	SelectTab(ctx context.Context, sessionID string, index int) error
}

type API struct {
	logger *slog.Logger
	reg    Registry
	mapURL string
}

func New(logger *slog.Logger, reg Registry, mapURL string) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, reg: reg, mapURL: mapURL}
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/api/map", a.handleMap)
	r.Get("/api/panels", a.handlePanels)
	r.Post("/api/panels/{index}/state", a.handleDataState)
	r.Get("/api/panels/{index}/events", a.handleEvents)
	r.Get("/api/panels/{index}/rows", a.handleRows)
	r.Post("/api/tabs/{index}/select", a.handleSelectTab)
}

type layerJSON struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (a *API) handleMap(w http.ResponseWriter, r *http.Request) {
	layers, err := a.reg.Layers()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := struct {
		MapServiceURL string      `json:"mapServiceUrl"`
		Layers        []layerJSON `json:"layers"`
	}{MapServiceURL: a.mapURL, Layers: make([]layerJSON, 0, len(layers))}
	for _, l := range layers {
		out.Layers = append(out.Layers, layerJSON{ID: l.ID, Title: l.Title, URL: l.URL})
	}
	writeJSON(w, http.StatusOK, out)
}

type panelJSON struct {
	Index        int                      `json:"index"`
	Name         string                   `json:"name"`
	Kind         panel.Kind               `json:"kind"`
	LayerURL     string                   `json:"layerUrl"`
	Count        int                      `json:"count"`
	PageSettings *panel.PageSettings      `json:"pageSettings,omitempty"`
	Columns      []model.ColumnDescriptor `json:"columns,omitempty"`
	ColumnDefs   []collection.ColumnDef   `json:"columnDefs,omitempty"`
}

func (a *API) handlePanels(w http.ResponseWriter, r *http.Request) {
	panels, err := a.reg.Panels()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]panelJSON, 0, len(panels))
	for _, p := range panels {
		pj := panelJSON{
			Index:    p.Index,
			Name:     p.Name,
			Kind:     p.Kind,
			LayerURL: p.Layer.URL,
			Count:    p.Count(),
		}
		switch p.Kind {
		case panel.KindPaged:
			ps := p.PageSettings()
			pj.PageSettings = &ps
			pj.Columns = p.Columns()
		case panel.KindInfinite:
			pj.ColumnDefs = p.Datasource().ColumnDefs()
		}
		out = append(out, pj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleDataState(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var st panel.DataState
	if st.Skip, err = optionalInt(r, "skip"); err != nil {
		a.writeError(w, r, err)
		return
	}
	if st.Take, err = optionalInt(r, "take"); err != nil {
		a.writeError(w, r, err)
		return
	}
	sid, err := sessionParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.reg.DataStateChange(r.Context(), sid, idx, st); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleRows(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.reg.Panel(idx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if p.Kind != panel.KindInfinite {
		a.writeError(w, r, fmt.Errorf("panel %d is not an infinite grid: %w", idx, panel.ErrNoSuchPanel))
		return
	}
	start, end, err := parseRowRange(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var (
		rows    []model.Record
		lastRow *int
		failed  bool
	)
	p.Datasource().GetRows(r.Context(), collection.GetRowsParams{
		StartRow: start,
		EndRow:   end,
		Success: func(rs []model.Record, last *int) {
			rows, lastRow = rs, last
		},
		Fail: func() { failed = true },
	})
	if failed {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "error getting features"})
		return
	}
	if rows == nil {
		rows = []model.Record{}
	}
	writeJSON(w, http.StatusOK, struct {
		Rows    []model.Record `json:"rows"`
		LastRow *int           `json:"lastRow"`
	}{Rows: rows, LastRow: lastRow})
}

func (a *API) handleSelectTab(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sid, err := sessionParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.reg.SelectTab(r.Context(), sid, idx); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

func pathIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: index %q is not an integer", errBadRequest, raw)
	}
	return n, nil
}

const maxSessionID = 64

// sessionParam is the push session announced on the panel's event stream.
func sessionParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.URL.Query().Get("session"))
	if len(id) > maxSessionID {
		return "", fmt.Errorf("%w: session id longer than %d", errBadRequest, maxSessionID)
	}
	return id, nil
}

func optionalInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not an integer", errBadRequest, name, raw)
	}
	return &n, nil
}

func parseRowRange(r *http.Request) (start, end int, err error) {
	s, err := optionalInt(r, "startRow")
	if err != nil {
		return 0, 0, err
	}
	e, err := optionalInt(r, "endRow")
	if err != nil {
		return 0, 0, err
	}
	if s == nil || e == nil {
		return 0, 0, fmt.Errorf("%w: startRow and endRow are required", errBadRequest)
	}
	if *s < 0 || *e <= *s {
		return 0, 0, fmt.Errorf("%w: row range [%d, %d) is empty or negative", errBadRequest, *s, *e)
	}
	return *s, *e, nil
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, collection.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, panel.ErrNoSuchPanel), errors.Is(err, panel.ErrNoSuchSession):
		status = http.StatusNotFound
	case errors.Is(err, panel.ErrNotLoaded), errors.Is(err, panel.ErrClosed),
		errors.Is(err, collection.ErrStreamClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
