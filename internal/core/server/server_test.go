package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/core/arcgis"
	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/core/router"
	"github.com/mohammed-shakir/featuregrid/internal/panel"
)

func TestNewHandler_Routes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := panel.NewRegistry(panel.Config{}, nil, nil, logger)
	h := NewHandler(logger, Deps{API: router.New(logger, reg, "http://arcgis.test/MapServer"), Panels: reg})

	tests := []struct {
		method, target string
		wantCode       int
		wantBody       string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, "ok"},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable, "not_ready"},
		{http.MethodGet, "/api/panels", http.StatusServiceUnavailable, "panels not loaded"},
		{http.MethodOptions, "/api/panels/0/state", http.StatusNoContent, ""},
		{http.MethodGet, "/metrics", http.StatusOK, "http_requests_total"},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, nil))
		if rr.Code != tc.wantCode {
			t.Fatalf("%s %s status=%d want %d", tc.method, tc.target, rr.Code, tc.wantCode)
		}
		if !strings.Contains(rr.Body.String(), tc.wantBody) {
			t.Fatalf("%s %s body=%q want it to contain %q", tc.method, tc.target, rr.Body.String(), tc.wantBody)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s %s missing X-Request-ID", tc.method, tc.target)
		}
	}
}

type oneLayer struct{}

func (oneLayer) ResolveTitles(context.Context, []string) ([]arcgis.Sublayer, []string, error) {
	return []arcgis.Sublayer{{ID: 3, Title: "Culverts - Cross", URL: "http://arcgis.test/MapServer/3"}}, nil, nil
}

type emptyLayer struct{}

func (emptyLayer) URL() string { return "http://arcgis.test/MapServer/3" }

func (emptyLayer) CountMatching(context.Context, string) (int, error) { return 0, nil }

func (emptyLayer) Describe(context.Context) ([]model.Field, error) { return nil, nil }

func (emptyLayer) FetchWindow(context.Context, model.WindowQuery) (model.FeatureSet, error) {
	return model.FeatureSet{}, nil
}

func TestServe_ShutdownEndsEventStreams(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := panel.NewRegistry(panel.Config{Titles: []string{"Culverts - Cross"}}, oneLayer{},
		func(string) collection.Upstream { return emptyLayer{} }, logger)
	if err := reg.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	h := NewHandler(logger, Deps{API: router.New(logger, reg, "http://arcgis.test/MapServer"), Panels: reg})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, logger, h, reg.Close) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/panels/0/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || !strings.HasPrefix(sc.Text(), "event: session") {
		t.Fatalf("first line %q want the session event", sc.Text())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown waited on the open event stream")
	}
	if reg.Sessions() != 0 {
		t.Fatalf("sessions=%d want 0 after shutdown", reg.Sessions())
	}
}
