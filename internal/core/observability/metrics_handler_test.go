package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ObserveHTTP("GET", "/api/panels", 200, 0.001)
	ObserveUpstreamLatency("query", 0.02)
	ObserveCacheOp("get", errors.New("x"), 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{
		`http_requests_total{method="GET",route="/api/panels",status="200"}`,
		`upstream_latency_seconds_bucket{op="query"`,
		`redis_operation_duration_seconds_bucket{op="get",result="error"`,
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics payload missing %s; got:\n%s", name, body)
		}
	}
}

func TestGridFetchCounters(t *testing.T) {
	before := testutil.ToFloat64(GridFetches(FacadeCallback, OutcomeError))
	IncGridFetch(FacadeCallback, OutcomeError)
	IncGridFetch(FacadeCallback, OutcomeError)
	if got := testutil.ToFloat64(GridFetches(FacadeCallback, OutcomeError)) - before; got != 2 {
		t.Fatalf("grid_fetch_total delta=%v want 2", got)
	}

	hb := testutil.ToFloat64(PageCacheResults("lru", "hit"))
	IncPageCache("lru", true)
	if got := testutil.ToFloat64(PageCacheResults("lru", "hit")) - hb; got != 1 {
		t.Fatalf("page_cache hit delta=%v want 1", got)
	}
}
