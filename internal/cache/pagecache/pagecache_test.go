package pagecache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/featuregrid/internal/cache/keys"
	"github.com/mohammed-shakir/featuregrid/internal/cache/redisstore"
	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/core/observability"
)

const layerURL = "http://arcgis.test/MapServer/3"

type countingUpstream struct {
	mu      sync.Mutex
	fetches int
	counts  int
	err     error
}

func (u *countingUpstream) URL() string { return layerURL }

func (u *countingUpstream) CountMatching(context.Context, string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts++
	return 42, nil
}

func (u *countingUpstream) Describe(context.Context) ([]model.Field, error) {
	return []model.Field{{Name: "OBJECTID"}}, nil
}

func (u *countingUpstream) FetchWindow(_ context.Context, q model.WindowQuery) (model.FeatureSet, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fetches++
	if u.err != nil {
		return model.FeatureSet{}, u.err
	}
	var fs model.FeatureSet
	for i := q.Start; i < q.Start+q.Count; i++ {
		fs.Features = append(fs.Features, model.Feature{
			Attributes: model.Record{"OBJECTID": json.Number(strconv.Itoa(i))},
			Geometry:   json.RawMessage(`{"x":1,"y":2}`),
		})
	}
	return fs, nil
}

func (u *countingUpstream) fetchCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fetches
}

func window(start, count int) model.WindowQuery {
	return model.WindowQuery{Start: start, Count: count, OutFields: []string{"*"}, ReturnGeometry: true, Where: model.MatchAll}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRedis(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestFetchWindow_L1HitSkipsUpstream(t *testing.T) {
	up := &countingUpstream{}
	l := New(Config{Size: 8, TTL: time.Minute}, nil, quiet()).Wrap(up)
	ctx := context.Background()

	hits := observability.PageCacheResults(TierL1, "hit")
	before := testutil.ToFloat64(hits)

	first, err := l.FetchWindow(ctx, window(0, 3))
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := l.FetchWindow(ctx, window(0, 3))
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if up.fetchCount() != 1 {
		t.Fatalf("upstream fetches=%d want 1", up.fetchCount())
	}
	if len(second.Features) != 3 || second.Features[2].Attributes["OBJECTID"] != json.Number("2") {
		t.Fatalf("cached page got %+v", second.Features)
	}
	if string(second.Features[0].Geometry) != string(first.Features[0].Geometry) {
		t.Fatalf("geometry got %s want %s", second.Features[0].Geometry, first.Features[0].Geometry)
	}
	if got := testutil.ToFloat64(hits) - before; got != 1 {
		t.Fatalf("l1 hits delta=%v want 1", got)
	}
}

func TestFetchWindow_HitsReturnIndependentRows(t *testing.T) {
	l := New(Config{}, nil, quiet()).Wrap(&countingUpstream{})
	ctx := context.Background()

	_, _ = l.FetchWindow(ctx, window(0, 1))
	a, _ := l.FetchWindow(ctx, window(0, 1))
	a.Features[0].Attributes["OBJECTID"] = "mutated"
	b, _ := l.FetchWindow(ctx, window(0, 1))
	if b.Features[0].Attributes["OBJECTID"] != json.Number("0") {
		t.Fatalf("mutation leaked into cache: %v", b.Features[0].Attributes)
	}
}

func TestFetchWindow_BypassesNonCanonicalQueries(t *testing.T) {
	up := &countingUpstream{}
	l := New(Config{}, nil, quiet()).Wrap(up)
	q := window(0, 2)
	q.Where = "ROUTE='US-1'"
	for range 2 {
		if _, err := l.FetchWindow(context.Background(), q); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if up.fetchCount() != 2 {
		t.Fatalf("filtered queries must not be cached; fetches=%d", up.fetchCount())
	}
}

func TestFetchWindow_ErrorsAreNotCached(t *testing.T) {
	up := &countingUpstream{err: errors.New("boom")}
	c := New(Config{}, nil, quiet())
	l := c.Wrap(up)
	if _, err := l.FetchWindow(context.Background(), window(0, 2)); err == nil {
		t.Fatal("expected upstream error")
	}
	if c.Len() != 0 {
		t.Fatalf("cache len=%d want 0", c.Len())
	}
}

func TestCountAndDescribe_AlwaysReachUpstream(t *testing.T) {
	up := &countingUpstream{}
	l := New(Config{}, nil, quiet()).Wrap(up)
	for range 3 {
		if n, err := l.CountMatching(context.Background(), model.MatchAll); err != nil || n != 42 {
			t.Fatalf("count got %d, %v", n, err)
		}
	}
	if up.counts != 3 {
		t.Fatalf("count calls=%d want 3", up.counts)
	}
	if l.URL() != layerURL {
		t.Fatalf("url got %s want %s", l.URL(), layerURL)
	}
}

func TestL2_SharedAcrossProcesses(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	writer := New(Config{}, rc, quiet()).Wrap(&countingUpstream{})
	if _, err := writer.FetchWindow(ctx, window(250, 2)); err != nil {
		t.Fatalf("writer fetch: %v", err)
	}
	if !mr.Exists(keys.PageKey(layerURL, 250, 2)) {
		t.Fatalf("page not written to redis; keys=%v", mr.Keys())
	}

	reader := &countingUpstream{}
	fs, err := New(Config{}, rc, quiet()).Wrap(reader).FetchWindow(ctx, window(250, 2))
	if err != nil {
		t.Fatalf("reader fetch: %v", err)
	}
	if reader.fetchCount() != 0 {
		t.Fatalf("reader hit upstream %d times, want 0", reader.fetchCount())
	}
	if fs.Features[0].Attributes["OBJECTID"] != json.Number("250") {
		t.Fatalf("l2 page got %v", fs.Features[0].Attributes)
	}
}

func TestPurge_ClearsBothTiersForOneLayer(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()
	up := &countingUpstream{}
	c := New(Config{}, rc, quiet())
	l := c.Wrap(up)

	_, _ = l.FetchWindow(ctx, window(0, 2))
	_, _ = l.FetchWindow(ctx, window(2, 2))
	if err := mr.Set("page:other", "keep"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := c.Purge(ctx, layerURL)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 4 {
		t.Fatalf("purged=%d want 4 (2 l1 + 2 l2)", n)
	}
	if c.Len() != 0 {
		t.Fatalf("l1 len=%d want 0", c.Len())
	}
	if !mr.Exists("page:other") {
		t.Fatal("unrelated key removed")
	}

	_, _ = l.FetchWindow(ctx, window(0, 2))
	if up.fetchCount() != 3 {
		t.Fatalf("fetch after purge should reach upstream; fetches=%d", up.fetchCount())
	}
}

func TestL2_UnavailableFallsBackToUpstream(t *testing.T) {
	rc, mr := newRedis(t)
	mr.Close()

	up := &countingUpstream{}
	fs, err := New(Config{}, rc, quiet()).Wrap(up).FetchWindow(context.Background(), window(0, 1))
	if err != nil {
		t.Fatalf("fetch with redis down: %v", err)
	}
	if len(fs.Features) != 1 || up.fetchCount() != 1 {
		t.Fatalf("features=%d fetches=%d want 1/1", len(fs.Features), up.fetchCount())
	}
}
