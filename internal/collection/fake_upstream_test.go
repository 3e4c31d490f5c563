package collection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/featuregrid/internal/core/model"
)

var errUpstream = errors.New("upstream down")

// fakeUpstream serves total rows with OBJECTID 0..total-1.
type fakeUpstream struct {
	mu        sync.Mutex
	total     int
	fields    []model.Field
	countErr    error
	fetchErr    error
	describeErr error
	describeN   int
	// maxRecords, when set, caps each page and flags it as truncated
	maxRecords int
	queries   []model.WindowQuery
	// gate, when set, blocks FetchWindow for a given start until released
	gate map[int]chan struct{}
}

func newFake(total int) *fakeUpstream {
	return &fakeUpstream{
		total: total,
		fields: []model.Field{
			{Name: "OBJECTID", Alias: "Object ID"},
			{Name: "ROUTE", Alias: ""},
			{Name: "SIZE_IN", Alias: "Size (in)"},
		},
	}
}

func (f *fakeUpstream) URL() string { return "http://arcgis.test/MapServer/3" }

func (f *fakeUpstream) CountMatching(_ context.Context, where string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if where != model.MatchAll {
		return 0, errors.New("unexpected where " + where)
	}
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.total, nil
}

func (f *fakeUpstream) Describe(context.Context) ([]model.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeN++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return append([]model.Field(nil), f.fields...), nil
}

func (f *fakeUpstream) FetchWindow(_ context.Context, q model.WindowQuery) (model.FeatureSet, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.gate[q.Start]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return model.FeatureSet{}, f.fetchErr
	}
	var fs model.FeatureSet
	end := q.Start + q.Count
	if f.maxRecords > 0 && q.Count > f.maxRecords {
		end = q.Start + f.maxRecords
		fs.ExceededTransferLimit = end < f.total
	}
	for i := q.Start; i < end && i < f.total; i++ {
		fs.Features = append(fs.Features, model.Feature{
			Attributes: model.Record{"OBJECTID": i, "ROUTE": "US-1"},
			Geometry:   []byte(`{"x":1,"y":2}`),
		})
	}
	return fs, nil
}

func (f *fakeUpstream) lastQuery() model.WindowQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func (f *fakeUpstream) setDescribeErr(err error) {
	f.mu.Lock()
	f.describeErr = err
	f.mu.Unlock()
}

func (f *fakeUpstream) setFetchErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newInitialized(up *fakeUpstream) *Adapter {
	a := NewAdapter("Culverts - Cross", up, discardLogger())
	a.Init(context.Background())
	return a
}
