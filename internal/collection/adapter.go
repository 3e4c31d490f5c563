// Package collection adapts a remote paged feature collection to grid data contracts.
//
// An Adapter owns the count and schema of one collection and shapes windowed
// fetches into PageResults. Stream (push) and Datasource (callback) are thin
// facades over the same fetch routine that differ only in how a completed or
// failed fetch is delivered to the grid.
package collection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/core/observability"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
)

// Upstream is the remote collection an Adapter is bound to.
type Upstream interface {
	URL() string
	CountMatching(ctx context.Context, where string) (int, error)
	Describe(ctx context.Context) ([]model.Field, error)
	FetchWindow(ctx context.Context, q model.WindowQuery) (model.FeatureSet, error)
}

type Adapter struct {
	name   string
	up     Upstream
	logger *slog.Logger

	mu                sync.RWMutex
	meta              *model.CollectionMetadata
	initialLoadIssued bool
}

func NewAdapter(name string, up Upstream, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{name: name, up: up, logger: logger}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) URL() string { return a.up.URL() }

// Init loads the total count and field list. A failed count degrades to
// model.UnknownCount. A failed schema query leaves no fields on the first
// Init and keeps the previous fields on a re-init. Init itself never fails.
// Calling it again re-fetches and overwrites.
func (a *Adapter) Init(ctx context.Context) {
	ctx = logger.WithCollection(ctx, a.name)

	count, err := a.up.CountMatching(ctx, model.MatchAll)
	if err != nil {
		qe := &QueryError{Kind: CountQueryFailure, Collection: a.name, Err: err}
		a.logger.ErrorContext(ctx, "error getting feature count", "err", qe)
		observability.IncCountFailure(a.name)
		count = model.UnknownCount
	}

	raw, err := a.up.Describe(ctx)
	described := err == nil
	if !described {
		a.logger.ErrorContext(ctx, "error getting layer fields", "err", err)
	}

	a.mu.Lock()
	var fields []model.FieldDescriptor
	switch {
	case described:
		fields = describeFields(raw)
	case a.meta != nil:
		// a transient schema failure on refresh must not blank the grid columns
		fields = a.meta.Fields
	}
	a.meta = &model.CollectionMetadata{TotalCount: count, Fields: fields}
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "collection initialized",
		"url", a.up.URL(),
		"total_count", count,
		"fields", len(fields))
}

// Metadata returns a copy of the loaded metadata; ok is false before Init.
func (a *Adapter) Metadata() (meta model.CollectionMetadata, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.meta == nil {
		return model.CollectionMetadata{TotalCount: model.UnknownCount}, false
	}
	meta = *a.meta
	meta.Fields = append([]model.FieldDescriptor(nil), a.meta.Fields...)
	return meta, true
}

func (a *Adapter) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.meta != nil
}

// TotalCount is the loaded count, or model.UnknownCount before Init or after a failed count.
func (a *Adapter) TotalCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.meta == nil {
		return model.UnknownCount
	}
	return a.meta.TotalCount
}

func (a *Adapter) Columns() []model.ColumnDescriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.meta == nil {
		return nil
	}
	cols := make([]model.ColumnDescriptor, 0, len(a.meta.Fields))
	for _, f := range a.meta.Fields {
		cols = append(cols, model.ColumnDescriptor{Label: f.DisplayLabel, FieldKey: f.Name})
	}
	return cols
}

func (a *Adapter) InitialLoadIssued() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initialLoadIssued
}

func (a *Adapter) markLoadIssued() {
	a.mu.Lock()
	a.initialLoadIssued = true
	a.mu.Unlock()
}

// fetchWindow is the single fetch routine behind both facades. Callers must
// sequence it after Init; before that the result carries an unknown count.
func (a *Adapter) fetchWindow(ctx context.Context, req model.PageRequest) (model.PageResult, error) {
	fs, err := a.up.FetchWindow(ctx, model.WindowQuery{
		Start:          req.Start,
		Count:          req.Count,
		OutFields:      []string{"*"},
		ReturnGeometry: true,
		Where:          model.MatchAll,
	})
	if err != nil {
		return model.PageResult{}, &QueryError{Kind: FetchWindowFailure, Collection: a.name, Err: err}
	}
	return model.PageResult{
		Rows:                  projectRows(fs.Features),
		TotalCount:            a.TotalCount(),
		ExceededTransferLimit: fs.ExceededTransferLimit,
	}, nil
}

// geometry is fetched for parity with the map view but never reaches a grid row
func projectRows(features []model.Feature) []model.Record {
	rows := make([]model.Record, len(features))
	for i, f := range features {
		rows[i] = f.Attributes
	}
	return rows
}

func describeFields(raw []model.Field) []model.FieldDescriptor {
	out := make([]model.FieldDescriptor, 0, len(raw))
	for _, f := range raw {
		label := f.Alias
		if label == "" {
			label = f.Name
		}
		out = append(out, model.FieldDescriptor{Name: f.Name, DisplayLabel: label})
	}
	return out
}
