package collection

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/core/observability"
	"github.com/mohammed-shakir/featuregrid/internal/logger"
)

// GetRowsParams is one block request from an infinite-row-model grid.
// Exactly one of Success or Fail is invoked per request.
type GetRowsParams struct {
	StartRow int
	EndRow   int
	// lastRow is nil while more rows may exist
	Success func(rows []model.Record, lastRow *int)
	Fail    func()
}

type DatasourceOption func(*Datasource)

// WithShortPageEnd treats a short page as end of data when the total count
// is not known, so the grid can stop scrolling after a failed count. A page
// the service truncated at its record limit never ends the data.
func WithShortPageEnd() DatasourceOption {
	return func(d *Datasource) { d.shortPageEnd = true }
}

// Datasource is the callback facade over an Adapter.
type Datasource struct {
	a            *Adapter
	logger       *slog.Logger
	shortPageEnd bool
}

func NewDatasource(a *Adapter, logger *slog.Logger, opts ...DatasourceOption) *Datasource {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Datasource{a: a, logger: logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Datasource) Adapter() *Adapter { return d.a }

func (d *Datasource) Init(ctx context.Context) { d.a.Init(ctx) }

func (d *Datasource) InitialLoadIssued() bool { return d.a.InitialLoadIssued() }

// RowCount is the total count, model.UnknownCount when it could not be loaded.
func (d *Datasource) RowCount() int { return d.a.TotalCount() }

func (d *Datasource) GetRows(ctx context.Context, p GetRowsParams) {
	success, fail := p.Success, p.Fail
	if success == nil {
		success = func([]model.Record, *int) {}
	}
	if fail == nil {
		fail = func() {}
	}

	d.a.markLoadIssued()
	ctx = logger.WithCollection(ctx, d.a.Name())
	ctx = logger.WithFacade(ctx, observability.FacadeCallback)

	req := model.PageRequest{Start: p.StartRow, Count: p.EndRow - p.StartRow}
	if !req.Valid() {
		d.logger.WarnContext(ctx, "rejecting invalid row range",
			"start_row", p.StartRow, "end_row", p.EndRow)
		observability.IncGridFetch(observability.FacadeCallback, observability.OutcomeError)
		fail()
		return
	}

	res, err := d.a.fetchWindow(ctx, req)
	if err != nil {
		d.logger.ErrorContext(ctx, "error getting features",
			"start_row", p.StartRow, "end_row", p.EndRow, "err", err)
		observability.IncGridFetch(observability.FacadeCallback, observability.OutcomeError)
		fail()
		return
	}

	observability.IncGridFetch(observability.FacadeCallback, observability.OutcomeOK)
	success(res.Rows, d.lastRow(p, res))
}

func (d *Datasource) lastRow(p GetRowsParams, res model.PageResult) *int {
	total := res.TotalCount
	if total > 0 {
		if p.EndRow >= total {
			return &total
		}
		return nil
	}
	if d.shortPageEnd && !res.ExceededTransferLimit && len(res.Rows) < p.EndRow-p.StartRow {
		end := p.StartRow + len(res.Rows)
		return &end
	}
	return nil
}
