// Package panel owns the grids shown next to the map: one paged grid and one
// infinite grid per configured layer.
package panel

import (
	"sync"

	"github.com/mohammed-shakir/featuregrid/internal/collection"
	"github.com/mohammed-shakir/featuregrid/internal/core/arcgis"
	"github.com/mohammed-shakir/featuregrid/internal/core/model"
)

type Kind string

const (
	KindPaged    Kind = "paged"
	KindInfinite Kind = "infinite"
)

type PageSettings struct {
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
}

// pageCountFor is ceil(count/size); an empty or unknown collection has no pages.
func pageCountFor(count, size int) int {
	if count <= 0 || size <= 0 {
		return 0
	}
	return (count + size - 1) / size
}

// Panel is one grid bound to one layer. A paged panel holds only the shared
// adapter; each session pushes pages through its own Stream over it. An
// infinite panel holds a Datasource.
type Panel struct {
	Index int
	Name  string
	Kind  Kind
	Layer arcgis.Sublayer

	a  *collection.Adapter
	ds *collection.Datasource

	mu       sync.RWMutex
	settings PageSettings
}

func (p *Panel) Datasource() *collection.Datasource { return p.ds }

func (p *Panel) adapter() *collection.Adapter {
	if p.ds != nil {
		return p.ds.Adapter()
	}
	return p.a
}

func (p *Panel) Count() int { return p.adapter().TotalCount() }

func (p *Panel) Columns() []model.ColumnDescriptor { return p.adapter().Columns() }

// InitialLoadIssued reports whether any session or block request has fetched
// from this panel. Per-session first loads are tracked by Session.
func (p *Panel) InitialLoadIssued() bool { return p.adapter().InitialLoadIssued() }

// PageSettings is only meaningful for paged panels.
func (p *Panel) PageSettings() PageSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

func (p *Panel) updateSettings(pageSize int) {
	if p.Kind != KindPaged {
		return
	}
	s := PageSettings{PageSize: pageSize, PageCount: pageCountFor(p.Count(), pageSize)}
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
}
