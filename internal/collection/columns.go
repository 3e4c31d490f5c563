package collection

// ColumnDef is an infinite-grid column definition.
type ColumnDef struct {
	HeaderName string `json:"headerName"`
	Field      string `json:"field"`
	Sortable   bool   `json:"sortable"`
	Resizable  bool   `json:"resizable"`
	Pinned     string `json:"pinned,omitempty"`
}

// ColumnDefs builds one column per field in display order; the first is pinned left.
func (d *Datasource) ColumnDefs() []ColumnDef {
	cols := d.a.Columns()
	defs := make([]ColumnDef, 0, len(cols))
	for i, c := range cols {
		def := ColumnDef{
			HeaderName: c.Label,
			Field:      c.FieldKey,
			Sortable:   true,
			Resizable:  true,
		}
		if i == 0 {
			def.Pinned = "left"
		}
		defs = append(defs, def)
	}
	return defs
}
