// Package model defines core domain types shared across the service.
package model

import "encoding/json"

// MatchAll is the where clause used for every count and window query.
const MatchAll = "1=1"

// UnknownCount marks a collection whose count query failed.
const UnknownCount = -1

// Record is one feature's attribute map, keyed by field name.
type Record map[string]any

// Field is a schema entry as reported by the feature service.
type Field struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
	Type  string `json:"type"`
}

type Feature struct {
	Attributes Record          `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

type FeatureSet struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit,omitempty"`
}

// WindowQuery selects a contiguous range of rows from a layer.
type WindowQuery struct {
	Start          int
	Count          int
	OutFields      []string
	ReturnGeometry bool
	Where          string
}

type FieldDescriptor struct {
	Name         string `json:"name"`
	DisplayLabel string `json:"displayLabel"`
}

type ColumnDescriptor struct {
	Label    string `json:"label"`
	FieldKey string `json:"fieldKey"`
}

type CollectionMetadata struct {
	TotalCount int               `json:"totalCount"`
	Fields     []FieldDescriptor `json:"fields"`
}

type PageRequest struct {
	Start int
	Count int
}

// Valid reports whether the window has a non-negative start and a positive count.
func (p PageRequest) Valid() bool {
	return p.Start >= 0 && p.Count > 0
}

type PageResult struct {
	Rows       []Record `json:"result"`
	TotalCount int      `json:"count"`
	// ExceededTransferLimit is set when the service capped the page at its
	// maximum record count, so a short page does not mean end of data.
	ExceededTransferLimit bool `json:"exceededTransferLimit,omitempty"`
}
