package kafka

import "time"

// WireEvent announces that features of one layer were edited upstream.
// Layer is the layer URL as configured for the panels.
type WireEvent struct {
	Layer   string    `json:"layer"`
	Version uint64    `json:"version,omitempty"`
	TS      time.Time `json:"ts"`
	Op      string    `json:"op,omitempty"`
}
