package arcgis

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/featuregrid/internal/core/model"
)

// Layer is one feature layer endpoint, e.g. .../MapServer/3.
type Layer struct {
	c   *Client
	url string
}

func (c *Client) Layer(layerURL string) *Layer {
	return &Layer{c: c, url: strings.TrimRight(layerURL, "/")}
}

func (l *Layer) URL() string { return l.url }

func (l *Layer) CountMatching(ctx context.Context, where string) (int, error) {
	var out struct {
		Count *int `json:"count"`
	}
	if err := l.c.getJSON(ctx, "count", QueryEndpoint(l.url), BuildCountParams(where), &out); err != nil {
		return 0, fmt.Errorf("count %s: %w", l.url, err)
	}
	if out.Count == nil {
		return 0, fmt.Errorf("count %s: response has no count", l.url)
	}
	return *out.Count, nil
}

func (l *Layer) Describe(ctx context.Context) ([]model.Field, error) {
	var out struct {
		Fields []model.Field `json:"fields"`
	}
	if err := l.c.getJSON(ctx, "describe", l.url, BuildDescribeParams(), &out); err != nil {
		return nil, fmt.Errorf("describe %s: %w", l.url, err)
	}
	return out.Fields, nil
}

func (l *Layer) FetchWindow(ctx context.Context, q model.WindowQuery) (model.FeatureSet, error) {
	var out model.FeatureSet
	if err := l.c.getJSON(ctx, "query", QueryEndpoint(l.url), BuildQueryParams(q), &out); err != nil {
		return model.FeatureSet{}, fmt.Errorf("query %s [%d,+%d): %w", l.url, q.Start, q.Count, err)
	}
	return out, nil
}
