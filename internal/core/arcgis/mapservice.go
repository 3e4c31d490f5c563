package arcgis

import (
	"context"
	"fmt"
	"strings"
)

type Sublayer struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	ParentID int    `json:"parentId"`
	URL      string `json:"url"`
}

type MapService struct {
	c   *Client
	url string
}

func (c *Client) MapService(mapURL string) *MapService {
	return &MapService{c: c, url: strings.TrimRight(mapURL, "/")}
}

func (m *MapService) URL() string { return m.url }

// Sublayers lists every layer of the service, group layers included.
func (m *MapService) Sublayers(ctx context.Context) ([]Sublayer, error) {
	var out struct {
		Layers []struct {
			ID       int    `json:"id"`
			Name     string `json:"name"`
			ParentID *int   `json:"parentLayerId"`
		} `json:"layers"`
	}
	if err := m.c.getJSON(ctx, "mapservice", m.url, BuildDescribeParams(), &out); err != nil {
		return nil, fmt.Errorf("map service %s: %w", m.url, err)
	}
	subs := make([]Sublayer, 0, len(out.Layers))
	for _, l := range out.Layers {
		parent := -1
		if l.ParentID != nil {
			parent = *l.ParentID
		}
		subs = append(subs, Sublayer{
			ID:       l.ID,
			Title:    l.Name,
			ParentID: parent,
			URL:      LayerURL(m.url, l.ID),
		})
	}
	return subs, nil
}

// ResolveTitles returns the sublayers matching titles in the order given.
// Titles with no match are reported in missing and otherwise skipped.
func (m *MapService) ResolveTitles(ctx context.Context, titles []string) (found []Sublayer, missing []string, err error) {
	subs, err := m.Sublayers(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range titles {
		idx := -1
		for i := range subs {
			if subs[i].Title == t {
				idx = i
				break
			}
		}
		if idx < 0 {
			missing = append(missing, t)
			continue
		}
		found = append(found, subs[idx])
	}
	return found, missing, nil
}
