// Package arcgis talks to ArcGIS REST map and feature layer endpoints.
package arcgis

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/featuregrid/internal/core/model"
)

func QueryEndpoint(layerURL string) string {
	return strings.TrimRight(layerURL, "/") + "/query"
}

// LayerURL joins a map service URL and a sublayer id.
func LayerURL(mapURL string, id int) string {
	return strings.TrimRight(mapURL, "/") + "/" + strconv.Itoa(id)
}

func BuildCountParams(where string) url.Values {
	params := url.Values{}
	params.Set("where", whereOrAll(where))
	params.Set("returnCountOnly", "true")
	params.Set("f", "json")
	return params
}

func BuildQueryParams(q model.WindowQuery) url.Values {
	params := url.Values{}
	params.Set("where", whereOrAll(q.Where))
	fields := "*"
	if len(q.OutFields) > 0 {
		fields = strings.Join(q.OutFields, ",")
	}
	params.Set("outFields", fields)
	params.Set("returnGeometry", strconv.FormatBool(q.ReturnGeometry))
	params.Set("resultOffset", strconv.Itoa(q.Start))
	params.Set("resultRecordCount", strconv.Itoa(q.Count))
	params.Set("f", "json")
	return params
}

func BuildDescribeParams() url.Values {
	params := url.Values{}
	params.Set("f", "json")
	return params
}

func whereOrAll(w string) string {
	if strings.TrimSpace(w) == "" {
		return model.MatchAll
	}
	return w
}
