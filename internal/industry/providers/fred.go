package providers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/common"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

type fredSource struct {
	baseURL string
	apiKey  string
}

// NewFRED builds the St. Louis Fed FRED adapter. FRED refuses anonymous
// requests, so the adapter is unavailable without an API key.
func NewFRED(cfg Config, deps Deps) *Adapter {
	src := &fredSource{
		baseURL: strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://api.stlouisfed.org/fred"), "/"),
		apiKey:  cfg.APIKey,
	}
	return newAdapter(src, cfg, deps)
}

func (s *fredSource) id() string { return "fred" }

func (s *fredSource) defaultDataflow() string { return "series" }

func (s *fredSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes:  []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword},
		Regions: []string{"USA"},
		Directness: map[industry.QueryShape]float64{
			industry.ShapeCode:    0.7,
			industry.ShapeKeyword: 0.6,
		},
		RequiresKey: true,
	}
}

func (s *fredSource) build(q industry.DatasetQuery) (request, error) {
	series := strings.TrimSpace(q.Key)
	if strings.Contains(series, "+") {
		return request{}, industry.NewSourceError(s.id(), industry.CodeInvalidKey,
			fmt.Sprintf("FRED serves one series per request, got %q", series),
			"issue one query per series id")
	}

	values := url.Values{}
	values.Set("series_id", strings.ToUpper(series))
	values.Set("api_key", s.apiKey)
	values.Set("file_type", "json")
	if y := yearOf(q.StartPeriod); y != "" {
		values.Set("observation_start", y+"-01-01")
	}
	if y := yearOf(q.EndPeriod); y != "" {
		values.Set("observation_end", y+"-12-31")
	}
	return request{
		method: http.MethodGet,
		url:    s.baseURL + "/series/observations?" + values.Encode(),
	}, nil
}

func (s *fredSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	res, err := dataset.Normalize(body, dataset.KindCompact, dataset.Options{SourceID: s.id()})
	if err != nil {
		return res, err
	}
	// Observations carry no series id of their own.
	series := strings.ToUpper(strings.TrimSpace(q.Key))
	for i := range res.Records {
		r := &res.Records[i]
		r.Dimensions = append([]industry.Dimension{{Name: "SERIES", Code: series}}, r.Dimensions...)
	}
	crosswalk(res.Records, "SERIES", func(x sector) string { return x.FRED })
	industry.SortRecords(res.Records)
	return res, nil
}

func (s *fredSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	if q.Geography != "" && industry.CountryISO3(q.Geography) != "USA" {
		return nil
	}
	var out []industry.DatasetQuery
	for _, sec := range sectorsFor(q.IndustryCodes(), q.Keywords()) {
		if sec.FRED != "" {
			out = append(out, industry.DatasetQuery{Dataflow: "series", Key: sec.FRED})
		}
	}
	return out
}
