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

var censusMeasures = []string{"ESTAB", "EMP", "PAYANN"}

// censusSource reads County Business Patterns: establishments, employment
// and annual payroll by NAICS code.
type censusSource struct {
	baseURL     string
	apiKey      string
	defaultYear string
}

// NewCensus builds the US Census County Business Patterns adapter. The API
// key is optional and sent as a query parameter.
func NewCensus(cfg Config, deps Deps) *Adapter {
	src := &censusSource{
		baseURL:     strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://api.census.gov/data"), "/"),
		apiKey:      cfg.APIKey,
		defaultYear: common.FirstNonEmpty(cfg.DefaultYear, "2021"),
	}
	return newAdapter(src, cfg, deps)
}

func (s *censusSource) id() string { return "census" }

func (s *censusSource) defaultDataflow() string { return "cbp" }

func (s *censusSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes:     []industry.QueryShape{industry.ShapeCode, industry.ShapeGeography},
		Regions:    []string{"USA"},
		Directness: map[industry.QueryShape]float64{industry.ShapeCode: 1.0, industry.ShapeGeography: 0.7},
	}
}

// year picks the single CBP vintage a query asks for.
func (s *censusSource) year(q industry.DatasetQuery) string {
	for _, p := range []string{q.EndPeriod, q.StartPeriod} {
		if y := yearOf(p); y != "" {
			return y
		}
	}
	return s.defaultYear
}

func naicsVar(year string) string {
	switch {
	case year >= "2022":
		return "NAICS2022"
	case year >= "2017":
		return "NAICS2017"
	default:
		return "NAICS2012"
	}
}

func (s *censusSource) build(q industry.DatasetQuery) (request, error) {
	year := s.year(q)
	naics := naicsVar(year)

	segs := q.Segments()
	code, geo := "", ""
	if len(segs) > 0 {
		code = segs[0]
	}
	if len(segs) > 1 {
		geo = segs[1]
	}

	values := url.Values{}
	values.Set("get", strings.Join(append([]string{naics, naics + "_LABEL"}, censusMeasures...), ","))
	switch {
	case geo == "" || strings.EqualFold(geo, "US"):
		values.Set("for", "us:*")
	default:
		values.Set("for", "state:"+geo)
	}
	for _, c := range strings.Split(code, "+") {
		if c != "" {
			values.Add(naics, c)
		}
	}
	if s.apiKey != "" {
		values.Set("key", s.apiKey)
	}

	return request{
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/%s/%s?%s", s.baseURL, year, q.Dataflow, values.Encode()),
	}, nil
}

func (s *censusSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	year := s.year(q)
	naics := naicsVar(year)
	res, err := dataset.Normalize(body, dataset.KindCompact, dataset.Options{
		SourceID:      s.id(),
		DefaultPeriod: year,
		ValueFields:   censusMeasures,
		SizeMeasures:  []string{"PAYANN"},
		LabelField:    naics + "_LABEL",
	})
	if err != nil {
		return res, err
	}
	for i := range res.Records {
		r := &res.Records[i]
		if code, ok := r.Dim(naics); ok {
			r.Attributes[industry.AttrNAICS] = code
		}
		switch r.Attributes[industry.AttrMeasure] {
		case "PAYANN":
			r.Attributes[industry.AttrUnit] = "USD thousands"
		case "EMP":
			r.Attributes[industry.AttrUnit] = "persons"
		case "ESTAB":
			r.Attributes[industry.AttrUnit] = "establishments"
		}
	}
	return res, nil
}

func (s *censusSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	geo := "US"
	if q.Geography != "" && industry.CountryISO3(q.Geography) != "USA" {
		// Census only covers the United States.
		return nil
	}
	codes := q.IndustryCodes()
	if len(codes) == 0 {
		codes = []string{"00"}
	}
	var out []industry.DatasetQuery
	for _, c := range codes {
		if len(c) < 2 || len(c) > 6 {
			continue
		}
		out = append(out, industry.DatasetQuery{Dataflow: "cbp", Key: c + "." + geo})
	}
	return out
}
