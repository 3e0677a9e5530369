package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/common"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// imfIndicators names the World Economic Outlook series the adapter plans.
var imfIndicators = map[string]string{
	"NGDP_RPCH": "Real GDP growth (annual percent change)",
	"NGDPD":     "GDP, current prices (billions of U.S. dollars)",
	"PCPIPCH":   "Inflation rate, average consumer prices (annual percent change)",
	"LUR":       "Unemployment rate (percent)",
}

var imfTerms = []string{"gdp", "growth", "economy", "economic", "macro", "inflation", "unemployment", "output"}

type imfSource struct {
	baseURL    string
	compactURL string
}

// NewIMF builds the IMF adapter. DataMapper indicators are served from
// BaseURL; the IFS dataflow goes to the SDMX CompactData service at AltBaseURL.
func NewIMF(cfg Config, deps Deps) *Adapter {
	src := &imfSource{
		baseURL:    strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://www.imf.org/external/datamapper/api/v1"), "/"),
		compactURL: strings.TrimRight(common.FirstNonEmpty(cfg.AltBaseURL, "http://dataservices.imf.org/REST/SDMX_JSON.svc"), "/"),
	}
	return newAdapter(src, cfg, deps)
}

func (s *imfSource) id() string { return "imf" }

func (s *imfSource) defaultDataflow() string { return "NGDP_RPCH" }

func (s *imfSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes: []industry.QueryShape{industry.ShapeKeyword, industry.ShapeGeography},
		Directness: map[industry.QueryShape]float64{
			industry.ShapeKeyword:   0.3,
			industry.ShapeGeography: 0.6,
		},
	}
}

func (s *imfSource) build(q industry.DatasetQuery) (request, error) {
	if strings.EqualFold(q.Dataflow, "IFS") {
		values := url.Values{}
		if q.StartPeriod != "" {
			values.Set("startPeriod", q.StartPeriod)
		}
		if q.EndPeriod != "" {
			values.Set("endPeriod", q.EndPeriod)
		}
		u := fmt.Sprintf("%s/CompactData/IFS/%s", s.compactURL, q.Key)
		if len(values) > 0 {
			u += "?" + values.Encode()
		}
		return request{method: http.MethodGet, url: u}, nil
	}

	path := []string{url.PathEscape(strings.ToUpper(q.Dataflow))}
	for _, c := range strings.Split(q.Key, "+") {
		if c = strings.TrimSpace(c); c != "" {
			path = append(path, url.PathEscape(industry.CountryISO3(c)))
		}
	}
	u := s.baseURL + "/" + strings.Join(path, "/")
	if periods := imfPeriods(q.StartPeriod, q.EndPeriod); periods != "" {
		u += "?periods=" + periods
	}
	return request{method: http.MethodGet, url: u}, nil
}

// imfPeriods expands a year range into the comma list DataMapper expects.
func imfPeriods(start, end string) string {
	from, _ := strconv.Atoi(yearOf(start))
	to, _ := strconv.Atoi(yearOf(end))
	switch {
	case from == 0 && to == 0:
		return ""
	case from == 0:
		from = to
	case to == 0:
		to = from
	}
	if to < from || to-from > 50 {
		return ""
	}
	years := make([]string, 0, to-from+1)
	for y := from; y <= to; y++ {
		years = append(years, strconv.Itoa(y))
	}
	return strings.Join(years, ",")
}

func (s *imfSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	if strings.EqualFold(q.Dataflow, "IFS") {
		return dataset.Normalize(body, dataset.KindComplex, dataset.Options{SourceID: s.id()})
	}

	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return dataset.Normalize(body, dataset.KindSimplified, dataset.Options{SourceID: s.id()})
	}
	// An unknown indicator or country comes back as just the "api" envelope.
	if _, ok := root["values"]; !ok {
		if _, api := root["api"]; api {
			return dataset.Result{Kind: dataset.KindEmpty, Layout: "nested:values"}, nil
		}
	}

	res, err := dataset.NormalizeValue(root, dataset.KindSimplified, dataset.Options{
		SourceID:       s.id(),
		DimensionNames: []string{"INDICATOR", "COUNTRY"},
	})
	if err != nil {
		return res, err
	}
	for i := range res.Records {
		r := &res.Records[i]
		ind, _ := r.Dim("INDICATOR")
		if label, ok := imfIndicators[ind]; ok && r.Attributes[industry.AttrLabel] == "" {
			r.Attributes[industry.AttrLabel] = label
		}
		switch {
		case strings.HasSuffix(ind, "PCH"):
			r.Attributes[industry.AttrRole] = industry.RoleRate
			r.Attributes[industry.AttrUnit] = "percent"
		case ind == "NGDPD":
			r.Attributes[industry.AttrRole] = industry.RoleSize
			r.Attributes[industry.AttrUnit] = "USD billions"
		}
	}
	return res, nil
}

func (s *imfSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	country := "USA"
	if q.Geography != "" {
		country = industry.CountryISO3(q.Geography)
	}
	switch q.Shape() {
	case industry.ShapeCode:
		return nil
	case industry.ShapeKeyword:
		if !common.HasAny(strings.Join(q.Keywords(), " "), imfTerms...) {
			return nil
		}
	}
	return []industry.DatasetQuery{
		{Dataflow: "NGDPD", Key: country},
		{Dataflow: "NGDP_RPCH", Key: country},
	}
}
