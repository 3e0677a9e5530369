package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/common"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// Eurostat uses its own codes for Greece and the United Kingdom.
var eurostatGeo = map[string]string{"GR": "EL", "GB": "UK"}

type eurostatSource struct {
	baseURL   string
	validator *dataset.Validator
}

// NewEurostat builds the Eurostat dissemination API adapter (JSON-stat 2.0).
// Dimension keys are translated into query filters using the dataset's key
// layout, so only datasets with a known layout accept a key.
func NewEurostat(cfg Config, deps Deps) *Adapter {
	v := deps.Validator
	if v == nil {
		v = dataset.DefaultValidator()
	}
	src := &eurostatSource{
		baseURL:   strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://ec.europa.eu/eurostat/api/dissemination/statistics/1.0"), "/"),
		validator: v,
	}
	return newAdapter(src, cfg, deps)
}

func (s *eurostatSource) id() string { return "eurostat" }

func (s *eurostatSource) defaultDataflow() string { return "nama_10_a64" }

func (s *eurostatSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes:  []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword, industry.ShapeGeography},
		Regions: industry.EURegions,
		Directness: map[industry.QueryShape]float64{
			industry.ShapeCode:      0.8,
			industry.ShapeKeyword:   0.7,
			industry.ShapeGeography: 0.7,
		},
	}
}

func eurostatCountry(code string) string {
	c := strings.ToUpper(code)
	if len(c) == 3 {
		c = industry.CountryISO2(c)
	}
	if v, ok := eurostatGeo[c]; ok {
		return v
	}
	return c
}

func (s *eurostatSource) build(q industry.DatasetQuery) (request, error) {
	values := url.Values{}
	values.Set("format", "JSON")
	values.Set("lang", "EN")

	if q.Key != "" {
		p, ok := s.validator.Pattern(s.id(), q.Dataflow)
		if !ok {
			return request{}, industry.NewSourceError(s.id(), industry.CodeInvalidKey,
				fmt.Sprintf("no key layout is known for dataset %q", q.Dataflow),
				"known datasets: "+strings.Join(s.validator.Dataflows(s.id()), ", "),
				"omit the key to fetch the whole dataset")
		}
		for i, seg := range q.Segments() {
			if i >= len(p.Segments) {
				break
			}
			name := strings.ToLower(p.Segments[i].Name)
			for _, v := range strings.Split(seg, "+") {
				if v == "" {
					continue
				}
				if name == "geo" {
					v = eurostatCountry(v)
				}
				values.Add(name, v)
			}
		}
	}
	if y := yearOf(q.StartPeriod); y != "" {
		values.Set("sinceTimePeriod", y)
	}
	if y := yearOf(q.EndPeriod); y != "" {
		values.Set("untilTimePeriod", y)
	}

	return request{
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/data/%s?%s", s.baseURL, url.PathEscape(q.Dataflow), values.Encode()),
	}, nil
}

func (s *eurostatSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	var envelope struct {
		Error []struct {
			Label string `json:"label"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Error) > 0 {
		return dataset.Result{}, industry.NewSourceError(s.id(), industry.CodeClientError,
			"Eurostat: "+envelope.Error[0].Label, "check the dataset code and filter values")
	}

	res, err := dataset.Normalize(body, dataset.KindComplex, dataset.Options{
		SourceID:   s.id(),
		LabelField: "nace_r2",
	})
	if err != nil {
		return res, err
	}
	markRole(res.Records, "na_item", industry.RoleSize, "B1G", "P1")
	markRole(res.Records, "indic_sbs", industry.RoleSize, "NETTUR_MEUR", "TURN_MEUR")
	crosswalk(res.Records, "nace_r2", func(x sector) string { return x.NACE })
	for i := range res.Records {
		r := &res.Records[i]
		if u, _ := r.Dim("unit"); strings.HasSuffix(u, "_MEUR") && r.Attributes[industry.AttrUnit] == "" {
			r.Attributes[industry.AttrUnit] = "EUR millions"
		}
	}
	return res, nil
}

func (s *eurostatSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	geo := "EU27_2020"
	if q.Geography != "" {
		geo = eurostatCountry(q.Geography)
	}
	if q.Shape() == industry.ShapeGeography {
		return []industry.DatasetQuery{{Dataflow: "nama_10_a64", Key: "A.CP_MEUR.TOTAL.B1G." + geo}}
	}

	var nace []string
	for _, sec := range sectorsFor(q.IndustryCodes(), q.Keywords()) {
		if sec.NACE != "" {
			nace = append(nace, sec.NACE)
		}
	}
	if len(nace) == 0 {
		return nil
	}
	return []industry.DatasetQuery{{Dataflow: "nama_10_a64", Key: "A.CP_MEUR." + strings.Join(nace, "+") + ".B1G." + geo}}
}
