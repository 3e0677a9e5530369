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

const (
	wbGDP      = "NY.GDP.MKTP.CD"
	wbIndustry = "NV.IND.TOTL.CD"
)

type worldBankSource struct {
	baseURL string
}

// NewWorldBank builds the World Bank Indicators v2 adapter.
func NewWorldBank(cfg Config, deps Deps) *Adapter {
	src := &worldBankSource{
		baseURL: strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://api.worldbank.org/v2"), "/"),
	}
	return newAdapter(src, cfg, deps)
}

func (s *worldBankSource) id() string { return "worldbank" }

func (s *worldBankSource) defaultDataflow() string { return wbGDP }

func (s *worldBankSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes: []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword, industry.ShapeGeography},
		Directness: map[industry.QueryShape]float64{
			industry.ShapeCode:      0.6,
			industry.ShapeKeyword:   0.6,
			industry.ShapeGeography: 0.8,
		},
	}
}

func (s *worldBankSource) build(q industry.DatasetQuery) (request, error) {
	countries := "WLD"
	if q.Key != "" {
		parts := strings.Split(q.Key, "+")
		for i, p := range parts {
			parts[i] = strings.ToUpper(strings.TrimSpace(p))
		}
		countries = strings.Join(parts, ";")
	}

	values := url.Values{}
	values.Set("format", "json")
	values.Set("per_page", "1000")
	start, end := yearOf(q.StartPeriod), yearOf(q.EndPeriod)
	switch {
	case start != "" && end != "":
		values.Set("date", start+":"+end)
	case start != "" || end != "":
		values.Set("date", start+end)
	}

	return request{
		method: http.MethodGet,
		url: fmt.Sprintf("%s/country/%s/indicator/%s?%s",
			s.baseURL, countries, url.PathEscape(q.Dataflow), values.Encode()),
	}, nil
}

// wbMessage is the body World Bank returns with a 200 when a parameter is wrong.
type wbMessage struct {
	Message []struct {
		ID    string `json:"id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"message"`
}

func (s *worldBankSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	var msgs []wbMessage
	if json.Unmarshal(body, &msgs) == nil && len(msgs) == 1 && len(msgs[0].Message) > 0 {
		m := msgs[0].Message[0]
		text := strings.TrimSpace(m.Key + ": " + m.Value)
		code := industry.CodeClientError
		if common.HasAny(text, "not found", "archived", "doesn't exist", "does not exist") {
			code = industry.CodeNotFound
		}
		return dataset.Result{}, industry.NewSourceError(s.id(), code, "World Bank: "+text,
			"check the indicator id and the ISO country codes")
	}

	res, err := dataset.Normalize(body, dataset.KindCompact, dataset.Options{
		SourceID:   s.id(),
		LabelField: "indicator_label",
	})
	if err != nil {
		return res, err
	}

	var sizes []string
	for _, sec := range sectors {
		if sec.WB != "" {
			sizes = append(sizes, sec.WB)
		}
	}
	markRole(res.Records, "indicator", industry.RoleSize, append(sizes, wbGDP, wbIndustry)...)
	for i := range res.Records {
		if ind, _ := res.Records[i].Dim("indicator"); strings.HasSuffix(strings.ToUpper(ind), ".ZG") {
			res.Records[i].Attributes[industry.AttrRole] = industry.RoleRate
		}
	}
	crosswalk(res.Records, "indicator", func(x sector) string { return x.WB })
	return res, nil
}

func (s *worldBankSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	country := "WLD"
	if q.Geography != "" {
		country = industry.CountryISO3(q.Geography)
	}
	if q.Shape() == industry.ShapeGeography {
		return []industry.DatasetQuery{
			{Dataflow: wbIndustry, Key: country},
			{Dataflow: wbGDP, Key: country},
		}
	}
	var out []industry.DatasetQuery
	for _, sec := range sectorsFor(q.IndustryCodes(), q.Keywords()) {
		if sec.WB != "" {
			out = append(out, industry.DatasetQuery{Dataflow: sec.WB, Key: country})
		}
	}
	return out
}
