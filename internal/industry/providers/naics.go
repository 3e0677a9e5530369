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

// registryItem is one classification entry served by a NAICS registry.
type registryItem struct {
	Code        string   `json:"code"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	SIC         []string `json:"sic,omitempty"`
	Year        int      `json:"year,omitempty"`
}

type registryPage struct {
	Items []registryItem `json:"items"`
}

type naicsSource struct {
	baseURL     string
	defaultYear string
}

// NewNAICS builds the classification registry adapter. With a BaseURL it
// queries a JSON registry ({base}/codes/{code}, {base}/search?q=); without
// one it answers from the built-in sector catalog.
func NewNAICS(cfg Config, deps Deps) *Adapter {
	src := &naicsSource{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		defaultYear: common.FirstNonEmpty(cfg.DefaultYear, "2022"),
	}
	return newAdapter(src, cfg, deps)
}

func (s *naicsSource) id() string { return "naics" }

func (s *naicsSource) defaultDataflow() string { return "codes" }

func (s *naicsSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes:  []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword},
		Regions: []string{"USA", "CAN", "MEX"},
		Directness: map[industry.QueryShape]float64{
			industry.ShapeCode:    1.0,
			industry.ShapeKeyword: 0.9,
		},
	}
}

func (s *naicsSource) build(q industry.DatasetQuery) (request, error) {
	switch q.Dataflow {
	case "codes":
		return request{method: http.MethodGet, url: s.baseURL + "/codes/" + url.PathEscape(q.Key)}, nil
	case "search":
		if strings.TrimSpace(q.FreeText) == "" {
			return request{}, industry.NewSourceError(s.id(), industry.CodeInvalidKey,
				"the search dataflow needs free text", "set freeTextQuery, or use the codes dataflow with a NAICS code")
		}
		return request{method: http.MethodGet, url: s.baseURL + "/search?q=" + url.QueryEscape(q.FreeText)}, nil
	}
	return request{}, industry.NewSourceError(s.id(), industry.CodeInvalidKey,
		fmt.Sprintf("unknown dataflow %q", q.Dataflow), "known dataflows: codes, search")
}

// offline serves the catalog when no registry is configured.
func (s *naicsSource) offline(q industry.DatasetQuery) ([]byte, bool) {
	if s.baseURL != "" {
		return nil, false
	}
	var found []sector
	switch q.Dataflow {
	case "codes":
		for _, code := range strings.Split(q.Key, "+") {
			if sec, ok := sectorForCode(code); ok {
				found = append(found, sec)
			}
		}
	case "search":
		found = sectorsForKeywords(common.Tokenize(q.FreeText))
	default:
		return nil, false
	}

	page := registryPage{Items: make([]registryItem, 0, len(found))}
	for _, sec := range found {
		page.Items = append(page.Items, registryItem{Code: sec.NAICS, Title: sec.Name, SIC: sec.SIC})
	}
	body, err := json.Marshal(page)
	if err != nil {
		return nil, false
	}
	return body, true
}

func (s *naicsSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	var page registryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return dataset.Result{Kind: dataset.KindError}, &dataset.MalformedError{Reason: "invalid registry JSON: " + err.Error(), Structure: "naics"}
	}
	if page.Items == nil {
		// A single entry without the items envelope.
		var item registryItem
		if json.Unmarshal(body, &item) == nil && item.Code != "" {
			page.Items = []registryItem{item}
		}
	}
	if len(page.Items) == 0 {
		return dataset.Result{Kind: dataset.KindEmpty, Layout: "registry"}, nil
	}

	records := make([]industry.ObservationRecord, 0, len(page.Items))
	for _, it := range page.Items {
		period := s.defaultYear
		if it.Year > 0 {
			period = fmt.Sprintf("%d", it.Year)
		}
		attrs := map[string]string{
			industry.AttrNAICS: it.Code,
			industry.AttrLabel: it.Title,
		}
		if it.Description != "" {
			attrs[industry.AttrDescription] = it.Description
		}
		if len(it.SIC) > 0 {
			attrs[industry.AttrSIC] = strings.Join(it.SIC, ",")
		}
		records = append(records, industry.ObservationRecord{
			TimePeriod: period,
			Dimensions: []industry.Dimension{{Name: "NAICS", Code: it.Code}},
			Attributes: attrs,
			SourceID:   s.id(),
		})
	}
	industry.SortRecords(records)
	return dataset.Result{Kind: dataset.KindCompact, Layout: "registry", Records: records}, nil
}

func (s *naicsSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	if codes := q.IndustryCodes(); len(codes) > 0 {
		out := make([]industry.DatasetQuery, 0, len(codes))
		for _, c := range codes {
			out = append(out, industry.DatasetQuery{Dataflow: "codes", Key: c})
		}
		return out
	}
	if kw := q.Keywords(); len(kw) > 0 {
		return []industry.DatasetQuery{{Dataflow: "search", FreeText: strings.Join(kw, " ")}}
	}
	return nil
}
