package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/common"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// blsTotalNonfarm is the headline employment series used for geography searches.
const blsTotalNonfarm = "CES0000000001"

type blsSource struct {
	baseURL string
	apiKey  string
}

// NewBLS builds the Bureau of Labor Statistics timeseries adapter. The
// registration key is optional and travels in the request body.
func NewBLS(cfg Config, deps Deps) *Adapter {
	src := &blsSource{
		baseURL: strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://api.bls.gov/publicAPI/v2"), "/"),
		apiKey:  cfg.APIKey,
	}
	return newAdapter(src, cfg, deps)
}

func (s *blsSource) id() string { return "bls" }

func (s *blsSource) defaultDataflow() string { return "timeseries" }

func (s *blsSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes:  []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword, industry.ShapeGeography},
		Regions: []string{"USA"},
		Directness: map[industry.QueryShape]float64{
			industry.ShapeCode:      0.8,
			industry.ShapeKeyword:   0.6,
			industry.ShapeGeography: 0.5,
		},
	}
}

type blsRequest struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear,omitempty"`
	EndYear         string   `json:"endyear,omitempty"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

func (s *blsSource) build(q industry.DatasetQuery) (request, error) {
	var series []string
	for _, id := range strings.Split(q.Key, "+") {
		if id = strings.TrimSpace(id); id != "" {
			series = append(series, strings.ToUpper(id))
		}
	}

	// BLS wants both years or neither.
	start, end := yearOf(q.StartPeriod), yearOf(q.EndPeriod)
	if start == "" {
		start = end
	}
	if end == "" {
		end = start
	}

	body, err := json.Marshal(blsRequest{
		SeriesID:        series,
		StartYear:       start,
		EndYear:         end,
		RegistrationKey: s.apiKey,
	})
	if err != nil {
		return request{}, err
	}
	return request{
		method: http.MethodPost,
		url:    s.baseURL + "/timeseries/data/",
		body:   body,
		header: http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

type blsResponse struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year       string `json:"year"`
				Period     string `json:"period"`
				PeriodName string `json:"periodName"`
				Value      string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

func (s *blsSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	var resp blsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return dataset.Result{Kind: dataset.KindError}, &dataset.MalformedError{Reason: "invalid JSON: " + err.Error(), Structure: "bls"}
	}

	msg := strings.Join(resp.Message, "; ")
	switch resp.Status {
	case "REQUEST_NOT_PROCESSED":
		return dataset.Result{}, industry.NewSourceError(s.id(), industry.CodeRateLimited,
			"BLS refused the request: "+msg, "register for a BLS API key to raise the daily threshold")
	case "REQUEST_FAILED":
		return dataset.Result{}, industry.NewSourceError(s.id(), industry.CodeClientError,
			"BLS rejected the request: "+msg, "check the series ids and the year range (at most 20 years)")
	}

	// Reshape into flat rows and let the compact parser do the rest.
	rows := make([]any, 0)
	for _, series := range resp.Results.Series {
		for _, d := range series.Data {
			period, ok := blsPeriod(d.Year, d.Period)
			if !ok {
				continue
			}
			rows = append(rows, map[string]any{
				"SERIES":     series.SeriesID,
				"period":     period,
				"value":      d.Value,
				"periodName": d.PeriodName,
			})
		}
	}

	res, err := dataset.NormalizeValue(rows, dataset.KindCompact, dataset.Options{SourceID: s.id()})
	if err != nil {
		return res, err
	}
	crosswalk(res.Records, "SERIES", func(x sector) string { return x.CES })
	for i := range res.Records {
		r := &res.Records[i]
		if id, _ := r.Dim("SERIES"); strings.HasPrefix(id, "CE") && strings.HasSuffix(id, "01") {
			r.Attributes[industry.AttrUnit] = "thousands of employees"
		}
		if id, _ := r.Dim("SERIES"); id == blsTotalNonfarm && r.Attributes[industry.AttrLabel] == "" {
			r.Attributes[industry.AttrLabel] = "Total nonfarm employment"
		}
	}
	return res, nil
}

// blsPeriod maps BLS year/period pairs to canonical periods. M13 is the
// annual average.
func blsPeriod(year, period string) (string, bool) {
	if len(year) != 4 || len(period) < 2 {
		return "", false
	}
	num := period[1:]
	switch period[0] {
	case 'M':
		if num == "13" {
			return year, true
		}
		return year + "-" + num, true
	case 'A':
		return year, true
	case 'Q':
		return fmt.Sprintf("%sQ%s", year, strings.TrimLeft(num, "0")), true
	case 'S':
		return fmt.Sprintf("%s-S%s", year, strings.TrimLeft(num, "0")), true
	}
	return "", false
}

func (s *blsSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	if q.Geography != "" && industry.CountryISO3(q.Geography) != "USA" {
		return nil
	}
	if q.Shape() == industry.ShapeGeography {
		return []industry.DatasetQuery{{Dataflow: "timeseries", Key: blsTotalNonfarm}}
	}

	var series []string
	for _, sec := range sectorsFor(q.IndustryCodes(), q.Keywords()) {
		if sec.CES != "" {
			series = append(series, sec.CES)
		}
	}
	if len(series) == 0 {
		return nil
	}
	return []industry.DatasetQuery{{Dataflow: "timeseries", Key: strings.Join(series, "+")}}
}
