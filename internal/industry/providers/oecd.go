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

type oecdSource struct {
	baseURL string
}

// NewOECD builds the OECD SDMX-JSON adapter. STAN industry tables are the
// default dataflow.
func NewOECD(cfg Config, deps Deps) *Adapter {
	src := &oecdSource{
		baseURL: strings.TrimRight(common.FirstNonEmpty(cfg.BaseURL, "https://stats.oecd.org/SDMX-JSON/data"), "/"),
	}
	return newAdapter(src, cfg, deps)
}

func (s *oecdSource) id() string { return "oecd" }

func (s *oecdSource) defaultDataflow() string { return "STANI4" }

// OECD answers a key that matches nothing with 404 NoRecordsFound.
func (s *oecdSource) emptyOnNotFound() bool { return true }

func (s *oecdSource) capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes: []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword, industry.ShapeGeography},
		Directness: map[industry.QueryShape]float64{
			industry.ShapeCode:      0.8,
			industry.ShapeKeyword:   0.7,
			industry.ShapeGeography: 0.6,
		},
	}
}

func (s *oecdSource) build(q industry.DatasetQuery) (request, error) {
	values := url.Values{}
	if q.StartPeriod != "" {
		values.Set("startTime", q.StartPeriod)
	}
	if q.EndPeriod != "" {
		values.Set("endTime", q.EndPeriod)
	}
	values.Set("dimensionAtObservation", "allDimensions")

	key := q.Key
	if key == "" {
		key = "all"
	}
	return request{
		method: http.MethodGet,
		url:    fmt.Sprintf("%s/%s/%s/all?%s", s.baseURL, url.PathEscape(q.Dataflow), key, values.Encode()),
	}, nil
}

func (s *oecdSource) decode(body []byte, q industry.DatasetQuery) (dataset.Result, error) {
	res, err := dataset.Normalize(body, dataset.KindComplex, dataset.Options{
		SourceID:   s.id(),
		LabelField: "IND",
	})
	if err != nil {
		return res, err
	}
	markRole(res.Records, "VAR", industry.RoleSize, "VALU", "PROD")
	markRole(res.Records, "SUBJECT", industry.RoleSize, "B1_GE")
	crosswalk(res.Records, "IND", func(x sector) string { return x.ISIC })
	return res, nil
}

func (s *oecdSource) plan(q industry.SearchQuery) []industry.DatasetQuery {
	loc := "USA"
	if q.Geography != "" {
		loc = industry.CountryISO3(q.Geography)
	}
	if q.Shape() == industry.ShapeGeography {
		return []industry.DatasetQuery{{Dataflow: "STANI4", Key: loc + ".VALU.DTOTAL"}}
	}

	var isic []string
	for _, sec := range sectorsFor(q.IndustryCodes(), q.Keywords()) {
		if sec.ISIC != "" {
			isic = append(isic, sec.ISIC)
		}
	}
	if len(isic) == 0 {
		return nil
	}
	return []industry.DatasetQuery{{Dataflow: "STANI4", Key: loc + ".VALU." + strings.Join(isic, "+")}}
}
