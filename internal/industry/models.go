package industry

import (
	"sort"
	"strings"
	"time"
)

// Attribute keys adapters use to carry labels alongside observation codes.
const (
	AttrLabel       = "label"
	AttrDescription = "description"
	AttrUnit        = "unit"
	AttrMeasure     = "measure"
	AttrSIC         = "sic"
	AttrRole        = "role"
	// AttrNAICS carries a NAICS code crosswalked from the source's own scheme.
	AttrNAICS = "naics"
)

// Record roles. A size record estimates market size; a rate record is
// already a growth percentage.
const (
	RoleSize = "size"
	RoleRate = "rate"
)

// DatasetQuery selects a slice of one source's dataflow. Treat it as immutable.
type DatasetQuery struct {
	SourceID    string `json:"sourceId,omitempty"`
	Dataflow    string `json:"dataflowId"`
	Key         string `json:"dimensionKey"`
	StartPeriod string `json:"startPeriod,omitempty"`
	EndPeriod   string `json:"endPeriod,omitempty"`
	FreeText    string `json:"freeTextQuery,omitempty"`
}

// Segments splits the dimension key on dots. Empty segments are wildcards.
func (q DatasetQuery) Segments() []string {
	if q.Key == "" {
		return nil
	}
	return strings.Split(q.Key, ".")
}

// Dimension is one name→code pair of an observation.
type Dimension struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// ObservationRecord is the canonical, source-independent data point.
type ObservationRecord struct {
	TimePeriod string            `json:"timePeriod"`
	Value      *float64          `json:"value"` // nil when the source value was missing or unparsable
	Dimensions []Dimension       `json:"dimensions"`
	Attributes map[string]string `json:"attributes,omitempty"`
	SourceID   string            `json:"sourceId"`

	// RetrievedAt is when the adapter obtained the payload this record came from.
	RetrievedAt time.Time `json:"retrievedAt,omitzero"`
}

// Dim returns the code for a dimension name (case-insensitive).
func (r ObservationRecord) Dim(name string) (string, bool) {
	for _, d := range r.Dimensions {
		if strings.EqualFold(d.Name, name) {
			return d.Code, true
		}
	}
	return "", false
}

// SeriesKey identifies the series a record belongs to: every dimension except time.
func (r ObservationRecord) SeriesKey() string {
	parts := make([]string, 0, len(r.Dimensions))
	for _, d := range r.Dimensions {
		parts = append(parts, d.Name+"="+d.Code)
	}
	return strings.Join(parts, ",")
}

// SortRecords orders records by period descending, then by series key so the
// order is total and reproducible.
func SortRecords(records []ObservationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		c := ComparePeriods(records[i].TimePeriod, records[j].TimePeriod)
		if c != 0 {
			return c > 0
		}
		return records[i].SeriesKey() < records[j].SeriesKey()
	})
}

// CodeSystem names an industry classification scheme.
type CodeSystem string

const (
	SystemNAICS CodeSystem = "NAICS"
	SystemSIC   CodeSystem = "SIC"
	SystemISIC  CodeSystem = "ISIC"
	SystemNACE  CodeSystem = "NACE"
)

// ClassificationCode is one code in one scheme. It is the deduplication key.
type ClassificationCode struct {
	System CodeSystem `json:"system"`
	Code   string     `json:"code"`
}

func (c ClassificationCode) String() string {
	return string(c.System) + ":" + c.Code
}

// ContributingSource records which source contributed to a consolidated entity.
type ContributingSource struct {
	SourceName    string    `json:"sourceName"`
	RawExcerptRef string    `json:"rawExcerptRef"`
	RetrievedAt   time.Time `json:"retrievedAt"`
}

// IndustryDTO is the consolidated, scored entity returned by Search.
// It is never mutated after scoring; a new query produces new DTOs.
type IndustryDTO struct {
	IndustryID          string               `json:"industryId"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	ClassificationCodes []ClassificationCode `json:"classificationCodes"`
	MarketSizeEstimate  *float64             `json:"marketSizeEstimate,omitempty"`
	GrowthRate          *float64             `json:"growthRate,omitempty"`
	ContributingSources []ContributingSource `json:"contributingSources"`
	RelevanceScore      float64              `json:"relevanceScore"`
	LastUpdated         time.Time            `json:"lastUpdated"`
}

// SearchQuery is the input of an aggregated search.
type SearchQuery struct {
	Text         string   `json:"freeTextQuery,omitempty"`
	Codes        []string `json:"codes,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	MinRelevance float64  `json:"minRelevanceScore,omitempty"`
	Geography    string   `json:"geography,omitempty"`
	StartPeriod  string   `json:"startPeriod,omitempty"`
	EndPeriod    string   `json:"endPeriod,omitempty"`
}

// SearchResult is what Search hands back to callers. Errors lists every
// source that failed; it never aborts the search on its own.
type SearchResult struct {
	Results []IndustryDTO  `json:"results"`
	Errors  []*SourceError `json:"errors"`
	Sources []string       `json:"sources"`
	Partial bool           `json:"partial"`
}
