package industry

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/i474232898/industry-data-aggregation/internal/common"
)

// QueryShape classifies a search so only adapters able to answer it are asked.
type QueryShape string

const (
	ShapeKeyword   QueryShape = "keyword"
	ShapeCode      QueryShape = "code"
	ShapeGeography QueryShape = "geography"
)

// Capabilities describes what a source can answer and how directly.
type Capabilities struct {
	Shapes []QueryShape
	// Regions lists ISO alpha-3 areas the source covers. Empty means global.
	Regions []string
	// Directness scores (0..1) how close the source is to industry data for each shape.
	Directness map[QueryShape]float64
	// RequiresKey is true when the source refuses requests without a credential.
	RequiresKey bool
}

// Supports reports whether the source answers the given shape.
func (c Capabilities) Supports(shape QueryShape) bool {
	for _, s := range c.Shapes {
		if s == shape {
			return true
		}
	}
	return false
}

// Covers reports whether the source has data for the geography (alpha-2 or alpha-3).
func (c Capabilities) Covers(geo string) bool {
	if geo == "" || len(c.Regions) == 0 {
		return true
	}
	iso3 := CountryISO3(geo)
	for _, r := range c.Regions {
		if strings.EqualFold(r, iso3) {
			return true
		}
	}
	return false
}

// Adapter is the uniform contract every external source implements.
// Every non-nil error returned by these methods is a *SourceError.
type Adapter interface {
	ID() string
	Capabilities() Capabilities
	FetchDataset(ctx context.Context, q DatasetQuery) ([]ObservationRecord, error)
	FetchLatestValue(ctx context.Context, q DatasetQuery) (ObservationRecord, error)
	SearchIndustries(ctx context.Context, q SearchQuery) ([]ObservationRecord, error)
	IsAvailable() bool
	DataFreshness() *time.Time
}

var codeToken = regexp.MustCompile(`^\d{2,6}$`)

// IndustryCodes returns explicit codes plus any NAICS/SIC-looking tokens in the text.
func (q SearchQuery) IndustryCodes() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range q.Codes {
		add(c)
	}
	for _, tok := range strings.Fields(q.Text) {
		if codeToken.MatchString(tok) {
			add(tok)
		}
	}
	return out
}

// Keywords returns the non-code, non-stopword tokens of the free text, lowercased.
func (q SearchQuery) Keywords() []string {
	var out []string
	for _, tok := range common.Tokenize(q.Text) {
		if codeToken.MatchString(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Shape decides which kind of source should answer the query.
func (q SearchQuery) Shape() QueryShape {
	switch {
	case len(q.IndustryCodes()) > 0:
		return ShapeCode
	case strings.TrimSpace(q.Text) == "" && q.Geography != "":
		return ShapeGeography
	default:
		return ShapeKeyword
	}
}
