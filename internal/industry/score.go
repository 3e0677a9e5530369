package industry

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/i474232898/industry-data-aggregation/internal/common"
)

// Relevance weights. They sum to 1 so a weighted score stays in [0,1].
const (
	weightMatch        = 0.45
	weightCompleteness = 0.20
	weightDirectness   = 0.20
	weightRecency      = 0.15

	// corroborationStep is the bonus share per extra agreeing source, capped at maxCorroboration.
	corroborationStep = 0.1
	maxCorroboration  = 0.3

	// neutralMatch scores queries with neither codes nor keywords (geography only).
	neutralMatch = 0.5
)

const hoursPerYear = 24 * 365.25

// weighted scores a DTO from its own fields. newest is the most recent
// LastUpdated among every candidate in the same search.
func weighted(d IndustryDTO, directness float64, q SearchQuery, newest time.Time) float64 {
	s := weightMatch*matchScore(d, q) +
		weightCompleteness*completeness(d) +
		weightDirectness*clamp01(directness) +
		weightRecency*recency(d.LastUpdated, newest)
	return clamp01(s)
}

// matchScore compares the DTO with the query's codes and keywords and keeps
// the better of the two.
func matchScore(d IndustryDTO, q SearchQuery) float64 {
	codes, keywords := q.IndustryCodes(), q.Keywords()
	if len(codes) == 0 && len(keywords) == 0 {
		return neutralMatch
	}
	best := 0.0
	for _, qc := range codes {
		for _, c := range d.ClassificationCodes {
			if s := codeMatch(c, qc); s > best {
				best = s
			}
		}
	}
	if len(keywords) > 0 {
		if s := keywordMatch(d, keywords); s > best {
			best = s
		}
	}
	return best
}

// codeMatch is 1 for the same code and 0.8 for a NAICS parent or child.
func codeMatch(c ClassificationCode, query string) float64 {
	query = strings.TrimSpace(query)
	if strings.EqualFold(c.Code, query) {
		return 1
	}
	if c.System != SystemNAICS || !isDigits(query) {
		return 0
	}
	if lo, hi, ok := strings.Cut(c.Code, "-"); ok && len(query) >= 2 {
		if p := query[:2]; p >= lo && p <= hi {
			return 0.8
		}
		return 0
	}
	if isDigits(c.Code) && (strings.HasPrefix(c.Code, query) || strings.HasPrefix(query, c.Code)) {
		return 0.8
	}
	return 0
}

// keywordMatch is the share of query keywords found in the name or description.
func keywordMatch(d IndustryDTO, keywords []string) float64 {
	tokens := common.Tokenize(d.Name + " " + d.Description)
	hit := 0
	for _, kw := range keywords {
		for _, t := range tokens {
			if t == kw || (len(t) >= 4 && len(kw) >= 4 && (strings.HasPrefix(t, kw) || strings.HasPrefix(kw, t))) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(keywords))
}

// completeness is the share of optional DTO fields that are filled.
func completeness(d IndustryDTO) float64 {
	filled := 0
	if d.Name != "" {
		filled++
	}
	if d.Description != "" {
		filled++
	}
	if len(d.ClassificationCodes) > 0 {
		filled++
	}
	if d.MarketSizeEstimate != nil {
		filled++
	}
	if d.GrowthRate != nil {
		filled++
	}
	return float64(filled) / 5
}

// recency decays with the age gap to the newest candidate: 1 for the newest,
// 0.5 one year behind.
func recency(lu, newest time.Time) float64 {
	if lu.IsZero() {
		return 0
	}
	gap := newest.Sub(lu).Hours() / hoursPerYear
	if gap <= 0 {
		return 1
	}
	return 1 / (1 + gap)
}

// rank scores clusters and sorts them by relevance, then freshness, then id.
// A cluster never scores below its best fragment and earns a bonus for each
// extra source that agrees with it.
func rank(clusters []cluster, fragments []fragment, q SearchQuery) []IndustryDTO {
	var newest time.Time
	for _, f := range fragments {
		if f.dto.LastUpdated.After(newest) {
			newest = f.dto.LastUpdated
		}
	}

	out := make([]IndustryDTO, 0, len(clusters))
	for _, c := range clusters {
		directness, best := 0.0, 0.0
		for _, i := range c.members {
			f := fragments[i]
			if f.directness > directness {
				directness = f.directness
			}
			if s := weighted(f.dto, f.directness, q, newest); s > best {
				best = s
			}
		}
		base := weighted(c.dto, directness, q, newest)
		if best > base {
			base = best
		}
		bonus := corroborationStep * float64(distinctSources(c.dto)-1)
		if bonus > maxCorroboration {
			bonus = maxCorroboration
		}
		d := c.dto
		d.RelevanceScore = clamp01(base + (1-base)*bonus)
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].IndustryID < out[j].IndustryID
	})
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
