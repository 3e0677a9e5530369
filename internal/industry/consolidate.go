package industry

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/i474232898/industry-data-aggregation/internal/common"
)

// nameMatchThreshold is the minimum normalised Levenshtein similarity for two
// uncoded industry names to be treated as the same industry.
const nameMatchThreshold = 0.88

var industryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("industry-data-aggregation"))

// fragment is one source's view of one industry before deduplication.
type fragment struct {
	dto        IndustryDTO
	directness float64
	nameKey    string
}

// cluster is a consolidated industry and the fragments it was built from.
type cluster struct {
	dto     IndustryDTO
	members []int
}

// buildFragments groups one adapter's records by industry and summarises
// each group. Records sharing a classification code form one group; records
// without any code are grouped by series.
func buildFragments(source string, directness float64, records []ObservationRecord, retrieved time.Time) []fragment {
	groups := make(map[string][]ObservationRecord)
	var order []string
	for _, r := range records {
		key := groupKey(r)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	sort.Strings(order)

	out := make([]fragment, 0, len(order))
	for _, key := range order {
		recs := append([]ObservationRecord(nil), groups[key]...)
		SortRecords(recs)
		out = append(out, summarise(source, directness, key, recs, retrieved))
	}
	return out
}

func summarise(source string, directness float64, key string, recs []ObservationRecord, retrieved time.Time) fragment {
	var (
		name, desc string
		codes      = map[ClassificationCode]bool{}
	)
	for _, r := range recs {
		if name == "" {
			name = strings.TrimSpace(r.Attributes[AttrLabel])
		}
		if desc == "" {
			desc = strings.TrimSpace(r.Attributes[AttrDescription])
		}
		for _, c := range recordCodes(r) {
			codes[c] = true
		}
	}
	if name == "" {
		name = strings.TrimPrefix(key, "series:")
	}

	dto := IndustryDTO{
		Name:                name,
		Description:         desc,
		ClassificationCodes: sortedCodes(codes),
		LastUpdated:         retrieved,
	}
	if latest, ok := LatestRecord(recs); ok {
		if ts, err := ParsePeriod(latest.TimePeriod); err == nil {
			dto.LastUpdated = ts
		}
	}

	ref := recs[0]
	if size, ok := sizeRecord(recs); ok {
		v := *size.Value
		dto.MarketSizeEstimate = &v
		ref = size
	}
	dto.GrowthRate = growthRate(recs)

	dto.ContributingSources = []ContributingSource{{
		SourceName:    source,
		RawExcerptRef: fmt.Sprintf("%s:%s@%s", source, ref.SeriesKey(), ref.TimePeriod),
		RetrievedAt:   retrieved,
	}}
	f := fragment{dto: dto, directness: directness, nameKey: common.NormalizeName(name)}
	f.dto.IndustryID = industryID(f.dto.ClassificationCodes, f.nameKey)
	return f
}

// groupKey prefers a crosswalked NAICS code, then any code the record carries.
func groupKey(r ObservationRecord) string {
	if n := strings.TrimSpace(r.Attributes[AttrNAICS]); n != "" {
		return ClassificationCode{System: SystemNAICS, Code: n}.String()
	}
	if codes := dimensionCodes(r); len(codes) > 0 {
		return codes[0].String()
	}
	return "series:" + r.SeriesKey()
}

// recordCodes collects the classification codes a record carries in its
// dimensions and attributes.
func recordCodes(r ObservationRecord) []ClassificationCode {
	out := dimensionCodes(r)
	if n := strings.TrimSpace(r.Attributes[AttrNAICS]); n != "" {
		out = append(out, ClassificationCode{System: SystemNAICS, Code: n})
	}
	for _, s := range strings.Split(r.Attributes[AttrSIC], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, ClassificationCode{System: SystemSIC, Code: s})
		}
	}
	return out
}

func dimensionCodes(r ObservationRecord) []ClassificationCode {
	var out []ClassificationCode
	for _, d := range r.Dimensions {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			continue
		}
		if sys, ok := codeSystemOf(d.Name); ok {
			out = append(out, ClassificationCode{System: sys, Code: code})
		}
	}
	return out
}

func codeSystemOf(dim string) (CodeSystem, bool) {
	n := strings.ToUpper(dim)
	if strings.HasSuffix(n, "_LABEL") {
		return "", false
	}
	switch {
	case strings.HasPrefix(n, "NAICS"):
		return SystemNAICS, true
	case strings.HasPrefix(n, "SIC"):
		return SystemSIC, true
	case n == "IND" || strings.HasPrefix(n, "ISIC"):
		return SystemISIC, true
	case strings.HasPrefix(n, "NACE"):
		return SystemNACE, true
	}
	return "", false
}

func sortedCodes(set map[ClassificationCode]bool) []ClassificationCode {
	out := make([]ClassificationCode, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].System != out[j].System {
			return out[i].System < out[j].System
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// sizeRecord is the latest record marked as a size measure, or failing that
// the latest valued record that is not already a rate.
func sizeRecord(recs []ObservationRecord) (ObservationRecord, bool) {
	for _, r := range recs {
		if r.Value != nil && r.Attributes[AttrRole] == RoleSize {
			return r, true
		}
	}
	for _, r := range recs {
		if r.Value != nil && r.Attributes[AttrRole] != RoleRate {
			return r, true
		}
	}
	return ObservationRecord{}, false
}

// growthRate is a fraction (0.05 is 5%). A rate record is taken as a
// percentage; otherwise the change between the two latest values of the
// size series is used.
func growthRate(recs []ObservationRecord) *float64 {
	for _, r := range recs {
		if r.Value != nil && r.Attributes[AttrRole] == RoleRate {
			g := *r.Value / 100
			return &g
		}
	}
	latest, ok := sizeRecord(recs)
	if !ok {
		return nil
	}
	series := latest.SeriesKey()
	for _, r := range recs {
		if r.Value == nil || r.SeriesKey() != series || ComparePeriods(r.TimePeriod, latest.TimePeriod) >= 0 {
			continue
		}
		if *r.Value == 0 {
			return nil
		}
		g := (*latest.Value - *r.Value) / abs(*r.Value)
		return &g
	}
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// industryID is stable for the same industry across queries: the NAICS code
// when there is one, another scheme's code next, a name hash last.
func industryID(codes []ClassificationCode, nameKey string) string {
	for _, c := range codes {
		if c.System == SystemNAICS {
			return "naics:" + c.Code
		}
	}
	if len(codes) > 0 {
		return strings.ToLower(string(codes[0].System)) + ":" + codes[0].Code
	}
	return "ind:" + uuid.NewSHA1(industryNamespace, []byte(nameKey)).String()
}

// nameSimilarity is 1 minus the edit distance over the longer name's length.
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(i int) int {
	for u[i] != i {
		u[i] = u[u[i]]
		i = u[i]
	}
	return i
}

// union keeps the smaller index as root so cluster order follows fragment order.
func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra < rb:
		u[rb] = ra
	case rb < ra:
		u[ra] = rb
	}
}

// consolidate merges fragments describing the same industry: any shared
// classification code, or names close enough when codes do not connect them.
// Two clusters never merge while both carry NAICS codes and share none, so a
// crosswalk code shared by sibling industries cannot chain them together.
func consolidate(fragments []fragment) []cluster {
	uf := newUnionFind(len(fragments))
	naics := make([]map[string]bool, len(fragments))
	for i, f := range fragments {
		for _, c := range f.dto.ClassificationCodes {
			if c.System == SystemNAICS {
				if naics[i] == nil {
					naics[i] = map[string]bool{}
				}
				naics[i][c.Code] = true
			}
		}
	}
	join := func(a, b int) {
		ra, rb := uf.find(a), uf.find(b)
		if ra == rb || naicsDisjoint(naics[ra], naics[rb]) {
			return
		}
		uf.union(ra, rb)
		root, other := ra, rb
		if uf.find(ra) != ra {
			root, other = rb, ra
		}
		if naics[root] == nil {
			naics[root] = naics[other]
		} else {
			for c := range naics[other] {
				naics[root][c] = true
			}
		}
	}

	holders := make(map[ClassificationCode][]int)
	for i, f := range fragments {
		for _, c := range f.dto.ClassificationCodes {
			for _, j := range holders[c] {
				join(i, j)
			}
			holders[c] = append(holders[c], i)
		}
	}
	for i := range fragments {
		for j := i + 1; j < len(fragments); j++ {
			if uf.find(i) == uf.find(j) {
				continue
			}
			if codesConflict(fragments[i].dto, fragments[j].dto) {
				continue
			}
			if nameSimilarity(fragments[i].nameKey, fragments[j].nameKey) >= nameMatchThreshold {
				join(i, j)
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for i := range fragments {
		r := uf.find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], i)
	}

	out := make([]cluster, 0, len(roots))
	for _, r := range roots {
		members := byRoot[r]
		out = append(out, cluster{dto: merge(fragments, members), members: members})
	}
	return out
}

// merge folds fragments into one DTO. Each field comes from the freshest
// fragment that has it; codes and sources are unioned.
func merge(fragments []fragment, members []int) IndustryDTO {
	ordered := append([]int(nil), members...)
	sort.SliceStable(ordered, func(a, b int) bool {
		fa, fb := fragments[ordered[a]], fragments[ordered[b]]
		if !fa.dto.LastUpdated.Equal(fb.dto.LastUpdated) {
			return fa.dto.LastUpdated.After(fb.dto.LastUpdated)
		}
		if fa.directness != fb.directness {
			return fa.directness > fb.directness
		}
		return ordered[a] < ordered[b]
	})

	var (
		out     IndustryDTO
		nameKey string
		codes   = map[ClassificationCode]bool{}
		seen    = map[string]bool{}
	)
	for _, i := range ordered {
		d := fragments[i].dto
		if out.Name == "" && d.Name != "" {
			out.Name, nameKey = d.Name, fragments[i].nameKey
		}
		if out.Description == "" {
			out.Description = d.Description
		}
		if out.MarketSizeEstimate == nil {
			out.MarketSizeEstimate = d.MarketSizeEstimate
		}
		if out.GrowthRate == nil {
			out.GrowthRate = d.GrowthRate
		}
		if d.LastUpdated.After(out.LastUpdated) {
			out.LastUpdated = d.LastUpdated
		}
		for _, c := range d.ClassificationCodes {
			codes[c] = true
		}
		for _, cs := range d.ContributingSources {
			k := cs.SourceName + "\x00" + cs.RawExcerptRef
			if !seen[k] {
				seen[k] = true
				out.ContributingSources = append(out.ContributingSources, cs)
			}
		}
	}
	sort.SliceStable(out.ContributingSources, func(a, b int) bool {
		x, y := out.ContributingSources[a], out.ContributingSources[b]
		if x.SourceName != y.SourceName {
			return x.SourceName < y.SourceName
		}
		return x.RawExcerptRef < y.RawExcerptRef
	})
	out.ClassificationCodes = sortedCodes(codes)
	out.IndustryID = industryID(out.ClassificationCodes, nameKey)
	return out
}

// codesConflict is true when both DTOs are coded in the same scheme but share
// no code in it. Such pairs are never merged on name alone.
func naicsDisjoint(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for c := range a {
		if b[c] {
			return false
		}
	}
	return true
}

func codesConflict(a, b IndustryDTO) bool {
	bySystem := func(d IndustryDTO) map[CodeSystem]map[string]bool {
		m := map[CodeSystem]map[string]bool{}
		for _, c := range d.ClassificationCodes {
			if m[c.System] == nil {
				m[c.System] = map[string]bool{}
			}
			m[c.System][c.Code] = true
		}
		return m
	}
	ca, cb := bySystem(a), bySystem(b)
	for sys, codes := range ca {
		other, ok := cb[sys]
		if !ok {
			continue
		}
		shared := false
		for c := range codes {
			if other[c] {
				shared = true
				break
			}
		}
		if !shared {
			return true
		}
	}
	return false
}

// distinctSources counts the source names behind a DTO.
func distinctSources(d IndustryDTO) int {
	names := map[string]bool{}
	for _, cs := range d.ContributingSources {
		names[cs.SourceName] = true
	}
	return len(names)
}
