package providers

import (
	"strings"

	"github.com/i474232898/industry-data-aggregation/internal/common"
)

// sector crosswalks one NAICS industry to the series ids other sources use
// for it. Empty fields mean the source has no matching series.
type sector struct {
	NAICS    string
	Prefixes []string
	Name     string
	Keywords []string
	SIC      []string // SIC 1987 groups the sector mostly maps to
	ISIC     string   // OECD STAN industry
	NACE     string   // Eurostat NACE Rev.2
	CES      string   // BLS Current Employment Statistics, all employees
	FRED     string
	WB       string // World Bank indicator
}

var sectors = []sector{
	{NAICS: "11", Name: "Agriculture, forestry, fishing and hunting",
		Keywords: []string{"agriculture", "farming", "forestry", "fishing", "crop"},
		SIC:      []string{"01", "02", "08", "09"},
		ISIC:     "D01T03", NACE: "A", WB: "NV.AGR.TOTL.CD"},
	{NAICS: "21", Name: "Mining, quarrying, and oil and gas extraction",
		Keywords: []string{"mining", "quarrying", "oil", "gas", "extraction"},
		SIC:      []string{"10", "12", "13", "14"},
		ISIC:     "D05T09", NACE: "B", CES: "CES1021000001"},
	{NAICS: "23", Name: "Construction",
		Keywords: []string{"construction", "building", "contractor"},
		SIC:      []string{"15", "16", "17"},
		ISIC:     "D41T43", NACE: "F", CES: "CES2000000001"},
	{NAICS: "31-33", Prefixes: []string{"31", "32", "33"}, Name: "Manufacturing",
		Keywords: []string{"manufacturing", "factory", "industrial"},
		SIC:      []string{"20", "28", "35", "36", "37"},
		ISIC:     "D10T33", NACE: "C", CES: "CES3000000001", FRED: "IPMAN", WB: "NV.IND.MANF.CD"},
	{NAICS: "3254", Name: "Pharmaceutical and medicine manufacturing",
		Keywords: []string{"pharmaceutical", "pharma", "medicine", "drug", "biotech"},
		SIC:      []string{"2833", "2834", "2835", "2836"},
		ISIC:     "D21", NACE: "C21", CES: "CES3232540001", FRED: "IPG3254S"},
	{NAICS: "3344", Name: "Semiconductor and other electronic component manufacturing",
		Keywords: []string{"semiconductor", "chip", "electronic", "electronics"},
		SIC:      []string{"3674", "3679"},
		ISIC:     "D26", NACE: "C26", CES: "CES3133440001", FRED: "IPG3344S"},
	{NAICS: "3361", Name: "Motor vehicle manufacturing",
		Keywords: []string{"automotive", "automobile", "car", "vehicle"},
		SIC:      []string{"3711"},
		ISIC:     "D29", NACE: "C29", CES: "CES3133610001", FRED: "IPG3361T3S"},
	{NAICS: "44-45", Prefixes: []string{"44", "45"}, Name: "Retail trade",
		Keywords: []string{"retail", "store", "shop", "ecommerce"},
		SIC:      []string{"53", "54", "56", "59"},
		ISIC:     "D45T47", NACE: "G47", CES: "CES4200000001", FRED: "RSAFS"},
	{NAICS: "48-49", Prefixes: []string{"48", "49"}, Name: "Transportation and warehousing",
		Keywords: []string{"transportation", "logistic", "warehousing", "shipping", "freight"},
		SIC:      []string{"40", "42", "44", "45"},
		ISIC:     "D49T53", NACE: "H", CES: "CES4300000001"},
	{NAICS: "51", Name: "Information",
		Keywords: []string{"information", "media", "telecommunication", "publishing", "broadcasting"},
		SIC:      []string{"27", "48"},
		ISIC:     "D58T63", NACE: "J", CES: "CES5000000001"},
	{NAICS: "52", Name: "Finance and insurance",
		Keywords: []string{"finance", "financial", "banking", "bank", "insurance"},
		SIC:      []string{"60", "61", "62", "63", "64"},
		ISIC:     "D64T66", NACE: "K", CES: "CES5552000001"},
	{NAICS: "5415", Name: "Computer systems design and related services",
		Keywords: []string{"software", "computer", "programming", "saas", "technology"},
		SIC:      []string{"7371", "7373", "7379"},
		ISIC:     "D62T63", NACE: "J62", CES: "CES6054150001"},
	{NAICS: "62", Name: "Health care and social assistance",
		Keywords: []string{"health", "healthcare", "hospital", "medical", "care"},
		SIC:      []string{"80", "83"},
		ISIC:     "D86T88", NACE: "Q", CES: "CES6562000001"},
	{NAICS: "72", Name: "Accommodation and food services",
		Keywords: []string{"restaurant", "hotel", "hospitality", "food", "accommodation"},
		SIC:      []string{"58", "70"},
		ISIC:     "D55T56", NACE: "I", CES: "CES7072000001"},
}

func (s sector) prefixes() []string {
	if len(s.Prefixes) > 0 {
		return s.Prefixes
	}
	return []string{s.NAICS}
}

// matchLen is the length of the sector prefix that code falls under, or 0.
func (s sector) matchLen(code string) int {
	for _, p := range s.prefixes() {
		if strings.HasPrefix(code, p) {
			return len(p)
		}
	}
	return 0
}

// sectorForCode returns the most specific sector containing code.
func sectorForCode(code string) (sector, bool) {
	var (
		best    sector
		bestLen int
	)
	for _, s := range sectors {
		if n := s.matchLen(code); n > bestLen {
			best, bestLen = s, n
		}
	}
	return best, bestLen > 0
}

// sectorsForKeywords returns sectors whose keywords or name contain any token,
// in catalog order.
func sectorsForKeywords(tokens []string) []sector {
	var out []sector
	for _, s := range sectors {
		words := map[string]bool{}
		for _, k := range s.Keywords {
			words[k] = true
		}
		for _, w := range common.Tokenize(s.Name) {
			words[w] = true
		}
		for _, t := range tokens {
			if words[t] {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// sectorsFor resolves a search to sectors: codes first, then keywords.
func sectorsFor(codes, keywords []string) []sector {
	seen := map[string]bool{}
	var out []sector
	add := func(s sector) {
		if !seen[s.NAICS] {
			seen[s.NAICS] = true
			out = append(out, s)
		}
	}
	for _, c := range codes {
		if s, ok := sectorForCode(c); ok {
			add(s)
		}
	}
	if len(codes) == 0 {
		for _, s := range sectorsForKeywords(keywords) {
			add(s)
		}
	}
	return out
}

// sectorBy finds the sector whose field equals value (case-insensitive).
func sectorBy(field func(sector) string, value string) (sector, bool) {
	if value == "" {
		return sector{}, false
	}
	for _, s := range sectors {
		if strings.EqualFold(field(s), value) {
			return s, true
		}
	}
	return sector{}, false
}
