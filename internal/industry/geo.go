package industry

import "strings"

var iso2to3 = map[string]string{
	"AR": "ARG", "AT": "AUT", "AU": "AUS", "BE": "BEL", "BG": "BGR", "BR": "BRA",
	"CA": "CAN", "CH": "CHE", "CL": "CHL", "CN": "CHN", "CO": "COL", "CY": "CYP",
	"CZ": "CZE", "DE": "DEU", "DK": "DNK", "EE": "EST", "EL": "GRC", "ES": "ESP",
	"FI": "FIN", "FR": "FRA", "GB": "GBR", "GR": "GRC", "HR": "HRV", "HU": "HUN",
	"ID": "IDN", "IE": "IRL", "IL": "ISR", "IN": "IND", "IS": "ISL", "IT": "ITA",
	"JP": "JPN", "KR": "KOR", "LT": "LTU", "LU": "LUX", "LV": "LVA", "MT": "MLT",
	"MX": "MEX", "NL": "NLD", "NO": "NOR", "NZ": "NZL", "PL": "POL", "PT": "PRT",
	"RO": "ROU", "RU": "RUS", "SA": "SAU", "SE": "SWE", "SI": "SVN", "SK": "SVK",
	"TR": "TUR", "UK": "GBR", "US": "USA", "ZA": "ZAF",
}

var iso3to2 = func() map[string]string {
	out := make(map[string]string, len(iso2to3))
	for k, v := range iso2to3 {
		if k == "UK" || k == "EL" {
			continue
		}
		out[v] = k
	}
	return out
}()

// EURegions lists the EU member states covered by Eurostat.
var EURegions = []string{
	"AUT", "BEL", "BGR", "CYP", "CZE", "DEU", "DNK", "ESP", "EST", "FIN", "FRA", "GRC", "HRV",
	"HUN", "IRL", "ITA", "LTU", "LUX", "LVA", "MLT", "NLD", "POL", "PRT", "ROU", "SVK", "SVN", "SWE",
}

// CountryISO3 normalises a country code to ISO alpha-3. Unknown inputs are
// returned upper-cased.
func CountryISO3(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if v, ok := iso2to3[c]; ok {
		return v
	}
	return c
}

// CountryISO2 normalises a country code to ISO alpha-2. Unknown inputs are
// returned upper-cased.
func CountryISO2(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if v, ok := iso3to2[c]; ok {
		return v
	}
	return c
}
