package industry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2021", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2021-Q3", time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"2021Q4", time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"2021-S2", time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"2021-03", time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2021M11", time.Date(2021, 11, 1, 0, 0, 0, 0, time.UTC)},
		{"2021-W02", time.Date(2021, 1, 8, 0, 0, 0, 0, time.UTC)},
		{"2021-03-15", time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got, err := ParsePeriod(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.in, got)
	}

	for _, bad := range []string{"", "latest", "2021-13", "USA"} {
		_, err := ParsePeriod(bad)
		assert.Error(t, err, bad)
	}
}

func TestLatestRecordPicksGreatestPeriod(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	records := []ObservationRecord{
		{TimePeriod: "2021", Value: v(1)},
		{TimePeriod: "2023", Value: v(3)},
		{TimePeriod: "n/a", Value: v(9)},
	}
	got, ok := LatestRecord(records)
	require.True(t, ok)
	assert.Equal(t, "2023", got.TimePeriod)
	assert.Equal(t, 3.0, *got.Value)

	// Same start, the string that sorts higher wins.
	got, ok = LatestRecord([]ObservationRecord{{TimePeriod: "2023-01"}, {TimePeriod: "2023M01"}})
	require.True(t, ok)
	assert.Equal(t, "2023M01", got.TimePeriod)

	_, ok = LatestRecord([]ObservationRecord{{TimePeriod: "latest"}})
	assert.False(t, ok)
}

func TestSortRecordsIsDeterministic(t *testing.T) {
	records := []ObservationRecord{
		{TimePeriod: "2021", Dimensions: []Dimension{{Name: "GEO", Code: "FR"}}},
		{TimePeriod: "2022", Dimensions: []Dimension{{Name: "GEO", Code: "FR"}}},
		{TimePeriod: "2022", Dimensions: []Dimension{{Name: "GEO", Code: "DE"}}},
	}
	SortRecords(records)
	assert.Equal(t, "2022", records[0].TimePeriod)
	assert.Equal(t, "GEO=DE", records[0].SeriesKey())
	assert.Equal(t, "GEO=FR", records[1].SeriesKey())
	assert.Equal(t, "2021", records[2].TimePeriod)
}

func TestSearchQueryShape(t *testing.T) {
	assert.Equal(t, ShapeCode, SearchQuery{Text: "software 5415"}.Shape())
	assert.Equal(t, ShapeCode, SearchQuery{Codes: []string{"3254"}}.Shape())
	assert.Equal(t, ShapeGeography, SearchQuery{Geography: "DE"}.Shape())
	assert.Equal(t, ShapeKeyword, SearchQuery{Text: "pharmaceutical manufacturing"}.Shape())

	q := SearchQuery{Text: "the software industry 5415", Codes: []string{"5415", "541511"}}
	assert.Equal(t, []string{"5415", "541511"}, q.IndustryCodes())
	assert.Equal(t, []string{"software"}, q.Keywords())
}

func TestCapabilitiesCovers(t *testing.T) {
	c := Capabilities{Regions: EURegions}
	assert.True(t, c.Covers("DE"))
	assert.True(t, c.Covers("EL"))
	assert.True(t, c.Covers("grc"))
	assert.False(t, c.Covers("US"))
	assert.True(t, Capabilities{}.Covers("US"))
}

func TestAsSourceError(t *testing.T) {
	se := NewSourceError("bls", CodeRateLimited, "slow down")
	assert.Same(t, se, AsSourceError(se, "other"))
	assert.True(t, se.Retryable)
	assert.Equal(t, KindProvider, se.Kind)

	invalid := NewSourceError("oecd", CodeInvalidKey, "bad key", "try A.USA")
	assert.Equal(t, KindValidation, invalid.Kind)
	assert.False(t, invalid.Retryable)
}
