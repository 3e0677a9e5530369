package industry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reYear     = regexp.MustCompile(`^(\d{4})$`)
	reQuarter  = regexp.MustCompile(`^(\d{4})-?Q([1-4])$`)
	reSemester = regexp.MustCompile(`^(\d{4})-?[SH]([12])$`)
	reMonth    = regexp.MustCompile(`^(\d{4})-?M?(\d{2})$`)
	reWeek     = regexp.MustCompile(`^(\d{4})-?W(\d{2})$`)
	reDate     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
)

// ParsePeriod converts a period string (year or year-period) into the UTC
// start of that period. Supported: 2021, 2021-Q3, 2021Q3, 2021-S1, 2021-03,
// 2021M03, 2021-W05, 2021-03-15 and RFC3339 timestamps.
func ParsePeriod(s string) (time.Time, error) {
	p := strings.ToUpper(strings.TrimSpace(s))
	if p == "" {
		return time.Time{}, fmt.Errorf("empty period")
	}
	atoi := func(v string) int {
		n, _ := strconv.Atoi(v)
		return n
	}

	switch {
	case reYear.MatchString(p):
		return time.Date(atoi(p), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case reQuarter.MatchString(p):
		m := reQuarter.FindStringSubmatch(p)
		return time.Date(atoi(m[1]), time.Month((atoi(m[2])-1)*3+1), 1, 0, 0, 0, 0, time.UTC), nil
	case reSemester.MatchString(p):
		m := reSemester.FindStringSubmatch(p)
		return time.Date(atoi(m[1]), time.Month((atoi(m[2])-1)*6+1), 1, 0, 0, 0, 0, time.UTC), nil
	case reWeek.MatchString(p):
		m := reWeek.FindStringSubmatch(p)
		return time.Date(atoi(m[1]), time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (atoi(m[2])-1)*7), nil
	case reMonth.MatchString(p):
		m := reMonth.FindStringSubmatch(p)
		month := atoi(m[2])
		if month < 1 || month > 12 {
			return time.Time{}, fmt.Errorf("invalid month in period %q", s)
		}
		return time.Date(atoi(m[1]), time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
	case reDate.MatchString(p):
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			return ts.UTC(), nil
		}
		m := reDate.FindStringSubmatch(p)
		ts, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date period %q: %w", s, err)
		}
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised period %q", s)
}

// ComparePeriods orders two periods. Parseable periods sort after unparseable
// ones; equal starts (or two unparseable values) fall back to string order.
func ComparePeriods(a, b string) int {
	ta, errA := ParsePeriod(a)
	tb, errB := ParsePeriod(b)
	switch {
	case errA == nil && errB == nil:
		if ta.Before(tb) {
			return -1
		}
		if ta.After(tb) {
			return 1
		}
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(a, b)
}

// LatestRecord picks the record with the greatest parseable period. Ties on
// the period start are broken by the period string, descending. Records whose
// period does not parse are ignored; ok is false when none parse.
func LatestRecord(records []ObservationRecord) (ObservationRecord, bool) {
	var (
		best     ObservationRecord
		bestTime time.Time
		found    bool
	)
	for _, r := range records {
		ts, err := ParsePeriod(r.TimePeriod)
		if err != nil {
			continue
		}
		if !found || ts.After(bestTime) || (ts.Equal(bestTime) && r.TimePeriod > best.TimePeriod) {
			best, bestTime, found = r, ts, true
		}
	}
	return best, found
}
