package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

// recordingServer answers with body and keeps the last request URL and body.
type recordingServer struct {
	*httptest.Server
	mu   sync.Mutex
	url  *url.URL
	body []byte
	hits int32
}

func (rs *recordingServer) lastURL() *url.URL {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.url
}

func (rs *recordingServer) lastBody() []byte {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.body
}

func newRecordingServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&rs.hits, 1)
		sent, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.url, rs.body = r.URL, sent
		rs.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func findMeasure(t *testing.T, recs []industry.ObservationRecord, measure string) industry.ObservationRecord {
	t.Helper()
	for _, r := range recs {
		if r.Attributes[industry.AttrMeasure] == measure {
			return r
		}
	}
	t.Fatalf("no record for measure %s", measure)
	return industry.ObservationRecord{}
}

func TestCensusRequestAndDecode(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, censusTable)
	cfg := testConfig(srv.Server)
	cfg.APIKey = "secret"
	a := NewCensus(cfg, testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "cbp", Key: "5415.06", EndPeriod: "2020"})
	require.NoError(t, err)

	assert.Equal(t, "/2020/cbp", srv.lastURL().Path)
	qs := srv.lastURL().Query()
	assert.Equal(t, "NAICS2017,NAICS2017_LABEL,ESTAB,EMP,PAYANN", qs.Get("get"))
	assert.Equal(t, "state:06", qs.Get("for"))
	assert.Equal(t, "5415", qs.Get("NAICS2017"))
	assert.Equal(t, "secret", qs.Get("key"))

	require.Len(t, recs, 3)
	payroll := findMeasure(t, recs, "PAYANN")
	assert.Equal(t, "2020", payroll.TimePeriod)
	assert.Equal(t, industry.RoleSize, payroll.Attributes[industry.AttrRole])
	assert.Equal(t, "5415", payroll.Attributes[industry.AttrNAICS])
	assert.Equal(t, "Computer systems design and related services", payroll.Attributes[industry.AttrLabel])
	assert.Equal(t, "USD thousands", payroll.Attributes[industry.AttrUnit])
	assert.Equal(t, "census", payroll.SourceID)
	require.NotNil(t, payroll.Value)
	assert.InDelta(t, 250000000, *payroll.Value, 1e-6)

	emp := findMeasure(t, recs, "EMP")
	assert.Empty(t, emp.Attributes[industry.AttrRole])
}

func TestCensusPlan(t *testing.T) {
	s := &censusSource{}
	assert.Nil(t, s.plan(industry.SearchQuery{Codes: []string{"5415"}, Geography: "DE"}))
	assert.Equal(t,
		[]industry.DatasetQuery{{Dataflow: "cbp", Key: "5415.US"}, {Dataflow: "cbp", Key: "3254.US"}},
		s.plan(industry.SearchQuery{Text: "5415 3254", Geography: "US"}))
	assert.Equal(t, "NAICS2022", naicsVar("2023"))
	assert.Equal(t, "NAICS2012", naicsVar("2015"))
}

const blsBody = `{
  "status": "REQUEST_SUCCEEDED",
  "message": [],
  "Results": {"series": [{
    "seriesID": "CES3232540001",
    "data": [
      {"year": "2023", "period": "M13", "periodName": "Annual", "value": "330.1"},
      {"year": "2023", "period": "M02", "periodName": "February", "value": "331.4"},
      {"year": "2023", "period": "M01", "periodName": "January", "value": "329.8"}
    ]
  }]}
}`

func TestBLSRequestAndDecode(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, blsBody)
	cfg := testConfig(srv.Server)
	cfg.APIKey = "reg"
	a := NewBLS(cfg, testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{
		Dataflow: "timeseries", Key: "CES3232540001", StartPeriod: "2022",
	})
	require.NoError(t, err)

	assert.Equal(t, "/timeseries/data/", srv.lastURL().Path)
	var sent blsRequest
	require.NoError(t, json.Unmarshal(srv.lastBody(), &sent))
	assert.Equal(t, []string{"CES3232540001"}, sent.SeriesID)
	assert.Equal(t, "2022", sent.StartYear)
	assert.Equal(t, "2022", sent.EndYear)
	assert.Equal(t, "reg", sent.RegistrationKey)

	require.Len(t, recs, 3)
	assert.Equal(t, "2023-02", recs[0].TimePeriod)
	var periods []string
	for _, r := range recs {
		periods = append(periods, r.TimePeriod)
		assert.Equal(t, "3254", r.Attributes[industry.AttrNAICS])
		assert.Equal(t, "Pharmaceutical and medicine manufacturing", r.Attributes[industry.AttrLabel])
		assert.Equal(t, "thousands of employees", r.Attributes[industry.AttrUnit])
	}
	assert.ElementsMatch(t, []string{"2023", "2023-02", "2023-01"}, periods)
}

func TestBLSThresholdIsRateLimited(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK,
		`{"status":"REQUEST_NOT_PROCESSED","message":["daily threshold for total number of requests allocated to user has been reached"],"Results":{}}`)
	a := NewBLS(testConfig(srv.Server), testDeps(t))

	_, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "timeseries", Key: "CES3232540001"})
	se := requireSourceError(t, err, industry.CodeRateLimited)
	assert.Contains(t, se.Message, "daily threshold")
}

func TestBLSPeriods(t *testing.T) {
	tests := map[[2]string]string{
		{"2023", "M07"}: "2023-07",
		{"2023", "M13"}: "2023",
		{"2023", "A01"}: "2023",
		{"2023", "Q02"}: "2023Q2",
		{"2023", "S01"}: "2023-S1",
	}
	for in, want := range tests {
		got, ok := blsPeriod(in[0], in[1])
		require.True(t, ok, in)
		assert.Equal(t, want, got)
		_, err := industry.ParsePeriod(got)
		assert.NoError(t, err)
	}
	_, ok := blsPeriod("23", "M01")
	assert.False(t, ok)
}

func TestFREDRequiresKey(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"observations":[]}`)
	a := NewFRED(testConfig(srv.Server), testDeps(t))

	assert.False(t, a.IsAvailable())
	_, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "series", Key: "GDP"})
	se := requireSourceError(t, err, industry.CodeCredentialMissing)
	assert.Contains(t, se.Message, "INDUSTRY_SOURCES_FRED_API_KEY")
	assert.Zero(t, atomic.LoadInt32(&srv.hits))
}

func TestFREDRequest(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK,
		`{"observations":[{"realtime_start":"2024-01-01","realtime_end":"2024-01-01","date":"2022-01-01","value":"101.2"}]}`)
	cfg := testConfig(srv.Server)
	cfg.APIKey = "abc"
	a := NewFRED(cfg, testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{
		Dataflow: "series", Key: "IPG3254S", StartPeriod: "2020", EndPeriod: "2022",
	})
	require.NoError(t, err)

	qs := srv.lastURL().Query()
	assert.Equal(t, "IPG3254S", qs.Get("series_id"))
	assert.Equal(t, "abc", qs.Get("api_key"))
	assert.Equal(t, "2020-01-01", qs.Get("observation_start"))
	assert.Equal(t, "2022-12-31", qs.Get("observation_end"))

	require.Len(t, recs, 1)
	series, ok := recs[0].Dim("SERIES")
	require.True(t, ok)
	assert.Equal(t, "IPG3254S", series)
	assert.Equal(t, "3254", recs[0].Attributes[industry.AttrNAICS])

	_, err = a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "series", Key: "GDP+IPMAN"})
	requireSourceError(t, err, industry.CodeInvalidKey)
}

const worldBankBody = `[
  {"page":1,"pages":1,"per_page":1000,"total":2},
  [
    {"indicator":{"id":"NV.IND.MANF.CD","value":"Manufacturing, value added (current US$)"},"country":{"id":"US","value":"United States"},"countryiso3code":"USA","date":"2022","value":2497000000000,"unit":"","obs_status":"","decimal":0},
    {"indicator":{"id":"NV.IND.MANF.CD","value":"Manufacturing, value added (current US$)"},"country":{"id":"US","value":"United States"},"countryiso3code":"USA","date":"2021","value":2340000000000,"unit":"","obs_status":"","decimal":0}
  ]
]`

func TestWorldBankRequestAndDecode(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, worldBankBody)
	a := NewWorldBank(testConfig(srv.Server), testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{
		Dataflow: "NV.IND.MANF.CD", Key: "USA+DEU", StartPeriod: "2015", EndPeriod: "2022",
	})
	require.NoError(t, err)

	assert.Equal(t, "/country/USA;DEU/indicator/NV.IND.MANF.CD", srv.lastURL().Path)
	assert.Equal(t, "2015:2022", srv.lastURL().Query().Get("date"))

	require.Len(t, recs, 2)
	assert.Equal(t, "2022", recs[0].TimePeriod)
	assert.Equal(t, "Manufacturing, value added (current US$)", recs[0].Attributes[industry.AttrLabel])
	assert.Equal(t, industry.RoleSize, recs[0].Attributes[industry.AttrRole])
	assert.Equal(t, "31-33", recs[0].Attributes[industry.AttrNAICS])
}

func TestWorldBankMessageIsAnError(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK,
		`[{"message":[{"id":"175","key":"Invalid format","value":"The indicator was not found. It may have been deleted or archived."}]}]`)
	a := NewWorldBank(testConfig(srv.Server), testDeps(t))

	_, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "XX.NOPE", Key: "USA"})
	requireSourceError(t, err, industry.CodeNotFound)
}

const oecdBody = `{
  "dataSets": [{"series": {
    "0:0:0": {"observations": {"0": [1200.5], "1": [1310.25]}}
  }}],
  "structure": {"dimensions": {
    "series": [
      {"id": "LOCATION", "values": [{"id": "USA", "name": "United States"}]},
      {"id": "VAR", "values": [{"id": "VALU", "name": "Value added, current prices"}]},
      {"id": "IND", "values": [{"id": "D21", "name": "Basic pharmaceutical products"}]}
    ],
    "observation": [{"id": "TIME_PERIOD", "values": [{"id": "2020"}, {"id": "2021"}]}]
  }}
}`

func TestOECDRequestAndDecode(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, oecdBody)
	a := NewOECD(testConfig(srv.Server), testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{
		Dataflow: "STANI4", Key: "USA.VALU.D21", StartPeriod: "2020",
	})
	require.NoError(t, err)

	assert.Equal(t, "/STANI4/USA.VALU.D21/all", srv.lastURL().Path)
	assert.Equal(t, "2020", srv.lastURL().Query().Get("startTime"))

	require.Len(t, recs, 2)
	assert.Equal(t, "2021", recs[0].TimePeriod)
	assert.Equal(t, "Basic pharmaceutical products", recs[0].Attributes[industry.AttrLabel])
	assert.Equal(t, industry.RoleSize, recs[0].Attributes[industry.AttrRole])
	assert.Equal(t, "3254", recs[0].Attributes[industry.AttrNAICS])
}

func TestOECDNotFoundIsEmpty(t *testing.T) {
	srv := newRecordingServer(t, http.StatusNotFound, `NoRecordsFound`)
	a := NewOECD(testConfig(srv.Server), testDeps(t))
	q := industry.DatasetQuery{Dataflow: "STANI4", Key: "USA.VALU.D21"}

	recs, err := a.FetchDataset(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = a.FetchDataset(context.Background(), q)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&srv.hits), "empty outcome should be cached")
}

func TestOECDEmptyWithSuspiciousKeyGivesSuggestions(t *testing.T) {
	srv := newRecordingServer(t, http.StatusNotFound, `NoRecordsFound`)
	a := NewOECD(testConfig(srv.Server), testDeps(t))

	// Right number of segments, but the location is not an alpha-3 code.
	_, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "STANI4", Key: "U5A.VALU.D21"})
	se := requireSourceError(t, err, industry.CodeNoData)
	assert.NotEmpty(t, se.Suggestions)
}

func TestIMFDataMapper(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK,
		`{"values":{"NGDP_RPCH":{"USA":{"2022":1.9,"2023":2.5}}},"api":{"version":"1"}}`)
	a := NewIMF(testConfig(srv.Server), testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{
		Dataflow: "NGDP_RPCH", Key: "US", StartPeriod: "2022", EndPeriod: "2023",
	})
	require.NoError(t, err)

	assert.Equal(t, "/NGDP_RPCH/USA", srv.lastURL().Path)
	assert.Equal(t, "2022,2023", srv.lastURL().Query().Get("periods"))
	require.Len(t, recs, 2)
	assert.Equal(t, "2023", recs[0].TimePeriod)
	assert.Equal(t, industry.RoleRate, recs[0].Attributes[industry.AttrRole])
	country, _ := recs[0].Dim("COUNTRY")
	assert.Equal(t, "USA", country)
}

func TestIMFEnvelopeOnlyIsEmpty(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"api":{"version":"1","output-method":"json"}}`)
	a := NewIMF(testConfig(srv.Server), testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "NGDPD", Key: "USA"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestIMFCompactData(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"CompactData":{"DataSet":{"Series":{
		"@FREQ":"A","@REF_AREA":"US","@INDICATOR":"NGDP_R_XDC","@UNIT_MULT":"6",
		"Obs":{"@TIME_PERIOD":"2022","@OBS_VALUE":"20000"}}}}}`)
	cfg := testConfig(srv.Server)
	cfg.AltBaseURL = srv.URL
	a := NewIMF(cfg, testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "IFS", Key: "A.US.NGDP_R_XDC"})
	require.NoError(t, err)
	assert.Equal(t, "/CompactData/IFS/A.US.NGDP_R_XDC", srv.lastURL().Path)
	require.Len(t, recs, 1)
	assert.Equal(t, "2022", recs[0].TimePeriod)
}

func TestIMFPlan(t *testing.T) {
	s := &imfSource{}
	assert.Nil(t, s.plan(industry.SearchQuery{Text: "pharmaceutical"}))
	assert.Nil(t, s.plan(industry.SearchQuery{Codes: []string{"3254"}}))
	plans := s.plan(industry.SearchQuery{Text: "gdp growth", Geography: "DE"})
	require.Len(t, plans, 2)
	assert.Equal(t, "DEU", plans[0].Key)
	assert.Equal(t, "", imfPeriods("", ""))
	assert.Equal(t, "2021", imfPeriods("2021", ""))
}

const eurostatBody = `{
  "version": "2.0",
  "class": "dataset",
  "id": ["freq", "unit", "nace_r2", "na_item", "geo", "time"],
  "size": [1, 1, 1, 1, 1, 2],
  "dimension": {
    "freq": {"category": {"index": {"A": 0}}},
    "unit": {"category": {"index": {"CP_MEUR": 0}}},
    "nace_r2": {"category": {"index": {"C21": 0}, "label": {"C21": "Manufacture of basic pharmaceutical products"}}},
    "na_item": {"category": {"index": {"B1G": 0}}},
    "geo": {"category": {"index": {"EL": 0}, "label": {"EL": "Greece"}}},
    "time": {"category": {"index": {"2021": 0, "2022": 1}}}
  },
  "value": {"0": 1500.5, "1": 1620}
}`

func TestEurostatRequestAndDecode(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, eurostatBody)
	a := NewEurostat(testConfig(srv.Server), testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{
		Dataflow: "nama_10_a64", Key: "A.CP_MEUR.C21+J62.B1G.GR", StartPeriod: "2021",
	})
	require.NoError(t, err)

	assert.Equal(t, "/data/nama_10_a64", srv.lastURL().Path)
	qs := srv.lastURL().Query()
	assert.Equal(t, []string{"C21", "J62"}, qs["nace_r2"])
	assert.Equal(t, "EL", qs.Get("geo"))
	assert.Equal(t, "B1G", qs.Get("na_item"))
	assert.Equal(t, "2021", qs.Get("sinceTimePeriod"))

	require.Len(t, recs, 2)
	assert.Equal(t, "2022", recs[0].TimePeriod)
	assert.Equal(t, "Manufacture of basic pharmaceutical products", recs[0].Attributes[industry.AttrLabel])
	assert.Equal(t, industry.RoleSize, recs[0].Attributes[industry.AttrRole])
	assert.Equal(t, "3254", recs[0].Attributes[industry.AttrNAICS])
	assert.Equal(t, "EUR millions", recs[0].Attributes[industry.AttrUnit])
}

func TestEurostatUnknownDatasetWithKey(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, eurostatBody)
	a := NewEurostat(testConfig(srv.Server), testDeps(t))

	_, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "tin00001", Key: "A.B"})
	se := requireSourceError(t, err, industry.CodeInvalidKey)
	assert.Contains(t, se.Suggestions[0], "nama_10_a64")
	assert.Zero(t, atomic.LoadInt32(&srv.hits))
}

func TestEurostatPlan(t *testing.T) {
	s := &eurostatSource{}
	plans := s.plan(industry.SearchQuery{Text: "pharmaceutical", Geography: "GRC"})
	require.Len(t, plans, 1)
	assert.Equal(t, "A.CP_MEUR.C21.B1G.EL", plans[0].Key)

	plans = s.plan(industry.SearchQuery{Geography: "DE"})
	require.Len(t, plans, 1)
	assert.Equal(t, "A.CP_MEUR.TOTAL.B1G.DE", plans[0].Key)
}

func TestNAICSCatalogFallback(t *testing.T) {
	a := NewNAICS(Config{}, testDeps(t))
	ctx := context.Background()

	recs, err := a.FetchDataset(ctx, industry.DatasetQuery{Dataflow: "codes", Key: "325412"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "3254", recs[0].Attributes[industry.AttrNAICS])
	assert.Equal(t, "2833,2834,2835,2836", recs[0].Attributes[industry.AttrSIC])
	assert.Equal(t, "2022", recs[0].TimePeriod)
	assert.Nil(t, recs[0].Value)

	recs, err = a.SearchIndustries(ctx, industry.SearchQuery{Text: "software companies"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "5415", recs[0].Attributes[industry.AttrNAICS])
	assert.NotNil(t, a.DataFreshness())
}

func TestNAICSRegistry(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK,
		`{"items":[{"code":"541511","title":"Custom Computer Programming Services","description":"Writing software to order","sic":["7371"],"year":2022}]}`)
	a := NewNAICS(testConfig(srv.Server), testDeps(t))

	recs, err := a.FetchDataset(context.Background(), industry.DatasetQuery{Dataflow: "search", FreeText: "custom programming"})
	require.NoError(t, err)

	assert.Equal(t, "/search", srv.lastURL().Path)
	assert.Equal(t, "custom programming", srv.lastURL().Query().Get("q"))
	require.Len(t, recs, 1)
	assert.Equal(t, "Custom Computer Programming Services", recs[0].Attributes[industry.AttrLabel])
	assert.Equal(t, "Writing software to order", recs[0].Attributes[industry.AttrDescription])
	assert.Equal(t, "naics", recs[0].SourceID)
}

func TestSearchIndustriesToleratesFailedPlans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("NAICS2017") == "3254" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(censusTable))
	}))
	t.Cleanup(srv.Close)
	a := NewCensus(testConfig(srv), testDeps(t))

	recs, err := a.SearchIndustries(context.Background(), industry.SearchQuery{Codes: []string{"3254", "5415"}})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}
