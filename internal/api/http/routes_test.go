package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/industry-data-aggregation/internal/cache"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
	"github.com/i474232898/industry-data-aggregation/internal/industry/providers"
	"github.com/i474232898/industry-data-aggregation/internal/metrics"
)

const censusTable = `[
  ["NAICS2017","NAICS2017_LABEL","ESTAB","EMP","PAYANN","us"],
  ["5415","Computer systems design and related services","130000","2300000","250000000","1"]
]`

type stubAdapter struct {
	records []industry.ObservationRecord
	err     error
}

func (s *stubAdapter) ID() string { return "stub" }

func (s *stubAdapter) Capabilities() industry.Capabilities {
	return industry.Capabilities{
		Shapes:     []industry.QueryShape{industry.ShapeCode, industry.ShapeKeyword},
		Directness: map[industry.QueryShape]float64{industry.ShapeCode: 0.8, industry.ShapeKeyword: 0.5},
	}
}

func (s *stubAdapter) IsAvailable() bool { return true }
func (s *stubAdapter) DataFreshness() *time.Time { return nil }

func (s *stubAdapter) FetchDataset(context.Context, industry.DatasetQuery) ([]industry.ObservationRecord, error) {
	return s.records, s.err
}

func (s *stubAdapter) FetchLatestValue(context.Context, industry.DatasetQuery) (industry.ObservationRecord, error) {
	return industry.ObservationRecord{}, s.err
}

func (s *stubAdapter) SearchIndustries(context.Context, industry.SearchQuery) ([]industry.ObservationRecord, error) {
	return s.records, s.err
}

type testEnv struct {
	app   *fiber.App
	cache *cache.Manager
}

func newTestEnv(t *testing.T, stub *stubAdapter) testEnv {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(censusTable))
	}))
	t.Cleanup(upstream.Close)

	m, err := cache.NewManager()
	require.NoError(t, err)
	census, err := providers.New("census", providers.Config{
		BaseURL: upstream.URL,
		HTTP: providers.HTTPClientConfig{
			Client:  upstream.Client(),
			Backoff: providers.BackoffConfig{InitialInterval: time.Millisecond},
		},
	}, providers.Deps{Cache: m})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	svc := industry.NewService([]industry.Adapter{census, stub}, industry.ServiceConfig{})
	app := fiber.New()
	RegisterRoutes(app, Deps{Service: svc, Cache: m, Gatherer: reg})
	return testEnv{app: app, cache: m}
}

func (e testEnv) do(t *testing.T, method, target string) (int, []byte) {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(method, target, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})

	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=software&limit=101",
		"/api/v1/search?q=software&minRelevance=2",
		"/api/v1/search?q=software&geography=U5",
	} {
		status, _ := env.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, status, target)
	}
}

func TestSearchReturnsConsolidatedResults(t *testing.T) {
	v := 42.0
	stub := &stubAdapter{records: []industry.ObservationRecord{{
		TimePeriod: "2022",
		Value:      &v,
		Dimensions: []industry.Dimension{{Name: "NAICS", Code: "5415"}},
		Attributes: map[string]string{industry.AttrLabel: "Computer systems design", industry.AttrRole: industry.RoleSize},
	}}}
	env := newTestEnv(t, stub)

	status, body := env.do(t, http.MethodGet, "/api/v1/search?codes=5415&sources=census,stub")
	require.Equal(t, http.StatusOK, status, string(body))

	var res industry.SearchResult
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, "naics:5415", res.Results[0].IndustryID)
	assert.Len(t, res.Results[0].ContributingSources, 2)
	assert.Equal(t, []string{"census", "stub"}, res.Sources)
}

func TestSearchReportsAggregateFailure(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{err: industry.NewSourceError("stub", industry.CodeServerError, "down")})

	status, body := env.do(t, http.MethodGet, "/api/v1/search?q=software&sources=stub")
	require.Equal(t, http.StatusBadGateway, status)

	var payload struct {
		Errors []industry.SourceError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, industry.CodeServerError, payload.Errors[0].Code)
}

func TestDatasetPassThrough(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})

	status, body := env.do(t, http.MethodGet, "/api/v1/sources/census/datasets/cbp?key=5415.US")
	require.Equal(t, http.StatusOK, status, string(body))
	var payload struct {
		Count   int                          `json:"count"`
		Records []industry.ObservationRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 3, payload.Count)

	status, body = env.do(t, http.MethodGet, "/api/v1/sources/census/datasets/cbp/latest?key=5415.US")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"record"`)
}

func TestDatasetErrors(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})

	status, body := env.do(t, http.MethodGet, "/api/v1/sources/census/datasets/cbp?key=5415.US.EXTRA")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), `"errorCode":"INVALID_KEY"`)

	status, _ = env.do(t, http.MethodGet, "/api/v1/sources/acme/datasets/x")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodGet, "/api/v1/sources/census/datasets/cbp?key="+strings.Repeat("A", 300))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "at most")
}

func TestValidateKeyEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})

	status, body := env.do(t, http.MethodGet, "/api/v1/sources/census/datasets/cbp/validate?key=5415.US.EXTRA")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"fatal":true`)

	status, _ = env.do(t, http.MethodGet, "/api/v1/sources/stub/datasets/x/validate?key=a")
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestSourcesListing(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})

	status, body := env.do(t, http.MethodGet, "/api/v1/sources")
	require.Equal(t, http.StatusOK, status)

	var payload struct {
		Sources []sourceInfo `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Sources, 2)
	assert.Equal(t, "census", payload.Sources[0].ID)
	assert.Contains(t, payload.Sources[0].Dataflows, "cbp")
	assert.Equal(t, "stub", payload.Sources[1].ID)
	assert.Empty(t, payload.Sources[1].Dataflows)
}

func TestCacheStatusAndPurge(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})
	status, _ := env.do(t, http.MethodGet, "/api/v1/sources/census/datasets/cbp?key=5415.US")
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodGet, "/api/v1/cache/status")
	require.Equal(t, http.StatusOK, status)
	var st cache.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.GreaterOrEqual(t, st.Size, 1)

	status, body = env.do(t, http.MethodDelete, "/api/v1/cache")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"removed"`)
	assert.Zero(t, env.cache.Status().Size)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, &stubAdapter{})

	status, body := env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"sourcesAvailable":2`)

	status, _ = env.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, status)
}
