// Package providers holds the adapters for every external statistics source.
// Each adapter only describes how to build a request, decode a response and
// plan a search; the shared Adapter type runs validation, caching, quotas and
// the resilient HTTP call.
package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/industry-data-aggregation/internal/cache"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
	"github.com/i474232898/industry-data-aggregation/internal/metrics"
)

// Config is the per-source configuration.
type Config struct {
	BaseURL string
	// AltBaseURL is a second endpoint for sources that serve two APIs.
	AltBaseURL  string
	APIKey      string
	Timeout     time.Duration
	DailyQuota  int
	DefaultYear string
	HTTP        HTTPClientConfig
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Cache     *cache.Manager
	Validator *dataset.Validator
	Logger    *zap.Logger
	Clock     func() time.Time
}

// maxPlans bounds the dataset requests one search may issue per source.
const maxPlans = 4

type request struct {
	method string
	url    string
	body   []byte
	header http.Header
}

// source is what a concrete adapter provides.
type source interface {
	id() string
	capabilities() industry.Capabilities
	defaultDataflow() string
	build(q industry.DatasetQuery) (request, error)
	decode(body []byte, q industry.DatasetQuery) (dataset.Result, error)
	plan(q industry.SearchQuery) []industry.DatasetQuery
}

// notFoundIsEmpty is implemented by sources that answer "no rows" with a 404.
type notFoundIsEmpty interface {
	emptyOnNotFound() bool
}

// offlineSource is implemented by sources that can answer some queries
// without a network call.
type offlineSource interface {
	offline(q industry.DatasetQuery) ([]byte, bool)
}

// cachedFetch is what an adapter stores per dataset query.
type cachedFetch struct {
	Records     []industry.ObservationRecord `json:"records,omitempty"`
	Error       *industry.SourceError        `json:"error,omitempty"`
	RetrievedAt time.Time                    `json:"retrievedAt"`
}

// Adapter implements industry.Adapter on top of a source.
type Adapter struct {
	src       source
	cfg       Config
	cache     *cache.Manager
	validator *dataset.Validator
	circuit   *gobreaker.CircuitBreaker
	quota     *dailyQuota
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	freshness *time.Time
}

var _ industry.Adapter = (*Adapter)(nil)

func newAdapter(src source, cfg Config, deps Deps) *Adapter {
	if cfg.HTTP.Client == nil {
		cfg.HTTP.Client = &http.Client{}
	}
	if cfg.HTTP.Backoff.InitialInterval <= 0 {
		cfg.HTTP.Backoff = DefaultBackoff()
	}
	if deps.Cache == nil {
		deps.Cache, _ = cache.NewManager()
	}
	if deps.Validator == nil {
		deps.Validator = dataset.DefaultValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Adapter{
		src:       src,
		cfg:       cfg,
		cache:     deps.Cache,
		validator: deps.Validator,
		circuit:   newBreaker(src.id()),
		quota:     newDailyQuota(cfg.DailyQuota, deps.Clock),
		logger:    deps.Logger.With(zap.String("source", src.id())),
		now:       deps.Clock,
	}
}

func (a *Adapter) ID() string { return a.src.id() }

func (a *Adapter) Capabilities() industry.Capabilities { return a.src.capabilities() }

// IsAvailable is false only when the source needs a credential and none is set.
func (a *Adapter) IsAvailable() bool {
	return !(a.src.capabilities().RequiresKey && a.cfg.APIKey == "")
}

// DataFreshness is when the data last served by this adapter was retrieved.
func (a *Adapter) DataFreshness() *time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.freshness == nil {
		return nil
	}
	t := *a.freshness
	return &t
}

// QuotaRemaining reports today's remaining upstream calls, -1 when unlimited.
func (a *Adapter) QuotaRemaining() int { return a.quota.remaining() }

// Dataflows lists the dataflows with a known key layout.
func (a *Adapter) Dataflows() []string { return a.validator.Dataflows(a.ID()) }

// ValidateKey runs the key validator for this source.
func (a *Adapter) ValidateKey(dataflow, key string) dataset.KeyCheck {
	if dataflow == "" {
		dataflow = a.src.defaultDataflow()
	}
	return a.validator.Validate(a.ID(), dataflow, key)
}

func (a *Adapter) markFresh(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t = t.UTC()
	a.freshness = &t
}

// FetchDataset returns the normalized records of one dataflow slice, newest first.
func (a *Adapter) FetchDataset(ctx context.Context, q industry.DatasetQuery) ([]industry.ObservationRecord, error) {
	q.SourceID = a.ID()
	if q.Dataflow == "" {
		q.Dataflow = a.src.defaultDataflow()
	}
	if q.Dataflow == "" {
		return nil, industry.NewSourceError(a.ID(), industry.CodeInvalidKey, "a dataflow id is required",
			a.dataflowHint()...)
	}

	check := a.validator.Validate(a.ID(), q.Dataflow, q.Key)
	if check.Fatal {
		return nil, industry.NewSourceError(a.ID(), industry.CodeInvalidKey,
			fmt.Sprintf("invalid key %q for %s: %s", q.Key, q.Dataflow, strings.Join(check.Issues, "; ")),
			check.Suggestions...)
	}

	records, err := a.fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && !check.Valid {
		return nil, industry.NewSourceError(a.ID(), industry.CodeNoData,
			fmt.Sprintf("no observations for key %q: %s", q.Key, strings.Join(check.Issues, "; ")),
			check.Suggestions...)
	}
	return records, nil
}

// FetchLatestValue returns the record with the greatest parseable period.
func (a *Adapter) FetchLatestValue(ctx context.Context, q industry.DatasetQuery) (industry.ObservationRecord, error) {
	records, err := a.FetchDataset(ctx, q)
	if err != nil {
		return industry.ObservationRecord{}, err
	}
	latest, ok := industry.LatestRecord(records)
	if !ok {
		return industry.ObservationRecord{}, industry.NewSourceError(a.ID(), industry.CodeNoData,
			"no observation with a parseable period", "widen the period range or drop dimension filters")
	}
	return latest, nil
}

// SearchIndustries runs the source's search plan. Records from the plans that
// succeeded are returned; the first error is returned only when all failed.
func (a *Adapter) SearchIndustries(ctx context.Context, q industry.SearchQuery) ([]industry.ObservationRecord, error) {
	plans := a.src.plan(q)
	if len(plans) > maxPlans {
		plans = plans[:maxPlans]
	}

	var (
		out       []industry.ObservationRecord
		firstErr  error
		succeeded int
	)
	for _, p := range plans {
		if ctx.Err() != nil {
			break
		}
		if p.StartPeriod == "" {
			p.StartPeriod = q.StartPeriod
		}
		if p.EndPeriod == "" {
			p.EndPeriod = q.EndPeriod
		}
		recs, err := a.FetchDataset(ctx, p)
		if err != nil {
			a.logger.Debug("search plan failed",
				zap.String("dataflow", p.Dataflow), zap.String("key", p.Key), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded++
		out = append(out, recs...)
	}

	switch {
	case succeeded > 0 || len(plans) == 0:
		return out, nil
	case firstErr != nil:
		return nil, industry.AsSourceError(firstErr, a.ID())
	default:
		return nil, industry.AsSourceError(ctx.Err(), a.ID())
	}
}

func (a *Adapter) dataflowHint() []string {
	flows := a.Dataflows()
	if len(flows) == 0 {
		return nil
	}
	return []string{"known dataflows: " + strings.Join(flows, ", ")}
}

// fetch consults the cache, then the network, and caches the outcome.
func (a *Adapter) fetch(ctx context.Context, q industry.DatasetQuery) ([]industry.ObservationRecord, error) {
	id := a.ID()
	key := cache.Key(id, q.Dataflow, q.Key, q.StartPeriod, q.EndPeriod, q.FreeText)

	if hit, ok := cache.GetTyped[cachedFetch](ctx, a.cache, key); ok {
		a.markFresh(hit.Data.RetrievedAt)
		if hit.Data.Error != nil {
			return nil, hit.Data.Error
		}
		return stamp(hit.Data.Records, hit.Data.RetrievedAt), nil
	}

	if off, ok := a.src.(offlineSource); ok {
		if body, ok := off.offline(q); ok {
			records, se := a.decode(body, q)
			if se != nil {
				return nil, se
			}
			now := a.now()
			a.markFresh(now)
			return stamp(records, now), nil
		}
	}

	if !a.IsAvailable() {
		return nil, industry.NewSourceError(id, industry.CodeCredentialMissing,
			"an API key is required; set INDUSTRY_SOURCES_"+strings.ToUpper(id)+"_API_KEY")
	}
	if !a.quota.take() {
		return nil, industry.NewSourceError(id, industry.CodeQuotaExceeded,
			fmt.Sprintf("daily request quota of %d reached; cached results are still served", a.cfg.DailyQuota))
	}

	req, err := a.src.build(q)
	if err != nil {
		return nil, industry.AsSourceError(err, id)
	}

	callCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	started := a.now()
	body, err := doRequestWithResilience(callCtx, a.cfg.HTTP, a.circuit, func() (*http.Request, error) {
		var payload io.Reader
		if req.body != nil {
			payload = bytes.NewReader(req.body)
		}
		r, err := http.NewRequest(req.method, req.url, payload)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		for k, vs := range req.header {
			for _, v := range vs {
				r.Header.Add(k, v)
			}
		}
		return r, nil
	})
	elapsed := a.now().Sub(started)
	retrieved := a.now()

	if err != nil {
		var status *statusError
		if errors.As(err, &status) && status.status == http.StatusNotFound && a.emptyOnNotFound() {
			metrics.ObserveSourceFetch(id, "EMPTY", elapsed)
			a.store(ctx, key, cachedFetch{RetrievedAt: retrieved}, cache.OutcomeEmpty)
			a.markFresh(retrieved)
			return nil, nil
		}
		se := classifyError(id, err)
		metrics.ObserveSourceFetch(id, string(se.Code), elapsed)
		a.logger.Warn("fetch failed", zap.String("dataflow", q.Dataflow), zap.String("key", q.Key), zap.Error(se))
		if isCacheable(se) && ctx.Err() == nil {
			a.store(ctx, key, cachedFetch{Error: se, RetrievedAt: retrieved}, cache.OutcomeError)
		}
		return nil, se
	}

	records, se := a.decode(body, q)
	if se != nil {
		metrics.ObserveSourceFetch(id, string(se.Code), elapsed)
		a.logger.Warn("decode failed", zap.String("dataflow", q.Dataflow), zap.Error(se))
		if isCacheable(se) {
			a.store(ctx, key, cachedFetch{Error: se, RetrievedAt: retrieved}, cache.OutcomeError)
		}
		return nil, se
	}

	outcome := cache.OutcomeSuccess
	code := "OK"
	if len(records) == 0 {
		outcome, code = cache.OutcomeEmpty, "EMPTY"
	}
	metrics.ObserveSourceFetch(id, code, elapsed)
	records = stamp(records, retrieved)
	a.store(ctx, key, cachedFetch{Records: records, RetrievedAt: retrieved}, outcome)
	a.markFresh(retrieved)
	return records, nil
}

// stamp records with when their payload was retrieved.
func stamp(records []industry.ObservationRecord, at time.Time) []industry.ObservationRecord {
	at = at.UTC()
	for i := range records {
		records[i].RetrievedAt = at
	}
	return records
}

func (a *Adapter) emptyOnNotFound() bool {
	nf, ok := a.src.(notFoundIsEmpty)
	return ok && nf.emptyOnNotFound()
}

func (a *Adapter) decode(body []byte, q industry.DatasetQuery) ([]industry.ObservationRecord, *industry.SourceError) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	res, err := a.src.decode(body, q)
	if err != nil {
		var malformed *dataset.MalformedError
		var se *industry.SourceError
		switch {
		case errors.As(err, &se):
			return nil, se
		case errors.As(err, &malformed):
			return nil, industry.NewSourceError(a.ID(), industry.CodeMalformed,
				"response did not match any known layout: "+malformed.Reason+"; top level: "+malformed.Structure)
		default:
			return nil, industry.NewSourceError(a.ID(), industry.CodeMalformed, err.Error())
		}
	}
	if res.Kind == dataset.KindEmpty {
		return nil, nil
	}
	for i := range res.Records {
		res.Records[i].SourceID = a.ID()
	}
	return res.Records, nil
}

func (a *Adapter) store(ctx context.Context, key string, v cachedFetch, outcome cache.Outcome) {
	if err := cache.SetTyped(ctx, a.cache, key, v, outcome); err != nil {
		a.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// constructors maps source ids to their constructors.
var constructors = map[string]func(Config, Deps) *Adapter{
	"census":    NewCensus,
	"bls":       NewBLS,
	"fred":      NewFRED,
	"worldbank": NewWorldBank,
	"oecd":      NewOECD,
	"imf":       NewIMF,
	"eurostat":  NewEurostat,
	"naics":     NewNAICS,
}

// IDs lists every known source id in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(constructors))
	for id := range constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New builds the adapter for a source id.
func New(id string, cfg Config, deps Deps) (*Adapter, error) {
	ctor, ok := constructors[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", id)
	}
	return ctor(cfg, deps), nil
}

// markRole sets the record role when dimension dim carries one of codes.
func markRole(records []industry.ObservationRecord, dim string, role string, codes ...string) {
	for i := range records {
		v, ok := records[i].Dim(dim)
		if !ok {
			continue
		}
		for _, c := range codes {
			if strings.EqualFold(v, c) {
				if records[i].Attributes == nil {
					records[i].Attributes = map[string]string{}
				}
				records[i].Attributes[industry.AttrRole] = role
				break
			}
		}
	}
}

// crosswalk stamps AttrNAICS on records whose dimension dim maps to a sector.
func crosswalk(records []industry.ObservationRecord, dim string, field func(sector) string) {
	for i := range records {
		v, ok := records[i].Dim(dim)
		if !ok {
			continue
		}
		s, ok := sectorBy(field, v)
		if !ok {
			continue
		}
		if records[i].Attributes == nil {
			records[i].Attributes = map[string]string{}
		}
		records[i].Attributes[industry.AttrNAICS] = s.NAICS
		if records[i].Attributes[industry.AttrLabel] == "" {
			records[i].Attributes[industry.AttrLabel] = s.Name
		}
	}
}

// yearOf returns the four-digit year a period starts in, or "".
func yearOf(period string) string {
	t, err := industry.ParsePeriod(period)
	if err != nil {
		return ""
	}
	return t.Format("2006")
}
