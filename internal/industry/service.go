package industry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/industry-data-aggregation/internal/metrics"
)

// ErrEmptyQuery is returned by Search when the query selects nothing.
var ErrEmptyQuery = errors.New("a search needs free text, industry codes or a geography")

// ServiceConfig bounds an aggregated search.
type ServiceConfig struct {
	// MaxConcurrency caps how many adapters are queried at once.
	MaxConcurrency int
	// CallTimeout applies to each adapter call.
	CallTimeout time.Duration
	// Deadline applies to the whole search; late adapters are reported as timed out.
	Deadline     time.Duration
	DefaultLimit int
	MaxLimit     int
}

// DefaultServiceConfig returns the limits used when none are configured.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxConcurrency: 4,
		CallTimeout:    10 * time.Second,
		Deadline:       20 * time.Second,
		DefaultLimit:   10,
		MaxLimit:       100,
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	d := DefaultServiceConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	return c
}

// Service fans a search out to the registered adapters and consolidates
// their records into ranked industries.
type Service struct {
	adapters []Adapter
	byID     map[string]Adapter
	cfg      ServiceConfig
	logger   *zap.Logger
	now      func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger used for per-search diagnostics.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceClock replaces time.Now.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service over adapters. Adapters are kept in id order
// so results never depend on registration order.
func NewService(adapters []Adapter, cfg ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		byID:   make(map[string]Adapter, len(adapters)),
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, a := range adapters {
		id := strings.ToLower(a.ID())
		if _, dup := s.byID[id]; dup {
			continue
		}
		s.byID[id] = a
		s.adapters = append(s.adapters, a)
	}
	sort.Slice(s.adapters, func(i, j int) bool { return s.adapters[i].ID() < s.adapters[j].ID() })
	for _, o := range opts {
		o(s)
	}
	return s
}

// Adapters returns the registered adapters in id order.
func (s *Service) Adapters() []Adapter {
	return append([]Adapter(nil), s.adapters...)
}

// Adapter looks up an adapter by id (case-insensitive).
func (s *Service) Adapter(id string) (Adapter, bool) {
	a, ok := s.byID[strings.ToLower(strings.TrimSpace(id))]
	return a, ok
}

// outcome is what one adapter task produced.
type outcome struct {
	records   []ObservationRecord
	err       *SourceError
	retrieved time.Time
	done      bool
}

// Search runs an aggregated search. It fails only when the query is empty or
// no candidate source produced an answer; every other failure is reported in
// SearchResult.Errors.
func (s *Service) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	started := s.now()
	q = s.normalize(q)
	if strings.TrimSpace(q.Text) == "" && len(q.Codes) == 0 && q.Geography == "" {
		return SearchResult{}, ErrEmptyQuery
	}

	shape := q.Shape()
	candidates, errs := s.candidates(q, shape)
	result := SearchResult{Results: []IndustryDTO{}, Sources: make([]string, 0, len(candidates))}
	for _, a := range candidates {
		result.Sources = append(result.Sources, a.ID())
	}

	log := s.logger.With(zap.String("query", q.Text), zap.Strings("codes", q.Codes),
		zap.String("geography", q.Geography), zap.String("shape", string(shape)))

	if len(candidates) == 0 {
		result.Errors = errs
		metrics.ObserveSearch(s.now().Sub(started), "failed")
		log.Warn("no candidate sources for search", zap.Int("errors", len(errs)))
		return result, &AggregateFailure{Errors: errs}
	}

	outcomes, partial := s.collect(ctx, q, candidates)
	result.Partial = partial

	var fragments []fragment
	succeeded := 0
	for i, o := range outcomes {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		succeeded++
		caps := candidates[i].Capabilities()
		fragments = append(fragments, buildFragments(candidates[i].ID(), caps.Directness[shape], o.records, o.retrieved)...)
	}
	result.Errors = errs

	if succeeded == 0 {
		metrics.ObserveSearch(s.now().Sub(started), "failed")
		log.Warn("every source failed", zap.Int("errors", len(errs)))
		return result, &AggregateFailure{Errors: errs}
	}

	ranked := rank(consolidate(fragments), fragments, q)
	result.Results = truncate(filterRelevance(ranked, q.MinRelevance), q.Limit)

	status := "ok"
	if partial || len(errs) > 0 {
		status = "partial"
	}
	metrics.ObserveSearch(s.now().Sub(started), status)
	log.Info("search complete",
		zap.Int("sources", len(candidates)), zap.Int("failed", len(errs)),
		zap.Int("fragments", len(fragments)), zap.Int("results", len(result.Results)),
		zap.Bool("partial", partial), zap.Duration("elapsed", s.now().Sub(started)))
	return result, nil
}

func (s *Service) normalize(q SearchQuery) SearchQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = s.cfg.DefaultLimit
	case q.Limit > s.cfg.MaxLimit:
		q.Limit = s.cfg.MaxLimit
	}
	if q.MinRelevance < 0 {
		q.MinRelevance = 0
	}
	if q.MinRelevance > 1 {
		q.MinRelevance = 1
	}
	q.Geography = strings.ToUpper(strings.TrimSpace(q.Geography))
	return q
}

// candidates picks the adapters to ask. Explicit sources are honoured as
// given; otherwise every available adapter that answers this shape and region.
func (s *Service) candidates(q SearchQuery, shape QueryShape) ([]Adapter, []*SourceError) {
	var (
		out  []Adapter
		errs []*SourceError
	)
	if len(q.Sources) > 0 {
		seen := map[string]bool{}
		for _, raw := range q.Sources {
			id := strings.ToLower(strings.TrimSpace(raw))
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			a, ok := s.byID[id]
			switch {
			case !ok:
				errs = append(errs, NewSourceError(id, CodeUnknownSource,
					fmt.Sprintf("no source named %q", raw), "known sources: "+strings.Join(s.ids(), ", ")))
			case !a.IsAvailable():
				errs = append(errs, NewSourceError(a.ID(), CodeCredentialMissing,
					"source is not configured with the credential it requires"))
			default:
				out = append(out, a)
			}
		}
		return out, errs
	}

	for _, a := range s.adapters {
		caps := a.Capabilities()
		if a.IsAvailable() && caps.Supports(shape) && caps.Covers(q.Geography) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Service) ids() []string {
	ids := make([]string, 0, len(s.adapters))
	for _, a := range s.adapters {
		ids = append(ids, a.ID())
	}
	return ids
}

// collect queries every candidate concurrently. Results land at the
// candidate's index; a failing adapter never cancels its siblings. When the
// search deadline passes, unfinished adapters are abandoned and reported as
// timed out.
func (s *Service) collect(ctx context.Context, q SearchQuery, candidates []Adapter) ([]outcome, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	// Buffered so abandoned tasks can always deliver and exit.
	ch := make(chan indexed, len(candidates))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	go func() {
		for i, a := range candidates {
			g.Go(func() error {
				ch <- indexed{i: i, out: s.call(ctx, a, q)}
				return nil
			})
		}
		_ = g.Wait()
	}()

	outcomes := make([]outcome, len(candidates))
	gather(ctx, ch, outcomes)

	partial := false
	for i := range outcomes {
		if outcomes[i].done {
			continue
		}
		partial = true
		outcomes[i].err = NewSourceError(candidates[i].ID(), CodeTimeout,
			fmt.Sprintf("no answer within the %s search deadline; results from other sources were returned", s.cfg.Deadline),
			"retry the search; cached answers from this source will be faster")
	}
	return outcomes, partial
}

type indexed struct {
	i   int
	out outcome
}

// gather fills outcomes from ch until every slot is answered or ctx ends.
// Outcomes already delivered when ctx ends are kept.
func gather(ctx context.Context, ch <-chan indexed, outcomes []outcome) {
	keep := func(r indexed) {
		r.out.done = true
		outcomes[r.i] = r.out
	}
	for pending := len(outcomes); pending > 0; pending-- {
		select {
		case r := <-ch:
			keep(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-ch:
					keep(r)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) call(ctx context.Context, a Adapter, q SearchQuery) (out outcome) {
	if err := ctx.Err(); err != nil {
		return outcome{err: AsSourceError(err, a.ID())}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("adapter panicked", zap.String("source", a.ID()), zap.Any("panic", r))
			out = outcome{err: NewSourceError(a.ID(), CodeServerError, fmt.Sprintf("adapter failed unexpectedly: %v", r))}
		}
	}()

	records, err := a.SearchIndustries(callCtx, q)
	if err != nil {
		se := AsSourceError(err, a.ID())
		s.logger.Debug("source failed", zap.String("source", a.ID()), zap.String("code", string(se.Code)), zap.Error(se))
		return outcome{err: se}
	}
	return outcome{records: records, retrieved: latestRetrieval(records, s.now().UTC())}
}

// latestRetrieval is the newest retrieval stamp on records, or fallback when
// the adapter stamped none.
func latestRetrieval(records []ObservationRecord, fallback time.Time) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.RetrievedAt.After(latest) {
			latest = r.RetrievedAt
		}
	}
	if latest.IsZero() {
		return fallback
	}
	return latest
}

func filterRelevance(dtos []IndustryDTO, min float64) []IndustryDTO {
	if min <= 0 {
		return dtos
	}
	out := dtos[:0]
	for _, d := range dtos {
		if d.RelevanceScore >= min {
			out = append(out, d)
		}
	}
	return out
}

func truncate(dtos []IndustryDTO, limit int) []IndustryDTO {
	if limit > 0 && len(dtos) > limit {
		return dtos[:limit]
	}
	return dtos
}
