package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/i474232898/industry-data-aggregation/internal/cache"
	"github.com/i474232898/industry-data-aggregation/internal/dataset"
	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

var validate = validator.New()

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Service  *industry.Service
	Cache    *cache.Manager
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// quotaReporter and keyValidator are optional adapter extras.
type quotaReporter interface {
	QuotaRemaining() int
	Dataflows() []string
}

type keyValidator interface {
	ValidateKey(dataflow, key string) dataset.KeyCheck
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{deps: deps}

	app.Get("/health", h.health)
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")
	v1.Get("/search", h.search)
	v1.Get("/sources", h.sources)
	v1.Get("/sources/:source/datasets/:dataflow", h.dataset)
	v1.Get("/sources/:source/datasets/:dataflow/latest", h.latest)
	v1.Get("/sources/:source/datasets/:dataflow/validate", h.validateKey)
	v1.Get("/cache/status", h.cacheStatus)
	v1.Delete("/cache", h.purgeCache)
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *fiber.Ctx) error {
	available := 0
	for _, a := range h.deps.Service.Adapters() {
		if a.IsAvailable() {
			available++
		}
	}
	return c.JSON(fiber.Map{
		"status":           "ok",
		"service":          "industry-data-aggregation",
		"sourcesAvailable": available,
	})
}

// searchQuery holds the query parameters of the search endpoint.
type searchQuery struct {
	Text         string   `validate:"required_without_all=Codes Geography,max=200"`
	Codes        []string `validate:"omitempty,max=20,dive,max=10"`
	Sources      []string `validate:"omitempty,dive,alpha"`
	Limit        int      `validate:"gte=0,lte=100"`
	MinRelevance float64  `validate:"gte=0,lte=1"`
	Geography    string   `validate:"omitempty,alpha,min=2,max=3"`
	StartPeriod  string   `validate:"omitempty,max=10"`
	EndPeriod    string   `validate:"omitempty,max=10"`
}

func (q *searchQuery) bind(c *fiber.Ctx) error {
	q.Text = strings.TrimSpace(c.Query("q"))
	q.Codes = splitList(c.Query("codes"))
	q.Sources = splitList(c.Query("sources"))
	q.Limit = c.QueryInt("limit", 0)
	q.MinRelevance = c.QueryFloat("minRelevance", 0)
	q.Geography = strings.TrimSpace(c.Query("geography"))
	q.StartPeriod = c.Query("startPeriod")
	q.EndPeriod = c.Query("endPeriod")
	return validate.Struct(q)
}

func (q searchQuery) toSearch() industry.SearchQuery {
	return industry.SearchQuery{
		Text:         q.Text,
		Codes:        q.Codes,
		Sources:      q.Sources,
		Limit:        q.Limit,
		MinRelevance: q.MinRelevance,
		Geography:    q.Geography,
		StartPeriod:  q.StartPeriod,
		EndPeriod:    q.EndPeriod,
	}
}

func (h *handlers) search(c *fiber.Ctx) error {
	var req searchQuery
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	res, err := h.deps.Service.Search(c.UserContext(), req.toSearch())
	if err != nil {
		var agg *industry.AggregateFailure
		switch {
		case errors.Is(err, industry.ErrEmptyQuery):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.As(err, &agg):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
				"errors":  res.Errors,
				"sources": res.Sources,
			})
		default:
			return fiber.NewError(fiber.StatusInternalServerError, "search failed")
		}
	}
	return c.JSON(res)
}

type sourceInfo struct {
	ID             string                `json:"id"`
	Available      bool                  `json:"available"`
	RequiresKey    bool                  `json:"requiresKey"`
	Shapes         []industry.QueryShape `json:"shapes"`
	Regions        []string              `json:"regions,omitempty"`
	DataFreshness  *time.Time            `json:"dataFreshness,omitempty"`
	QuotaRemaining *int                  `json:"quotaRemaining,omitempty"`
	Dataflows      []string              `json:"dataflows,omitempty"`
}

func (h *handlers) sources(c *fiber.Ctx) error {
	adapters := h.deps.Service.Adapters()
	out := make([]sourceInfo, 0, len(adapters))
	for _, a := range adapters {
		caps := a.Capabilities()
		info := sourceInfo{
			ID:            a.ID(),
			Available:     a.IsAvailable(),
			RequiresKey:   caps.RequiresKey,
			Shapes:        caps.Shapes,
			Regions:       caps.Regions,
			DataFreshness: a.DataFreshness(),
		}
		if q, ok := a.(quotaReporter); ok {
			if n := q.QuotaRemaining(); n >= 0 {
				info.QuotaRemaining = &n
			}
			info.Dataflows = q.Dataflows()
		}
		out = append(out, info)
	}
	return c.JSON(fiber.Map{"sources": out})
}

func (h *handlers) datasetQuery(c *fiber.Ctx) (industry.Adapter, industry.DatasetQuery, error) {
	id := c.Params("source")
	a, ok := h.deps.Service.Adapter(id)
	if !ok {
		return nil, industry.DatasetQuery{}, fiber.NewError(fiber.StatusNotFound, "unknown source "+id)
	}
	// "+" joins codes in a key; an unencoded one arrives as a space.
	key := strings.ReplaceAll(c.Query("key"), " ", "+")
	if len(key) > dataset.MaxKeyLength {
		return nil, industry.DatasetQuery{}, fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("key must be at most %d characters", dataset.MaxKeyLength))
	}
	q := industry.DatasetQuery{
		SourceID:    a.ID(),
		Dataflow:    c.Params("dataflow"),
		Key:         key,
		StartPeriod: c.Query("startPeriod"),
		EndPeriod:   c.Query("endPeriod"),
		FreeText:    c.Query("q"),
	}
	return a, q, nil
}

func (h *handlers) dataset(c *fiber.Ctx) error {
	a, q, err := h.datasetQuery(c)
	if err != nil {
		return err
	}
	records, err := a.FetchDataset(c.UserContext(), q)
	if err != nil {
		return h.sourceFailure(c, err, a.ID())
	}
	return c.JSON(fiber.Map{
		"source":        a.ID(),
		"query":         q,
		"records":       records,
		"count":         len(records),
		"dataFreshness": a.DataFreshness(),
	})
}

func (h *handlers) latest(c *fiber.Ctx) error {
	a, q, err := h.datasetQuery(c)
	if err != nil {
		return err
	}
	rec, err := a.FetchLatestValue(c.UserContext(), q)
	if err != nil {
		return h.sourceFailure(c, err, a.ID())
	}
	return c.JSON(fiber.Map{"source": a.ID(), "query": q, "record": rec})
}

func (h *handlers) validateKey(c *fiber.Ctx) error {
	a, q, err := h.datasetQuery(c)
	if err != nil {
		return err
	}
	kv, ok := a.(keyValidator)
	if !ok {
		return fiber.NewError(fiber.StatusNotImplemented, "source "+a.ID()+" does not validate keys")
	}
	return c.JSON(kv.ValidateKey(q.Dataflow, q.Key))
}

func (h *handlers) cacheStatus(c *fiber.Ctx) error {
	return c.JSON(h.deps.Cache.Status())
}

func (h *handlers) purgeCache(c *fiber.Ctx) error {
	prefix := c.Query("prefix")
	n, err := h.deps.Cache.Purge(c.UserContext(), prefix)
	if err != nil {
		h.deps.Logger.Error("cache purge failed", zap.String("prefix", prefix), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "cache purge failed")
	}
	return c.JSON(fiber.Map{"removed": n, "prefix": prefix})
}

// sourceFailure renders a SourceError with a status that matches its code.
func (h *handlers) sourceFailure(c *fiber.Ctx, err error, source string) error {
	se := industry.AsSourceError(err, source)
	h.deps.Logger.Debug("source request failed", zap.String("source", source), zap.String("code", string(se.Code)))
	return c.Status(statusFor(se)).JSON(fiber.Map{"error": true, "sourceError": se})
}

func statusFor(se *industry.SourceError) int {
	switch se.Code {
	case industry.CodeInvalidKey:
		return fiber.StatusBadRequest
	case industry.CodeUnknownSource, industry.CodeNotFound, industry.CodeNoData:
		return fiber.StatusNotFound
	case industry.CodeRateLimited, industry.CodeQuotaExceeded:
		return fiber.StatusTooManyRequests
	case industry.CodeCredentialMissing, industry.CodeCircuitOpen:
		return fiber.StatusServiceUnavailable
	case industry.CodeTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
