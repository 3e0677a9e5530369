// Package cache is the two-tier response cache shared by every source adapter.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/industry-data-aggregation/internal/metrics"
)

// Outcome is what a cached entry represents. It selects the TTL.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
)

// Entry is one cached value with its metadata.
type Entry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"storedAt"`
	TTL      time.Duration   `json:"ttl"`
	Outcome  Outcome         `json:"outcome"`
}

// ExpiresAt is StoredAt plus TTL.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// TTLPolicy holds the lifetime of each outcome.
type TTLPolicy struct {
	Success time.Duration
	Empty   time.Duration
	Error   time.Duration
}

// DefaultPolicy caches successes for a day, empty results for six hours and
// failures for five minutes.
func DefaultPolicy() TTLPolicy {
	return TTLPolicy{Success: 24 * time.Hour, Empty: 6 * time.Hour, Error: 5 * time.Minute}
}

// Validate enforces Success > Empty > Error > 0.
func (p TTLPolicy) Validate() error {
	if p.Error <= 0 || p.Empty <= p.Error || p.Success <= p.Empty {
		return fmt.Errorf("invalid TTL policy: need success (%s) > empty (%s) > error (%s) > 0", p.Success, p.Empty, p.Error)
	}
	return nil
}

// For returns the TTL of an outcome.
func (p TTLPolicy) For(o Outcome) time.Duration {
	switch o {
	case OutcomeEmpty:
		return p.Empty
	case OutcomeError:
		return p.Error
	default:
		return p.Success
	}
}

// Status is a point-in-time view of cache activity. Size is advisory.
type Status struct {
	Hits          int64      `json:"hits"`
	Misses        int64      `json:"misses"`
	Size          int        `json:"size"`
	LastRefreshed *time.Time `json:"lastRefreshed,omitempty"`
}

// Manager fronts the in-process tier with an optional durable tier. It is
// constructed once and passed to every adapter.
type Manager struct {
	memory  *MemoryStore
	durable Tier
	policy  TTLPolicy
	now     func() time.Time
	logger  *zap.Logger

	hits          atomic.Int64
	misses        atomic.Int64
	lastRefreshed atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDurable attaches the durable tier.
func WithDurable(t Tier) Option {
	return func(m *Manager) {
		if t != nil {
			m.durable = t
		}
	}
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p TTLPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the logger used for durable tier failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager builds a Manager. Without WithDurable only the memory tier is used.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		memory:  NewMemoryStore(),
		durable: NoopTier{},
		policy:  DefaultPolicy(),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.policy.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Policy returns the TTL policy in use.
func (m *Manager) Policy() TTLPolicy { return m.policy }

// Key joins parts into a deterministic cache key. By convention the source id
// comes first so adapter namespaces never overlap.
func Key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = strings.ReplaceAll(p, "|", "%7C")
	}
	return strings.Join(escaped, "|")
}

// Get returns a live entry from the memory tier, falling back to the durable
// tier. Durable hits are promoted with their remaining lifetime.
func (m *Manager) Get(ctx context.Context, key string) (Entry, bool) {
	now := m.now()

	if e, ok := m.memory.Get(key); ok {
		if !e.Expired(now) {
			metrics.ObserveCacheLookup("memory", true)
			m.hits.Add(1)
			return e, true
		}
		m.memory.Delete(key)
	}
	metrics.ObserveCacheLookup("memory", false)

	raw, err := m.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn("durable cache get failed", zap.String("key", key), zap.Error(err))
		}
		metrics.ObserveCacheLookup("durable", false)
		m.misses.Add(1)
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || e.Expired(now) {
		metrics.ObserveCacheLookup("durable", false)
		m.misses.Add(1)
		return Entry{}, false
	}
	m.memory.Set(key, e)
	metrics.ObserveCacheLookup("durable", true)
	m.hits.Add(1)
	return e, true
}

// Set stores data under key with the TTL of its outcome.
func (m *Manager) Set(ctx context.Context, key string, data []byte, outcome Outcome) error {
	return m.SetWithTTL(ctx, key, data, m.policy.For(outcome), outcome)
}

// SetWithTTL stores data with an explicit TTL. Durable tier failures are
// logged, the memory tier always receives the entry.
func (m *Manager) SetWithTTL(ctx context.Context, key string, data []byte, ttl time.Duration, outcome Outcome) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: ttl must be positive", key)
	}
	now := m.now()
	e := Entry{Data: json.RawMessage(data), StoredAt: now, TTL: ttl, Outcome: outcome}
	m.memory.Set(key, e)
	m.lastRefreshed.Store(now.UnixNano())
	metrics.ObserveCacheWrite(string(outcome))

	envelope, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if err := m.durable.Set(ctx, key, envelope, ttl); err != nil {
		m.logger.Warn("durable cache set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Status reports counters and the memory tier size.
func (m *Manager) Status() Status {
	s := Status{
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
		Size:   m.memory.Len(),
	}
	if ns := m.lastRefreshed.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastRefreshed = &t
	}
	return s
}

// Purge removes every key with the given prefix from both tiers. An empty
// prefix clears everything.
func (m *Manager) Purge(ctx context.Context, prefix string) (int, error) {
	n := m.memory.DeletePrefix(prefix)
	if _, err := m.durable.DeletePrefix(ctx, prefix); err != nil {
		return n, fmt.Errorf("purge durable tier: %w", err)
	}
	return n, nil
}

// Sweep drops expired entries from the memory tier.
func (m *Manager) Sweep() int {
	return m.memory.Sweep(m.now())
}

// Close releases the durable tier.
func (m *Manager) Close() error {
	return m.durable.Close()
}
