package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TypedEntry is an Entry whose payload has been decoded.
type TypedEntry[T any] struct {
	Data     T
	StoredAt time.Time
	TTL      time.Duration
	Outcome  Outcome
}

// GetTyped reads key and decodes its payload into T. A payload that does not
// decode is treated as a miss.
func GetTyped[T any](ctx context.Context, m *Manager, key string) (TypedEntry[T], bool) {
	e, ok := m.Get(ctx, key)
	if !ok {
		return TypedEntry[T]{}, false
	}
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		m.logger.Debug("cached payload does not decode, treating as miss")
		return TypedEntry[T]{}, false
	}
	return TypedEntry[T]{Data: data, StoredAt: e.StoredAt, TTL: e.TTL, Outcome: e.Outcome}, true
}

// SetTyped encodes data and stores it with the TTL of outcome.
func SetTyped[T any](ctx context.Context, m *Manager, key string, data T, outcome Outcome) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return m.Set(ctx, key, b, outcome)
}
