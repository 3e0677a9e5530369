package providers

import (
	"sync"
	"time"
)

// dailyQuota counts upstream calls per UTC day. A limit of zero disables it.
type dailyQuota struct {
	mu    sync.Mutex
	limit int
	day   string
	used  int
	now   func() time.Time
}

func newDailyQuota(limit int, now func() time.Time) *dailyQuota {
	return &dailyQuota{limit: limit, now: now}
}

// take reserves one call and reports whether the quota allowed it.
func (q *dailyQuota) take() bool {
	if q.limit <= 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	today := q.now().UTC().Format("2006-01-02")
	if today != q.day {
		q.day, q.used = today, 0
	}
	if q.used >= q.limit {
		return false
	}
	q.used++
	return true
}

func (q *dailyQuota) remaining() int {
	if q.limit <= 0 {
		return -1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.now().UTC().Format("2006-01-02") != q.day {
		return q.limit
	}
	return q.limit - q.used
}
