package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Category buckets requests for per-key rate limiting.
type Category string

const (
	CategoryIngest  Category = "ingest"
	CategoryQuery   Category = "query"
	CategoryConnect Category = "connect"
)

// categoryLimits is requests per second, with a burst of one second's worth.
var categoryLimits = map[Category]rate.Limit{
	CategoryIngest:  100,
	CategoryQuery:   30,
	CategoryConnect: 5,
}

// RateLimiters holds one token bucket per (key, category).
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiters creates an empty limiter set.
func NewRateLimiters() *RateLimiters {
	return &RateLimiters{limiters: make(map[string]*rate.Limiter)}
}

// Allow consumes one token for the key and category. On refusal it returns
// the seconds to wait before retrying.
func (r *RateLimiters) Allow(keyID string, category Category) (float64, bool) {
	limit, ok := categoryLimits[category]
	if !ok {
		limit = categoryLimits[CategoryQuery]
	}

	r.mu.Lock()
	id := keyID + ":" + string(category)
	lim, ok := r.limiters[id]
	if !ok {
		lim = rate.NewLimiter(limit, int(limit))
		r.limiters[id] = lim
	}
	r.mu.Unlock()

	res := lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return delay.Seconds(), false
	}
	return 0, true
}
