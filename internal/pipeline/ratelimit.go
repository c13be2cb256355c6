package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
)

// RateLimiter enforces at most count appends per rolling window,
// bucketed per project. Buckets are created on demand and each carries
// its own mutex so busy projects never contend with each other.
type RateLimiter struct {
	count  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

type bucket struct {
	mu    sync.Mutex
	times []time.Time
}

// NewRateLimiter builds a limiter. count <= 0 disables limiting.
func NewRateLimiter(count int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		count:   count,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *RateLimiter) bucketFor(project string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[project]
	if !ok {
		b = &bucket{}
		r.buckets[project] = b
	}
	return b
}

// Allow records one append attempt for project. When the window is
// exhausted it returns RateLimitExceeded carrying retry_after_seconds:
// the time until the oldest in-window entry ages out.
func (r *RateLimiter) Allow(project string) error {
	if r.count <= 0 || r.window <= 0 {
		return nil
	}
	b := r.bucketFor(project)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	kept := b.times[:0]
	for _, t := range b.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.times = kept

	if len(b.times) >= r.count {
		oldest := b.times[0]
		retry := math.Ceil(r.window.Seconds() - now.Sub(oldest).Seconds())
		if retry < 1 {
			retry = 1
		}
		return fault.New(fault.CodeRateLimitExceeded,
			"rate limit reached for project %q: %d entries per %s", project, r.count, r.window).
			WithSuggestion("wait %.0f second(s) or batch entries with bulk mode", retry).
			WithDetail("retry_after_seconds", retry)
	}
	b.times = append(b.times, now)
	return nil
}
