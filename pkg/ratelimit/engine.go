package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// Decision is the outcome of one admission check. Rejection is a routine
// result, not an error: callers inspect Allowed and, when false, relay
// RetryAfter to the client.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below 1.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Engine applies fixed-window quotas per (dimension, category, identifier).
type Engine struct {
	policies PolicyTable
	store    *Store
	now      func() time.Time
}

// Option adjusts an Engine at construction time.
type Option func(*Engine)

// WithClock substitutes the time source. Tests use this to advance windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore substitutes the bucket store.
func WithStore(store *Store) Option {
	return func(e *Engine) { e.store = store }
}

// NewEngine validates the policy table and returns a ready engine.
func NewEngine(policies PolicyTable, opts ...Option) (*Engine, error) {
	if err := policies.Validate(); err != nil {
		return nil, fmt.Errorf("rate limit policies: %w", err)
	}
	e := &Engine{
		policies: policies,
		store:    NewStore(0),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store exposes the underlying bucket store, mainly for the janitor.
func (e *Engine) Store() *Store { return e.store }

// Policies exposes the (read-only) quota table.
func (e *Engine) Policies() PolicyTable { return e.policies }

// Check decides whether one more request for identifier id is admitted under
// the category's quota. Admission consumes quota; rejection does not.
func (e *Engine) Check(dim Dimension, id string, cat Category) Decision {
	policy, ok := e.policies[cat]
	if !ok {
		// Validate guarantees every known category at startup; reaching this
		// means a caller invented a category.
		panic(fmt.Sprintf("ratelimit: no policy for category %q", cat))
	}

	now := e.now()
	var dec Decision
	e.store.update(Key{Dim: dim, Cat: cat, ID: id}, func(b *bucket) {
		if now.Sub(b.windowStart) >= policy.Window {
			b.count = 0
			b.windowStart = now
		}
		if b.count < policy.Max {
			b.count++
			dec = Decision{Allowed: true}
			return
		}
		dec = Decision{
			Allowed:    false,
			RetryAfter: policy.Window - now.Sub(b.windowStart),
		}
	})
	return dec
}

// Reset drops the bucket so the next check for the same key starts a fresh
// window. Administrative override; never on the request path.
func (e *Engine) Reset(dim Dimension, id string, cat Category) {
	e.store.Remove(Key{Dim: dim, Cat: cat, ID: id})
}

// Snapshot reports live bucket counts per dimension for diagnostics.
type Snapshot struct {
	IPBuckets    int `json:"ip_buckets"`
	UserBuckets  int `json:"user_buckets"`
	EmailBuckets int `json:"email_buckets"`
}

// Snapshot is read-only and has no effect on quotas.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		IPBuckets:    e.store.Size(DimensionIP),
		UserBuckets:  e.store.Size(DimensionUser),
		EmailBuckets: e.store.Size(DimensionEmail),
	}
}
