package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Key identifies one quota bucket.
type Key struct {
	Dim Dimension
	Cat Category
	ID  string
}

type bucket struct {
	count       int
	windowStart time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
}

// Store owns all quota buckets. It is sharded so that concurrent checks for
// unrelated keys do not contend on a single lock, and so that the janitor
// never holds more than one shard at a time.
type Store struct {
	shards    [shardCount]shard
	retention time.Duration
}

// NewStore constructs an empty store. retention is the extra time past a
// bucket's window before the sweep may reclaim it.
func NewStore(retention time.Duration) *Store {
	s := &Store{retention: retention}
	if s.retention <= 0 {
		s.retention = 10 * time.Minute
	}
	for i := range s.shards {
		s.shards[i].buckets = make(map[Key]*bucket)
	}
	return s
}

func (s *Store) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Dim))
	h.Write([]byte{0})
	h.Write([]byte(key.Cat))
	h.Write([]byte{0})
	h.Write([]byte(key.ID))
	return &s.shards[h.Sum32()%shardCount]
}

// update runs fn on the bucket for key under the shard lock, creating the
// bucket on first access. fn sees a consistent bucket; no increments are lost.
func (s *Store) update(key Key, fn func(b *bucket)) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		b = &bucket{}
		sh.buckets[key] = b
	}
	fn(b)
}

// Remove drops the bucket for key. The next check starts a fresh window.
// Removing an absent key is a no-op.
func (s *Store) Remove(key Key) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.buckets, key)
	sh.mu.Unlock()
}

// Size reports the number of live buckets tracked for one dimension.
func (s *Store) Size(dim Dimension) int {
	var n int
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.buckets {
			if k.Dim == dim {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Sweep reclaims buckets whose window ended more than the retention margin
// ago, relative to the supplied policy table. One shard is locked at a time so
// concurrent checks on other shards proceed unblocked. Reclaiming is always
// safe: an expired bucket and a missing bucket both start a fresh window.
func (s *Store) Sweep(policies PolicyTable, now time.Time) int {
	var removed int
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, b := range sh.buckets {
			window := policies[k.Cat].Window
			if now.Sub(b.windowStart) >= window+s.retention {
				delete(sh.buckets, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor sweeps on a fixed interval until ctx is cancelled.
func (s *Store) StartJanitor(ctx context.Context, policies PolicyTable, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(policies, time.Now())
			}
		}
	}()
}
