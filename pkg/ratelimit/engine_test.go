package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, clock *fakeClock) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultPolicies(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestRegistrationQuotaExhausts(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	for i := 0; i < 5; i++ {
		dec := e.Check(DimensionIP, "192.168.1.2", CategoryRegistration)
		if !dec.Allowed {
			t.Fatalf("check %d: expected admit", i+1)
		}
	}

	dec := e.Check(DimensionIP, "192.168.1.2", CategoryRegistration)
	if dec.Allowed {
		t.Fatal("6th check: expected reject")
	}
	if dec.RetryAfterSeconds() <= 0 {
		t.Fatalf("retry-after must be positive, got %d", dec.RetryAfterSeconds())
	}
}

func TestDistinctIdentifiersDoNotShareQuota(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	for i := 0; i < 5; i++ {
		e.Check(DimensionIP, "10.0.0.1", CategoryRegistration)
	}
	if dec := e.Check(DimensionIP, "10.0.0.1", CategoryRegistration); dec.Allowed {
		t.Fatal("exhausted identifier admitted")
	}
	if dec := e.Check(DimensionIP, "10.0.0.2", CategoryRegistration); !dec.Allowed {
		t.Fatal("fresh identifier rejected")
	}
}

func TestPasswordResetQuotaAndAdminReset(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	for i := 0; i < 3; i++ {
		if dec := e.Check(DimensionUser, "456", CategoryPasswordReset); !dec.Allowed {
			t.Fatalf("check %d: expected admit", i+1)
		}
	}
	if dec := e.Check(DimensionUser, "456", CategoryPasswordReset); dec.Allowed {
		t.Fatal("4th check: expected reject")
	}

	e.Reset(DimensionUser, "456", CategoryPasswordReset)

	if dec := e.Check(DimensionUser, "456", CategoryPasswordReset); !dec.Allowed {
		t.Fatal("check after reset: expected admit")
	}
}

func TestWindowElapseStartsFresh(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	for i := 0; i < 5; i++ {
		e.Check(DimensionIP, "172.16.0.9", CategoryRegistration)
	}
	if dec := e.Check(DimensionIP, "172.16.0.9", CategoryRegistration); dec.Allowed {
		t.Fatal("expected reject before window elapsed")
	}

	clock.Advance(time.Hour)

	if dec := e.Check(DimensionIP, "172.16.0.9", CategoryRegistration); !dec.Allowed {
		t.Fatal("expected admit after window elapsed")
	}
}

func TestRejectionDoesNotConsumeQuota(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	for i := 0; i < 3; i++ {
		e.Check(DimensionEmail, "a@example.com", CategoryPasswordReset)
	}
	// Repeated rejections must not push windowStart or the count forward.
	first := e.Check(DimensionEmail, "a@example.com", CategoryPasswordReset)
	second := e.Check(DimensionEmail, "a@example.com", CategoryPasswordReset)
	if first.Allowed || second.Allowed {
		t.Fatal("expected both checks to reject")
	}
	if second.RetryAfter > first.RetryAfter {
		t.Fatalf("retry-after grew across rejections: %s then %s", first.RetryAfter, second.RetryAfter)
	}
}

func TestRetryAfterShrinksAsWindowAges(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	for i := 0; i < 3; i++ {
		e.Check(DimensionUser, "7", CategoryPasswordReset)
	}
	before := e.Check(DimensionUser, "7", CategoryPasswordReset)
	clock.Advance(30 * time.Minute)
	after := e.Check(DimensionUser, "7", CategoryPasswordReset)

	if before.Allowed || after.Allowed {
		t.Fatal("expected rejects")
	}
	if after.RetryAfter >= before.RetryAfter {
		t.Fatalf("retry-after did not shrink: %s then %s", before.RetryAfter, after.RetryAfter)
	}
	if after.RetryAfterSeconds() <= 0 {
		t.Fatalf("retry-after seconds must stay positive, got %d", after.RetryAfterSeconds())
	}
}

func TestSnapshotCountsDimensions(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	e.Check(DimensionIP, "192.168.1.6", CategoryPublic)
	e.Check(DimensionUser, "999", CategoryAuthenticated)

	snap := e.Snapshot()
	if snap.IPBuckets < 1 {
		t.Fatalf("ip buckets = %d, want >= 1", snap.IPBuckets)
	}
	if snap.UserBuckets < 1 {
		t.Fatalf("user buckets = %d, want >= 1", snap.UserBuckets)
	}
}

func TestUnknownCategoryPanics(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown category")
		}
	}()
	e.Check(DimensionIP, "1.2.3.4", Category("bogus"))
}

func TestNewEngineRejectsBadPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policies PolicyTable
	}{
		{"missing category", PolicyTable{CategoryPublic: {Max: 1, Window: time.Minute}}},
		{"zero max", func() PolicyTable {
			tbl := DefaultPolicies()
			tbl[CategoryRegistration] = Policy{Max: 0, Window: time.Hour}
			return tbl
		}()},
		{"zero window", func() PolicyTable {
			tbl := DefaultPolicies()
			tbl[CategoryPasswordReset] = Policy{Max: 3, Window: 0}
			return tbl
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.policies); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestConcurrentChecksLoseNoIncrements(t *testing.T) {
	clock := newFakeClock()
	policies := DefaultPolicies()
	policies[CategoryPublic] = Policy{Max: 1000, Window: time.Hour}
	e, err := NewEngine(policies, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	const workers = 20
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				e.Check(DimensionIP, "203.0.113.5", CategoryPublic)
			}
		}()
	}
	wg.Wait()

	// All 1000 admits are spent; the next check must reject.
	if dec := e.Check(DimensionIP, "203.0.113.5", CategoryPublic); dec.Allowed {
		t.Fatal("expected reject after concurrent exhaustion")
	}
}
