package token

import (
	"encoding/base64"
	"errors"
	"strings"
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

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", time.Hour, 24*time.Hour, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("", time.Hour, 24*time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	want := Identity{UserID: 42, Email: "donor@example.com", Role: RoleUser}
	raw, err := m.IssueAccessToken(want)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	if !m.Validate(raw) {
		t.Fatal("fresh token failed validation")
	}
	got, err := m.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != want {
		t.Fatalf("identity = %+v, want %+v", got, want)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	raw, err := m.IssueAccessToken(Identity{UserID: 1, Email: "a@b.c", Role: RoleUser})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if !m.Validate(raw) {
		t.Fatal("token should validate before expiry")
	}

	clock.Advance(time.Hour + time.Minute)

	if m.Validate(raw) {
		t.Fatal("token should fail validation after expiry")
	}
	if _, err := m.Verify(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestTamperedPayloadFailsValidation(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	raw, err := m.IssueAccessToken(Identity{UserID: 1, Email: "a@b.c", Role: RoleUser})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	tampered := strings.Replace(string(payload), `"USER"`, `"ADMIN"`, 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(tampered))
	forged := strings.Join(parts, ".")

	if m.Validate(forged) {
		t.Fatal("tampered token validated")
	}
	if _, err := m.Verify(forged); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestWrongSecretFailsValidation(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	other, err := NewManager("other-secret", time.Hour, 24*time.Hour, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	raw, err := other.IssueAccessToken(Identity{UserID: 9, Email: "x@y.z", Role: RoleUser})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if m.Validate(raw) {
		t.Fatal("token signed with another secret validated")
	}
}

func TestGarbageTokenIsMalformed(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := m.Verify(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Verify(%q) = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	raw, err := m.IssueRefreshToken(77)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	userID, err := m.VerifyRefresh(raw)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if userID != 77 {
		t.Fatalf("userID = %d, want 77", userID)
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	raw, err := m.IssueRefreshToken(77)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if m.Validate(raw) {
		t.Fatal("refresh token granted API access")
	}
}

func TestAccessTokenIsNotARefreshToken(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	raw, err := m.IssueAccessToken(Identity{UserID: 5, Email: "a@b.c", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := m.VerifyRefresh(raw); !errors.Is(err, ErrWrongType) {
		t.Fatalf("err = %v, want ErrWrongType", err)
	}
}

func TestRefreshTokenOutlivesAccessToken(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)

	access, _ := m.IssueAccessToken(Identity{UserID: 5, Email: "a@b.c", Role: RoleUser})
	refresh, _ := m.IssueRefreshToken(5)

	clock.Advance(2 * time.Hour)

	if m.Validate(access) {
		t.Fatal("access token should be expired")
	}
	if _, err := m.VerifyRefresh(refresh); err != nil {
		t.Fatalf("refresh token should still verify: %v", err)
	}
}
