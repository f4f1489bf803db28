package ratelimit

import (
	"fmt"
	"time"
)

// Dimension is the axis a quota is tracked on.
type Dimension string

const (
	DimensionIP    Dimension = "ip"
	DimensionUser  Dimension = "user"
	DimensionEmail Dimension = "email"
)

// Category is the policy class applied to a route.
type Category string

const (
	CategoryPublic        Category = "public"
	CategoryAuthenticated Category = "authenticated"
	CategoryRegistration  Category = "registration"
	CategoryPasswordReset Category = "password_reset"
)

// Policy is the quota for one category: at most Max requests per Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// PolicyTable maps every known category to its quota. Read-only after startup.
type PolicyTable map[Category]Policy

// DefaultPolicies returns the stock quota table.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		CategoryPublic:        {Max: 100, Window: time.Minute},
		CategoryAuthenticated: {Max: 300, Window: time.Minute},
		CategoryRegistration:  {Max: 5, Window: time.Hour},
		CategoryPasswordReset: {Max: 3, Window: time.Hour},
	}
}

// Validate checks that every known category has a usable quota.
func (t PolicyTable) Validate() error {
	for _, cat := range []Category{CategoryPublic, CategoryAuthenticated, CategoryRegistration, CategoryPasswordReset} {
		p, ok := t[cat]
		if !ok {
			return fmt.Errorf("no policy for category %q", cat)
		}
		if p.Max <= 0 {
			return fmt.Errorf("policy for %q: max must be positive, got %d", cat, p.Max)
		}
		if p.Window <= 0 {
			return fmt.Errorf("policy for %q: window must be positive, got %s", cat, p.Window)
		}
	}
	return nil
}

// ParseDimension maps the wire form of a dimension back to its constant.
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(s) {
	case DimensionIP, DimensionUser, DimensionEmail:
		return Dimension(s), nil
	}
	return "", fmt.Errorf("unknown dimension %q", s)
}

// ParseCategory maps the wire form of a category back to its constant.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryPublic, CategoryAuthenticated, CategoryRegistration, CategoryPasswordReset:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}
