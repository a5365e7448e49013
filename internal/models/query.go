package models

import (
	"fmt"
	"strings"
)

// Search modes.
const (
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
	ModeHybrid   = "hybrid"
)

// Limit bounds applied to search and recent listings.
const (
	DefaultLimit = 10
	MinLimit     = 1
	MaxLimit     = 100
)

// SearchQuery represents a search request with optional filters.
type SearchQuery struct {
	Query      string  `json:"query"`
	Limit      int     `json:"limit,omitempty"`
	Mode       string  `json:"mode,omitempty"`
	FromNumber string  `json:"from_number,omitempty"`
	ToNumber   string  `json:"to_number,omitempty"`
	MinScore   float64 `json:"min_score,omitempty"`
}

// Validate rejects blank queries with ErrInvalidQuery and normalizes limit and mode.
// An unset limit becomes DefaultLimit; anything else is clamped to [MinLimit, MaxLimit].
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	q.Limit = ClampLimit(q.Limit, MaxLimit)
	switch q.Mode {
	case "":
		q.Mode = ModeSemantic
	case ModeSemantic, ModeKeyword, ModeHybrid:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
	}
	return nil
}

// HasFilters reports whether the query restricts results by phone number.
func (q *SearchQuery) HasFilters() bool {
	return q.FromNumber != "" || q.ToNumber != ""
}

// ClampLimit constrains limit to [MinLimit, max].
func ClampLimit(limit, max int) int {
	if max <= 0 || max > MaxLimit {
		max = MaxLimit
	}
	if limit < MinLimit {
		return MinLimit
	}
	if limit > max {
		return max
	}
	return limit
}
