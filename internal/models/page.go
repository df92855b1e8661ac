package models

import "math"

// Page is the envelope returned by every paginated endpoint. Page numbers
// are zero-based.
type Page[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	Degraded   bool  `json:"degraded,omitempty"`
}

// NewPage builds a Page and derives TotalPages from total and limit.
func NewPage[T any](data []T, page, limit int, total int64) Page[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Page[T]{
		Data:       data,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Offset returns the row offset for a zero-based page. It saturates so
// that Offset(page, limit)+limit never overflows.
func Offset(page, limit int) int {
	if page <= 0 || limit <= 0 {
		return 0
	}
	if page > (math.MaxInt-limit)/limit {
		return math.MaxInt - limit
	}
	return page * limit
}
