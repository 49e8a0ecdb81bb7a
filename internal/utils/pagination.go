// Package utils holds the page-window arithmetic shared by list endpoints
// and the services behind them.
package utils

import "strconv"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault returns s parsed as an int, or def when s is empty or not a
// plain integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads raw page and page_size query values. Missing or invalid
// values fall back to page 1 and DefaultPageSize; sizes are kept within
// [1, MaxPageSize].
func ParsePage(rawPage, rawSize string) (page, size int) {
	return Clamp(AtoiDefault(rawPage, 1), AtoiDefault(rawSize, DefaultPageSize))
}

// Clamp normalizes page to >= 1 and size to [1, MaxPageSize]. A size of 0
// or less selects DefaultPageSize.
func Clamp(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// Offset is the number of rows before page.
func Offset(page, size int) int {
	page, size = Clamp(page, size)
	return (page - 1) * size
}

// TotalPages is how many pages of size hold total rows.
func TotalPages(total int64, size int) int {
	if total <= 0 {
		return 0
	}
	_, size = Clamp(1, size)
	return int((total + int64(size) - 1) / int64(size))
}
