// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import "strconv"

// Page bounds for list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads raw page and page_size values. Missing or malformed values
// fall back to the defaults.
func ParsePage(number, size string) Page {
	return NewPage(AtoiDefault(number, 1), AtoiDefault(size, DefaultPageSize))
}

// NewPage clamps number to >= 1 and size to at most MaxPageSize. A size
// below 1 selects DefaultPageSize.
func NewPage(number, size int) Page {
	p := Page{Number: number, Size: size}
	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Size < 1:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is the page count needed for total rows.
func (p Page) TotalPages(total int64) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// not a valid int.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
