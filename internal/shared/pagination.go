package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination carries list paging parameters parsed from a query string.
type Pagination struct {
	Page     int
	PageSize int
}

// ParsePagination reads page and page_size from query values, clamping
// to sane bounds.
func ParsePagination(values url.Values) Pagination {
	p := Pagination{Page: 1, PageSize: defaultPageSize}
	if raw := values.Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Page = n
		}
	}
	if raw := values.Get("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.PageSize = n
		}
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}

// Offset returns the row offset for the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Limit returns the row limit for the current page.
func (p Pagination) Limit() int {
	return p.PageSize
}
