package pagination

import (
	"net/http"
	"net/url"
	"strconv"
)

// MaxPageSize caps the page_size query parameter.
const MaxPageSize = 100

// Params holds pagination parameters extracted from query strings.
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

// DefaultParams returns sensible pagination defaults.
func DefaultParams() Params {
	return Params{
		Page:     1,
		PageSize: 20,
		Offset:   0,
	}
}

// FromRequest extracts page and page_size from an HTTP request. Invalid
// values fall back to the defaults.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()

	if page := r.URL.Query().Get("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 0 {
			p.Page = v
		}
	}

	if size := r.URL.Query().Get("page_size"); size != "" {
		if v, err := strconv.Atoi(size); err == nil && v > 0 && v <= MaxPageSize {
			p.PageSize = v
		}
	}

	p.Offset = (p.Page - 1) * p.PageSize
	return p
}

// Page is a page-number list envelope: {"count", "next", "previous", "results"}.
// Next and Previous are absolute URLs or null.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// NewPage builds a Page for the slice already cut to params. base is the
// request URL; its other query parameters are preserved in the links.
func NewPage[T any](results []T, count int, params Params, base *url.URL) Page[T] {
	if results == nil {
		results = []T{}
	}
	page := Page[T]{Count: count, Results: results}

	if params.Page*params.PageSize < count {
		page.Next = link(base, params.Page+1)
	}
	if params.Page > 1 {
		page.Previous = link(base, params.Page-1)
	}
	return page
}

// Slice returns the window of items selected by params.
func Slice[T any](items []T, params Params) []T {
	if params.Offset >= len(items) {
		return []T{}
	}
	end := params.Offset + params.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[params.Offset:end]
}

func link(base *url.URL, page int) *string {
	if base == nil {
		return nil
	}
	u := *base
	q := u.Query()
	if page == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}
