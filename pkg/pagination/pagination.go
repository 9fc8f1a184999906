// Package pagination reads limit/offset query parameters and wraps list
// responses in a common envelope.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Anything unparseable or out of
// range falls back to DefaultLimit and 0; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	return Params{
		Limit:  clamp(c.QueryParam("limit"), DefaultLimit, MaxLimit),
		Offset: clamp(c.QueryParam("offset"), 0, -1),
	}
}

func clamp(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil, n < 0, n == 0 && def > 0:
		return def
	case max > 0 && n > max:
		return max
	}
	return n
}

// Page is one slice of a filtered list plus enough to ask for the next one.
// Data is never null in JSON.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

func NewResponse[T any](data []T, total, limit, offset int) *Page[T] {
	if data == nil {
		data = []T{}
	}
	p := &Page[T]{Data: data, Total: total, Limit: limit, Offset: offset}
	if next := offset + len(data); len(data) > 0 && next < total {
		p.HasMore = true
		p.NextOffset = &next
	}
	return p
}
