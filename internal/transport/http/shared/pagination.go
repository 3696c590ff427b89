package shared

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var ErrInvalidPagination = errors.New("invalid pagination")

// Pagination is a limit/offset window over a list endpoint.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit= and ?offset=. Malformed or negative values
// are rejected instead of silently replaced; a limit above maxLimit is
// clamped.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) (Pagination, error) {
	q := r.URL.Query()
	var (
		page Pagination
		err  error
	)
	if page.Limit, err = queryInt(q.Get("limit"), "limit", defaultLimit, 1); err != nil {
		return Pagination{}, err
	}
	if page.Offset, err = queryInt(q.Get("offset"), "offset", 0, 0); err != nil {
		return Pagination{}, err
	}
	if maxLimit > 0 {
		page.Limit = min(page.Limit, maxLimit)
	}
	return page, nil
}

func queryInt(raw, name string, fallback, floor int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < floor {
		return 0, fmt.Errorf("%w: %s must be an integer >= %d", ErrInvalidPagination, name, floor)
	}
	return v, nil
}

// SetTotal reports the unpaged count in X-Total-Count and, while rows
// remain past this window, the offset of the next one in X-Next-Offset.
func SetTotal(w http.ResponseWriter, page Pagination, total int) {
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	if next := page.Offset + page.Limit; next < total {
		w.Header().Set("X-Next-Offset", strconv.Itoa(next))
	}
}
