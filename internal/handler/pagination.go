package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/gramorx/studybuddy-server/internal/errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageQuery is the ?limit=&offset= window of a session listing.
type PageQuery struct {
	Limit  int
	Offset int
}

// parsePageQuery reads limit and offset. Missing values fall back to the
// defaults, a limit above MaxPageSize is clamped, and anything that is not a
// non-negative integer is rejected.
func parsePageQuery(r *http.Request) (PageQuery, error) {
	q := PageQuery{Limit: DefaultPageSize}
	values := r.URL.Query()

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return PageQuery{}, apperrors.InvalidInput("limit", "must be a positive integer")
		}
		q.Limit = min(limit, MaxPageSize)
	}

	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return PageQuery{}, apperrors.InvalidInput("offset", "must be zero or greater")
		}
		q.Offset = offset
	}

	return q, nil
}
