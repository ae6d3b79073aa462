package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crewboardhq/crewboard/internal/api/response"
	"github.com/crewboardhq/crewboard/internal/lifecycle"
	"github.com/crewboardhq/crewboard/internal/store"
)

// writeError maps engine errors onto the HTTP error envelope. Every handler
// funnels its service errors through here so the status codes stay consistent
// across endpoints.
func writeError(w http.ResponseWriter, err error) {
	var dup *store.DuplicateRequestError
	var inv *lifecycle.InvalidTransitionError
	var val *lifecycle.ValidationError

	switch {
	case errors.As(err, &dup):
		response.Error(w, http.StatusConflict, "DUPLICATE_REQUEST",
			"A non-terminal request already exists for this post and subcontractor",
			map[string]string{"existing_request_id": dup.ExistingID.String()})
	case errors.As(err, &inv):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION",
			inv.Error(),
			map[string]string{"current_status": inv.From, "attempted_status": inv.Attempted})
	case errors.As(err, &val):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", val.Msg, nil)
	case errors.Is(err, store.ErrCapacityExceeded):
		response.Error(w, http.StatusConflict, "CAPACITY_EXCEEDED",
			"All worker slots on this post are occupied", nil)
	case errors.Is(err, store.ErrPostBusy):
		response.Error(w, http.StatusConflict, "POST_BUSY",
			"The post still has open requests or active jobs", nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, lifecycle.ErrUnauthorized):
		response.Error(w, http.StatusForbidden, "FORBIDDEN",
			"You are not permitted to perform this action", nil)
	case errors.Is(err, store.ErrUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
			"The datastore is temporarily unavailable, retry shortly", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// parsePagination reads page and limit query parameters, clamping to sane
// bounds.
func parsePagination(r *http.Request) (page, limit int) {
	page = 1
	limit = defaultPageLimit

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// paginationMeta builds the collection meta block from a total row count.
func paginationMeta(page, limit, total int) response.PaginationMeta {
	return response.PaginationMeta{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasNext: page*limit < total,
	}
}
