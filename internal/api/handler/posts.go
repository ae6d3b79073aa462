package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/crewboardhq/crewboard/internal/api/middleware"
	"github.com/crewboardhq/crewboard/internal/api/response"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

// PostService defines the interface the post handlers depend on.
type PostService interface {
	CreatePost(ctx context.Context, actor models.Actor, title, content string, maxWorkers int, startDate, endDate *time.Time) (*models.JobPost, error)
	GetPost(ctx context.Context, id uuid.UUID) (*models.JobPost, error)
	UpdatePost(ctx context.Context, actor models.Actor, id uuid.UUID, upd store.PostUpdate) (*models.JobPost, error)
	DeletePost(ctx context.Context, actor models.Actor, id uuid.UUID) error
}

// NewCreatePostHandler returns an http.HandlerFunc for POST /api/v1/posts.
func NewCreatePostHandler(svc PostService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		var req struct {
			Title      string `json:"title"`
			Content    string `json:"content"`
			MaxWorkers int    `json:"max_workers"`
			StartDate  string `json:"start_date"`
			EndDate    string `json:"end_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		startDate, ok := parseOptionalDate(w, "start_date", req.StartDate)
		if !ok {
			return
		}
		endDate, ok := parseOptionalDate(w, "end_date", req.EndDate)
		if !ok {
			return
		}
		if startDate != nil && endDate != nil && endDate.Before(*startDate) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "end_date must not be before start_date", nil)
			return
		}

		post, err := svc.CreatePost(r.Context(), actor, req.Title, req.Content, req.MaxWorkers, startDate, endDate)
		if err != nil {
			writeError(w, err)
			return
		}

		response.Created(w, post)
	}
}

// NewGetPostHandler returns an http.HandlerFunc for GET /api/v1/posts/{postID}.
func NewGetPostHandler(svc PostService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "postID")
		if !ok {
			return
		}

		post, err := svc.GetPost(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, post)
	}
}

// NewUpdatePostHandler returns an http.HandlerFunc for PATCH /api/v1/posts/{postID}.
func NewUpdatePostHandler(svc PostService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		id, ok := parseUUIDParam(w, r, "postID")
		if !ok {
			return
		}

		var req struct {
			Title      *string `json:"title"`
			Content    *string `json:"content"`
			MaxWorkers *int    `json:"max_workers"`
			StartDate  *string `json:"start_date"`
			EndDate    *string `json:"end_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		upd := store.PostUpdate{
			Title:      req.Title,
			Content:    req.Content,
			MaxWorkers: req.MaxWorkers,
		}
		if req.StartDate != nil {
			t, ok := parseOptionalDate(w, "start_date", *req.StartDate)
			if !ok {
				return
			}
			upd.StartDate = t
		}
		if req.EndDate != nil {
			t, ok := parseOptionalDate(w, "end_date", *req.EndDate)
			if !ok {
				return
			}
			upd.EndDate = t
		}

		post, err := svc.UpdatePost(r.Context(), actor, id, upd)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, post)
	}
}

// NewDeletePostHandler returns an http.HandlerFunc for DELETE /api/v1/posts/{postID}.
func NewDeletePostHandler(svc PostService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		id, ok := parseUUIDParam(w, r, "postID")
		if !ok {
			return
		}

		if err := svc.DeletePost(r.Context(), actor, id); err != nil {
			writeError(w, err)
			return
		}

		response.NoContent(w)
	}
}

// parseUUIDParam reads a chi URL parameter as a UUID, writing a 400 on failure.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// parseOptionalDate parses an RFC3339 timestamp, treating "" as absent.
func parseOptionalDate(w http.ResponseWriter, field, raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", field+" must be a valid RFC3339 timestamp", nil)
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
