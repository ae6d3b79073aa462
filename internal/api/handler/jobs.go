package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	mw "github.com/crewboardhq/crewboard/internal/api/middleware"
	"github.com/crewboardhq/crewboard/internal/api/response"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

// JobService defines the interface the job handlers depend on.
type JobService interface {
	SetJobStatus(ctx context.Context, actor models.Actor, jobID uuid.UUID, next models.JobStatus) (*models.Job, error)
	GetJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, actor models.Actor, f store.JobFilter) ([]*models.Job, int, error)
}

// NewSetJobStatusHandler returns an http.HandlerFunc for PATCH /api/v1/jobs/{jobID}/status.
func NewSetJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		id, ok := parseUUIDParam(w, r, "jobID")
		if !ok {
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		status, err := models.ParseJobStatus(req.Status)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown job status", nil)
			return
		}

		job, err := svc.SetJobStatus(r.Context(), actor, id, status)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		id, ok := parseUUIDParam(w, r, "jobID")
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), actor, id)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// The list is always scoped to the caller's side of the marketplace.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		q := r.URL.Query()
		var f store.JobFilter
		f.Page, f.Limit = parsePagination(r)

		if raw := q.Get("post_id"); raw != "" {
			postID, err := uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "post_id must be a valid UUID", nil)
				return
			}
			f.PostID = postID
		}
		if raw := q.Get("status"); raw != "" {
			status, err := models.ParseJobStatus(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status filter", nil)
				return
			}
			f.Status = status
		}

		jobs, total, err := svc.ListJobs(r.Context(), actor, f)
		if err != nil {
			writeError(w, err)
			return
		}

		response.Collection(w, jobs, paginationMeta(f.Page, f.Limit, total))
	}
}
