package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	mw "github.com/crewboardhq/crewboard/internal/api/middleware"
	"github.com/crewboardhq/crewboard/internal/api/response"
	"github.com/crewboardhq/crewboard/internal/cache"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

// RequestService defines the interface the request handlers depend on.
type RequestService interface {
	CreateRequest(ctx context.Context, actor models.Actor, postID, subcontractorID uuid.UUID, origin models.RequestOrigin, matchScore *float64) (*models.JobRequest, error)
	Accept(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.Job, error)
	Deny(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error)
	Withdraw(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error)
	GetRequest(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error)
	ListRequests(ctx context.Context, actor models.Actor, f store.RequestFilter) ([]*models.JobRequest, int, error)
	StatusByPost(ctx context.Context, actor models.Actor, postIDs []uuid.UUID) (map[uuid.UUID]*models.JobRequest, error)
}

// NewCreateRequestHandler returns an http.HandlerFunc for POST /api/v1/requests.
// An apply carries origin "subcontractor"; an invite carries origin
// "contractor" and names the invited subcontractor.
func NewCreateRequestHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		var req struct {
			PostID          string   `json:"post_id"`
			SubcontractorID string   `json:"subcontractor_id"`
			Origin          string   `json:"origin"`
			MatchScore      *float64 `json:"match_score"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		postID, err := uuid.Parse(req.PostID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "post_id must be a valid UUID", nil)
			return
		}

		origin := models.OriginSubcontractor
		if req.Origin != "" {
			origin, err = models.ParseRequestOrigin(req.Origin)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "origin must be subcontractor or contractor", nil)
				return
			}
		}

		// For an apply the subcontractor is the caller; an invite must name one.
		subcontractorID := actor.ID
		if req.SubcontractorID != "" {
			subcontractorID, err = uuid.Parse(req.SubcontractorID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subcontractor_id must be a valid UUID", nil)
				return
			}
		} else if origin == models.OriginContractor {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subcontractor_id is required for an invite", nil)
			return
		}

		created, err := svc.CreateRequest(r.Context(), actor, postID, subcontractorID, origin, req.MatchScore)
		if err != nil {
			writeError(w, err)
			return
		}

		response.Created(w, created)
	}
}

// NewRequestActionHandler returns an http.HandlerFunc for the transition
// endpoints PATCH /api/v1/requests/{requestID}/(accept|deny|withdraw). The
// action is fixed per route.
func NewRequestActionHandler(svc RequestService, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		id, ok := parseUUIDParam(w, r, "requestID")
		if !ok {
			return
		}

		switch action {
		case "accept":
			job, err := svc.Accept(r.Context(), actor, id)
			if err != nil {
				writeError(w, err)
				return
			}
			response.JSON(w, job)
		case "deny":
			req, err := svc.Deny(r.Context(), actor, id)
			if err != nil {
				writeError(w, err)
				return
			}
			response.JSON(w, req)
		case "withdraw":
			req, err := svc.Withdraw(r.Context(), actor, id)
			if err != nil {
				writeError(w, err)
				return
			}
			response.JSON(w, req)
		default:
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown request action", nil)
		}
	}
}

// NewGetRequestHandler returns an http.HandlerFunc for GET /api/v1/requests/{requestID}.
func NewGetRequestHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		id, ok := parseUUIDParam(w, r, "requestID")
		if !ok {
			return
		}

		req, err := svc.GetRequest(r.Context(), actor, id)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, req)
	}
}

// NewListRequestsHandler returns an http.HandlerFunc for GET /api/v1/requests.
// The list is always scoped to the caller's side of the marketplace.
func NewListRequestsHandler(svc RequestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}

		q := r.URL.Query()
		f := store.RequestFilter{
			SortBy:  q.Get("sort_by"),
			SortDir: q.Get("sort_dir"),
		}
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
			status, err := models.ParseRequestStatus(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status filter", nil)
				return
			}
			f.Status = status
		}

		requests, total, err := svc.ListRequests(r.Context(), actor, f)
		if err != nil {
			writeError(w, err)
			return
		}

		response.Collection(w, requests, paginationMeta(f.Page, f.Limit, total))
	}
}

// myStatusTTL bounds how stale a cached status map can get. The map is only
// used for badge rendering, so a short TTL replaces per-transition
// invalidation.
const myStatusTTL = 30 * time.Second

// NewMyStatusHandler returns an http.HandlerFunc for GET /api/v1/requests/my-status.
// It answers "what is my standing on each of these posts" for the calling
// subcontractor, backed by a short-lived Redis cache.
func NewMyStatusHandler(svc RequestService, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetActor(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
			return
		}
		if actor.Role != models.RoleSubcontractor {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Only subcontractors have a per-post status", nil)
			return
		}

		raw := strings.Split(r.URL.Query().Get("post_ids"), ",")
		postIDs := make([]uuid.UUID, 0, len(raw))
		for _, part := range raw {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "post_ids must be comma-separated UUIDs", nil)
				return
			}
			postIDs = append(postIDs, id)
		}
		if len(postIDs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "post_ids is required", nil)
			return
		}

		key := cache.MyStatusKey(actor.ID, hashPostIDs(postIDs))
		if body, hit, err := c.Get(r.Context(), key); err == nil && hit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}

		byPost, err := svc.StatusByPost(r.Context(), actor, postIDs)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make(map[string]statusEntry, len(byPost))
		for postID, req := range byPost {
			out[postID.String()] = statusEntry{
				RequestID: req.ID.String(),
				Status:    string(req.Status),
				Origin:    string(req.Origin),
			}
		}

		body, err := json.Marshal(struct {
			Data map[string]statusEntry `json:"data"`
		}{Data: out})
		if err != nil {
			writeError(w, err)
			return
		}

		// Cache write failures are ignored; the response is already computed.
		c.Set(r.Context(), key, body, myStatusTTL)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

type statusEntry struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Origin    string `json:"origin"`
}

// hashPostIDs produces a stable digest over the queried set so every distinct
// combination gets its own cache entry.
func hashPostIDs(ids []uuid.UUID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:8])
}
