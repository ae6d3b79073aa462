// Package lifecycle contains the pure business logic for job request
// transitions. It is transport-agnostic: the HTTP handlers and the expiry
// scheduler both drive the same transition methods, so every invariant lives
// here exactly once.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewboardhq/crewboard/internal/event"
	"github.com/crewboardhq/crewboard/internal/recommend"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

// Allocator converts a pending request into an accepted request plus a job,
// enforcing the capacity invariant. Implemented by allocation.Manager.
type Allocator interface {
	Accept(ctx context.Context, req *models.JobRequest) (*models.Job, error)
}

// Service validates and executes state transitions on job requests.
type Service struct {
	store      store.Store
	alloc      Allocator
	emitter    event.Emitter
	scorer     recommend.Scorer
	requestTTL time.Duration
}

// NewService returns a configured Service.
func NewService(st store.Store, alloc Allocator, em event.Emitter, sc recommend.Scorer, requestTTL time.Duration) *Service {
	return &Service{
		store:      st,
		alloc:      alloc,
		emitter:    em,
		scorer:     sc,
		requestTTL: requestTTL,
	}
}

// CreateRequest records a new apply or invite for a (post, subcontractor)
// pair. An apply must come from the subcontractor themselves; an invite must
// come from the post's contractor. When no match score is supplied the
// recommendation collaborator is asked for one; its failure never blocks
// creation.
func (s *Service) CreateRequest(ctx context.Context, actor models.Actor, postID, subcontractorID uuid.UUID, origin models.RequestOrigin, matchScore *float64) (*models.JobRequest, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	switch origin {
	case models.OriginSubcontractor:
		if actor.Role != models.RoleSubcontractor || actor.ID != subcontractorID {
			return nil, ErrUnauthorized
		}
	case models.OriginContractor:
		if actor.ID != post.PublisherID {
			return nil, ErrUnauthorized
		}
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown request origin %q", origin)}
	}

	if matchScore != nil && (*matchScore < 0 || *matchScore > 1) {
		return nil, &ValidationError{Msg: "match_score must be between 0 and 1"}
	}
	if matchScore == nil {
		score, err := s.scorer.MatchScore(ctx, postID, subcontractorID)
		if err != nil {
			slog.Warn("match score lookup failed", "post_id", postID, "subcontractor_id", subcontractorID, "err", err)
		} else {
			matchScore = score
		}
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.requestTTL)
	req := &models.JobRequest{
		ID:              uuid.New(),
		PostID:          postID,
		SubcontractorID: subcontractorID,
		ContractorID:    post.PublisherID,
		Origin:          origin,
		Status:          models.RequestPending,
		MatchScore:      matchScore,
		ExpiresAt:       &expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, event.RequestCreated, requestPayload(req))
	return req, nil
}

// Accept moves a pending request to accepted and creates its job. For an
// apply the post's contractor approves; for an invite the roles invert and
// the invited subcontractor approves. Capacity exhaustion surfaces as
// store.ErrCapacityExceeded and leaves the request pending, so it can still
// be accepted once a slot frees up.
func (s *Service) Accept(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.Job, error) {
	req, err := s.getAsParticipant(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	req = s.expireOnRead(ctx, req)
	if actor.ID != approverID(req) {
		return nil, ErrUnauthorized
	}
	if !models.CanTransitionRequest(req.Status, models.RequestAccepted) {
		return nil, &InvalidTransitionError{Entity: "request", From: string(req.Status), Attempted: string(models.RequestAccepted)}
	}

	job, err := s.alloc.Accept(ctx, req)
	if err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return nil, s.requestConflict(ctx, requestID, models.RequestAccepted)
		}
		return nil, err
	}

	req.Status = models.RequestAccepted
	s.emitter.Emit(ctx, event.RequestAccepted, requestPayload(req))
	s.emitter.Emit(ctx, event.JobCreated, jobPayload(job))
	return job, nil
}

// Deny moves a pending request to denied. Only the post's contractor may
// deny; retracting an invite is the same transition.
func (s *Service) Deny(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error) {
	return s.close(ctx, actor, requestID, models.RequestDenied, event.RequestDenied, func(req *models.JobRequest) bool {
		return actor.ID == req.ContractorID
	})
}

// Withdraw moves a pending request to withdrawn. Only the subcontractor who
// the request is for may withdraw.
func (s *Service) Withdraw(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error) {
	return s.close(ctx, actor, requestID, models.RequestWithdrawn, event.RequestWithdrawn, func(req *models.JobRequest) bool {
		return actor.ID == req.SubcontractorID
	})
}

func (s *Service) close(ctx context.Context, actor models.Actor, requestID uuid.UUID, to models.RequestStatus, eventType string, permitted func(*models.JobRequest) bool) (*models.JobRequest, error) {
	req, err := s.getAsParticipant(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	req = s.expireOnRead(ctx, req)
	if !permitted(req) {
		return nil, ErrUnauthorized
	}
	if !models.CanTransitionRequest(req.Status, to) {
		return nil, &InvalidTransitionError{Entity: "request", From: string(req.Status), Attempted: string(to)}
	}

	updated, err := s.store.TransitionRequest(ctx, requestID, req.Status, to, time.Now().UTC())
	if errors.Is(err, store.ErrStaleTransition) {
		return nil, s.requestConflict(ctx, requestID, to)
	}
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, eventType, requestPayload(updated))
	return updated, nil
}

// Expire moves an overdue pending request to expired. It is system-only and
// idempotent: a request that is already terminal, or that raced with another
// transition, is a no-op rather than an error. A pending request whose
// deadline has not passed is also left alone.
func (s *Service) Expire(ctx context.Context, requestID uuid.UUID, now time.Time) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !req.ExpiredBy(now) {
		return nil
	}

	updated, err := s.store.TransitionRequest(ctx, requestID, models.RequestPending, models.RequestExpired, now)
	if errors.Is(err, store.ErrStaleTransition) {
		return nil
	}
	if err != nil {
		return err
	}

	s.emitter.Emit(ctx, event.RequestExpired, requestPayload(updated))
	return nil
}

// ExpireDueRequests sweeps pending requests whose deadline has passed.
// Per-row failures are logged and skipped so one bad row never aborts the
// sweep. Returns the number of requests transitioned.
func (s *Service) ExpireDueRequests(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range due {
		if err := s.Expire(ctx, req.ID, now); err != nil {
			slog.Error("expire request failed", "request_id", req.ID, "err", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// GetRequest returns a request to one of its participants, expiring it on
// read first so a logically-expired request is never observed as pending.
func (s *Service) GetRequest(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error) {
	req, err := s.getAsParticipant(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	return s.expireOnRead(ctx, req), nil
}

// ListRequests returns the actor's requests, seen from the requested side.
func (s *Service) ListRequests(ctx context.Context, actor models.Actor, f store.RequestFilter) ([]*models.JobRequest, int, error) {
	// The filter is always pinned to the actor; other parties' requests are
	// simply not listable.
	switch actor.Role {
	case models.RoleContractor:
		f.ContractorID = actor.ID
		f.SubcontractorID = uuid.Nil
	default:
		f.SubcontractorID = actor.ID
		f.ContractorID = uuid.Nil
	}

	requests, total, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i, req := range requests {
		requests[i] = s.expireOnRead(ctx, req)
	}
	return requests, total, nil
}

// StatusByPost returns the subcontractor's latest request per post, for
// badge rendering.
func (s *Service) StatusByPost(ctx context.Context, actor models.Actor, postIDs []uuid.UUID) (map[uuid.UUID]*models.JobRequest, error) {
	byPost, err := s.store.RequestStatusByPost(ctx, actor.ID, postIDs)
	if err != nil {
		return nil, err
	}
	for postID, req := range byPost {
		byPost[postID] = s.expireOnRead(ctx, req)
	}
	return byPost, nil
}

// expireOnRead lazily applies the expiry transition so callers never observe
// a logically-expired request as pending, even between scheduler sweeps.
func (s *Service) expireOnRead(ctx context.Context, req *models.JobRequest) *models.JobRequest {
	now := time.Now().UTC()
	if !req.ExpiredBy(now) {
		return req
	}
	if err := s.Expire(ctx, req.ID, now); err != nil {
		slog.Warn("expire on read failed", "request_id", req.ID, "err", err)
		return req
	}
	refreshed, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		return req
	}
	return refreshed
}

// getAsParticipant fetches a request, hiding its existence from actors with
// no relationship to it.
func (s *Service) getAsParticipant(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.JobRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actor.ID != req.ContractorID && actor.ID != req.SubcontractorID {
		return nil, store.ErrNotFound
	}
	return req, nil
}

// requestConflict builds the InvalidTransition error for a request whose
// status changed underneath the caller.
func (s *Service) requestConflict(ctx context.Context, requestID uuid.UUID, attempted models.RequestStatus) error {
	current, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{Entity: "request", From: string(current.Status), Attempted: string(attempted)}
}

// approverID is the identity allowed to call Accept: for an apply the
// contractor approves; for an invite the invited subcontractor confirms.
func approverID(req *models.JobRequest) uuid.UUID {
	if req.Origin == models.OriginContractor {
		return req.SubcontractorID
	}
	return req.ContractorID
}

func requestPayload(req *models.JobRequest) map[string]any {
	return map[string]any{
		"request_id":       req.ID.String(),
		"post_id":          req.PostID.String(),
		"subcontractor_id": req.SubcontractorID.String(),
		"contractor_id":    req.ContractorID.String(),
		"origin":           string(req.Origin),
		"status":           string(req.Status),
	}
}

func jobPayload(job *models.Job) map[string]any {
	return map[string]any{
		"job_id":        job.ID.String(),
		"post_id":       job.PostID.String(),
		"request_id":    job.RequestID.String(),
		"contractor_id": job.ContractorID.String(),
		"worker_id":     job.WorkerID.String(),
		"status":        string(job.Status),
	}
}
