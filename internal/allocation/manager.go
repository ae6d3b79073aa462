// Package allocation enforces the capacity invariant: at every instant a post
// has at most max_workers jobs in an active status. The Manager is the only
// component that creates or mutates Job rows; every mutation runs through a
// store transaction serialized on the post, so the check-then-write can never
// race.
package allocation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewboardhq/crewboard/internal/event"
	"github.com/crewboardhq/crewboard/internal/lifecycle"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

// Manager owns job rows and post capacity.
type Manager struct {
	store   store.Store
	emitter event.Emitter
}

// NewManager returns a configured Manager.
func NewManager(st store.Store, em event.Emitter) *Manager {
	return &Manager{store: st, emitter: em}
}

// Accept converts a pending request into a job, reserving one worker slot.
// The capacity check, the request flip and the job insert commit as one store
// transaction; with N callers racing for the last slot exactly one wins and
// the rest get store.ErrCapacityExceeded with the request left pending.
func (m *Manager) Accept(ctx context.Context, req *models.JobRequest) (*models.Job, error) {
	post, err := m.store.GetPost(ctx, req.PostID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:           uuid.New(),
		PostID:       req.PostID,
		RequestID:    req.ID,
		ContractorID: req.ContractorID,
		WorkerID:     req.SubcontractorID,
		Status:       models.JobAccepted,
		// Planned dates are snapshotted here; later post edits do not move them.
		StartDate: post.StartDate,
		EndDate:   post.EndDate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := m.store.AcceptRequest(ctx, req.ID, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SetJobStatus applies a caller-initiated job transition. Starting and
// completing are contractor actions; cancelling is open to either side.
// Completing or cancelling releases the slot in the same transaction that
// persists the terminal status, and only a job leaving one of the two active
// statuses can release, so a slot is never released twice.
func (m *Manager) SetJobStatus(ctx context.Context, actor models.Actor, jobID uuid.UUID, next models.JobStatus) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actor.ID != job.ContractorID && actor.ID != job.WorkerID {
		return nil, store.ErrNotFound
	}

	switch next {
	case models.JobInProgress, models.JobCompleted:
		if actor.ID != job.ContractorID {
			return nil, lifecycle.ErrUnauthorized
		}
	case models.JobCancelled:
	default:
		return nil, &lifecycle.ValidationError{Msg: "status must be one of in_progress, completed, cancelled"}
	}

	// Legality comes from the transition graph; the store re-checks the source
	// status under the post lock.
	updated, err := m.transition(ctx, jobID, models.JobTransitionSources(next), next)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AutoAdvance is the scheduler path: jobs whose planned start date has passed
// are started, and jobs whose planned end date has passed are completed.
// Per-row failures are logged and skipped.
func (m *Manager) AutoAdvance(ctx context.Context, now time.Time, limit int) (started, completed int) {
	dueStart, err := m.store.ListJobsDueForStart(ctx, now, limit)
	if err != nil {
		slog.Error("list jobs due for start failed", "err", err)
	}
	for _, job := range dueStart {
		if _, err := m.transition(ctx, job.ID, models.JobTransitionSources(models.JobInProgress), models.JobInProgress); err != nil {
			slog.Error("auto-start job failed", "job_id", job.ID, "err", err)
			continue
		}
		started++
	}

	dueEnd, err := m.store.ListJobsDueForCompletion(ctx, now, limit)
	if err != nil {
		slog.Error("list jobs due for completion failed", "err", err)
	}
	for _, job := range dueEnd {
		if _, err := m.transition(ctx, job.ID, models.JobTransitionSources(models.JobCompleted), models.JobCompleted); err != nil {
			slog.Error("auto-complete job failed", "job_id", job.ID, "err", err)
			continue
		}
		completed++
	}
	return started, completed
}

func (m *Manager) transition(ctx context.Context, jobID uuid.UUID, from []models.JobStatus, to models.JobStatus) (*models.Job, error) {
	updated, err := m.store.TransitionJob(ctx, jobID, from, to, time.Now().UTC())
	if errors.Is(err, store.ErrStaleTransition) {
		current, getErr := m.store.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &lifecycle.InvalidTransitionError{Entity: "job", From: string(current.Status), Attempted: string(to)}
	}
	if err != nil {
		return nil, err
	}

	m.emitter.Emit(ctx, event.JobStatusChanged, map[string]any{
		"job_id":     updated.ID.String(),
		"post_id":    updated.PostID.String(),
		"request_id": updated.RequestID.String(),
		"worker_id":  updated.WorkerID.String(),
		"status":     string(updated.Status),
	})
	return updated, nil
}

// GetJob returns a job to one of its participants.
func (m *Manager) GetJob(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if actor.ID != job.ContractorID && actor.ID != job.WorkerID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

// ListJobs returns the actor's jobs, seen from the requested side.
func (m *Manager) ListJobs(ctx context.Context, actor models.Actor, f store.JobFilter) ([]*models.Job, int, error) {
	switch actor.Role {
	case models.RoleContractor:
		f.ContractorID = actor.ID
		f.WorkerID = uuid.Nil
	default:
		f.WorkerID = actor.ID
		f.ContractorID = uuid.Nil
	}
	return m.store.ListJobs(ctx, f)
}

// --- posts ---

// CreatePost publishes a new post. max_workers below 1 is clamped to 1.
func (m *Manager) CreatePost(ctx context.Context, actor models.Actor, title, content string, maxWorkers int, startDate, endDate *time.Time) (*models.JobPost, error) {
	if actor.Role != models.RoleContractor {
		return nil, lifecycle.ErrUnauthorized
	}
	if title == "" {
		return nil, &lifecycle.ValidationError{Msg: "title is required"}
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	now := time.Now().UTC()
	post := &models.JobPost{
		ID:          uuid.New(),
		PublisherID: actor.ID,
		Title:       title,
		Content:     content,
		MaxWorkers:  maxWorkers,
		StartDate:   startDate,
		EndDate:     endDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// GetPost returns a post. Posts are public within the marketplace.
func (m *Manager) GetPost(ctx context.Context, id uuid.UUID) (*models.JobPost, error) {
	return m.store.GetPost(ctx, id)
}

// UpdatePost edits a post. Reducing max_workers below the current active
// worker count is allowed: running jobs are never force-cancelled, but
// further accepts stay blocked until attrition brings the count back under
// the new ceiling.
func (m *Manager) UpdatePost(ctx context.Context, actor models.Actor, id uuid.UUID, upd store.PostUpdate) (*models.JobPost, error) {
	post, err := m.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != post.PublisherID {
		return nil, store.ErrNotFound
	}
	if upd.MaxWorkers != nil && *upd.MaxWorkers < 1 {
		one := 1
		upd.MaxWorkers = &one
	}
	return m.store.UpdatePost(ctx, id, upd)
}

// DeletePost removes a post, refusing with store.ErrPostBusy while any
// non-terminal request or active job still references it.
func (m *Manager) DeletePost(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	post, err := m.store.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if actor.ID != post.PublisherID {
		return store.ErrNotFound
	}
	return m.store.DeletePost(ctx, id)
}

var _ lifecycle.Allocator = (*Manager)(nil)
