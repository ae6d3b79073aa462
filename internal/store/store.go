package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewboardhq/crewboard/pkg/models"
)

var (
	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrCapacityExceeded is returned by AcceptRequest when every worker slot
	// on the post is occupied. The request is left untouched (still pending).
	ErrCapacityExceeded = errors.New("no free worker slot on post")
	// ErrStaleTransition is returned by conditional transitions when the
	// entity was not in the expected source status.
	ErrStaleTransition = errors.New("entity not in expected status")
	// ErrPostBusy is returned by DeletePost while a non-terminal request or an
	// active job still references the post.
	ErrPostBusy = errors.New("post has outstanding requests or active jobs")
	// ErrUnavailable marks transient infrastructure failures. Nothing was
	// applied; the caller may retry.
	ErrUnavailable = errors.New("store unavailable")
)

// DuplicateRequestError is returned by CreateRequest when a non-terminal
// request already exists for the (post, subcontractor) pair. It carries the
// existing request's id so callers can redirect instead of retrying blindly.
type DuplicateRequestError struct {
	ExistingID uuid.UUID
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("non-terminal request %s already exists for this post and subcontractor", e.ExistingID)
}

// Store is the data access interface. All database operations go through here.
// Methods that touch capacity (AcceptRequest, TransitionJob) are atomic: they
// run as a single transaction serialized per post, so concurrent accepts for
// the last slot produce exactly one winner.
type Store interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountsByKeyPrefix(ctx context.Context, prefix string) ([]*models.Account, error)

	CreatePost(ctx context.Context, p *models.JobPost) error
	GetPost(ctx context.Context, id uuid.UUID) (*models.JobPost, error)
	UpdatePost(ctx context.Context, id uuid.UUID, upd PostUpdate) (*models.JobPost, error)
	// DeletePost retires a post with no non-terminal requests and no active
	// jobs; otherwise it fails with ErrPostBusy. The post becomes invisible to
	// reads while historical requests and jobs keep referencing it.
	DeletePost(ctx context.Context, id uuid.UUID) error
	CountActiveJobs(ctx context.Context, postID uuid.UUID) (int, error)

	CreateRequest(ctx context.Context, r *models.JobRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (*models.JobRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]*models.JobRequest, int, error)
	// RequestStatusByPost returns the most recent request per post for one
	// subcontractor, preferring a non-terminal request when one exists.
	RequestStatusByPost(ctx context.Context, subcontractorID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]*models.JobRequest, error)
	// TransitionRequest conditionally moves a request from → to, clearing
	// expires_at on any move out of pending. ErrStaleTransition when the
	// request exists but is not in the from status.
	TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.RequestStatus, now time.Time) (*models.JobRequest, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.JobRequest, error)

	// AcceptRequest atomically: locks the post row, counts active jobs
	// against max_workers, flips the pending request to accepted and inserts
	// the job. Exactly one concurrent caller wins per free slot; the rest get
	// ErrCapacityExceeded with no partial writes.
	AcceptRequest(ctx context.Context, requestID uuid.UUID, job *models.Job) (*models.JobRequest, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByRequest(ctx context.Context, requestID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]*models.Job, int, error)
	// TransitionJob conditionally moves a job out of one of the from statuses.
	// Cancelling a job that never left accepted also flips its origin request
	// accepted → cancelled, in the same transaction. Slot release is implicit:
	// the active-job count is derived, so a committed terminal status can
	// never be released twice.
	TransitionJob(ctx context.Context, id uuid.UUID, from []models.JobStatus, to models.JobStatus, now time.Time) (*models.Job, error)
	ListJobsDueForStart(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	ListJobsDueForCompletion(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
}

// PostUpdate carries the mutable post fields; nil means "leave unchanged".
type PostUpdate struct {
	Title      *string
	Content    *string
	MaxWorkers *int
	StartDate  *time.Time
	EndDate    *time.Time
}

// RequestFilter narrows and paginates ListRequests. Zero UUIDs and empty
// statuses are ignored.
type RequestFilter struct {
	ContractorID    uuid.UUID
	SubcontractorID uuid.UUID
	PostID          uuid.UUID
	Status          models.RequestStatus
	Page            int
	Limit           int
	SortBy          string // created_at | updated_at | match_score
	SortDir         string // asc | desc
}

// JobFilter narrows and paginates ListJobs.
type JobFilter struct {
	ContractorID uuid.UUID
	WorkerID     uuid.UUID
	PostID       uuid.UUID
	Status       models.JobStatus
	Page         int
	Limit        int
}
