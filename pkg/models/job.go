// Job status graph:
//
//	accepted ──► in_progress ──► completed
//	    │             │
//	    └─────────────┴──► cancelled
//
// completed and cancelled are terminal. Jobs in accepted or in_progress count
// against the post's max_workers; completing or cancelling releases the slot.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus values mirror the job_status enum in PostgreSQL.
type JobStatus string

const (
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
)

// jobTransitions lists every allowed (from → to) pair. Transitions are
// monotonic forward except cancelled, reachable from either active status.
var jobTransitions = map[JobStatus][]JobStatus{
	JobAccepted:   {JobInProgress, JobCancelled},
	JobInProgress: {JobCompleted, JobCancelled},
}

// ActiveJobStatuses are the statuses that occupy a worker slot.
var ActiveJobStatuses = []JobStatus{JobAccepted, JobInProgress}

// ParseJobStatus converts a raw string to a JobStatus, returning an error for
// unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobAccepted, JobInProgress, JobCompleted, JobCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransitionJob returns true when moving from → to is permitted.
func CanTransitionJob(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobTransitionSources returns every status a job may move to `to` from,
// derived from the transition graph. Callers doing conditional writes use
// this instead of hand-listing source statuses.
func JobTransitionSources(to JobStatus) []JobStatus {
	var from []JobStatus
	for _, s := range []JobStatus{JobAccepted, JobInProgress, JobCompleted, JobCancelled} {
		if CanTransitionJob(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// IsActive returns true when the status occupies a worker slot.
func (s JobStatus) IsActive() bool {
	return s == JobAccepted || s == JobInProgress
}

// IsTerminal returns true for statuses with no outgoing transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// Job is the working relationship created the moment a request is accepted.
// Exactly one Job exists per accepted JobRequest, created in the same store
// transaction that flips the request to accepted. Jobs are never deleted.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	PostID       uuid.UUID  `db:"post_id"       json:"post_id"`
	RequestID    uuid.UUID  `db:"request_id"    json:"request_id"`
	ContractorID uuid.UUID  `db:"contractor_id" json:"contractor_id"`
	WorkerID     uuid.UUID  `db:"worker_id"     json:"worker_id"`
	Status       JobStatus  `db:"status"        json:"status"`
	// StartDate and EndDate are snapshotted from the post at accept time and
	// never change afterwards, even if the post is edited.
	StartDate   *time.Time `db:"start_date"   json:"start_date,omitempty"`
	EndDate     *time.Time `db:"end_date"     json:"end_date,omitempty"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}
