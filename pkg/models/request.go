// Request status graph:
//
//	pending ──accept───► accepted ──(job cancelled before start)──► cancelled
//	    │
//	    ├─deny─────► denied
//	    ├─withdraw─► withdrawn
//	    └─expire───► expired      (time-triggered)
//
// denied, withdrawn, expired and cancelled are terminal. A terminal request
// never blocks a fresh apply or invite for the same (post, subcontractor) pair.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestStatus values mirror the request_status enum in PostgreSQL.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDenied    RequestStatus = "denied"
	RequestWithdrawn RequestStatus = "withdrawn"
	RequestExpired   RequestStatus = "expired"
	RequestCancelled RequestStatus = "cancelled"
)

// requestTransitions lists every allowed (from → to) pair.
// cancelled is reachable only from accepted, and only via job cancellation
// before the job ever starts — never as a direct request action.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:  {RequestAccepted, RequestDenied, RequestWithdrawn, RequestExpired},
	RequestAccepted: {RequestCancelled},
}

// ParseRequestStatus converts a raw string to a RequestStatus, returning an
// error for unknown values.
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(s)
	switch st {
	case RequestPending, RequestAccepted, RequestDenied, RequestWithdrawn, RequestExpired, RequestCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// CanTransitionRequest returns true when moving from → to is permitted.
func CanTransitionRequest(from, to RequestStatus) bool {
	for _, s := range requestTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalRequestStatus returns true for statuses with no outgoing transitions.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestDenied, RequestWithdrawn, RequestExpired, RequestCancelled:
		return true
	}
	return false
}

// RequestOrigin records which side created the request.
type RequestOrigin string

const (
	// OriginSubcontractor is an apply: the subcontractor expressed interest.
	OriginSubcontractor RequestOrigin = "subcontractor"
	// OriginContractor is an invite: the contractor targeted a subcontractor.
	OriginContractor RequestOrigin = "contractor"
)

// ParseRequestOrigin converts a raw string to a RequestOrigin.
func ParseRequestOrigin(s string) (RequestOrigin, error) {
	o := RequestOrigin(s)
	switch o {
	case OriginSubcontractor, OriginContractor:
		return o, nil
	}
	return "", fmt.Errorf("unknown request origin %q", s)
}

// JobRequest is a subcontractor's application or a contractor's invitation for
// a specific (post, subcontractor) pair. At most one non-terminal request may
// exist per pair at any instant. Requests are never deleted.
type JobRequest struct {
	ID              uuid.UUID     `db:"id"               json:"id"`
	PostID          uuid.UUID     `db:"post_id"          json:"post_id"`
	SubcontractorID uuid.UUID     `db:"subcontractor_id" json:"subcontractor_id"`
	ContractorID    uuid.UUID     `db:"contractor_id"    json:"contractor_id"`
	Origin          RequestOrigin `db:"origin"           json:"origin"`
	Status          RequestStatus `db:"status"           json:"status"`
	MatchScore      *float64      `db:"match_score"      json:"match_score,omitempty"`
	ExpiresAt       *time.Time    `db:"expires_at"       json:"expires_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"       json:"updated_at"`
}

// ExpiredBy reports whether the request is logically expired at the given
// instant: still pending with a deadline at or before now.
func (r *JobRequest) ExpiredBy(now time.Time) bool {
	return r.Status == RequestPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}
