package models

import (
	"time"

	"github.com/google/uuid"
)

// JobPost is a contractor's listing with a finite number of worker slots.
// ActiveWorkerCount is derived from Job rows and never stored; capacity
// enforcement happens inside the store transaction that mutates jobs.
type JobPost struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	PublisherID uuid.UUID  `db:"publisher_id" json:"publisher_id"`
	Title       string     `db:"title"        json:"title"`
	Content     string     `db:"content"      json:"content"`
	MaxWorkers  int        `db:"max_workers"  json:"max_workers"`
	StartDate   *time.Time `db:"start_date"   json:"start_date,omitempty"`
	EndDate     *time.Time `db:"end_date"     json:"end_date,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}
