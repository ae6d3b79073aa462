package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewboardhq/crewboard/pkg/models"
)

// MemoryStore is an in-memory Store used by unit tests and local development.
// A single mutex guards all maps, which trivially satisfies the atomicity the
// interface demands: a capacity check and its writes happen under one lock
// acquisition, mirroring the post-row lock the Postgres implementation takes.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	posts    map[uuid.UUID]*models.JobPost
	requests map[uuid.UUID]*models.JobRequest
	jobs     map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*models.Account),
		posts:    make(map[uuid.UUID]*models.JobPost),
		requests: make(map[uuid.UUID]*models.JobRequest),
		jobs:     make(map[uuid.UUID]*models.Job),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccountsByKeyPrefix(_ context.Context, prefix string) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Account
	for _, a := range s.accounts {
		if a.KeyPrefix == prefix {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Posts ---

func (s *MemoryStore) CreatePost(_ context.Context, p *models.JobPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.posts[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPost(_ context.Context, id uuid.UUID) (*models.JobPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdatePost(_ context.Context, id uuid.UUID, upd PostUpdate) (*models.JobPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Content != nil {
		p.Content = *upd.Content
	}
	if upd.MaxWorkers != nil {
		p.MaxWorkers = *upd.MaxWorkers
	}
	if upd.StartDate != nil {
		p.StartDate = upd.StartDate
	}
	if upd.EndDate != nil {
		p.EndDate = upd.EndDate
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePost(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return ErrNotFound
	}
	for _, r := range s.requests {
		if r.PostID == id && !r.Status.IsTerminal() {
			return ErrPostBusy
		}
	}
	for _, j := range s.jobs {
		if j.PostID == id && j.Status.IsActive() {
			return ErrPostBusy
		}
	}
	delete(s.posts, id)
	return nil
}

func (s *MemoryStore) CountActiveJobs(_ context.Context, postID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJobsLocked(postID), nil
}

func (s *MemoryStore) activeJobsLocked(postID uuid.UUID) int {
	n := 0
	for _, j := range s.jobs {
		if j.PostID == postID && j.Status.IsActive() {
			n++
		}
	}
	return n
}

// --- Requests ---

func (s *MemoryStore) CreateRequest(_ context.Context, r *models.JobRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.PostID == r.PostID && existing.SubcontractorID == r.SubcontractorID &&
			!existing.Status.IsTerminal() {
			return &DuplicateRequestError{ExistingID: existing.ID}
		}
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id uuid.UUID) (*models.JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRequests(_ context.Context, f RequestFilter) ([]*models.JobRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.JobRequest
	for _, r := range s.requests {
		if f.ContractorID != uuid.Nil && r.ContractorID != f.ContractorID {
			continue
		}
		if f.SubcontractorID != uuid.Nil && r.SubcontractorID != f.SubcontractorID {
			continue
		}
		if f.PostID != uuid.Nil && r.PostID != f.PostID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}

	asc := strings.EqualFold(f.SortDir, "asc")
	sort.Slice(matched, func(i, j int) bool {
		return requestLess(matched[i], matched[j], f.SortBy, asc)
	})

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit
	if offset >= total {
		return []*models.JobRequest{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// requestLess orders requests the way the SQL store does: by the requested
// column in the requested direction, requests without a match score after
// scored ones regardless of direction, and equal keys unordered.
func requestLess(a, b *models.JobRequest, sortBy string, asc bool) bool {
	switch sortBy {
	case "match_score":
		sa, sb := a.MatchScore, b.MatchScore
		if (sa == nil) != (sb == nil) {
			return sb == nil
		}
		if sa == nil || *sa == *sb {
			return false
		}
		if asc {
			return *sa < *sb
		}
		return *sa > *sb
	case "updated_at":
		return timeLess(a.UpdatedAt, b.UpdatedAt, asc)
	default:
		return timeLess(a.CreatedAt, b.CreatedAt, asc)
	}
}

func timeLess(a, b time.Time, asc bool) bool {
	if a.Equal(b) {
		return false
	}
	if asc {
		return a.Before(b)
	}
	return a.After(b)
}

func (s *MemoryStore) RequestStatusByPost(_ context.Context, subcontractorID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]*models.JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uuid.UUID]bool, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = true
	}

	result := make(map[uuid.UUID]*models.JobRequest)
	for _, r := range s.requests {
		if r.SubcontractorID != subcontractorID || !wanted[r.PostID] {
			continue
		}
		prev, ok := result[r.PostID]
		if !ok || betterStatusCandidate(r, prev) {
			cp := *r
			result[r.PostID] = &cp
		}
	}
	return result, nil
}

// betterStatusCandidate prefers a non-terminal request, then recency.
func betterStatusCandidate(candidate, current *models.JobRequest) bool {
	candActive := !candidate.Status.IsTerminal()
	currActive := !current.Status.IsTerminal()
	if candActive != currActive {
		return candActive
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

func (s *MemoryStore) TransitionRequest(_ context.Context, id uuid.UUID, from, to models.RequestStatus, now time.Time) (*models.JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != from {
		return nil, ErrStaleTransition
	}
	r.Status = to
	r.ExpiresAt = nil
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*models.JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobRequest
	for _, r := range s.requests {
		if r.ExpiredBy(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Jobs ---

func (s *MemoryStore) AcceptRequest(_ context.Context, requestID uuid.UUID, job *models.Job) (*models.JobRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[job.PostID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.activeJobsLocked(job.PostID) >= post.MaxWorkers {
		return nil, ErrCapacityExceeded
	}

	r, ok := s.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.RequestPending {
		return nil, ErrStaleTransition
	}

	r.Status = models.RequestAccepted
	r.ExpiresAt = nil
	r.UpdatedAt = job.CreatedAt

	jcp := *job
	s.jobs[job.ID] = &jcp

	rcp := *r
	return &rcp, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) GetJobByRequest(_ context.Context, requestID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.RequestID == requestID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListJobs(_ context.Context, f JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if f.ContractorID != uuid.Nil && j.ContractorID != f.ContractorID {
			continue
		}
		if f.WorkerID != uuid.Nil && j.WorkerID != f.WorkerID {
			continue
		}
		if f.PostID != uuid.Nil && j.PostID != f.PostID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit
	if offset >= total {
		return []*models.Job{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id uuid.UUID, from []models.JobStatus, to models.JobStatus, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}

	allowed := false
	for _, f := range from {
		if j.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStaleTransition
	}

	prior := j.Status
	j.Status = to
	j.UpdatedAt = now
	switch to {
	case models.JobInProgress:
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
	case models.JobCompleted:
		t := now
		j.CompletedAt = &t
	}

	if to == models.JobCancelled && prior == models.JobAccepted {
		if r, ok := s.requests[j.RequestID]; ok && r.Status == models.RequestAccepted {
			r.Status = models.RequestCancelled
			r.UpdatedAt = now
		}
	}

	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListJobsDueForStart(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.listDue(models.JobAccepted, now, limit, func(j *models.Job) *time.Time { return j.StartDate })
}

func (s *MemoryStore) ListJobsDueForCompletion(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.listDue(models.JobInProgress, now, limit, func(j *models.Job) *time.Time { return j.EndDate })
}

func (s *MemoryStore) listDue(status models.JobStatus, now time.Time, limit int, due func(*models.Job) *time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		d := due(j)
		if j.Status == status && d != nil && !d.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
