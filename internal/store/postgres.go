package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewboardhq/crewboard/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5. Capacity-critical
// operations take a row lock on the post (SELECT ... FOR UPDATE), which
// serializes transitions per post while leaving unrelated posts fully
// concurrent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const (
	accountCols = `id, name, role, key_hash, key_prefix, created_at, updated_at`
	postCols    = `id, publisher_id, title, content, max_workers, start_date, end_date, created_at, updated_at`
	requestCols = `id, post_id, subcontractor_id, contractor_id, origin, status, match_score, expires_at, created_at, updated_at`
	jobCols     = `id, post_id, request_id, contractor_id, worker_id, status, start_date, end_date, started_at, completed_at, created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.KeyHash, &a.KeyPrefix, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func scanPost(row rowScanner) (*models.JobPost, error) {
	var p models.JobPost
	err := row.Scan(&p.ID, &p.PublisherID, &p.Title, &p.Content, &p.MaxWorkers,
		&p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func scanRequest(row rowScanner) (*models.JobRequest, error) {
	var r models.JobRequest
	err := row.Scan(&r.ID, &r.PostID, &r.SubcontractorID, &r.ContractorID, &r.Origin,
		&r.Status, &r.MatchScore, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.PostID, &j.RequestID, &j.ContractorID, &j.WorkerID, &j.Status,
		&j.StartDate, &j.EndDate, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	return &j, err
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, role, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Name, a.Role, a.KeyHash, a.KeyPrefix, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return wrapDBErr("create account", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("get account", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountsByKeyPrefix(ctx context.Context, prefix string) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE key_prefix = $1`, prefix)
	if err != nil {
		return nil, wrapDBErr("get accounts by key prefix", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Posts ---

func (s *PostgresStore) CreatePost(ctx context.Context, p *models.JobPost) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_posts (id, publisher_id, title, content, max_workers, start_date, end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.PublisherID, p.Title, p.Content, p.MaxWorkers, p.StartDate, p.EndDate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return wrapDBErr("create post", err)
	}
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, id uuid.UUID) (*models.JobPost, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postCols+` FROM job_posts WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("get post", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdatePost(ctx context.Context, id uuid.UUID, upd PostUpdate) (*models.JobPost, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		`UPDATE job_posts SET
		   title       = COALESCE($2, title),
		   content     = COALESCE($3, content),
		   max_workers = COALESCE($4, max_workers),
		   start_date  = COALESCE($5, start_date),
		   end_date    = COALESCE($6, end_date),
		   updated_at  = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+postCols,
		id, upd.Title, upd.Content, upd.MaxWorkers, upd.StartDate, upd.EndDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("update post", err)
	}
	return p, nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapDBErr("delete post: begin", err)
	}
	defer tx.Rollback(ctx)

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM job_posts WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return wrapDBErr("delete post: lock", err)
	}

	var busy bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_requests WHERE post_id = $1 AND status IN ('pending', 'accepted'))
		     OR EXISTS (SELECT 1 FROM jobs WHERE post_id = $1 AND status IN ('accepted', 'in_progress'))`,
		id).Scan(&busy)
	if err != nil {
		return wrapDBErr("delete post: check references", err)
	}
	if busy {
		return ErrPostBusy
	}

	// Terminal requests and finished jobs reference the post forever, so the
	// row is retired in place rather than removed.
	if _, err := tx.Exec(ctx,
		`UPDATE job_posts SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, id); err != nil {
		return wrapDBErr("delete post", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapDBErr("delete post: commit", err)
	}
	return nil
}

func (s *PostgresStore) CountActiveJobs(ctx context.Context, postID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE post_id = $1 AND status IN ('accepted', 'in_progress')`,
		postID).Scan(&n)
	if err != nil {
		return 0, wrapDBErr("count active jobs", err)
	}
	return n, nil
}

// --- Requests ---

func (s *PostgresStore) CreateRequest(ctx context.Context, r *models.JobRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_requests (id, post_id, subcontractor_id, contractor_id, origin, status, match_score, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.PostID, r.SubcontractorID, r.ContractorID, r.Origin, r.Status,
		r.MatchScore, r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		// The partial unique index fired: surface the existing request's id.
		var existingID uuid.UUID
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT id FROM job_requests
			 WHERE post_id = $1 AND subcontractor_id = $2 AND status IN ('pending', 'accepted')
			 LIMIT 1`, r.PostID, r.SubcontractorID).Scan(&existingID)
		if lookupErr != nil {
			return wrapDBErr("create request: lookup duplicate", lookupErr)
		}
		return &DuplicateRequestError{ExistingID: existingID}
	}
	if err != nil {
		return wrapDBErr("create request", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id uuid.UUID) (*models.JobRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM job_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("get request", err)
	}
	return r, nil
}

var requestSortColumns = map[string]string{
	"created_at":  "created_at",
	"updated_at":  "updated_at",
	"match_score": "match_score",
}

func (s *PostgresStore) ListRequests(ctx context.Context, f RequestFilter) ([]*models.JobRequest, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if f.ContractorID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("contractor_id = $%d", argIdx))
		args = append(args, f.ContractorID)
		argIdx++
	}
	if f.SubcontractorID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("subcontractor_id = $%d", argIdx))
		args = append(args, f.SubcontractorID)
		argIdx++
	}
	if f.PostID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("post_id = $%d", argIdx))
		args = append(args, f.PostID)
		argIdx++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM job_requests WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBErr("count requests", err)
	}

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

	sortCol, ok := requestSortColumns[f.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	sortDir := "DESC"
	if strings.EqualFold(f.SortDir, "asc") {
		sortDir = "ASC"
	}

	query := fmt.Sprintf(
		"SELECT %s FROM job_requests WHERE %s ORDER BY %s %s NULLS LAST LIMIT $%d OFFSET $%d",
		requestCols, where, sortCol, sortDir, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapDBErr("list requests", err)
	}
	defer rows.Close()

	requests := make([]*models.JobRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, total, rows.Err()
}

func (s *PostgresStore) RequestStatusByPost(ctx context.Context, subcontractorID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]*models.JobRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (post_id) `+requestCols+`
		 FROM job_requests
		 WHERE subcontractor_id = $1 AND post_id = ANY($2)
		 ORDER BY post_id, (status IN ('pending', 'accepted')) DESC, created_at DESC`,
		subcontractorID, postIDs)
	if err != nil {
		return nil, wrapDBErr("request status by post", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]*models.JobRequest, len(postIDs))
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		result[r.PostID] = r
	}
	return result, rows.Err()
}

func (s *PostgresStore) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.RequestStatus, now time.Time) (*models.JobRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`UPDATE job_requests
		 SET status = $3, expires_at = NULL, updated_at = $4
		 WHERE id = $1 AND status = $2
		 RETURNING `+requestCols,
		id, from, to, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.requestTransitionFailure(ctx, id)
	}
	if err != nil {
		return nil, wrapDBErr("transition request", err)
	}
	return r, nil
}

// requestTransitionFailure distinguishes a missing request from one that is
// simply not in the expected source status.
func (s *PostgresStore) requestTransitionFailure(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return wrapDBErr("transition request: recheck", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleTransition
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.JobRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestCols+`
		 FROM job_requests
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, wrapDBErr("list expired pending", err)
	}
	defer rows.Close()

	var requests []*models.JobRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) AcceptRequest(ctx context.Context, requestID uuid.UUID, job *models.Job) (*models.JobRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapDBErr("accept request: begin", err)
	}
	defer tx.Rollback(ctx)

	// Lock the post row: the capacity check and the writes below form one
	// atomic unit, so N racing accepts for the last slot produce one winner.
	var maxWorkers int
	err = tx.QueryRow(ctx,
		`SELECT max_workers FROM job_posts WHERE id = $1 FOR UPDATE`, job.PostID).Scan(&maxWorkers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("accept request: lock post", err)
	}

	var active int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE post_id = $1 AND status IN ('accepted', 'in_progress')`,
		job.PostID).Scan(&active)
	if err != nil {
		return nil, wrapDBErr("accept request: count active", err)
	}
	if active >= maxWorkers {
		return nil, ErrCapacityExceeded
	}

	r, err := scanRequest(tx.QueryRow(ctx,
		`UPDATE job_requests
		 SET status = 'accepted', expires_at = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+requestCols,
		requestID, job.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.requestTransitionFailure(ctx, requestID)
	}
	if err != nil {
		return nil, wrapDBErr("accept request: update request", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, post_id, request_id, contractor_id, worker_id, status, start_date, end_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.PostID, job.RequestID, job.ContractorID, job.WorkerID, job.Status,
		job.StartDate, job.EndDate, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, wrapDBErr("accept request: insert job", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapDBErr("accept request: commit", err)
	}
	return r, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("get job", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByRequest(ctx context.Context, requestID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("get job by request", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, f JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if f.ContractorID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("contractor_id = $%d", argIdx))
		args = append(args, f.ContractorID)
		argIdx++
	}
	if f.WorkerID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("worker_id = $%d", argIdx))
		args = append(args, f.WorkerID)
		argIdx++
	}
	if f.PostID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("post_id = $%d", argIdx))
		args = append(args, f.PostID)
		argIdx++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBErr("count jobs", err)
	}

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

	query := fmt.Sprintf(
		"SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		jobCols, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapDBErr("list jobs", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) TransitionJob(ctx context.Context, id uuid.UUID, from []models.JobStatus, to models.JobStatus, now time.Time) (*models.Job, error) {
	// Read outside the transaction only to learn the post id; the status is
	// re-checked under the post lock.
	var postID uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT post_id FROM jobs WHERE id = $1`, id).Scan(&postID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("transition job: lookup", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapDBErr("transition job: begin", err)
	}
	defer tx.Rollback(ctx)

	// Same lock order as AcceptRequest (post first), so per-post transitions
	// serialize and a release is immediately visible to the next accept.
	if _, err := tx.Exec(ctx, `SELECT id FROM job_posts WHERE id = $1 FOR UPDATE`, postID); err != nil {
		return nil, wrapDBErr("transition job: lock post", err)
	}

	var (
		requestID uuid.UUID
		current   models.JobStatus
	)
	err = tx.QueryRow(ctx,
		`SELECT request_id, status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&requestID, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapDBErr("transition job: lock job", err)
	}

	allowed := false
	for _, f := range from {
		if current == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStaleTransition
	}

	j, err := scanJob(tx.QueryRow(ctx,
		`UPDATE jobs
		 SET status = $2,
		     started_at   = CASE WHEN $2 = 'in_progress' THEN COALESCE(started_at, $3) ELSE started_at END,
		     completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END,
		     updated_at   = $3
		 WHERE id = $1
		 RETURNING `+jobCols,
		id, to, now))
	if err != nil {
		return nil, wrapDBErr("transition job: update", err)
	}

	// A job cancelled before it ever started voids its origin request.
	if to == models.JobCancelled && current == models.JobAccepted {
		_, err = tx.Exec(ctx,
			`UPDATE job_requests SET status = 'cancelled', updated_at = $2
			 WHERE id = $1 AND status = 'accepted'`, requestID, now)
		if err != nil {
			return nil, wrapDBErr("transition job: cancel request", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapDBErr("transition job: commit", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobsDueForStart(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.listDueJobs(ctx,
		`SELECT `+jobCols+` FROM jobs
		 WHERE status = 'accepted' AND start_date IS NOT NULL AND start_date <= $1
		 ORDER BY start_date LIMIT $2`, now, limit)
}

func (s *PostgresStore) ListJobsDueForCompletion(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	return s.listDueJobs(ctx,
		`SELECT `+jobCols+` FROM jobs
		 WHERE status = 'in_progress' AND end_date IS NOT NULL AND end_date <= $1
		 ORDER BY end_date LIMIT $2`, now, limit)
}

func (s *PostgresStore) listDueJobs(ctx context.Context, query string, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, wrapDBErr("list due jobs", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- error translation ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// wrapDBErr tags transient connection failures with ErrUnavailable so callers
// know a retry is safe. Context cancellation passes through untouched: the
// transaction never committed, so nothing was persisted.
func wrapDBErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 (connection exception) and 57 (operator intervention,
		// includes shutdown) are retryable infrastructure failures.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
