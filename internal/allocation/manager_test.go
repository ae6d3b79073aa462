package allocation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewboardhq/crewboard/internal/allocation"
	"github.com/crewboardhq/crewboard/internal/event"
	"github.com/crewboardhq/crewboard/internal/lifecycle"
	"github.com/crewboardhq/crewboard/internal/recommend"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

type env struct {
	store      *store.MemoryStore
	alloc      *allocation.Manager
	svc        *lifecycle.Service
	contractor models.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore()
	alloc := allocation.NewManager(st, event.NopEmitter{})
	svc := lifecycle.NewService(st, alloc, event.NopEmitter{}, recommend.Disabled{}, 14*24*time.Hour)
	return &env{
		store:      st,
		alloc:      alloc,
		svc:        svc,
		contractor: models.Actor{ID: uuid.New(), Role: models.RoleContractor},
	}
}

func (e *env) newPost(t *testing.T, maxWorkers int, startDate, endDate *time.Time) *models.JobPost {
	t.Helper()
	post, err := e.alloc.CreatePost(context.Background(), e.contractor, "Site work", "", maxWorkers, startDate, endDate)
	require.NoError(t, err)
	return post
}

func (e *env) pendingRequest(t *testing.T, postID uuid.UUID) (*models.JobRequest, models.Actor) {
	t.Helper()
	sub := models.Actor{ID: uuid.New(), Role: models.RoleSubcontractor}
	req, err := e.svc.CreateRequest(context.Background(), sub, postID, sub.ID, models.OriginSubcontractor, nil)
	require.NoError(t, err)
	return req, sub
}

func (e *env) acceptedJob(t *testing.T, postID uuid.UUID) (*models.Job, models.Actor) {
	t.Helper()
	req, sub := e.pendingRequest(t, postID)
	job, err := e.svc.Accept(context.Background(), e.contractor, req.ID)
	require.NoError(t, err)
	return job, sub
}

func TestConcurrentAccepts_ExactlyMaxWorkersWin(t *testing.T) {
	const maxWorkers = 3
	const contenders = 10

	e := newEnv(t)
	post := e.newPost(t, maxWorkers, nil, nil)

	requests := make([]*models.JobRequest, contenders)
	for i := range requests {
		requests[i], _ = e.pendingRequest(t, post.ID)
	}

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.svc.Accept(context.Background(), e.contractor, requests[i].ID)
		}(i)
	}
	wg.Wait()

	wins, capacityLosses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrCapacityExceeded):
			capacityLosses++
		default:
			t.Fatalf("unexpected accept error: %v", err)
		}
	}
	assert.Equal(t, maxWorkers, wins)
	assert.Equal(t, contenders-maxWorkers, capacityLosses)

	active, err := e.store.CountActiveJobs(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, maxWorkers, active)

	// Every loser's request is still pending and can win a freed slot later.
	pending := 0
	for _, req := range requests {
		stored, err := e.store.GetRequest(context.Background(), req.ID)
		require.NoError(t, err)
		if stored.Status == models.RequestPending {
			pending++
		}
	}
	assert.Equal(t, contenders-maxWorkers, pending)
}

func TestSetJobStatus_FullLifecycle(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	job, _ := e.acceptedJob(t, post.ID)
	ctx := context.Background()

	started, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.JobInProgress, started.Status)
	assert.NotNil(t, started.StartedAt)

	done, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	// The slot is free again.
	active, err := e.store.CountActiveJobs(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestSetJobStatus_WorkerCannotStartOrComplete(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	job, sub := e.acceptedJob(t, post.ID)
	ctx := context.Background()

	_, err := e.alloc.SetJobStatus(ctx, sub, job.ID, models.JobInProgress)
	assert.ErrorIs(t, err, lifecycle.ErrUnauthorized)

	_, err = e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobInProgress)
	require.NoError(t, err)

	_, err = e.alloc.SetJobStatus(ctx, sub, job.ID, models.JobCompleted)
	assert.ErrorIs(t, err, lifecycle.ErrUnauthorized)
}

func TestSetJobStatus_EitherSideCanCancel(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 2, nil, nil)
	ctx := context.Background()

	job1, sub1 := e.acceptedJob(t, post.ID)
	cancelled, err := e.alloc.SetJobStatus(ctx, sub1, job1.ID, models.JobCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, cancelled.Status)

	job2, _ := e.acceptedJob(t, post.ID)
	cancelled, err = e.alloc.SetJobStatus(ctx, e.contractor, job2.ID, models.JobCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, cancelled.Status)
}

func TestSetJobStatus_CancelBeforeStartCascadesToRequest(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	job, _ := e.acceptedJob(t, post.ID)
	ctx := context.Background()

	_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCancelled)
	require.NoError(t, err)

	req, err := e.store.GetRequest(ctx, job.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, req.Status)
}

func TestSetJobStatus_CancelAfterStartLeavesRequestAccepted(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	job, _ := e.acceptedJob(t, post.ID)
	ctx := context.Background()

	_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobInProgress)
	require.NoError(t, err)
	_, err = e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCancelled)
	require.NoError(t, err)

	// The request keeps recording that the engagement happened.
	req, err := e.store.GetRequest(ctx, job.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, req.Status)
}

func TestSetJobStatus_InvalidTransition(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	job, _ := e.acceptedJob(t, post.ID)
	ctx := context.Background()

	// accepted -> completed skips in_progress.
	_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCompleted)
	var inv *lifecycle.InvalidTransitionError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, string(models.JobAccepted), inv.From)

	// Terminal statuses reject everything.
	_, err = e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCancelled)
	require.NoError(t, err)
	_, err = e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobInProgress)
	assert.ErrorAs(t, err, &inv)
}

func TestSetJobStatus_FollowsTransitionGraph(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Every (current, next) pair the graph forbids is rejected by the manager
	// with the current status reported, and every pair it allows succeeds.
	for _, current := range []models.JobStatus{
		models.JobAccepted, models.JobInProgress, models.JobCompleted, models.JobCancelled,
	} {
		for _, next := range []models.JobStatus{
			models.JobInProgress, models.JobCompleted, models.JobCancelled,
		} {
			post := e.newPost(t, 1, nil, nil)
			job, _ := e.acceptedJob(t, post.ID)
			switch current {
			case models.JobInProgress:
				_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobInProgress)
				require.NoError(t, err)
			case models.JobCompleted:
				_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobInProgress)
				require.NoError(t, err)
				_, err = e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCompleted)
				require.NoError(t, err)
			case models.JobCancelled:
				_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, models.JobCancelled)
				require.NoError(t, err)
			}

			_, err := e.alloc.SetJobStatus(ctx, e.contractor, job.ID, next)
			if models.CanTransitionJob(current, next) {
				assert.NoError(t, err, "%s -> %s", current, next)
				continue
			}
			var inv *lifecycle.InvalidTransitionError
			require.ErrorAs(t, err, &inv, "%s -> %s", current, next)
			assert.Equal(t, string(current), inv.From)
		}
	}
}

func TestSetJobStatus_HiddenFromStrangers(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	job, _ := e.acceptedJob(t, post.ID)

	stranger := models.Actor{ID: uuid.New(), Role: models.RoleContractor}
	_, err := e.alloc.SetJobStatus(context.Background(), stranger, job.ID, models.JobCancelled)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = e.alloc.GetJob(context.Background(), stranger, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAutoAdvance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	longPast := time.Now().UTC().Add(-48 * time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)

	// Due to start: start date passed, still accepted.
	duePost := e.newPost(t, 1, &past, &future)
	dueJob, _ := e.acceptedJob(t, duePost.ID)

	// Due to complete: already in progress, end date passed.
	donePost := e.newPost(t, 1, &longPast, &past)
	doneJob, _ := e.acceptedJob(t, donePost.ID)
	_, err := e.alloc.SetJobStatus(ctx, e.contractor, doneJob.ID, models.JobInProgress)
	require.NoError(t, err)

	// Not due: start date in the future.
	idlePost := e.newPost(t, 1, &future, nil)
	idleJob, _ := e.acceptedJob(t, idlePost.ID)

	started, completed := e.alloc.AutoAdvance(ctx, time.Now().UTC(), 100)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, completed)

	got, err := e.store.GetJob(ctx, dueJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobInProgress, got.Status)

	got, err = e.store.GetJob(ctx, doneJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)

	got, err = e.store.GetJob(ctx, idleJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobAccepted, got.Status)
}

func TestListJobs_ScopedToActor(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 2, nil, nil)
	ctx := context.Background()

	_, sub1 := e.acceptedJob(t, post.ID)
	e.acceptedJob(t, post.ID)

	jobs, total, err := e.alloc.ListJobs(ctx, e.contractor, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, jobs, 2)

	jobs, total, err = e.alloc.ListJobs(ctx, sub1, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, sub1.ID, jobs[0].WorkerID)
}

func TestCreatePost_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub := models.Actor{ID: uuid.New(), Role: models.RoleSubcontractor}
	_, err := e.alloc.CreatePost(ctx, sub, "title", "", 1, nil, nil)
	assert.ErrorIs(t, err, lifecycle.ErrUnauthorized)

	_, err = e.alloc.CreatePost(ctx, e.contractor, "", "", 1, nil, nil)
	var val *lifecycle.ValidationError
	assert.ErrorAs(t, err, &val)

	// max_workers below 1 is clamped, not rejected.
	post, err := e.alloc.CreatePost(ctx, e.contractor, "title", "", 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, post.MaxWorkers)
}

func TestUpdatePost_OnlyPublisher(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 2, nil, nil)
	ctx := context.Background()

	title := "Updated title"
	other := models.Actor{ID: uuid.New(), Role: models.RoleContractor}
	_, err := e.alloc.UpdatePost(ctx, other, post.ID, store.PostUpdate{Title: &title})
	assert.ErrorIs(t, err, store.ErrNotFound)

	updated, err := e.alloc.UpdatePost(ctx, e.contractor, post.ID, store.PostUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
}

func TestUpdatePost_ReduceMaxWorkersBelowActive(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 3, nil, nil)
	ctx := context.Background()

	e.acceptedJob(t, post.ID)
	e.acceptedJob(t, post.ID)

	// Shrinking below the active count succeeds; running jobs are untouched.
	one := 1
	updated, err := e.alloc.UpdatePost(ctx, e.contractor, post.ID, store.PostUpdate{MaxWorkers: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.MaxWorkers)

	active, err := e.store.CountActiveJobs(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	// But new accepts are blocked until attrition.
	req, _ := e.pendingRequest(t, post.ID)
	_, err = e.svc.Accept(ctx, e.contractor, req.ID)
	assert.ErrorIs(t, err, store.ErrCapacityExceeded)
}

func TestDeletePost_BlockedWhileBusy(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)
	ctx := context.Background()

	req, sub := e.pendingRequest(t, post.ID)

	err := e.alloc.DeletePost(ctx, e.contractor, post.ID)
	assert.ErrorIs(t, err, store.ErrPostBusy)

	_, err = e.svc.Withdraw(ctx, sub, req.ID)
	require.NoError(t, err)

	require.NoError(t, e.alloc.DeletePost(ctx, e.contractor, post.ID))

	_, err = e.alloc.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeletePost_OnlyPublisher(t *testing.T) {
	e := newEnv(t)
	post := e.newPost(t, 1, nil, nil)

	other := models.Actor{ID: uuid.New(), Role: models.RoleContractor}
	err := e.alloc.DeletePost(context.Background(), other, post.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
