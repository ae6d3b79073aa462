package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/crewboardhq/crewboard/internal/allocation"
	"github.com/crewboardhq/crewboard/internal/api"
	"github.com/crewboardhq/crewboard/internal/api/handler"
	mw "github.com/crewboardhq/crewboard/internal/api/middleware"
	"github.com/crewboardhq/crewboard/internal/event"
	"github.com/crewboardhq/crewboard/internal/lifecycle"
	"github.com/crewboardhq/crewboard/internal/recommend"
	"github.com/crewboardhq/crewboard/internal/store"
	"github.com/crewboardhq/crewboard/pkg/models"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	contractorKey = "cbk_contractor_key_1234567890"
	subKey        = "cbk_subcontractor_key_1234567890"
)

// stubCache is a no-op cache.Cache: always a miss, never an error.
type stubCache struct{}

func (stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (stubCache) Delete(_ context.Context, _ ...string) error                      { return nil }
func (stubCache) Ping(_ context.Context) error                                     { return nil }
func (stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type testServer struct {
	router     http.Handler
	store      *store.MemoryStore
	contractor *models.Account
	sub        *models.Account
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()

	contractor := seedAccount(t, st, "BuildCo", models.RoleContractor, contractorKey)
	sub := seedAccount(t, st, "Pete", models.RoleSubcontractor, subKey)

	alloc := allocation.NewManager(st, event.NopEmitter{})
	svc := lifecycle.NewService(st, alloc, event.NopEmitter{}, recommend.Disabled{}, 14*24*time.Hour)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(stubCache{}, 1000),

		CreatePostHandler: handler.NewCreatePostHandler(alloc),
		GetPostHandler:    handler.NewGetPostHandler(alloc),
		UpdatePostHandler: handler.NewUpdatePostHandler(alloc),
		DeletePostHandler: handler.NewDeletePostHandler(alloc),

		CreateRequestHandler:   handler.NewCreateRequestHandler(svc),
		GetRequestHandler:      handler.NewGetRequestHandler(svc),
		ListRequestsHandler:    handler.NewListRequestsHandler(svc),
		AcceptRequestHandler:   handler.NewRequestActionHandler(svc, "accept"),
		DenyRequestHandler:     handler.NewRequestActionHandler(svc, "deny"),
		WithdrawRequestHandler: handler.NewRequestActionHandler(svc, "withdraw"),
		MyStatusHandler:        handler.NewMyStatusHandler(svc, stubCache{}),

		SetJobStatusHandler: handler.NewSetJobStatusHandler(alloc),
		GetJobHandler:       handler.NewGetJobHandler(alloc),
		ListJobsHandler:     handler.NewListJobsHandler(alloc),
	}

	return &testServer{
		router:     api.NewRouter(deps),
		store:      st,
		contractor: contractor,
		sub:        sub,
	}
}

func seedAccount(t *testing.T, st store.Store, name string, role models.Role, rawKey string) *models.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	a := &models.Account{
		ID: uuid.New(), Name: name, Role: role,
		KeyHash: string(hash), KeyPrefix: rawKey[:8],
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateAccount(context.Background(), a))
	return a
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %s", w.Body.String())
	return data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", w.Body.String())
	return errObj["code"].(string)
}

func (ts *testServer) createPost(t *testing.T, maxWorkers int) string {
	t.Helper()
	w := ts.do(t, "POST", "/api/v1/posts", contractorKey, map[string]any{
		"title":       "Kitchen remodel",
		"content":     "Four weeks",
		"max_workers": maxWorkers,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData(t, w)["id"].(string)
}

func (ts *testServer) applyToPost(t *testing.T, postID string) string {
	t.Helper()
	w := ts.do(t, "POST", "/api/v1/requests", subKey, map[string]any{
		"post_id": postID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData(t, w)["id"].(string)
}

// ─── auth ────────────────────────────────────────────────────────────────────

func TestAPI_MissingToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/api/v1/requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errCode(t, w))
}

func TestAPI_WrongToken(t *testing.T) {
	ts := newTestServer(t)

	// Same prefix as a real key, wrong secret.
	w := ts.do(t, "GET", "/api/v1/requests", contractorKey[:8]+"_not_the_real_key", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_HealthIsPublic(t *testing.T) {
	ts := newTestServer(t)

	// No health handler wired in this fixture; the route must still not
	// demand a token.
	w := ts.do(t, "GET", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

// ─── posts ───────────────────────────────────────────────────────────────────

func TestAPI_CreatePost(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/posts", contractorKey, map[string]any{
		"title":       "Kitchen remodel",
		"max_workers": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "Kitchen remodel", data["title"])
	assert.Equal(t, float64(2), data["max_workers"])
	assert.Equal(t, ts.contractor.ID.String(), data["publisher_id"])
}

func TestAPI_CreatePost_SubcontractorForbidden(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/posts", subKey, map[string]any{
		"title": "Nope", "max_workers": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errCode(t, w))
}

func TestAPI_CreatePost_MissingTitle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/posts", contractorKey, map[string]any{"max_workers": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
}

func TestAPI_GetPost_BadUUID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/api/v1/posts/not-a-uuid", subKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_DeletePost_Busy(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	ts.applyToPost(t, postID)

	w := ts.do(t, "DELETE", "/api/v1/posts/"+postID, contractorKey, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "POST_BUSY", errCode(t, w))
}

func TestAPI_DeletePost(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)

	w := ts.do(t, "DELETE", "/api/v1/posts/"+postID, contractorKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, "GET", "/api/v1/posts/"+postID, contractorKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ─── requests ────────────────────────────────────────────────────────────────

func TestAPI_ApplyAndAccept(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)
	requestID := ts.applyToPost(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/accept", contractorKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	job := decodeData(t, w)
	assert.Equal(t, "accepted", job["status"])
	assert.Equal(t, requestID, job["request_id"])
	assert.Equal(t, ts.sub.ID.String(), job["worker_id"])
}

func TestAPI_DuplicateApply(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)
	requestID := ts.applyToPost(t, postID)

	w := ts.do(t, "POST", "/api/v1/requests", subKey, map[string]any{"post_id": postID})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", errCode(t, w))

	var body struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, requestID, body.Error.Details["existing_request_id"])
}

func TestAPI_Invite(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)

	w := ts.do(t, "POST", "/api/v1/requests", contractorKey, map[string]any{
		"post_id":          postID,
		"subcontractor_id": ts.sub.ID.String(),
		"origin":           "contractor",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decodeData(t, w)
	requestID := data["id"].(string)
	assert.Equal(t, "contractor", data["origin"])

	// The inviting contractor cannot confirm their own invite.
	w = ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/accept", contractorKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The invited subcontractor confirms it.
	w = ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/accept", subKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_InviteRequiresSubcontractorID(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)

	w := ts.do(t, "POST", "/api/v1/requests", contractorKey, map[string]any{
		"post_id": postID,
		"origin":  "contractor",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_AcceptTwice(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)
	requestID := ts.applyToPost(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/accept", contractorKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/accept", contractorKey, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", errCode(t, w))
}

func TestAPI_AcceptAtCapacity(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	first := ts.applyToPost(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/requests/"+first+"/accept", contractorKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// A second subcontractor's request hits the full post.
	seedAccount(t, ts.store, "Second", models.RoleSubcontractor, "cbk_othr_subcontractor_key_000")
	w = ts.do(t, "POST", "/api/v1/requests", "cbk_othr_subcontractor_key_000", map[string]any{"post_id": postID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	second := decodeData(t, w)["id"].(string)

	w = ts.do(t, "PATCH", "/api/v1/requests/"+second+"/accept", contractorKey, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CAPACITY_EXCEEDED", errCode(t, w))
}

func TestAPI_WithdrawByContractorForbidden(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	requestID := ts.applyToPost(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/withdraw", contractorKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/withdraw", subKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "withdrawn", decodeData(t, w)["status"])
}

func TestAPI_RequestHiddenFromStranger(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	requestID := ts.applyToPost(t, postID)

	seedAccount(t, ts.store, "Nosy", models.RoleSubcontractor, "cbk_nosy_subcontractor_key_000")
	w := ts.do(t, "GET", "/api/v1/requests/"+requestID, "cbk_nosy_subcontractor_key_000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))
}

func TestAPI_ListRequests(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 3)
	ts.applyToPost(t, postID)

	w := ts.do(t, "GET", "/api/v1/requests?page=1&limit=10", contractorKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page    int  `json:"page"`
			Limit   int  `json:"limit"`
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, 1, body.Meta.Total)
	assert.False(t, body.Meta.HasNext)
}

func TestAPI_MyStatus(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)
	requestID := ts.applyToPost(t, postID)
	otherPost := ts.createPost(t, 2)

	path := fmt.Sprintf("/api/v1/requests/my-status?post_ids=%s,%s", postID, otherPost)
	w := ts.do(t, "GET", path, subKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Data map[string]struct {
			RequestID string `json:"request_id"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body.Data, postID)
	assert.Equal(t, requestID, body.Data[postID].RequestID)
	assert.Equal(t, "pending", body.Data[postID].Status)
	assert.NotContains(t, body.Data, otherPost)
}

func TestAPI_MyStatus_ContractorForbidden(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)

	w := ts.do(t, "GET", "/api/v1/requests/my-status?post_ids="+postID, contractorKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ─── jobs ────────────────────────────────────────────────────────────────────

func (ts *testServer) acceptedJob(t *testing.T, postID string) string {
	t.Helper()
	requestID := ts.applyToPost(t, postID)
	w := ts.do(t, "PATCH", "/api/v1/requests/"+requestID+"/accept", contractorKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeData(t, w)["id"].(string)
}

func TestAPI_JobLifecycle(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	jobID := ts.acceptedJob(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/jobs/"+jobID+"/status", contractorKey, map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in_progress", decodeData(t, w)["status"])

	w = ts.do(t, "PATCH", "/api/v1/jobs/"+jobID+"/status", contractorKey, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "completed", data["status"])
	assert.NotEmpty(t, data["completed_at"])
}

func TestAPI_JobStatus_WorkerCannotStart(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	jobID := ts.acceptedJob(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/jobs/"+jobID+"/status", subKey, map[string]any{"status": "in_progress"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// But the worker can cancel.
	w = ts.do(t, "PATCH", "/api/v1/jobs/"+jobID+"/status", subKey, map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_JobStatus_UnknownValue(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	jobID := ts.acceptedJob(t, postID)

	w := ts.do(t, "PATCH", "/api/v1/jobs/"+jobID+"/status", contractorKey, map[string]any{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_JobStatus_SettingAcceptedRejected(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 1)
	jobID := ts.acceptedJob(t, postID)

	// accepted parses as a JobStatus but is never a valid target.
	w := ts.do(t, "PATCH", "/api/v1/jobs/"+jobID+"/status", contractorKey, map[string]any{"status": "accepted"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ListJobs(t *testing.T) {
	ts := newTestServer(t)
	postID := ts.createPost(t, 2)
	ts.acceptedJob(t, postID)

	w := ts.do(t, "GET", "/api/v1/jobs", subKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, ts.sub.ID.String(), body.Data[0]["worker_id"])
}
