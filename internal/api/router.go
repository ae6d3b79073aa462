package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/crewboardhq/crewboard/internal/api/middleware"
	"github.com/crewboardhq/crewboard/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreatePostHandler http.HandlerFunc
	GetPostHandler    http.HandlerFunc
	UpdatePostHandler http.HandlerFunc
	DeletePostHandler http.HandlerFunc

	CreateRequestHandler   http.HandlerFunc
	GetRequestHandler      http.HandlerFunc
	ListRequestsHandler    http.HandlerFunc
	AcceptRequestHandler   http.HandlerFunc
	DenyRequestHandler     http.HandlerFunc
	WithdrawRequestHandler http.HandlerFunc
	MyStatusHandler        http.HandlerFunc

	SetJobStatusHandler http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	ListJobsHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/posts", orNotImplemented(deps.CreatePostHandler))
		r.Get("/api/v1/posts/{postID}", orNotImplemented(deps.GetPostHandler))
		r.Patch("/api/v1/posts/{postID}", orNotImplemented(deps.UpdatePostHandler))
		r.Delete("/api/v1/posts/{postID}", orNotImplemented(deps.DeletePostHandler))

		r.Post("/api/v1/requests", orNotImplemented(deps.CreateRequestHandler))
		r.Get("/api/v1/requests", orNotImplemented(deps.ListRequestsHandler))
		// my-status must register before {requestID} so chi does not try to
		// parse it as a UUID.
		r.Get("/api/v1/requests/my-status", orNotImplemented(deps.MyStatusHandler))
		r.Get("/api/v1/requests/{requestID}", orNotImplemented(deps.GetRequestHandler))
		r.Patch("/api/v1/requests/{requestID}/accept", orNotImplemented(deps.AcceptRequestHandler))
		r.Patch("/api/v1/requests/{requestID}/deny", orNotImplemented(deps.DenyRequestHandler))
		r.Patch("/api/v1/requests/{requestID}/withdraw", orNotImplemented(deps.WithdrawRequestHandler))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Patch("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.SetJobStatusHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
