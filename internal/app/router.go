package app

import (
	"net/http"

	"github.com/crewdeck/crewdeck/internal/apperrors"
	"github.com/crewdeck/crewdeck/internal/audit"
	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/metrics"
	"github.com/crewdeck/crewdeck/internal/orgs"
	"github.com/crewdeck/crewdeck/internal/projects"
	"github.com/crewdeck/crewdeck/internal/tasks"
	"github.com/crewdeck/crewdeck/internal/users"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(pool *pgxpool.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	isProduction := !cfg.IsDev()

	// Middleware stack
	r.Use(middleware.RealIP)             // Set RemoteAddr to real IP
	r.Use(apperrors.RequestIDMiddleware) // Add request ID to context
	r.Use(LoggingMiddleware)             // Structured request logging
	r.Use(RecoveryMiddleware)            // Recover from panics
	r.Use(metrics.Instrument)            // RPS / latency / in-flight
	r.Use(cors.Handler(cors.Options{     // CORS (pinned dep)
		AllowedOrigins:   []string{cfg.BaseURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Middleware(cfg.JWTSecret)) // Validate session cookies

	// Audit writer (shared across API routes)
	auditor := audit.NewWriter(pool)

	// Health check routes (no authentication required)
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(pool))

	// Prometheus scrape endpoint
	r.Handle("/metrics", metrics.Handler())

	// API routes - Authentication
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)              // Set Content-Type to application/json
		r.Use(CSRFMiddleware(isProduction)) // Validate CSRF tokens

		// Signup (no rate limit for now)
		r.Post("/signup", auth.HandleSignup(pool, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))

		// Login with rate limiting (10 requests per minute)
		r.With(LoginRateLimitMiddleware()).Post("/login", auth.HandleLogin(pool, auditor, cfg.JWTSecret, cfg.SessionDays, isProduction))

		// Logout (requires authentication)
		r.With(auth.RequireAuth).Post("/logout", auth.HandleLogout(isProduction))
	})

	// API routes - everything below requires a session
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(CSRFMiddleware(isProduction))
		r.Use(auth.RequireAuth)

		// Current user profile with derived membership view
		r.Get("/me", users.HandleMe(pool))

		// Organizations
		r.Route("/orgs", func(r chi.Router) {
			r.Post("/", orgs.HandleCreate(pool, auditor))
			r.Get("/", orgs.HandleList(pool))
			// Alias kept for clients that join through the org surface
			r.Post("/join", orgs.HandleSubmitRequest(pool, auditor))
			r.Post("/leave", orgs.HandleLeave(pool, auditor))
			r.Post("/switch", orgs.HandleSwitch(pool, auditor))
			r.Get("/{org_id}/members", orgs.HandleListMembers(pool))
			r.Get("/{org_id}/audit", orgs.HandleListAudit(pool))
		})

		// Join requests
		r.Route("/member-requests", func(r chi.Router) {
			r.Post("/", orgs.HandleSubmitRequest(pool, auditor))
			r.Get("/latest", orgs.HandleRequestStatus(pool))
			r.Get("/pending", orgs.HandleListPendingRequests(pool))
			r.Delete("/pending", orgs.HandleCancelRequest(pool, auditor))
			r.Post("/{request_id}/approve", orgs.HandleApproveRequest(pool, auditor))
			r.Post("/{request_id}/reject", orgs.HandleRejectRequest(pool, auditor))
		})

		// Roster management in the caller's current organization
		r.Route("/members", func(r chi.Router) {
			r.Patch("/{user_id}/role", orgs.HandleUpdateMemberRole(pool, auditor))
			r.Delete("/{user_id}", orgs.HandleRemoveMember(pool, auditor))
		})

		// Projects
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", projects.HandleCreate(pool, auditor))
			r.Get("/", projects.HandleList(pool))
			r.Get("/{project_id}", projects.HandleGet(pool))
			r.Patch("/{project_id}", projects.HandleUpdateLead(pool, auditor))
			r.Post("/{project_id}/members", projects.HandleAddMember(pool, auditor))
		})

		// Tasks
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", tasks.HandleCreate(pool, auditor))
			r.Get("/", tasks.HandleList(pool))
			r.Patch("/{task_id}/assignee", tasks.HandleReassign(pool, auditor))
			r.Patch("/{task_id}/status", tasks.HandleUpdateStatus(pool))
		})
	})

	return r
}

// handleHealthz returns a simple liveness check
// Always returns 200 OK if the service is running
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleReadyz returns a readiness check that includes database connectivity
// Returns 200 OK if service is ready to accept traffic, 503 if not
func handleReadyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Check database connectivity
		if err := pool.Ping(r.Context()); err != nil {
			apperrors.WriteServiceUnavailable(w, r, "Database connection failed")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]string{
			"status": "ready",
			"db":     "ok",
		})
	}
}
