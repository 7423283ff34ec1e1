package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pulseworks/taskmetrics/internal/auth"
	"github.com/pulseworks/taskmetrics/internal/pkg/httputil"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, authManager *auth.Manager) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - allow credentials for the session cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Auth routes (no auth required)
	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	// Machine-to-machine batch trigger: shared-secret bearer auth, no
	// session. The handler rejects before doing any work.
	r.Post("/stats/batch", h.BatchUpdate)

	// User-facing stats API (session auth)
	r.Route("/api/stats", func(r chi.Router) {
		r.Use(h.requireSession)
		r.Post("/update", h.RecordStat)
		r.Get("/daily", h.GetDailyStats)
		r.Get("/weekly", h.GetWeeklyStats)
		r.Get("/yearly", h.GetYearlyStats)
		r.Get("/distribution", h.GetDistribution)
	})

	return r
}

// requireSession rejects requests without a valid session and stores the
// user id in the request context for the handlers.
func (h *Handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if h.sessions != nil {
			userID = h.sessions.UserID(r)
		}
		if userID == "" {
			httputil.Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}
