package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"estate-auth/internal/config"
	"estate-auth/internal/models"
	"estate-auth/internal/service"
)

// NewRouter wires all routes with the shared middleware stack.
func NewRouter(
	cfg *config.Config,
	authHandler *AuthHandler,
	resetHandler *ResetHandler,
	activityHandler *ActivityHandler,
	tokens *service.TokenService,
	healthCheck func() map[string]string,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(LoggerMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		respondWithJSON(w, http.StatusOK, Response{
			Success: true,
			Data:    healthCheck(),
		})
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/send-otp", authHandler.SendOTP)
		r.Post("/verify-otp", authHandler.VerifyOTP)
		r.Post("/refresh", authHandler.Refresh)

		r.Route("/forgot-password", func(r chi.Router) {
			r.Post("/send-otp", resetHandler.SendOTP)
			r.Post("/verify-otp", resetHandler.VerifyOTP)
			r.Post("/reset", resetHandler.Reset)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens))
			r.Post("/logout", authHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin())
				r.Get("/gateway/balance", authHandler.GatewayBalance)
			})
		})
	})

	r.Route("/api/v1/activity", func(r chi.Router) {
		r.Use(AuthMiddleware(tokens))
		r.Use(RequireRole(models.RoleAdmin))
		r.Get("/search", activityHandler.Search)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondWithError(w, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
