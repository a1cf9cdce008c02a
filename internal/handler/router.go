package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/counsel-meetings/internal/model"
)

// RouterConfig carries what the router needs besides the handler.
type RouterConfig struct {
	JWTSecret         string
	MaxRequestsPerMin int
	Resolver          ConsultantResolver
	Log               *zap.Logger
}

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(h *BookingHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(cfg.Log))         // structured access log
	r.Use(CORS)
	r.Use(NewRateLimiter(cfg.MaxRequestsPerMin, cfg.Log).Middleware)

	// Health
	r.Get("/health", HealthCheck)

	// API routes
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret, cfg.Resolver, cfg.Log))

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Get("/dates", h.ListDates)
			r.Post("/{id}/join", h.JoinMeeting)
			r.Post("/{id}/close", h.CloseMeeting)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(model.RoleConsultant))
				r.Post("/", h.CreateBooking)
				r.Put("/{id}", h.RescheduleBooking)
				r.Delete("/{id}", h.CancelBooking)
			})
		})

		r.Get("/consultants/{id}/slots", h.AvailableSlots)
	})

	return r
}
