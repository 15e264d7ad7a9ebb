/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for the front end
  5. Authenticate: X-User-ID → actor (all /api routes)
  6. RequireRole:  Per-group role guard

ROUTE GROUPS:
  /api/users/*           Account management (admin)
  /api/donations/*       Submit (donor), list/detail (all), review (cashier, admin)
  /api/donors/{id}/*     Totals, tier and series (own data for donors)
  /api/reports/*         Summaries, series, standings, CSV (cashier, admin)
  /api/notifications/*   The caller's inbox

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Actor and role guards
  - cmd/donationd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/donation-ledger/donation"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID},
		AllowCredentials: true,
	}))

	staff := RequireRole(donation.RoleAdmin, donation.RoleCashier)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Route("/users", func(r chi.Router) {
			r.Use(RequireRole(donation.RoleAdmin))
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
		})

		r.Route("/donations", func(r chi.Router) {
			r.With(RequireRole(donation.RoleDonor)).Post("/", h.SubmitDonation)
			r.Get("/", h.ListDonations)
			r.Get("/{id}", h.GetDonation)
			r.Get("/{id}/proof", h.GetProof)
			r.With(staff).Post("/{id}/verify", h.VerifyDonation)
			r.With(staff).Post("/{id}/reject", h.RejectDonation)
		})

		r.Route("/donors/{id}", func(r chi.Router) {
			r.Get("/totals", h.DonorTotals)
			r.Get("/tier", h.DonorTier)
			r.Get("/series", h.DonorSeries)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(staff)
			r.Get("/summary", h.Summary)
			r.Get("/summary.csv", h.SummaryCSV)
			r.Get("/series", h.Series)
			r.Get("/series.csv", h.SeriesCSV)
			r.Get("/standings", h.Standings)
			r.Get("/standings.csv", h.StandingsCSV)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Post("/{id}/read", h.MarkNotificationRead)
		})
	})

	return r
}
