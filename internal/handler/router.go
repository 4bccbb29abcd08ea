package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/vpetrenko/storefront-system/internal/middleware"
)

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// SetupRouter configures the HTTP routes and middleware of the
// storefront service.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/logout", h.Logout)
				r.Get("/profile", h.GetProfile)
				r.Put("/profile", h.UpdateProfile)
				r.Post("/upgrade", h.UpgradeToFranchise)
				r.Post("/revert", h.RevertToCustomer)
			})
		})

		r.With(h.authMiddleware.Middleware).Get("/users", h.ListUsers)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/track/{userID}/{orderCode}", h.TrackOrder)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/", h.CreateOrder)
				r.Get("/", h.GetOrders)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
