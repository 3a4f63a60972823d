package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/pkoshelev/studio-booking/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бронирования занятий.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/identify", h.Identify)
		r.Get("/courses", h.ListCourses)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/courses/{courseID}/book", h.BookCourse)
			r.Post("/courses/{courseID}/cancel", h.CancelBooking)

			r.Get("/user/points", h.GetPoints)

			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/reference", h.SubmitReference)
			r.Post("/orders/cancel", h.CancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.AdminAuth(h.adminToken))

			r.Post("/courses", h.CreateCourse)
			r.Delete("/courses/{courseID}", h.CancelCourse)

			r.Get("/orders", h.ListPendingOrders)
			r.Post("/orders/{orderID}/confirm", h.ConfirmOrder)
			r.Post("/orders/{orderID}/reject", h.RejectOrder)

			r.Post("/users/{userID}/points", h.AdjustPoints)
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
