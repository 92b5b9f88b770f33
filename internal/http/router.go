package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Checkout       *CheckoutHandler
	Cart           *CartHandler
	Orders         *OrdersHandler
	JWTSecret      []byte
	Metrics        http.Handler
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// long-lived, so outside the timeout and compression group
		r.Get("/checkout/{checkout_id}/events", cfg.Checkout.Events)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			r.Use(middleware.Compress(5))

			r.Get("/cart", cfg.Cart.GetCart)
			r.Put("/cart/items", cfg.Cart.PutItem)
			r.Delete("/cart/items/{product_id}", cfg.Cart.RemoveItem)

			r.Post("/checkout", cfg.Checkout.BeginCheckout)
			r.Get("/checkout/{checkout_id}", cfg.Checkout.GetCheckout)
			r.Put("/checkout/{checkout_id}/method", cfg.Checkout.SelectMethod)
			r.Post("/checkout/{checkout_id}/intent", cfg.Checkout.RequestIntent)
			r.Post("/checkout/{checkout_id}/cancel", cfg.Checkout.Cancel)
			r.Post("/checkout/{checkout_id}/retry", cfg.Checkout.Retry)
			r.Get("/checkout/{checkout_id}/history", cfg.Checkout.History)

			if cfg.Orders != nil {
				r.Get("/orders", cfg.Orders.ListOrders)
			}
		})
	})
	return r
}
