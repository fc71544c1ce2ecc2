package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/mw"
)

func init() { Register(registerServices) }

func registerServices(r chi.Router, d deps.Deps) {
	timeout := d.APITimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.APIBurst,
			RefillPerIPPerMin: d.APIRate,
			MaxEntries:        10000,
			TrustProxy:        d.TrustProxy,
		}),
		middleware.Timeout(timeout),
	).Route("/api/v1/services", func(r chi.Router) {
		r.Get("/", handlers.ListServices(d))
		r.Get("/{id}", handlers.GetService(d))
	})
}
