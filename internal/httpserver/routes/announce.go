package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/mw"
)

func init() { Register(registerAnnounce) }

func registerAnnounce(r chi.Router, d deps.Deps) {
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger)).Post("/announce", handlers.Announce(d))
}
