package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/mw"
)

func init() { Register(registerWS) }

func registerWS(r chi.Router, d deps.Deps) {
	if d.WS == nil {
		return
	}
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger)).Get("/ws", d.WS.ServeHTTP)
}
