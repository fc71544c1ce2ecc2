package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/discovery/internal/domain"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discovery/internal/logger"
	"github.com/MrSnakeDoc/discovery/internal/registry"
)

type servicesResponse struct {
	registry.Page
	HasNext bool `json:"has_next"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListServices serves GET /api/v1/services?types=A,B&page=0&size=50.
// Without types every descriptor is listed.
func ListServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := registry.PageRequest{
			Page: atoiOr(q.Get("page"), 0),
			Size: atoiOr(q.Get("size"), d.PageSize),
		}.Normalize()

		var (
			page registry.Page
			err  error
		)
		if types := parseTypes(q["types"]); len(types) > 0 {
			page, err = d.Registry.FindByTypes(r.Context(), types, req)
		} else {
			page, err = allPaged(r, d, req)
		}
		if err != nil {
			writeError(w, d, err)
			return
		}

		writeJSON(w, http.StatusOK, servicesResponse{Page: page, HasNext: page.HasNext()})
	}
}

// GetService serves GET /api/v1/services/{id}.
func GetService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := d.Registry.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, desc)
	}
}

func allPaged(r *http.Request, d deps.Deps, req registry.PageRequest) (registry.Page, error) {
	all, err := d.Registry.All(r.Context())
	if err != nil {
		return registry.Page{}, err
	}
	lo, hi := req.Window(len(all))
	return registry.Page{Elements: all[lo:hi], Page: req.Page, Size: req.Size, Total: len(all)}, nil
}

// parseTypes accepts both ?types=A,B and ?types=A&types=B.
func parseTypes(values []string) []string {
	var out []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}

func writeError(w http.ResponseWriter, d deps.Deps, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrRegistryUnavailable):
		d.Logger.Warn("registry unavailable", logger.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "registry unavailable"})
	default:
		d.Logger.Error("request failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
