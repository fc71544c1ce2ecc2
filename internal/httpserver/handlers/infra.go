package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/discovery/internal/fanout"
	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool        `json:"ok"`
	Mode   string      `json:"mode,omitempty"`
	Impact string      `json:"impact,omitempty"`
	Error  string      `json:"error,omitempty"`
	Pool   *poolStatus `json:"pool,omitempty"`
}

type poolStatus struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

type feedStatus struct {
	Key      string   `json:"key"`
	Types    []string `json:"types"`
	Members  int      `json:"members"`
	OpenedAt string   `json:"opened_at"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
	Fanout     fanout.Stats               `json:"fanout"`
	Owned      int                        `json:"owned_services"`
	Feeds      []feedStatus               `json:"feeds"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		components := map[string]componentStatus{
			"registry": checkRegistry(r.Context(), d),
			"fanout":   {OK: true, Mode: "feed-per-query"},
		}
		if d.RedisClient != nil {
			components["redis"] = redisPool(d)
		}

		feeds := d.Engine.Feeds()
		out := make([]feedStatus, 0, len(feeds))
		for _, f := range feeds {
			out = append(out, feedStatus{
				Key:      f.Key.Short(),
				Types:    f.Query.Types,
				Members:  len(d.Engine.Subscribers(f.Key)),
				OpenedAt: f.OpenedAt.Format("2006-01-02 15:04:05"),
			})
		}

		owned := 0
		if d.Lifecycle != nil {
			owned = d.Lifecycle.Owned()
		}

		response := infraResponse{
			Mode:       determineMode(components),
			Components: components,
			Fanout:     d.Engine.Stats(),
			Owned:      owned,
			Feeds:      out,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func determineMode(components map[string]componentStatus) string {
	if reg, exists := components["registry"]; exists && !reg.OK {
		return "critical" // no registry = nothing can register or be discovered
	}
	return "operational"
}

func checkRegistry(parent context.Context, d deps.Deps) componentStatus {
	if d.Registry == nil {
		return componentStatus{
			OK:     false,
			Mode:   d.Backend,
			Impact: "discovery-disabled",
			Error:  "registry not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.Registry.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   d.Backend,
			Impact: "registrations-failing",
			Error:  "timeout",
		}
	}

	return componentStatus{
		OK:   true,
		Mode: d.Backend,
	}
}

func redisPool(d deps.Deps) componentStatus {
	st := d.RedisClient.PoolStats()
	return componentStatus{
		OK:   true,
		Mode: "pooled",
		Pool: &poolStatus{
			Hits:       st.Hits,
			Misses:     st.Misses,
			Timeouts:   st.Timeouts,
			TotalConns: st.TotalConns,
			IdleConns:  st.IdleConns,
			StaleConns: st.StaleConns,
		},
	}
}
