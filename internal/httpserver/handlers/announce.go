package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/discovery/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discovery/internal/logger"
)

// Announce triggers an immediate re-announcement of this registry.
func Announce(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.AnnounceTrigger == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		select {
		case d.AnnounceTrigger <- struct{}{}:
			d.Logger.Info("manual announce triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusAccepted)
			if _, err := w.Write([]byte("✅ Announce triggered successfully\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		default:
			d.Logger.Warn("announce already pending",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("⏳ Announce already pending, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		}
	}
}
