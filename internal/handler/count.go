package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/session"
)

// CountHandler reports the running total of a counting stream as JSON. The
// stream is chosen with ?stream= and defaults to def.
func CountHandler(manager *session.Manager, def string, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("stream")
		if name == "" {
			name = def
		}

		s, err := manager.Get(name)
		if errors.Is(err, session.ErrUnknownStream) {
			http.Error(w, "Unknown stream", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Error starting stream %s: %v", name, err)
			http.Error(w, "Stream unavailable", http.StatusServiceUnavailable)
			return
		}

		info := dto.CountInfo{
			Stream:      name,
			Session:     s.ID(),
			Captured:    s.Captured(),
			CaptureRate: s.CaptureRate(),
		}
		f, closed := s.Latest()
		info.Closed = closed
		if f != nil {
			info.Seq = f.Seq
			if f.Stats != nil {
				info.Total = f.Stats.Total
				info.Detections = f.Stats.Detections
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}
