package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/session"
)

// Boundary separates parts of the multipart stream.
const Boundary = "frame"

// StreamHandler serves the named session as multipart/x-mixed-replace, one
// part per encoded frame at rate frames per second. Each request gets its own
// generator; the session is started on first request.
func StreamHandler(manager *session.Manager, name string, rate float64, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		s, err := manager.Get(name)
		if err != nil {
			logger.Error("Error starting stream %s: %v", name, err)
			http.Error(w, "Stream unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		logger.Info("Client %s connected to %s", r.RemoteAddr, name)

		err = s.NewGenerator(rate).Run(r.Context(), func(f *frame.Frame) error {
			if err := writePart(w, f); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		})
		switch {
		case err == nil:
			logger.Info("Stream %s ended for client %s", name, r.RemoteAddr)
		case errors.Is(err, context.Canceled):
			logger.Info("Client %s disconnected from %s", r.RemoteAddr, name)
		default:
			logger.Warning("Stream %s to %s stopped: %v", name, r.RemoteAddr, err)
		}
	}
}

func writePart(w http.ResponseWriter, f *frame.Frame) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
		Boundary, f.Encoding.ContentType(), len(f.Data)); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
