package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"trafficcounter/internal/config"
	"trafficcounter/internal/handler"
	"trafficcounter/internal/hub"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/middleware"
	"trafficcounter/internal/repository"
	"trafficcounter/internal/session"
	"trafficcounter/internal/storage"
)

// Stream names registered with the session manager. StreamCapture holds the
// source; the other two are derived from it and served over HTTP.
const (
	StreamCapture = "capture"
	StreamVideo   = "video"
	StreamTraffic = "traffic"
)

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers the streams, the API endpoints, log endpoints and
// static pages, and wraps the mux with the access log middleware.
func SetupRoutes(manager *session.Manager, viewers *hub.Hub, store *storage.SnapshotStore,
	repo repository.SnapshotRepository, capture handler.CaptureFunc, cfg *config.Config, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDirectory))))

	// Streams
	mux.HandleFunc("/video", handler.StreamHandler(manager, StreamVideo, cfg.OutputFrameRate, log))
	mux.HandleFunc("/traffic", handler.StreamHandler(manager, StreamTraffic, cfg.OutputFrameRate, log))
	mux.HandleFunc("/ws/traffic", handler.ViewWebsocketHandler(viewers, log))

	// API endpoints
	mux.HandleFunc("/api/count", handler.CountHandler(manager, StreamTraffic, log))
	mux.HandleFunc("/api/snapshots", handler.SnapshotsHandler(manager, store, repo, capture, log))
	mux.HandleFunc("/api/snapshots/view", handler.ViewSnapshotHandler(repo, store, log))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(log, logger.ErrorFile))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(log, logger.InfoFile))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(log, logger.WarningFile))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(log, logger.ErrorFile))

	// Automatic HTML handler mapping for example: /about -> <static>/about.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDirectory))

	return middleware.LoggingMiddleware(log, mux)
}
