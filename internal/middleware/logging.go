package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"trafficcounter/internal/logger"
)

// statusRecorder captures the response status for the access log. It passes
// Flush and Hijack through so streaming and websocket handlers keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// LoggingMiddleware writes one access log line per request and turns handler
// panics into 500 responses.
func LoggingMiddleware(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(rec, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(rec, r)

		// streams log their own lifetime
		if isLongLived(r) {
			return
		}
		log.Info("%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

func isLongLived(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
		r.URL.Path == "/video" || r.URL.Path == "/traffic"
}
