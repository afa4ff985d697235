package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"trafficcounter/internal/logger"
)

func TestLoggingMiddleware_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(logger.New(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots/view", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, buf.String(), "GET /api/snapshots/view 404")
}

func TestLoggingMiddleware_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(logger.New(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Panic serving POST /api/snapshots: boom")
}

func TestLoggingMiddleware_SkipsStreams(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(logger.New(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/traffic", nil))

	assert.True(t, rec.Flushed)
	assert.Empty(t, buf.String())
}
