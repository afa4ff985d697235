package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/repository/sqlite"
	"trafficcounter/internal/session"
	"trafficcounter/internal/source"
	"trafficcounter/internal/storage"
)

// ========================================
// Test Setup Helpers
// ========================================

// countingSource serves small JPEG-tagged frames carrying a running total.
type countingSource struct {
	mu       sync.Mutex
	reads    uint64
	released bool
}

func (s *countingSource) ReadFrame() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, source.ErrReleased
	}
	s.reads++
	return &frame.Frame{
		Data:     []byte{0xFF, 0xD8, byte(s.reads), 0xFF, 0xD9},
		Width:    320,
		Height:   100,
		Encoding: frame.JPEG,
		Stats:    &frame.Stats{Detections: 1, Total: s.reads},
	}, nil
}

func (s *countingSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func setupManager(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager(nil)
	factory := func(name string) session.Factory {
		return func() (*session.Session, error) {
			opts := session.Options{CaptureRate: 100, OutputRate: 50}
			return session.New(name, &countingSource{}, nil, opts, nil), nil
		}
	}
	m.Register("traffic", factory("traffic"))
	m.Register("video", factory("video"))
	m.Register("broken", func() (*session.Session, error) {
		return nil, source.ErrSourceUnavailable
	})
	t.Cleanup(m.Close)
	return m
}

func setupStore(t *testing.T) (*storage.SnapshotStore, *sqlite.SnapshotRepository) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewSnapshotRepository(db)
	return storage.NewSnapshotStore(filepath.Join(dir, "snapshots"), repo, nil), repo
}

// snapshotJSON mirrors dto.SnapshotInfo on the wire, where dates are
// formatted strings.
type snapshotJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Date       string `json:"date"`
	Stream     string `json:"stream"`
	Size       int64  `json:"size"`
	Detections int    `json:"detections"`
	Total      int64  `json:"total"`
}

type snapshotsJSON struct {
	Snapshots  []snapshotJSON `json:"snapshots"`
	Streams    []string       `json:"streams"`
	Size       int64          `json:"size"`
	Length     int            `json:"length"`
	TotalPages int            `json:"totalPages"`
}

func noCapture() (*frame.Frame, error) {
	return nil, source.ErrSourceUnavailable
}

// ========================================
// Count Tests
// ========================================

func TestCountHandler(t *testing.T) {
	m := setupManager(t)
	h := CountHandler(m, "traffic", logger.Discard())

	var info dto.CountInfo
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/count", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		info = dto.CountInfo{}
		return json.NewDecoder(rec.Body).Decode(&info) == nil && info.Seq > 0
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "traffic", info.Stream)
	assert.NotEmpty(t, info.Session)
	assert.Equal(t, info.Seq, info.Total)
	assert.Equal(t, 1, info.Detections)
	assert.Equal(t, 100.0, info.CaptureRate)
	assert.False(t, info.Closed)
}

func TestCountHandler_Errors(t *testing.T) {
	m := setupManager(t)
	h := CountHandler(m, "traffic", logger.Discard())

	tests := []struct {
		query string
		code  int
	}{
		{"?stream=nope", http.StatusNotFound},
		{"?stream=broken", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/count"+tt.query, nil))
		assert.Equal(t, tt.code, rec.Code, tt.query)
	}
}

// ========================================
// Stream Tests
// ========================================

func TestStreamHandler_WritesMultipartParts(t *testing.T) {
	m := setupManager(t)
	srv := httptest.NewServer(StreamHandler(m, "video", 25, logger.Discard()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	assert.Equal(t, Boundary, params["boundary"])

	mr := multipart.NewReader(resp.Body, Boundary)
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

		data, err := io.ReadAll(part)
		require.NoError(t, err)
		require.Len(t, data, 5)
		assert.Equal(t, byte(0xFF), data[0])
		assert.Equal(t, byte(0xD8), data[1])
	}
}

func TestStreamHandler_Errors(t *testing.T) {
	m := setupManager(t)

	rec := httptest.NewRecorder()
	StreamHandler(m, "broken", 25, logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/video", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	StreamHandler(m, "video", 25, logger.Discard())(rec, httptest.NewRequest(http.MethodPost, "/video", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// ========================================
// Snapshot Tests
// ========================================

func TestSnapshotsHandler_Lifecycle(t *testing.T) {
	m := setupManager(t)
	store, repo := setupStore(t)
	h := SnapshotsHandler(m, store, repo, noCapture, logger.Discard())
	view := ViewSnapshotHandler(repo, store, logger.Discard())

	// create from the live counting stream
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots?stream=traffic", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created snapshotJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "traffic", created.Stream)
	assert.Equal(t, 1, created.Detections)
	assert.Positive(t, created.Total)
	assert.Regexp(t, `^\d{2}-\d{2}-\d{4}$`, created.Date)

	// list
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var data snapshotsJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&data))
	require.Len(t, data.Snapshots, 1)
	assert.Equal(t, created.ID, data.Snapshots[0].ID)
	assert.Equal(t, []string{"traffic"}, data.Streams)
	assert.Equal(t, int64(5), data.Size)
	assert.Equal(t, 1, data.TotalPages)

	// view
	rec = httptest.NewRecorder()
	view(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots/view?id="+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), 5)

	// delete
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodDelete, "/api/snapshots?id="+created.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec = httptest.NewRecorder()
	view(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots/view?id="+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSnapshotHandler_SingleShot(t *testing.T) {
	m := setupManager(t)
	store, repo := setupStore(t)
	capture := func() (*frame.Frame, error) {
		return &frame.Frame{Data: []byte{0x89, 'P', 'N', 'G'}, Width: 2, Height: 2, Encoding: frame.PNG}, nil
	}
	h := SnapshotsHandler(m, store, repo, capture, logger.Discard())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created snapshotJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "snapshot", created.Stream)
	assert.True(t, strings.HasSuffix(created.Name, ".png"), created.Name)
}

func TestCreateSnapshotHandler_Errors(t *testing.T) {
	m := setupManager(t)
	store, repo := setupStore(t)
	h := SnapshotsHandler(m, store, repo, noCapture, logger.Discard())

	tests := []struct {
		method string
		target string
		code   int
	}{
		{http.MethodPost, "/api/snapshots", http.StatusServiceUnavailable},
		{http.MethodPost, "/api/snapshots?stream=nope", http.StatusNotFound},
		{http.MethodPost, "/api/snapshots?stream=broken", http.StatusServiceUnavailable},
		{http.MethodDelete, "/api/snapshots", http.StatusBadRequest},
		{http.MethodPut, "/api/snapshots", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(tt.method, tt.target, nil))
		assert.Equal(t, tt.code, rec.Code, "%s %s", tt.method, tt.target)
	}

	count, err := repo.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLatestFrame_ReportsSessionFailure(t *testing.T) {
	m := session.NewManager(nil)
	t.Cleanup(m.Close)
	m.Register("flaky", func() (*session.Session, error) {
		src := &failingSource{}
		return session.New("flaky", src, nil, session.Options{}, nil), nil
	})

	_, err := latestFrame(context.Background(), m, "flaky")
	assert.ErrorIs(t, err, source.ErrReadFailure)
}

type failingSource struct{}

func (failingSource) ReadFrame() (*frame.Frame, error) {
	return nil, errors.Join(errors.New("device gone"), source.ErrReadFailure)
}

func (failingSource) Release() error { return nil }

// ========================================
// Log Tests
// ========================================

func TestLogsHandlers(t *testing.T) {
	log, err := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	require.NoError(t, err)
	defer log.Close()

	log.Info("vehicle counted")

	rec := httptest.NewRecorder()
	ShowLogsHandler(log, logger.InfoFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vehicle counted")

	rec = httptest.NewRecorder()
	ClearLogsHandler(log, logger.InfoFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/info/clear", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	ClearLogsHandler(log, logger.InfoFile)(rec, httptest.NewRequest(http.MethodPost, "/logs/info/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	ShowLogsHandler(log, logger.InfoFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	assert.NotContains(t, rec.Body.String(), "vehicle counted")
}

func TestShowLogsHandler_NoLogDirectory(t *testing.T) {
	rec := httptest.NewRecorder()
	ShowLogsHandler(logger.Discard(), logger.ErrorFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/error", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ========================================
// Helper Function Tests
// ========================================

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"1", 0, 1},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
		{"12.5", 5, 5},
	}

	for _, tt := range tests {
		result := atoiDefault(tt.input, tt.def)
		if result != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, result, tt.expected)
		}
	}
}

func TestEndOfDay(t *testing.T) {
	day := parseDate("2026-05-01")
	if day.IsZero() {
		t.Fatal("Expected parsed date")
	}
	end := endOfDay(day)
	if end.Day() != 1 || end.Hour() != 23 || end.Minute() != 59 {
		t.Errorf("Unexpected end of day %v", end)
	}
	if !endOfDay(parseDate("not-a-date")).IsZero() {
		t.Error("Expected zero time for invalid date")
	}
}
