package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
	"trafficcounter/internal/session"
	"trafficcounter/internal/storage"
)

// firstFrameTimeout bounds how long a snapshot request waits for a freshly
// started session to publish.
const firstFrameTimeout = 10 * time.Second

// CaptureFunc takes a single-shot capture from the configured source.
type CaptureFunc func() (*frame.Frame, error)

// SnapshotsHandler serves the snapshot catalogue: GET lists, POST takes a new
// snapshot, DELETE removes one by ?id=.
func SnapshotsHandler(manager *session.Manager, store *storage.SnapshotStore, repo repository.SnapshotRepository,
	capture CaptureFunc, logger *logger.Logger) http.HandlerFunc {
	list := ListSnapshotsHandler(repo, logger)
	create := CreateSnapshotHandler(manager, store, capture, logger)
	remove := DeleteSnapshotHandler(store, logger)

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list(w, r)
		case http.MethodPost:
			create(w, r)
		case http.MethodDelete:
			remove(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// ListSnapshotsHandler returns a filtered, paginated page of the catalogue.
func ListSnapshotsHandler(repo repository.SnapshotRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.SnapshotFilter{
			Stream: q.Get("stream"),
			Since:  parseDate(q.Get("dateAfter")),
			Until:  endOfDay(parseDate(q.Get("dateBefore"))),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		snapshots, err := repo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalSize, err := repo.GetTotalSize()
		if err != nil {
			logger.Error("Error getting snapshot directory size: %v", err)
			totalSize = 0
		}

		totalCount, err := repo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting snapshots: %v", err)
			totalCount = len(snapshots)
		}

		streams, err := repo.GetStreams()
		if err != nil {
			logger.Error("Error listing streams: %v", err)
		}

		infos := make([]dto.SnapshotInfo, 0, len(snapshots))
		for _, s := range snapshots {
			infos = append(infos, dto.NewSnapshotInfo(s))
		}

		data := dto.SnapshotsData{
			Snapshots:   infos,
			Streams:     streams,
			Size:        totalSize,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}
		writeJSON(w, http.StatusOK, data, logger)
	}
}

// CreateSnapshotHandler saves a snapshot. With ?stream= it stores the latest
// frame of that session, counting overlay included; without it takes a
// single-shot capture from the source.
func CreateSnapshotHandler(manager *session.Manager, store *storage.SnapshotStore, capture CaptureFunc,
	logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("stream")

		var (
			f   *frame.Frame
			err error
		)
		if name == "" {
			name = "snapshot"
			f, err = capture()
		} else {
			f, err = latestFrame(r.Context(), manager, name)
		}
		if errors.Is(err, session.ErrUnknownStream) {
			http.Error(w, "Unknown stream", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Error taking snapshot of %s: %v", name, err)
			http.Error(w, "Could not capture frame", http.StatusServiceUnavailable)
			return
		}

		snap, err := store.Save(name, f)
		if err != nil {
			logger.Error("Error saving snapshot of %s: %v", name, err)
			http.Error(w, "Could not save snapshot", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, dto.NewSnapshotInfo(*snap), logger)
	}
}

// latestFrame returns the newest frame of the named session, waiting for the
// first one when the session has only just started.
func latestFrame(ctx context.Context, manager *session.Manager, name string) (*frame.Frame, error) {
	s, err := manager.Get(name)
	if err != nil {
		return nil, err
	}
	if f, _ := s.Latest(); f != nil {
		return f, nil
	}

	ctx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
	defer cancel()
	f, err := s.NewGenerator(0).Next(ctx)
	if errors.Is(err, session.ErrClosed) {
		<-s.Done()
		if s.Err() != nil {
			return nil, s.Err()
		}
	}
	return f, err
}

// DeleteSnapshotHandler removes a snapshot from disk and the catalogue.
func DeleteSnapshotHandler(store *storage.SnapshotStore, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Snapshot id required", http.StatusBadRequest)
			return
		}

		if err := store.Delete(id); err != nil {
			logger.Error("Failed to delete snapshot %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted snapshot: %s", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id}, logger)
	}
}

// ViewSnapshotHandler serves a single snapshot file by ?id=.
func ViewSnapshotHandler(repo repository.SnapshotRepository, store *storage.SnapshotStore, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Snapshot id required", http.StatusBadRequest)
			return
		}

		snap, err := repo.GetByID(id)
		if err != nil {
			logger.Error("Error loading snapshot %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if snap == nil {
			http.NotFound(w, r)
			return
		}

		// only files inside the store directory are served
		http.ServeFile(w, r, filepath.Join(store.Dir(), filepath.Base(snap.Filename)))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
