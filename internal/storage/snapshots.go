package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
)

// TimestampLayout is the timestamp prefix of every snapshot filename.
const TimestampLayout = "2006-01-02_15-04_05.000"

// SnapshotStore writes snapshot files to disk and records them in the catalogue.
type SnapshotStore struct {
	dir    string
	repo   repository.SnapshotRepository
	logger *logger.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewSnapshotStore creates a store rooted at dir.
func NewSnapshotStore(dir string, repo repository.SnapshotRepository, log *logger.Logger) *SnapshotStore {
	if log == nil {
		log = logger.Discard()
	}
	return &SnapshotStore{
		dir:    dir,
		repo:   repo,
		logger: log,
		now:    time.Now,
	}
}

// Dir returns the directory snapshots are written to.
func (s *SnapshotStore) Dir() string {
	return s.dir
}

// Save writes an encoded frame taken from stream and inserts its catalogue row.
func (s *SnapshotStore) Save(stream string, f *frame.Frame) (*model.Snapshot, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("snapshot of %s is empty", stream)
	}
	if !f.Encoding.Compressed() {
		return nil, fmt.Errorf("snapshot of %s is not encoded (%s)", stream, f.Encoding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	id := uuid.New().String()
	ts := s.now()
	filename := fmt.Sprintf("%s_%s_%s%s", ts.Format(TimestampLayout), stream, id[:8], f.Encoding.Ext())
	fullpath := filepath.Join(s.dir, filename)

	if err := os.WriteFile(fullpath, f.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save snapshot %s: %w", filename, err)
	}

	snap := &model.Snapshot{
		ID:        id,
		Filename:  filename,
		Stream:    stream,
		Encoding:  f.Encoding.String(),
		Timestamp: ts,
		FilePath:  fullpath,
		FileSize:  int64(len(f.Data)),
		Width:     f.Width,
		Height:    f.Height,
	}
	if f.Stats != nil {
		snap.Detections = f.Stats.Detections
		snap.Total = int64(f.Stats.Total)
	}

	if err := s.repo.Insert(snap); err != nil {
		// keep disk and catalogue consistent
		if rerr := os.Remove(fullpath); rerr != nil {
			s.logger.Warning("Error removing orphaned snapshot %s: %v", filename, rerr)
		}
		return nil, fmt.Errorf("failed to catalogue snapshot %s: %w", filename, err)
	}

	s.logger.Info("Saved snapshot %s (%d bytes)", filename, snap.FileSize)
	return snap, nil
}

// Delete removes a snapshot file and its catalogue row. Unknown IDs are not an error.
func (s *SnapshotStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	if err := os.Remove(snap.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	return s.repo.Delete(id)
}

// Import catalogues snapshot files in the store directory that have no row
// yet, e.g. after restoring files from a backup. It returns how many files
// were added and how many were skipped.
func (s *SnapshotStore) Import() (added, skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		ts, stream, enc, err := ParseFilename(name)
		if err != nil {
			s.logger.Warning("Skipping %s: %v", name, err)
			skipped++
			continue
		}
		exists, err := s.repo.Exists(name)
		if err != nil {
			return added, skipped, err
		}
		if exists {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warning("Failed to get info for %s: %v", name, err)
			skipped++
			continue
		}

		snap := &model.Snapshot{
			ID:        uuid.New().String(),
			Filename:  name,
			Stream:    stream,
			Encoding:  enc.String(),
			Timestamp: ts,
			FilePath:  filepath.Join(s.dir, name),
			FileSize:  info.Size(),
		}
		if err := s.repo.Insert(snap); err != nil {
			return added, skipped, err
		}
		added++
	}

	s.logger.Info("Imported %d snapshots from %s (%d skipped)", added, s.dir, skipped)
	return added, skipped, nil
}

// ParseFilename splits a snapshot filename into its timestamp, stream name
// and encoding.
func ParseFilename(filename string) (time.Time, string, frame.Encoding, error) {
	ext := filepath.Ext(filename)
	enc, err := frame.ParseEncoding(ext)
	if err != nil {
		return time.Time{}, "", frame.Raw, err
	}

	parts := strings.Split(strings.TrimSuffix(filename, ext), "_")
	// date, time, seconds, stream..., id
	if len(parts) < 5 {
		return time.Time{}, "", frame.Raw, fmt.Errorf("invalid filename format: %s", filename)
	}

	ts, err := time.ParseInLocation(TimestampLayout, strings.Join(parts[:3], "_"), time.Local)
	if err != nil {
		return time.Time{}, "", frame.Raw, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	stream := strings.Join(parts[3:len(parts)-1], "_")
	if stream == "" {
		return time.Time{}, "", frame.Raw, fmt.Errorf("missing stream name: %s", filename)
	}
	return ts, stream, enc, nil
}
