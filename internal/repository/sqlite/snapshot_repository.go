package sqlite

import (
	"database/sql"
	"fmt"

	"trafficcounter/internal/model"
)

const snapshotColumns = `id, filename, stream, encoding, timestamp, filepath, filesize, width, height, detections, total`

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (*model.Snapshot, error) {
	var s model.Snapshot
	err := row.Scan(&s.ID, &s.Filename, &s.Stream, &s.Encoding, &s.Timestamp,
		&s.FilePath, &s.FileSize, &s.Width, &s.Height, &s.Detections, &s.Total)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert adds a new snapshot record to the database.
func (r *SnapshotRepository) Insert(s *model.Snapshot) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Filename, s.Stream, s.Encoding, s.Timestamp.UTC(), s.FilePath, s.FileSize,
		s.Width, s.Height, s.Detections, s.Total)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by its ID. A missing row is (nil, nil).
func (r *SnapshotRepository) GetByID(id string) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSnapshot(r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// GetByFilename retrieves a snapshot by its filename. A missing row is (nil, nil).
func (r *SnapshotRepository) GetByFilename(filename string) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSnapshot(r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots WHERE filename = ?`, filename))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return s, nil
}

// filterClause builds the WHERE clause for filter. Timestamps are stored in
// UTC so the driver's text form compares in time order.
func filterClause(filter *model.SnapshotFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return where, args
	}

	if filter.Stream != "" {
		where += " AND stream = ?"
		args = append(args, filter.Stream)
	}
	if !filter.Since.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC())
	}
	return where, args
}

// GetAll retrieves snapshots matching filter, newest first.
func (r *SnapshotRepository) GetAll(filter *model.SnapshotFilter) ([]model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT ` + snapshotColumns + ` FROM snapshots` + where + ` ORDER BY timestamp DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// GetTotalCount returns how many snapshots match filter, ignoring paging.
func (r *SnapshotRepository) GetTotalCount(filter *model.SnapshotFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM snapshots`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// GetTotalSize returns the summed file size of every catalogued snapshot.
func (r *SnapshotRepository) GetTotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM snapshots`).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to sum snapshot sizes: %w", err)
	}
	return size, nil
}

// Exists checks if a snapshot with the given filename exists.
func (r *SnapshotRepository) Exists(filename string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM snapshots WHERE filename = ?`, filename).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return count > 0, nil
}

// GetStreams returns the distinct stream names in the catalogue.
func (r *SnapshotRepository) GetStreams() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT stream FROM snapshots ORDER BY stream`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var stream string
		if err := rows.Scan(&stream); err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

// Delete removes a snapshot record by its ID.
func (r *SnapshotRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
