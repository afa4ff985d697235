package repository

import (
	"trafficcounter/internal/model"
)

// SnapshotRepository defines the catalogue operations for saved snapshots.
type SnapshotRepository interface {
	// Create operations
	Insert(s *model.Snapshot) error

	// Read operations
	GetByID(id string) (*model.Snapshot, error)
	GetByFilename(filename string) (*model.Snapshot, error)
	GetAll(filter *model.SnapshotFilter) ([]model.Snapshot, error)
	GetTotalCount(filter *model.SnapshotFilter) (int, error)
	GetTotalSize() (int64, error)
	GetStreams() ([]string, error)
	Exists(filename string) (bool, error)

	// Delete operations
	Delete(id string) error
}
