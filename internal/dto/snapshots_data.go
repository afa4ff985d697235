// SnapshotsData is a paginated response payload for the snapshot gallery.
package dto

type SnapshotsData struct {
	Snapshots   []SnapshotInfo `json:"snapshots"`
	Streams     []string       `json:"streams"`
	Size        int64          `json:"size"`
	Length      int            `json:"length"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Limit       int            `json:"pageSize"`
}
