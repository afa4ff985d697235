package dto

import (
	"encoding/json"
	"time"

	"trafficcounter/internal/model"
)

// SnapshotInfo is the gallery view of a catalogued snapshot.
type SnapshotInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Date       time.Time `json:"date"`
	TimeOfDay  time.Time `json:"timeOfDay"`
	Stream     string    `json:"stream"`
	Size       int64     `json:"size"`
	Detections int       `json:"detections"`
	Total      int64     `json:"total"`
}

// NewSnapshotInfo converts a catalogue row.
func NewSnapshotInfo(s model.Snapshot) SnapshotInfo {
	ts := s.Timestamp.Local()
	return SnapshotInfo{
		ID:         s.ID,
		Name:       s.Filename,
		Date:       ts,
		TimeOfDay:  ts,
		Stream:     s.Stream,
		Size:       s.FileSize,
		Detections: s.Detections,
		Total:      s.Total,
	}
}

// MarshalJSON customizes JSON output for SnapshotInfo to format date and time-of-day.
func (p SnapshotInfo) MarshalJSON() ([]byte, error) {
	type Alias SnapshotInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      p.Date.Format("02-01-2006"),
		TimeOfDay: p.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(p),
	})
}
