package model

import "time"

// Snapshot is a catalogue entry for one saved frame.
type Snapshot struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Stream     string    `json:"stream"`
	Encoding   string    `json:"encoding"`
	Timestamp  time.Time `json:"timestamp"`
	FilePath   string    `json:"filepath"`
	FileSize   int64     `json:"filesize"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Detections int       `json:"detections"`
	Total      int64     `json:"total"`
}

// SnapshotFilter narrows catalogue queries. Zero values match everything.
type SnapshotFilter struct {
	Stream string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}
