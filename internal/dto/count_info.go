package dto

// CountInfo reports the live counter of one stream.
type CountInfo struct {
	Stream      string  `json:"stream"`
	Session     string  `json:"session"`
	Total       uint64  `json:"total"`
	Detections  int     `json:"detections"`
	Seq         uint64  `json:"seq"`
	Captured    uint64  `json:"captured"`
	CaptureRate float64 `json:"captureRate"`
	Closed      bool    `json:"closed"`
}
