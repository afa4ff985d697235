package frame

import (
	"fmt"
	"strings"
	"time"
)

// Encoding tags how Frame.Data is laid out.
type Encoding int

const (
	// Raw is packed 8-bit pixels, row-major, Channels bytes per pixel (BGR order for colour).
	Raw Encoding = iota
	// JPEG is a complete JPEG file.
	JPEG
	// PNG is a complete PNG file.
	PNG
)

// ParseEncoding maps a file extension such as ".jpg" to an Encoding.
func ParseEncoding(ext string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(ext)) {
	case ".jpg", ".jpeg", "jpg", "jpeg":
		return JPEG, nil
	case ".png", "png":
		return PNG, nil
	}
	return Raw, fmt.Errorf("unsupported encoding format %q", ext)
}

// Ext returns the file extension used when encoding to e.
func (e Encoding) Ext() string {
	switch e {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	}
	return ""
}

// ContentType returns the MIME type of an encoded frame.
func (e Encoding) ContentType() string {
	switch e {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	}
	return "application/octet-stream"
}

// Compressed reports whether Data holds a transport encoding rather than raw pixels.
func (e Encoding) Compressed() bool {
	return e == JPEG || e == PNG
}

func (e Encoding) String() string {
	switch e {
	case Raw:
		return "raw"
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// Stats is the per-frame counting summary attached by the analyzer.
type Stats struct {
	Detections int    `json:"detections"`
	Total      uint64 `json:"total"`
}

// Frame is a captured or processed image. A published Frame is never mutated;
// stages that need to change it build a new one.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Channels   int
	Encoding   Encoding
	Seq        uint64
	CapturedAt time.Time
	Stats      *Stats
}

// Len returns the payload size in bytes.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// WithData returns a copy of f carrying a new payload and encoding.
func (f *Frame) WithData(data []byte, enc Encoding) *Frame {
	out := *f
	out.Data = data
	out.Encoding = enc
	return &out
}
