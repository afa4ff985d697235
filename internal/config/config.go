package config

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"trafficcounter/internal/frame"
)

// DefaultVideoURL is the public beach camera the counter was first tuned against.
const DefaultVideoURL = "https://cams.cdn-surfline.com/cdn-wc/wc-southoceanbeach/chunklist.m3u8"

// Config is the full runtime configuration. It is built once by Load and
// passed explicitly to whatever needs it.
type Config struct {
	Port             int
	VideoURL         string
	OutputFrameRate  float64
	CaptureFrameRate float64 // 0 derives the rate from the source
	EncodingFormat   string
	RegionOfInterest image.Rectangle
	MinBlobArea      int
	MaxBlobArea      int
	MaxMatchDistance float64
	KernelSize       int
	BinaryThreshold  float64
	LogDirectory     string
	DatabasePath     string
	SnapshotDir      string
	StaticDirectory  string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	// a missing .env is fine; explicit variables still apply
	_ = godotenv.Load()

	return &Config{
		Port:             getEnvAsInt("PORT", 8080),
		VideoURL:         getEnv("VIDEO_URL", DefaultVideoURL),
		OutputFrameRate:  getEnvAsFloat("OUTPUT_FPS", 25),
		CaptureFrameRate: getEnvAsFloat("CAPTURE_FPS", 0),
		EncodingFormat:   getEnv("ENCODING_FORMAT", ".jpg"),
		RegionOfInterest: getEnvAsRect("ROI", image.Rect(0, 400, 1024, 600)),
		MinBlobArea:      getEnvAsInt("MIN_BLOB_AREA", 1000),
		MaxBlobArea:      getEnvAsInt("MAX_BLOB_AREA", 50000),
		MaxMatchDistance: getEnvAsFloat("MAX_MATCH_DISTANCE", 100),
		KernelSize:       getEnvAsInt("KERNEL_SIZE", 5),
		BinaryThreshold:  getEnvAsFloat("BINARY_THRESHOLD", 220),
		LogDirectory:     getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DatabasePath:     getEnv("DB_PATH", filepath.Join(".", "data", "snapshots.db")),
		SnapshotDir:      getEnv("SNAPSHOT_DIR", filepath.Join(".", "snapshots")),
		StaticDirectory:  getEnv("STATIC_DIR", filepath.Join(".", "static")),
	}
}

// Validate reports the first setting the core cannot run with.
func (c *Config) Validate() error {
	if c.VideoURL == "" {
		return fmt.Errorf("VIDEO_URL must not be empty")
	}
	if c.OutputFrameRate <= 0 {
		return fmt.Errorf("OUTPUT_FPS must be positive, got %v", c.OutputFrameRate)
	}
	if c.CaptureFrameRate < 0 {
		return fmt.Errorf("CAPTURE_FPS must not be negative, got %v", c.CaptureFrameRate)
	}
	if _, err := c.Encoding(); err != nil {
		return err
	}
	if c.RegionOfInterest.Empty() {
		return fmt.Errorf("ROI must have a positive width and height, got %v", c.RegionOfInterest)
	}
	if c.MinBlobArea < 0 || c.MaxBlobArea < c.MinBlobArea {
		return fmt.Errorf("blob area bounds [%d, %d] are invalid", c.MinBlobArea, c.MaxBlobArea)
	}
	if c.MaxMatchDistance <= 0 {
		return fmt.Errorf("MAX_MATCH_DISTANCE must be positive, got %v", c.MaxMatchDistance)
	}
	if c.KernelSize < 1 {
		return fmt.Errorf("KERNEL_SIZE must be at least 1, got %d", c.KernelSize)
	}
	if c.BinaryThreshold < 0 || c.BinaryThreshold > 255 {
		return fmt.Errorf("BINARY_THRESHOLD must be within [0, 255], got %v", c.BinaryThreshold)
	}
	return nil
}

// Encoding returns the parsed EncodingFormat.
func (c *Config) Encoding() (frame.Encoding, error) {
	return frame.ParseEncoding(c.EncodingFormat)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsRect parses "x0,y0,x1,y1".
func getEnvAsRect(key string, defaultValue image.Rectangle) image.Rectangle {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	rect, err := parseRect(value)
	if err != nil {
		return defaultValue
	}
	return rect
}

func parseRect(value string) (image.Rectangle, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("expected x0,y0,x1,y1, got %q", value)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid coordinate %q: %w", p, err)
		}
		n[i] = v
	}
	return image.Rect(n[0], n[1], n[2], n[3]), nil
}
