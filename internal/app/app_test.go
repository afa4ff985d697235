package app

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/config"
	"trafficcounter/internal/frame"
	"trafficcounter/internal/routes"
)

func TestAnalyzerOptions(t *testing.T) {
	cfg := &config.Config{
		EncodingFormat:   ".png",
		RegionOfInterest: image.Rect(10, 20, 110, 70),
		MinBlobArea:      500,
		MaxBlobArea:      9000,
		MaxMatchDistance: 40,
		KernelSize:       3,
		BinaryThreshold:  200,
	}

	opts := AnalyzerOptions(cfg)
	assert.Equal(t, image.Rect(10, 20, 110, 70), opts.RegionOfInterest)
	assert.Equal(t, 500.0, opts.MinArea)
	assert.Equal(t, 9000.0, opts.MaxArea)
	assert.Equal(t, 40.0, opts.MaxDistance)
	assert.Equal(t, 3, opts.KernelSize)
	assert.Equal(t, float32(200), opts.Threshold)
	assert.Equal(t, frame.PNG, opts.Encoding)
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Load()
	cfg.OutputFrameRate = 0
	_, err := NewApp(cfg)
	assert.Error(t, err)
}

func TestNewApp_RegistersStreams(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Load()
	cfg.LogDirectory = filepath.Join(dir, "logs")
	cfg.DatabasePath = filepath.Join(dir, "data", "test.db")
	cfg.SnapshotDir = filepath.Join(dir, "snapshots")

	a, err := NewApp(cfg)
	require.NoError(t, err)
	defer a.close()

	assert.ElementsMatch(t, []string{"capture", "traffic", "video"}, a.manager.Names())
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// freeUDPPort returns a port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestApp_ExclusiveSourceIsOpenedOnce(t *testing.T) {
	dir := t.TempDir()
	port := freeUDPPort(t)

	cfg := config.Load()
	cfg.VideoURL = fmt.Sprintf("udp://127.0.0.1:%d", port)
	cfg.RegionOfInterest = image.Rect(0, 0, 64, 48)
	cfg.LogDirectory = filepath.Join(dir, "logs")
	cfg.DatabasePath = filepath.Join(dir, "data", "test.db")
	cfg.SnapshotDir = filepath.Join(dir, "snapshots")

	a, err := NewApp(cfg)
	require.NoError(t, err)
	defer a.close()

	// both streams bind the same port; a second listener would fail
	video, err := a.manager.Get(routes.StreamVideo)
	require.NoError(t, err)
	traffic, err := a.manager.Get(routes.StreamTraffic)
	require.NoError(t, err)
	assert.False(t, video.Closed())
	assert.False(t, traffic.Closed())

	snap := make(chan *frame.Frame, 1)
	snapErr := make(chan error, 1)
	go func() {
		f, err := a.capture()
		snapErr <- err
		snap <- f
	}()

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	data := testJPEG(t, 64, 48)
	require.Eventually(t, func() bool {
		for rest := data; len(rest) > 0; {
			n := min(1024, len(rest))
			if _, err := conn.Write(rest[:n]); err != nil {
				return false
			}
			rest = rest[n:]
		}
		return video.Captured() > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, <-snapErr)
	f := <-snap
	assert.Equal(t, frame.JPEG, f.Encoding)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)
}
