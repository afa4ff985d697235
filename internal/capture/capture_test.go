package capture

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// writeClip records n frames of a moving square to an MJPEG AVI, which
// OpenCV can write without external codecs.
func writeClip(t *testing.T, n int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.avi")
	vw, err := gocv.VideoWriterFile(path, "MJPG", 10, 160, 120, true)
	require.NoError(t, err)

	img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	for i := 0; i < n; i++ {
		img.SetTo(gocv.NewScalar(0, 0, 0, 0))
		require.NoError(t, gocv.Rectangle(&img, image.Rect(10*i, 40, 10*i+30, 70), color.RGBA{R: 255, G: 255, B: 255}, -1))
		require.NoError(t, vw.Write(img))
	}
	require.NoError(t, vw.Close())
	return path
}

func TestOpen_Unavailable(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)

	_, err = Open(WebcamScheme + "/dev/video-does-not-exist")
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestVideoSource_ReadsUntilEndOfStream(t *testing.T) {
	path := writeClip(t, 5)

	src, err := OpenVideo(path)
	require.NoError(t, err)
	assert.InDelta(t, 10, src.NativeRate(), 0.5)

	for i := 0; i < 5; i++ {
		f, err := src.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, frame.Raw, f.Encoding)
		assert.Equal(t, 160, f.Width)
		assert.Equal(t, 120, f.Height)
		assert.Equal(t, 3, f.Channels)
		assert.Len(t, f.Data, 160*120*3)
	}

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, source.ErrEndOfStream)

	assert.NoError(t, src.Release())
	assert.NoError(t, src.Release())

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, source.ErrReleased)
}

func TestVideoSource_ReleaseDoesNotWaitForRead(t *testing.T) {
	src, err := OpenVideo(writeClip(t, 3))
	require.NoError(t, err)

	// a read stalled inside OpenCV
	require.True(t, src.beginRead())

	released := make(chan error, 1)
	go func() { released <- src.Release() }()
	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Release waited for the in-flight read")
	}

	// the reader closes the capture once its read returns
	assert.ErrorIs(t, src.endRead(), source.ErrReleased)
	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, source.ErrReleased)
	assert.NoError(t, src.Release())
}

func TestSnapshot(t *testing.T) {
	path := writeClip(t, 3)

	f, err := Snapshot(path, frame.JPEG)
	require.NoError(t, err)
	assert.Equal(t, frame.JPEG, f.Encoding)
	assert.True(t, bytes.HasPrefix(f.Data, []byte{0xFF, 0xD8}))

	_, err = Snapshot(filepath.Join(t.TempDir(), "missing.mp4"), frame.JPEG)
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
}
