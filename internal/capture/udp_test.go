package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

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

// sendChunked writes data to addr in datagrams of at most size bytes.
func sendChunked(t *testing.T, addr string, data []byte, size int) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	for len(data) > 0 {
		n := min(size, len(data))
		_, err := conn.Write(data[:n])
		require.NoError(t, err)
		data = data[n:]
		time.Sleep(time.Millisecond)
	}
}

func TestUDPSource_ReassemblesFrames(t *testing.T) {
	src, err := OpenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Release()

	want := testJPEG(t, 64, 48)
	require.Greater(t, len(want), 1000, "frame must span several datagrams")

	// a stray tail from a lost frame comes first and must be ignored;
	// the socket buffer holds both until ReadFrame drains them
	sendChunked(t, src.Addr(), []byte{0x01, 0x02, 0xFF, 0xD9}, 1000)
	sendChunked(t, src.Addr(), want, 1000)

	f, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.JPEG, f.Encoding)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)
	assert.Equal(t, want, f.Data)
}

func TestUDPSource_ReleaseUnblocksRead(t *testing.T) {
	src, err := OpenUDP("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := src.ReadFrame()
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Release())
	require.NoError(t, src.Release())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, source.ErrReleased)
	case <-time.After(2 * time.Second):
		t.Fatal("read still blocked after release")
	}
}

func TestUDPSource_BrokenSocketIsReadFailure(t *testing.T) {
	src, err := OpenUDP("127.0.0.1:0")
	require.NoError(t, err)

	// the socket goes away underneath the source
	require.NoError(t, src.conn.Close())

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, source.ErrReadFailure)
	assert.Contains(t, err.Error(), "set deadline")
}

func TestOpen_UDPScheme(t *testing.T) {
	src, err := Open(UDPScheme + "127.0.0.1:0")
	require.NoError(t, err)
	assert.IsType(t, &UDPSource{}, src)
	assert.NoError(t, src.Release())
}
