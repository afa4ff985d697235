//go:build linux

package capture

import (
	"sync"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

const (
	// frameTimeout is the WaitForFrame timeout in seconds.
	frameTimeout = 1
	// maxTimeouts bounds how long ReadFrame waits on a silent device.
	maxTimeouts = 5
)

// pixelFormatMJPEG is the V4L2 fourcc "MJPG".
var pixelFormatMJPEG = webcam.PixelFormat('M' | 'J'<<8 | 'P'<<16 | 'G'<<24)

// WebcamSource streams MJPEG frames straight from a V4L2 device. Frames are
// tagged JPEG and left compressed.
type WebcamSource struct {
	mu       sync.Mutex
	device   string
	cam      *webcam.Webcam
	width    int
	height   int
	released bool
}

// OpenWebcam opens device (e.g. /dev/video0) and starts streaming MJPEG at
// the largest frame size it offers.
func OpenWebcam(device string) (*WebcamSource, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "open %s: %v", device, err)
	}

	if _, ok := cam.GetSupportedFormats()[pixelFormatMJPEG]; !ok {
		cam.Close()
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "%s does not offer MJPEG", device)
	}

	var width, height uint32
	for _, size := range cam.GetSupportedFrameSizes(pixelFormatMJPEG) {
		if size.MaxWidth*size.MaxHeight > width*height {
			width, height = size.MaxWidth, size.MaxHeight
		}
	}

	_, w, h, err := cam.SetImageFormat(pixelFormatMJPEG, width, height)
	if err != nil {
		cam.Close()
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "set format on %s: %v", device, err)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "start streaming %s: %v", device, err)
	}

	return &WebcamSource{
		device: device,
		cam:    cam,
		width:  int(w),
		height: int(h),
	}, nil
}

// NativeRate is unknown for V4L2 devices; sessions fall back to the default.
func (s *WebcamSource) NativeRate() float64 {
	return 0
}

// ReadFrame waits for the next MJPEG frame.
func (s *WebcamSource) ReadFrame() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, source.ErrReleased
	}

	for timeouts := 0; ; {
		err := s.cam.WaitForFrame(frameTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			timeouts++
			if timeouts >= maxTimeouts {
				return nil, errors.Wrapf(source.ErrReadFailure, "%s: no frame after %d timeouts", s.device, timeouts)
			}
			continue
		default:
			return nil, errors.Wrapf(source.ErrReadFailure, "wait for frame on %s: %v", s.device, err)
		}

		data, err := s.cam.ReadFrame()
		if err != nil {
			return nil, errors.Wrapf(source.ErrReadFailure, "read frame on %s: %v", s.device, err)
		}
		if len(data) == 0 {
			// dequeued an empty buffer, wait for the next one
			continue
		}

		// the driver reuses its mmap buffers
		buf := make([]byte, len(data))
		copy(buf, data)

		return &frame.Frame{
			Data:     buf,
			Width:    s.width,
			Height:   s.height,
			Channels: 3,
			Encoding: frame.JPEG,
		}, nil
	}
}

// Release stops streaming and closes the device.
func (s *WebcamSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	if err := s.cam.StopStreaming(); err != nil {
		s.cam.Close()
		return errors.Wrapf(err, "stop streaming %s", s.device)
	}
	return errors.Wrapf(s.cam.Close(), "close %s", s.device)
}
