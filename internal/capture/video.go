package capture

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// VideoSource reads frames through an OpenCV VideoCapture. ReadFrame must be
// called from one goroutine at a time; Release may be called from any.
type VideoSource struct {
	mu       sync.Mutex
	name     string
	vc       *gocv.VideoCapture
	mat      gocv.Mat
	native   float64
	finite   bool
	reading  bool
	released bool
}

// OpenVideo opens a file path, stream URL or numeric device index.
func OpenVideo(identifier string) (*VideoSource, error) {
	vc, err := gocv.OpenVideoCapture(identifier)
	if err != nil {
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "open %q: %v", identifier, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, errors.Wrapf(source.ErrSourceUnavailable, "open %q", identifier)
	}

	return &VideoSource{
		name:   identifier,
		vc:     vc,
		mat:    gocv.NewMat(),
		native: vc.Get(gocv.VideoCaptureFPS),
		// live streams report no frame count
		finite: vc.Get(gocv.VideoCaptureFrameCount) > 0,
	}, nil
}

// NativeRate returns the frame rate the container or device advertises, zero
// when unknown.
func (s *VideoSource) NativeRate() float64 {
	if s.native < 0 {
		return 0
	}
	return s.native
}

// ReadFrame returns the next decoded frame as packed BGR bytes.
func (s *VideoSource) ReadFrame() (*frame.Frame, error) {
	if !s.beginRead() {
		return nil, source.ErrReleased
	}

	var (
		f   *frame.Frame
		err error
	)
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		if s.finite {
			err = source.ErrEndOfStream
		} else {
			err = errors.Wrapf(source.ErrReadFailure, "read %q", s.name)
		}
	} else {
		f = &frame.Frame{
			Data:     s.mat.ToBytes(),
			Width:    s.mat.Cols(),
			Height:   s.mat.Rows(),
			Channels: s.mat.Channels(),
			Encoding: frame.Raw,
		}
	}

	if rerr := s.endRead(); rerr != nil {
		return nil, rerr
	}
	return f, err
}

// beginRead marks a read in flight. It reports false once released.
func (s *VideoSource) beginRead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.reading = true
	return true
}

// endRead clears the in-flight mark. If Release ran meanwhile, the capture
// is closed here and ErrReleased is returned.
func (s *VideoSource) endRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = false
	if !s.released {
		return nil
	}
	if err := s.close(); err != nil {
		return errors.Wrapf(source.ErrReleased, "%v", err)
	}
	return source.ErrReleased
}

// Release closes the capture. With a read in flight it returns at once and
// the reader closes the capture when its read returns.
func (s *VideoSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	if s.reading {
		return nil
	}
	return s.close()
}

func (s *VideoSource) close() error {
	if err := s.mat.Close(); err != nil {
		return errors.Wrap(err, "close frame buffer")
	}
	return errors.Wrapf(s.vc.Close(), "close capture %q", s.name)
}
