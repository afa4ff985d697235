//go:build !linux

package capture

import (
	"github.com/pkg/errors"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// WebcamSource is only available on Linux.
type WebcamSource struct{}

// OpenWebcam always fails outside Linux.
func OpenWebcam(device string) (*WebcamSource, error) {
	return nil, errors.Wrapf(source.ErrSourceUnavailable, "%s: V4L2 devices need linux", device)
}

func (s *WebcamSource) NativeRate() float64 {
	return 0
}

func (s *WebcamSource) ReadFrame() (*frame.Frame, error) {
	return nil, source.ErrReleased
}

func (s *WebcamSource) Release() error {
	return nil
}
