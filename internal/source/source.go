// Package source defines the capability every frame source offers and the
// errors it reports. Concrete device and stream sources live in package capture.
package source

import (
	"errors"

	"trafficcounter/internal/frame"
)

var (
	// ErrSourceUnavailable means the device or stream could not be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEndOfStream is the normal end of a finite source such as a file.
	ErrEndOfStream = errors.New("end of stream")
	// ErrReadFailure means a frame could not be read from an open source.
	ErrReadFailure = errors.New("read failure")
	// ErrReleased is reported by reads after Release.
	ErrReleased = errors.New("source released")
)

// Source yields raw frames on demand. ReadFrame blocks for at most the
// natural pace of the device. Release is idempotent and may be called from
// any goroutine; reads after Release fail with ErrReleased.
type Source interface {
	ReadFrame() (*frame.Frame, error)
	Release() error
}

// RateReporter is implemented by sources that know their native frame rate.
type RateReporter interface {
	NativeRate() float64
}

// IsTerminal reports whether err is an expected way for a stream to end,
// as opposed to a fault.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrReleased)
}
