package session

import (
	"errors"
	"fmt"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// ErrEmptyFrame is returned when a single-shot capture produced no bytes.
var ErrEmptyFrame = errors.New("empty frame")

// Snapshot reads exactly one frame from src, runs it through proc when given,
// and releases src. It never returns an empty frame without an error.
func Snapshot(src source.Source, proc Processor) (out *frame.Frame, err error) {
	defer func() {
		if rerr := src.Release(); rerr != nil && err == nil {
			out, err = nil, fmt.Errorf("release source: %w", rerr)
		}
	}()

	f, err := src.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("could not read image from stream: %w", err)
	}
	if proc != nil {
		if f, err = proc.Process(f); err != nil {
			return nil, fmt.Errorf("could not process image from stream: %w", err)
		}
	}
	if f == nil || len(f.Data) == 0 {
		return nil, ErrEmptyFrame
	}
	return f, nil
}
