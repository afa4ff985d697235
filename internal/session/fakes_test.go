package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// fakeSource serves numbered one-byte frames.
type fakeSource struct {
	mu       sync.Mutex
	limit    int // frames before end of stream, negative for unlimited
	failAt   int // read number that fails, zero for never
	reads    int
	released bool
	rate     float64

	releases atomic.Int32
}

func newFakeSource(limit int) *fakeSource {
	return &fakeSource{limit: limit}
}

func (s *fakeSource) ReadFrame() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, source.ErrReleased
	}
	s.reads++
	if s.failAt > 0 && s.reads == s.failAt {
		return nil, fmt.Errorf("fake device: %w", source.ErrReadFailure)
	}
	if s.limit >= 0 && s.reads > s.limit {
		return nil, source.ErrEndOfStream
	}
	return &frame.Frame{
		Data:     []byte{byte(s.reads)},
		Width:    1,
		Height:   1,
		Channels: 1,
		Encoding: frame.Raw,
	}, nil
}

func (s *fakeSource) Release() error {
	s.releases.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func (s *fakeSource) NativeRate() float64 {
	return s.rate
}

// fakeProcessor tags frames as JPEG and counts how often it ran.
type fakeProcessor struct {
	failAt int
	calls  int
	closed atomic.Bool
}

var errEncode = errors.New("fake encode failure")

func (p *fakeProcessor) Process(f *frame.Frame) (*frame.Frame, error) {
	p.calls++
	if p.failAt > 0 && p.calls == p.failAt {
		return nil, errEncode
	}
	data := append([]byte{0xFF, 0xD8}, f.Data...)
	return f.WithData(data, frame.JPEG), nil
}

func (p *fakeProcessor) Close() error {
	p.closed.Store(true)
	return nil
}
