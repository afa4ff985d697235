package session

import (
	"fmt"
	"sync"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

// Feed is a Source reading the frames another session publishes, so several
// processors can share one device. It yields every published frame at most
// once, in order, and skips frames published while the reader was busy.
// Releasing a feed leaves the upstream session running.
type Feed struct {
	upstream *Session
	stop     chan struct{}
	once     sync.Once
	last     uint64
}

// NewFeed returns a source over upstream's published frames.
func NewFeed(upstream *Session) *Feed {
	return &Feed{
		upstream: upstream,
		stop:     make(chan struct{}),
	}
}

// NativeRate reports the upstream capture rate.
func (f *Feed) NativeRate() float64 {
	return f.upstream.CaptureRate()
}

// ReadFrame blocks until upstream publishes a frame newer than the last one
// read. Once upstream has ended and its last frame was read, it returns
// ErrEndOfStream for a clean end and the upstream error otherwise.
func (f *Feed) ReadFrame() (*frame.Frame, error) {
	for {
		select {
		case <-f.stop:
			return nil, source.ErrReleased
		default:
		}

		latest, closed, changed := f.upstream.slot.Watch()
		if latest != nil && latest.Seq > f.last {
			f.last = latest.Seq
			// the downstream session stamps its own sequence numbers
			out := *latest
			return &out, nil
		}
		if closed {
			<-f.upstream.Done()
			if err := f.upstream.Err(); err != nil {
				return nil, fmt.Errorf("upstream %s: %w", f.upstream.Name(), err)
			}
			return nil, source.ErrEndOfStream
		}

		select {
		case <-f.stop:
			return nil, source.ErrReleased
		case <-changed:
		}
	}
}

// Release stops the feed and unblocks a pending read.
func (f *Feed) Release() error {
	f.once.Do(func() { close(f.stop) })
	return nil
}
