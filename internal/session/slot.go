package session

import (
	"sync/atomic"

	"trafficcounter/internal/frame"
)

// state is an immutable view of the slot. A new state replaces the old one
// on every publish, and replaced is closed when that happens.
type state struct {
	frame    *frame.Frame
	closed   bool
	err      error
	replaced chan struct{}
}

// Slot holds the most recently published frame.
type Slot struct {
	p atomic.Pointer[state]
}

// NewSlot returns an open, empty slot.
func NewSlot() *Slot {
	s := &Slot{}
	s.p.Store(&state{replaced: make(chan struct{})})
	return s
}

// Publish replaces the current frame. It returns false once the slot is closed.
func (s *Slot) Publish(f *frame.Frame) bool {
	next := &state{frame: f, replaced: make(chan struct{})}
	for {
		cur := s.p.Load()
		if cur.closed {
			return false
		}
		if s.p.CompareAndSwap(cur, next) {
			close(cur.replaced)
			return true
		}
	}
}

// Close marks the stream as ended. The last frame stays readable through
// Load but generators stop yielding it. Only the first Close takes effect.
func (s *Slot) Close(err error) {
	for {
		cur := s.p.Load()
		if cur.closed {
			return
		}
		next := &state{frame: cur.frame, closed: true, err: err, replaced: make(chan struct{})}
		if s.p.CompareAndSwap(cur, next) {
			close(cur.replaced)
			return
		}
	}
}

// Load returns the current frame, nil before the first publish.
func (s *Slot) Load() (f *frame.Frame, closed bool) {
	cur := s.p.Load()
	return cur.frame, cur.closed
}

// Watch is Load plus a channel that is closed on the next publish or close.
func (s *Slot) Watch() (f *frame.Frame, closed bool, changed <-chan struct{}) {
	cur := s.p.Load()
	return cur.frame, cur.closed, cur.replaced
}

// Err returns the error the slot was closed with.
func (s *Slot) Err() error {
	return s.p.Load().err
}
