package session

import (
	"context"
	"errors"
	"time"

	"trafficcounter/internal/frame"
)

// ErrClosed is returned by Generator.Next once the session has ended.
var ErrClosed = errors.New("stream closed")

// DefaultOutputRate is used when a generator is created with a non-positive rate.
const DefaultOutputRate = 25.0

// Generator yields the latest published frame at its own pace. Each consumer
// owns one; generators never block the capture goroutine or each other.
type Generator struct {
	slot   *Slot
	period time.Duration
	next   time.Time
}

// NewGenerator creates a generator reading slot at rate frames per second.
func NewGenerator(slot *Slot, rate float64) *Generator {
	return &Generator{
		slot:   slot,
		period: ratePeriod(rate, DefaultOutputRate),
	}
}

// Period returns the interval between yields.
func (g *Generator) Period() time.Duration {
	return g.period
}

// Next waits for the next tick and returns the current frame. Ticks that
// find no frame published yet yield nothing and wait again. The same frame
// is returned more than once when the output rate exceeds the capture rate.
func (g *Generator) Next(ctx context.Context) (*frame.Frame, error) {
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		f, closed := g.slot.Load()
		if closed {
			return nil, ErrClosed
		}
		if f != nil {
			return f, nil
		}
	}
}

// Run calls yield with every frame from Next until the stream closes, ctx is
// cancelled or yield fails. A closed stream ends Run with a nil error.
func (g *Generator) Run(ctx context.Context, yield func(*frame.Frame) error) error {
	for {
		f, err := g.Next(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := yield(f); err != nil {
			return err
		}
	}
}

func (g *Generator) wait(ctx context.Context) error {
	now := time.Now()
	if g.next.IsZero() {
		g.next = now
	}

	if d := g.next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	// a consumer that fell a whole period behind starts afresh instead of bursting
	if time.Since(g.next) >= g.period {
		g.next = time.Now()
	}
	g.next = g.next.Add(g.period)
	return nil
}

func ratePeriod(rate, fallback float64) time.Duration {
	if rate <= 0 {
		rate = fallback
	}
	return time.Duration(float64(time.Second) / rate)
}
