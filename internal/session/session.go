package session

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/source"
)

const (
	// DefaultCaptureRate is used when neither the options nor the source give a rate.
	DefaultCaptureRate = 25.0
	// nativeRateDivisor halves the source's advertised rate to leave headroom
	// for analysis on live streams.
	nativeRateDivisor = 2.0
)

// Processor turns a source frame into the frame that gets published.
// A processor is owned by one capture goroutine and need not be safe for
// concurrent use. Processors holding native resources implement io.Closer;
// the session closes them when capture ends.
type Processor interface {
	Process(f *frame.Frame) (*frame.Frame, error)
}

// Options control session pacing.
type Options struct {
	// CaptureRate is the producer rate in frames per second. Zero derives it
	// from the source.
	CaptureRate float64
	// OutputRate is the default consumer rate for NewGenerator.
	OutputRate float64
}

// Session binds one source, an optional processor, the capture goroutine and
// the latest-frame slot.
type Session struct {
	id     string
	name   string
	src    source.Source
	proc   Processor
	logger *logger.Logger
	slot   *Slot

	captureRate float64
	outputRate  float64

	startOnce   sync.Once
	releaseOnce sync.Once
	releaseErr  error
	stop        chan struct{}
	done        chan struct{}
	err         error

	captured atomic.Uint64
}

// New creates a session. Capture does not begin until Start.
func New(name string, src source.Source, proc Processor, opts Options, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Discard()
	}
	s := &Session{
		id:         uuid.New().String(),
		name:       name,
		src:        src,
		proc:       proc,
		logger:     log,
		slot:       NewSlot(),
		outputRate: opts.OutputRate,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.captureRate = deriveCaptureRate(opts.CaptureRate, src)
	return s
}

func deriveCaptureRate(configured float64, src source.Source) float64 {
	if configured > 0 {
		return configured
	}
	if r, ok := src.(source.RateReporter); ok {
		if native := r.NativeRate(); native > 0 {
			return native / nativeRateDivisor
		}
	}
	return DefaultCaptureRate
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the stream name the session was created for.
func (s *Session) Name() string {
	return s.name
}

// CaptureRate returns the effective producer rate.
func (s *Session) CaptureRate() float64 {
	return s.captureRate
}

// Captured returns how many frames have been published.
func (s *Session) Captured() uint64 {
	return s.captured.Load()
}

// Start launches the capture goroutine. Further calls do nothing.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("Session %s (%s) capturing at %.2f fps", s.name, s.id, s.captureRate)
		go s.run()
	})
}

// Release releases the source and stops capture. It is idempotent and safe to
// call from any goroutine; the capture goroutine observes the released source
// on its next read and ends the session.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		close(s.stop)
		s.releaseErr = s.src.Release()
	})
	return s.releaseErr
}

// Done is closed when the capture goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why capture ended. Only meaningful after Done is closed; nil
// for a released session.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Closed reports whether capture has ended.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Latest returns the most recently published frame, nil before the first one.
func (s *Session) Latest() (*frame.Frame, bool) {
	return s.slot.Load()
}

// NewGenerator creates a consumer reading this session at rate frames per
// second; a non-positive rate uses the session's output rate.
func (s *Session) NewGenerator(rate float64) *Generator {
	if rate <= 0 {
		rate = s.outputRate
	}
	return NewGenerator(s.slot, rate)
}

func (s *Session) run() {
	defer close(s.done)
	defer s.closeProcessor()

	period := ratePeriod(s.captureRate, DefaultCaptureRate)
	var seq uint64

	for {
		start := time.Now()

		f, err := s.src.ReadFrame()
		if err != nil {
			s.terminate(err)
			return
		}

		out := f
		if s.proc != nil {
			out, err = s.proc.Process(f)
			if err != nil {
				s.terminate(fmt.Errorf("process frame %d: %w", seq+1, err))
				return
			}
		}

		seq++
		out.Seq = seq
		if out.CapturedAt.IsZero() {
			out.CapturedAt = start
		}
		s.slot.Publish(out)
		s.captured.Store(seq)

		if wait := period - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.stop:
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// terminate ends the session after the first unrecoverable outcome. Expected
// endings (end of file, explicit release) are not reported as errors.
func (s *Session) terminate(err error) {
	if source.IsTerminal(err) {
		s.logger.Info("Session %s (%s) ended after %d frames: %v", s.name, s.id, s.captured.Load(), err)
		s.err = nil
	} else {
		s.logger.Error("Session %s (%s) failed after %d frames: %v", s.name, s.id, s.captured.Load(), err)
		s.err = err
	}
	s.slot.Close(s.err)

	if rerr := s.Release(); rerr != nil {
		s.logger.Warning("Session %s (%s) release: %v", s.name, s.id, rerr)
	}
}

func (s *Session) closeProcessor() {
	c, ok := s.proc.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		s.logger.Warning("Session %s (%s) processor close: %v", s.name, s.id, err)
	}
}
