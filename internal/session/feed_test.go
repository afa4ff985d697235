package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/source"
)

func TestSlot_WatchSignalsPublishAndClose(t *testing.T) {
	t.Parallel()

	s := NewSlot()
	_, _, changed := s.Watch()
	select {
	case <-changed:
		t.Fatal("changed before publish")
	default:
	}

	s.Publish(&frame.Frame{Seq: 1})
	select {
	case <-changed:
	default:
		t.Fatal("publish did not signal")
	}

	_, _, changed = s.Watch()
	s.Close(nil)
	select {
	case <-changed:
	default:
		t.Fatal("close did not signal")
	}
}

func TestFeed_ReadsEveryFrameOnceUntilEndOfStream(t *testing.T) {
	t.Parallel()

	upstream := New("capture", newFakeSource(5), nil, Options{CaptureRate: 50}, nil)
	feed := NewFeed(upstream)
	upstream.Start()

	var seqs []uint64
	for {
		f, err := feed.ReadFrame()
		if err != nil {
			assert.ErrorIs(t, err, source.ErrEndOfStream)
			break
		}
		seqs = append(seqs, f.Seq)
	}

	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
	assert.Equal(t, uint64(5), seqs[len(seqs)-1])
}

func TestFeed_UpstreamFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := newFakeSource(-1)
	src.failAt = 3
	upstream := New("capture", src, nil, Options{CaptureRate: 100}, nil)
	derived := New("traffic", NewFeed(upstream), &fakeProcessor{}, Options{CaptureRate: 100}, nil)
	upstream.Start()
	derived.Start()

	waitDone(t, derived)
	assert.ErrorIs(t, derived.Err(), source.ErrReadFailure)
}

func TestFeed_ReleaseUnblocksReadAndKeepsUpstream(t *testing.T) {
	t.Parallel()

	// never started, so nothing is ever published
	upstream := New("capture", newFakeSource(-1), nil, Options{}, nil)
	feed := NewFeed(upstream)

	errc := make(chan error, 1)
	go func() {
		_, err := feed.ReadFrame()
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, feed.Release())
	require.NoError(t, feed.Release())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, source.ErrReleased)
	case <-time.After(time.Second):
		t.Fatal("Release did not unblock ReadFrame")
	}
	assert.False(t, upstream.Closed())
}

func TestFeed_DerivedSessionsShareOneSource(t *testing.T) {
	t.Parallel()

	src := newFakeSource(-1)
	upstream := New("capture", src, nil, Options{CaptureRate: 100}, nil)
	video := New("video", NewFeed(upstream), &fakeProcessor{}, Options{CaptureRate: 100}, nil)
	traffic := New("traffic", NewFeed(upstream), &fakeProcessor{}, Options{CaptureRate: 100}, nil)
	upstream.Start()
	video.Start()
	traffic.Start()

	require.Eventually(t, func() bool {
		return video.Captured() >= 3 && traffic.Captured() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	// the upstream frame keeps its own sequence number
	f, _ := upstream.Latest()
	require.NotNil(t, f)
	assert.Equal(t, frame.Raw, f.Encoding)

	require.NoError(t, upstream.Release())
	waitDone(t, video)
	waitDone(t, traffic)
	assert.NoError(t, video.Err())
	assert.NoError(t, traffic.Err())
	assert.Equal(t, int32(1), src.releases.Load())
}
