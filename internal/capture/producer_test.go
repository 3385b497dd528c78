package capture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource delivers one payload per requested flush, in flush order.
type fakeSource struct {
	mu      sync.Mutex
	live    bool
	delay   time.Duration // delivery delay per flush
	flushes int
	out     chan []byte
	payload func(n int) []byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		live: true,
		out:  make(chan []byte, 16),
		payload: func(n int) []byte {
			return []byte(fmt.Sprintf("segment-%d", n))
		},
	}
}

func (s *fakeSource) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *fakeSource) RequestFlush() {
	s.mu.Lock()
	n := s.flushes
	s.flushes++
	delay := s.delay
	s.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		s.out <- s.payload(n)
	}()
}

func (s *fakeSource) Segments() <-chan []byte { return s.out }

func (s *fakeSource) end() { close(s.out) }

func TestProducer_RefusesDeadSource(t *testing.T) {
	src := newFakeSource()
	src.live = false

	p := NewProducer(src, 10*time.Millisecond, time.Second, nil)
	assert.ErrorIs(t, p.Start(context.Background()), ErrSourceNotLive)
}

func TestProducer_RefusesDoubleStart(t *testing.T) {
	src := newFakeSource()
	p := NewProducer(src, time.Hour, time.Second, nil)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, p.Stop(context.Background()))
}

func TestProducer_GapFreeSequencing(t *testing.T) {
	src := newFakeSource()
	p := NewProducer(src, 5*time.Millisecond, time.Second, nil)
	require.NoError(t, p.Start(context.Background()))

	var segments []Segment
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for seg := range p.Segments() {
			segments = append(segments, seg)
		}
	}()

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
	<-collected

	require.NotEmpty(t, segments)
	for i, seg := range segments {
		assert.Equal(t, uint64(i), seg.Index, "indices must be gap-free from zero")
		assert.NotEmpty(t, seg.Payload)
		assert.Equal(t, SegmentPending, seg.Status)
	}
}

func TestProducer_StopFlushesFinalSegment(t *testing.T) {
	src := newFakeSource()
	src.delay = 20 * time.Millisecond

	// Interval far beyond the test duration: the only segment comes from the
	// final flush on Stop.
	p := NewProducer(src, time.Hour, time.Second, nil)
	require.NoError(t, p.Start(context.Background()))

	var segments []Segment
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for seg := range p.Segments() {
			segments = append(segments, seg)
		}
	}()

	require.NoError(t, p.Stop(context.Background()))
	<-collected

	require.Len(t, segments, 1)
	assert.Equal(t, uint64(0), segments[0].Index)
	assert.Equal(t, []byte("segment-0"), segments[0].Payload)
}

func TestProducer_FinalFlushTimeout(t *testing.T) {
	src := newFakeSource()
	src.delay = time.Hour // final flush never delivers

	p := NewProducer(src, time.Hour, 20*time.Millisecond, nil)
	require.NoError(t, p.Start(context.Background()))

	go func() {
		for range p.Segments() {
		}
	}()

	done := make(chan error, 1)
	go func() { done <- p.Stop(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the final flush timeout")
	}
}

func TestProducer_EmptyPayloadsSkipped(t *testing.T) {
	src := newFakeSource()
	src.payload = func(n int) []byte {
		if n == 0 {
			return nil
		}
		return []byte(fmt.Sprintf("segment-%d", n))
	}

	p := NewProducer(src, 5*time.Millisecond, time.Second, nil)
	require.NoError(t, p.Start(context.Background()))

	var segments []Segment
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for seg := range p.Segments() {
			segments = append(segments, seg)
		}
	}()

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))
	<-collected

	require.NotEmpty(t, segments)
	// The skipped empty flush must not leave an index gap.
	for i, seg := range segments {
		assert.Equal(t, uint64(i), seg.Index)
	}
	assert.Equal(t, []byte("segment-1"), segments[0].Payload)
}

func TestProducer_SourceEnded(t *testing.T) {
	src := newFakeSource()
	p := NewProducer(src, time.Hour, time.Second, nil)
	require.NoError(t, p.Start(context.Background()))

	src.end()

	for range p.Segments() {
	}
	assert.ErrorIs(t, p.Err(), ErrSourceEnded)
}
