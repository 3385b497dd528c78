package capture

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultChunkInterval is the default time between forced flushes.
	DefaultChunkInterval = 30 * time.Second

	// DefaultFinalFlushTimeout bounds how long Stop waits for the final
	// segment to be delivered.
	DefaultFinalFlushTimeout = 10 * time.Second
)

// Producer wraps a live capture source and emits bounded-duration segments
// with strictly increasing, gap-free sequence numbers.
type Producer struct {
	source       Source
	interval     time.Duration
	finalTimeout time.Duration
	logger       *zap.Logger

	out     chan Segment
	stopCh  chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	started  bool
	stopping bool
	err      error
}

// NewProducer returns a Producer flushing the source every interval.
// Zero durations fall back to the defaults.
func NewProducer(source Source, interval, finalTimeout time.Duration, logger *zap.Logger) *Producer {
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	if finalTimeout <= 0 {
		finalTimeout = DefaultFinalFlushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		source:       source,
		interval:     interval,
		finalTimeout: finalTimeout,
		logger:       logger,
		out:          make(chan Segment, 16),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Segments returns the channel of produced segments, delivered FIFO. The
// channel is closed once the final segment has been emitted (or the final
// flush timed out) after Stop, or when the source ends.
func (p *Producer) Segments() <-chan Segment {
	return p.out
}

// Err reports the terminal capture error, if any, once Segments is closed.
func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start begins periodic segmentation. It refuses to start when the capture
// track is not live rather than produce empty segments.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if !p.source.Live() {
		return ErrSourceNotLive
	}
	p.started = true

	go p.run(ctx)
	return nil
}

// Stop forces one final flush and waits, bounded by the final flush timeout,
// for every outstanding delivery so no trailing data is silently dropped.
func (p *Producer) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	if !p.stopping {
		p.stopping = true
		close(p.stopCh)
	}
	p.mu.Unlock()

	select {
	case <-p.stopped:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.stopped)
	defer close(p.out)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		nextIndex uint64
		pending   int
		draining  bool
		deadline  <-chan time.Time
	)
	stopCh := p.stopCh

	for {
		select {
		case <-ticker.C:
			p.source.RequestFlush()
			pending++

		case payload, ok := <-p.source.Segments():
			if !ok {
				p.setErr(ErrSourceEnded)
				p.logger.Error("capture source ended unexpectedly",
					zap.Uint64("next_index", nextIndex))
				return
			}
			pending--
			if len(payload) > 0 {
				seg := Segment{
					Index:   nextIndex,
					Payload: payload,
					Status:  SegmentPending,
				}
				nextIndex++
				select {
				case p.out <- seg:
				case <-ctx.Done():
					return
				}
				p.logger.Debug("segment produced",
					zap.Uint64("index", seg.Index),
					zap.Int("size", len(seg.Payload)))
			}
			if draining && pending <= 0 {
				return
			}

		case <-stopCh:
			stopCh = nil // take this branch only once
			ticker.Stop()
			p.source.RequestFlush()
			pending++
			draining = true
			deadline = time.After(p.finalTimeout)

		case <-deadline:
			p.logger.Warn("final segment delivery timed out",
				zap.Int("pending_flushes", pending))
			return

		case <-ctx.Done():
			return
		}
	}
}

func (p *Producer) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
