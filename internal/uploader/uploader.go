package uploader

import (
	"context"
	"math"
	"sync"
	"time"

	"sessionreel/internal/capture"

	"go.uber.org/zap"
)

// UploadCredential is a short-lived authorization to store one chunk at its
// computed location.
type UploadCredential struct {
	URL        string
	StorageKey string
	ExpiresIn  time.Duration
}

// CredentialIssuer requests a write credential for a chunk index. In
// production this is the control-channel client talking to the registry.
type CredentialIssuer interface {
	RequestUploadURL(ctx context.Context, index uint64) (UploadCredential, error)
}

// Events receives the coordinator's observable effects. Calls are serialized
// and delivered FIFO per coordinator instance.
type Events interface {
	ChunkUploaded(index uint64, storageKey string, size int64)
	ChunkFailed(index uint64, reason error)
}

// Config contains coordinator tuning
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Concurrency  int
}

type segmentState struct {
	seg      capture.Segment
	inFlight bool
}

// Coordinator drives each produced segment through credential request,
// transfer, and retry until it is durably stored or permanently failed.
// Distinct indices upload concurrently; a single index never has two
// transfer attempts in flight.
type Coordinator struct {
	issuer   CredentialIssuer
	transfer Transferer
	events   Events
	cfg      Config
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	segments map[uint64]*segmentState

	eventsMu sync.Mutex
}

// NewCoordinator returns an upload coordinator. All in-flight work and
// pending retries are cancelled wholesale by Close.
func NewCoordinator(issuer CredentialIssuer, transfer Transferer, events Events, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		issuer:   issuer,
		transfer: transfer,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sem:      make(chan struct{}, cfg.Concurrency),
		segments: make(map[uint64]*segmentState),
	}
}

// Submit enqueues a produced segment and asynchronously drives its upload.
// Submitting an index that is already tracked is a no-op.
func (c *Coordinator) Submit(seg capture.Segment) {
	c.mu.Lock()
	if _, exists := c.segments[seg.Index]; exists {
		c.mu.Unlock()
		return
	}
	seg.Status = capture.SegmentPending
	state := &segmentState{seg: seg}
	c.segments[seg.Index] = state
	c.startLocked(state)
	c.mu.Unlock()
}

// ResumePending re-drives every segment still pending or failed, resetting
// its retry count to zero. Uploaded segments are untouched. Used after a
// control-channel reconnect.
func (c *Coordinator) ResumePending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.segments {
		if state.inFlight {
			continue
		}
		if state.seg.Status != capture.SegmentPending && state.seg.Status != capture.SegmentFailed {
			continue
		}
		state.seg.Status = capture.SegmentPending
		state.seg.RetryCount = 0
		c.startLocked(state)
	}
}

// SegmentStatus reports the tracked status and retry count for an index.
func (c *Coordinator) SegmentStatus(index uint64) (capture.SegmentStatus, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.segments[index]
	if !ok {
		return "", 0, false
	}
	return state.seg.Status, state.seg.RetryCount, true
}

// Wait blocks until no upload is in flight. Intended for draining after the
// producer has stopped.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels all in-flight transfers and scheduled retries, then waits
// for the workers to exit. No further retries execute afterwards.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// startLocked marks the segment in flight and spawns its upload goroutine.
// Caller must hold c.mu.
func (c *Coordinator) startLocked(state *segmentState) {
	state.inFlight = true
	c.wg.Add(1)
	go c.drive(state)
}

// drive performs the credential/transfer attempts for one segment with
// exponential backoff until success, retry exhaustion, or cancellation.
func (c *Coordinator) drive(state *segmentState) {
	defer c.wg.Done()

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-c.ctx.Done():
		c.finish(state, capture.SegmentPending)
		return
	}

	index := state.seg.Index
	payload := state.seg.Payload
	c.setStatus(state, capture.SegmentUploading)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			// Exponential backoff per retry; the timer is cancelled
			// wholesale through the shared context on Close.
			backoff := c.backoff(attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-c.ctx.Done():
				timer.Stop()
				c.finish(state, capture.SegmentPending)
				return
			}
		}

		cred, err := c.issuer.RequestUploadURL(c.ctx, index)
		if err != nil {
			// Credential failure follows the same backoff path as a
			// transfer failure; the next attempt requests a fresh one
			// since credentials expire.
			lastErr = err
			c.recordRetry(state, attempt, err)
			continue
		}

		err = c.transfer.Upload(c.ctx, cred.URL, payload)
		if err == nil {
			c.mu.Lock()
			state.seg.Status = capture.SegmentUploaded
			state.seg.StorageKey = cred.StorageKey
			state.seg.Payload = nil // uploaded bytes are no longer needed
			state.inFlight = false
			c.mu.Unlock()

			c.logger.Info("chunk uploaded",
				zap.Uint64("index", index),
				zap.Int("size", len(payload)),
				zap.Int("attempts", attempt))
			c.emitUploaded(index, cred.StorageKey, int64(len(payload)))
			return
		}

		if c.ctx.Err() != nil {
			c.finish(state, capture.SegmentPending)
			return
		}
		lastErr = err
		c.recordRetry(state, attempt, err)
	}

	c.finish(state, capture.SegmentFailed)
	c.logger.Error("chunk failed after all retries",
		zap.Uint64("index", index),
		zap.Int("max_retries", c.cfg.MaxRetries),
		zap.Error(lastErr))
	c.emitFailed(index, lastErr)
}

func (c *Coordinator) backoff(retry int) time.Duration {
	return c.cfg.RetryBackoff * time.Duration(math.Pow(2, float64(retry-1)))
}

func (c *Coordinator) recordRetry(state *segmentState, attempt int, err error) {
	c.mu.Lock()
	state.seg.RetryCount = attempt
	c.mu.Unlock()
	c.logger.Warn("chunk upload attempt failed",
		zap.Uint64("index", state.seg.Index),
		zap.Int("attempt", attempt),
		zap.Error(err))
}

func (c *Coordinator) setStatus(state *segmentState, status capture.SegmentStatus) {
	c.mu.Lock()
	state.seg.Status = status
	c.mu.Unlock()
}

func (c *Coordinator) finish(state *segmentState, status capture.SegmentStatus) {
	c.mu.Lock()
	state.seg.Status = status
	state.inFlight = false
	c.mu.Unlock()
}

func (c *Coordinator) emitUploaded(index uint64, storageKey string, size int64) {
	if c.events == nil {
		return
	}
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.ChunkUploaded(index, storageKey, size)
}

func (c *Coordinator) emitFailed(index uint64, reason error) {
	if c.events == nil {
		return
	}
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events.ChunkFailed(index, reason)
}
