package player

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the reconstructor's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// Mode selects how playback is assembled.
type Mode string

const (
	// ModeSequential appends chunks in index order into one continuous
	// seekable stream.
	ModeSequential Mode = "sequential"
	// ModeDirect plays a single chunk at a time; cross-segment seeking
	// swaps the active source.
	ModeDirect Mode = "direct"
)

// Chunk is one stored segment the player can fetch through its read
// credential.
type Chunk struct {
	Index       uint64
	DownloadURL string
	Size        int64
}

var (
	// ErrNotReady is returned for operations that require a loaded player.
	ErrNotReady = errors.New("player is not ready")

	// ErrAlreadyLoaded is returned when Load is called twice.
	ErrAlreadyLoaded = errors.New("player already loaded")

	// ErrNoChunkForTime is returned by SeekTo when no stored chunk covers
	// the target time (a playback gap).
	ErrNoChunkForTime = errors.New("no chunk covers the target time")
)

// Player reconstructs a seamless, seekable playback surface from stored
// chunks. It prefers sequential append-based reconstruction and falls back
// to single-chunk direct playback when the environment cannot support it or
// the first chunk fails to load.
type Player struct {
	env           Environment
	fetcher       Fetcher
	chunkDuration time.Duration
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	mode         Mode
	buf          MediaBuffer
	chunks       []Chunk
	captureStart time.Time
	totalMs      int64
	activeChunk  int   // index into chunks, direct mode only
	offsetMs     int64 // position within the active chunk (direct) or stream (sequential)

	readyOnce sync.Once
	readyCh   chan struct{}
	doneCh    chan struct{}
}

// NewPlayer returns an idle player. chunkDuration is the nominal duration of
// each stored segment and drives time-to-segment mapping in direct mode.
func NewPlayer(env Environment, fetcher Fetcher, chunkDuration time.Duration, logger *zap.Logger) *Player {
	if chunkDuration <= 0 {
		chunkDuration = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		env:           env,
		fetcher:       fetcher,
		chunkDuration: chunkDuration,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		state:         StateIdle,
		readyCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Load begins reconstruction from the ordered chunk list. It negotiates the
// playback capability first: sequential append mode when supported, direct
// single-chunk fallback otherwise.
func (p *Player) Load(chunks []Chunk, captureStart time.Time, totalDuration time.Duration) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyLoaded
	}
	if len(chunks) == 0 {
		p.mu.Unlock()
		return fmt.Errorf("no chunks to load")
	}

	p.chunks = make([]Chunk, len(chunks))
	copy(p.chunks, chunks)
	sort.Slice(p.chunks, func(i, j int) bool { return p.chunks[i].Index < p.chunks[j].Index })
	p.captureStart = captureStart
	p.totalMs = totalDuration.Milliseconds()
	p.state = StateLoading

	cap := Negotiate(p.env, DefaultEncodings)
	if cap.Sequential {
		buf, err := p.env.OpenBuffer(cap.Encoding)
		if err != nil {
			p.logger.Warn("failed to open sequential buffer, falling back to direct playback",
				zap.Error(err))
			p.mode = ModeDirect
		} else {
			p.buf = buf
			p.mode = ModeSequential
		}
	} else {
		p.logger.Info("sequential buffering unsupported, using direct playback")
		p.mode = ModeDirect
	}
	mode := p.mode
	p.mu.Unlock()

	go p.run(mode)
	return nil
}

// Ready is closed when the first chunk is available for playback.
func (p *Player) Ready() <-chan struct{} { return p.readyCh }

// Done is closed once loading has finished: the stream is finalized, the
// direct fallback is active, or loading failed.
func (p *Player) Done() <-chan struct{} { return p.doneCh }

// State returns the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PlaybackMode returns the active reconstruction mode.
func (p *Player) PlaybackMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Play transitions ready/paused to playing.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady && p.state != StatePaused {
		return fmt.Errorf("%w: state %s", ErrNotReady, p.state)
	}
	p.state = StatePlaying
	return nil
}

// Pause transitions playing to paused.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return fmt.Errorf("%w: state %s", ErrNotReady, p.state)
	}
	p.state = StatePaused
	return nil
}

// SeekTo moves the playback position to the given stream time. In direct
// mode a target outside the active chunk swaps the source to the chunk that
// covers the target before seeking.
func (p *Player) SeekTo(ms int64) error {
	p.mu.Lock()
	if p.state != StateReady && p.state != StatePlaying && p.state != StatePaused {
		p.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotReady, p.state)
	}
	if ms < 0 {
		ms = 0
	}

	if p.mode == ModeSequential {
		p.offsetMs = ms
		p.mu.Unlock()
		return nil
	}

	chunkMs := p.chunkDuration.Milliseconds()
	targetIndex := uint64(ms / chunkMs)
	pos := -1
	for i := range p.chunks {
		if p.chunks[i].Index == targetIndex {
			pos = i
			break
		}
	}
	if pos < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %dms", ErrNoChunkForTime, ms)
	}

	swap := pos != p.activeChunk
	target := p.chunks[pos]
	p.mu.Unlock()

	if swap {
		// Swap the active segment's source before seeking.
		if _, err := p.fetcher.Fetch(p.ctx, target.DownloadURL); err != nil {
			return fmt.Errorf("failed to load chunk %d for seek: %w", target.Index, err)
		}
	}

	p.mu.Lock()
	p.activeChunk = pos
	p.offsetMs = ms - int64(target.Index)*chunkMs
	p.mu.Unlock()
	return nil
}

// CurrentTimeMs returns the current playback position on the reconstructed
// timeline.
func (p *Player) CurrentTimeMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == ModeDirect && p.activeChunk < len(p.chunks) {
		return int64(p.chunks[p.activeChunk].Index)*p.chunkDuration.Milliseconds() + p.offsetMs
	}
	return p.offsetMs
}

// Close cancels all outstanding fetches and playback activity.
func (p *Player) Close() {
	p.cancel()
}

func (p *Player) run(mode Mode) {
	defer close(p.doneCh)
	if mode == ModeDirect {
		p.runDirect()
		return
	}
	p.runSequential()
}

// runSequential fetches and appends chunks strictly in index order, one
// append outstanding at a time. The player is ready as soon as the first
// chunk has been appended; a mid-stream failure is a tolerated gap.
func (p *Player) runSequential() {
	appendedAny := false
	for i := range p.chunks {
		if p.ctx.Err() != nil {
			return
		}
		chunk := p.chunks[i]

		data, err := p.fetcher.Fetch(p.ctx, chunk.DownloadURL)
		if err != nil && i > 0 && p.ctx.Err() == nil {
			// One re-attempt before declaring a gap; transient fetch
			// errors usually clear immediately.
			p.logger.Warn("chunk fetch failed, retrying once",
				zap.Uint64("index", chunk.Index),
				zap.Error(err))
			data, err = p.fetcher.Fetch(p.ctx, chunk.DownloadURL)
		}
		if err == nil {
			err = p.appendChunk(data)
		}
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			if i == 0 {
				p.logger.Warn("first chunk failed, falling back to direct playback",
					zap.Uint64("index", chunk.Index),
					zap.Error(err))
				p.mu.Lock()
				p.mode = ModeDirect
				p.mu.Unlock()
				p.runDirect()
				return
			}
			// Gap tolerance: playback continues at the next queued chunk.
			p.logger.Warn("chunk failed mid-stream, continuing at next chunk",
				zap.Uint64("index", chunk.Index),
				zap.Error(err))
			continue
		}

		appendedAny = true
		p.markReady()
	}

	if !appendedAny {
		p.setState(StateError)
		return
	}
	if err := p.buf.Finalize(); err != nil {
		p.logger.Warn("failed to finalize stream", zap.Error(err))
	}
	// State stays ready/playing/paused; never back to loading.
}

// appendChunk starts an append and awaits its completion. A busy buffer
// re-queues the same chunk after the outstanding append completes; the chunk
// is never dropped.
func (p *Player) appendChunk(data []byte) error {
	for {
		err := p.buf.Append(data)
		if errors.Is(err, ErrBufferBusy) {
			select {
			case <-p.buf.Completions():
				continue
			case <-p.ctx.Done():
				return p.ctx.Err()
			}
		}
		if err != nil {
			return err
		}

		select {
		case err := <-p.buf.Completions():
			return err
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
}

// runDirect loads only the first chunk and leaves cross-segment movement to
// SeekTo's source swapping.
func (p *Player) runDirect() {
	p.mu.Lock()
	first := p.chunks[0]
	p.activeChunk = 0
	p.offsetMs = 0
	p.mu.Unlock()

	if _, err := p.fetcher.Fetch(p.ctx, first.DownloadURL); err != nil {
		p.logger.Error("direct playback failed to load first chunk",
			zap.Uint64("index", first.Index),
			zap.Error(err))
		p.setState(StateError)
		return
	}
	p.markReady()
}

func (p *Player) markReady() {
	p.readyOnce.Do(func() {
		p.mu.Lock()
		if p.state == StateLoading {
			p.state = StateReady
		}
		p.mu.Unlock()
		close(p.readyCh)
	})
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
