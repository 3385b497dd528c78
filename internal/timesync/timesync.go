package timesync

import (
	"sync"
	"time"
)

// DefaultDebounce bounds how often time updates propagate to listeners.
const DefaultDebounce = 100 * time.Millisecond

// Source identifies what produced a propagated time update.
type Source string

const (
	// SourceVideo marks updates driven by native playback progress.
	SourceVideo Source = "video"
	// SourceExternal marks updates driven by an external seek (timeline
	// scrubber or event click).
	SourceExternal Source = "external"
)

// Update is one propagated position, expressed on all three clocks.
type Update struct {
	CaptureMs    int64
	AbsoluteMs   int64
	SessionRelMs int64
	Source       Source
}

// Listener receives debounced updates.
type Listener func(Update)

// Adapter maps between capture-relative time, absolute wall-clock time, and
// session-relative scrubber positions. It owns one authoritative
// capture-relative value; the other clocks are derived:
//
//	absolute = captureStart + capture
//	sessionRelative = absolute - sessionStart
//
// An externally driven seek arms a guard that suppresses the next native
// playback report, so a seek never echoes back as another external update.
type Adapter struct {
	captureStartMs int64
	sessionStartMs int64
	debounce       time.Duration
	listener       Listener

	mu         sync.Mutex
	captureMs  int64
	seeking    bool
	pending    *Update
	timer      *time.Timer
	seekTarget func(captureMs int64)
}

// NewAdapter returns an adapter anchored at the given wall-clock times
// (milliseconds since epoch). A zero debounce uses DefaultDebounce.
func NewAdapter(captureStartMs, sessionStartMs int64, debounce time.Duration, listener Listener) *Adapter {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Adapter{
		captureStartMs: captureStartMs,
		sessionStartMs: sessionStartMs,
		debounce:       debounce,
		listener:       listener,
	}
}

// OnSeekRequest registers the callback invoked when an external seek needs
// the player moved to a capture-relative position.
func (a *Adapter) OnSeekRequest(fn func(captureMs int64)) {
	a.mu.Lock()
	a.seekTarget = fn
	a.mu.Unlock()
}

// HandlePlaybackTimeUpdate ingests a native playback position report in
// capture-relative milliseconds.
func (a *Adapter) HandlePlaybackTimeUpdate(ms int64) {
	a.mu.Lock()
	if a.seeking {
		// This report is the echo of the seek we just performed; absorb
		// it instead of converting it back into an external update.
		a.seeking = false
		a.captureMs = ms
		a.mu.Unlock()
		return
	}
	a.captureMs = ms
	a.queueLocked(a.updateLocked(SourceVideo))
	a.mu.Unlock()
}

// HandleExternalSeek ingests a scrubber position in session-relative
// milliseconds and drives the player to the matching capture time.
func (a *Adapter) HandleExternalSeek(sessionRelMs int64) {
	absolute := a.sessionStartMs + sessionRelMs
	a.seekAbsolute(absolute)
}

// HandleEventSeek ingests an absolute wall-clock timestamp (e.g. a clicked
// timeline event) and drives the player to the matching capture time.
func (a *Adapter) HandleEventSeek(absolute time.Time) {
	a.seekAbsolute(absolute.UnixMilli())
}

func (a *Adapter) seekAbsolute(absoluteMs int64) {
	captureMs := absoluteMs - a.captureStartMs
	if captureMs < 0 {
		captureMs = 0
	}

	a.mu.Lock()
	a.captureMs = captureMs
	a.seeking = true
	target := a.seekTarget
	a.queueLocked(a.updateLocked(SourceExternal))
	a.mu.Unlock()

	if target != nil {
		target(captureMs)
	}
}

// CaptureMs returns the current authoritative capture-relative position.
func (a *Adapter) CaptureMs() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.captureMs
}

// Close flushes any pending debounced update.
func (a *Adapter) Close() {
	a.mu.Lock()
	timer := a.timer
	a.timer = nil
	pending := a.pending
	a.pending = nil
	listener := a.listener
	a.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if pending != nil && listener != nil {
		listener(*pending)
	}
}

func (a *Adapter) updateLocked(source Source) Update {
	absolute := a.captureStartMs + a.captureMs
	return Update{
		CaptureMs:    a.captureMs,
		AbsoluteMs:   absolute,
		SessionRelMs: absolute - a.sessionStartMs,
		Source:       source,
	}
}

// queueLocked debounces updates: at most one propagation per debounce window,
// always carrying the latest value of a burst. Caller must hold a.mu.
func (a *Adapter) queueLocked(u Update) {
	if a.listener == nil {
		return
	}
	a.pending = &u
	if a.timer != nil {
		return
	}
	a.timer = time.AfterFunc(a.debounce, a.flush)
}

func (a *Adapter) flush() {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.timer = nil
	listener := a.listener
	a.mu.Unlock()

	if pending != nil && listener != nil {
		listener(*pending)
	}
}
