package timesync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionStart = int64(1_000_000) // session began at t=1000s
	testCaptureStart = testSessionStart + 5_000
)

type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) listen(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) snapshot() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func TestAdapter_ClockDerivation(t *testing.T) {
	rec := &updateRecorder{}
	a := NewAdapter(testCaptureStart, testSessionStart, time.Millisecond, rec.listen)
	defer a.Close()

	a.HandlePlaybackTimeUpdate(10_000)
	time.Sleep(20 * time.Millisecond)

	updates := rec.snapshot()
	require.Len(t, updates, 1)
	u := updates[0]
	assert.Equal(t, int64(10_000), u.CaptureMs)
	assert.Equal(t, testCaptureStart+10_000, u.AbsoluteMs)
	assert.Equal(t, int64(15_000), u.SessionRelMs, "capture began 5s into the session")
	assert.Equal(t, SourceVideo, u.Source)
}

func TestAdapter_ExternalSeekSuppressesEcho(t *testing.T) {
	rec := &updateRecorder{}
	var seeks []int64
	a := NewAdapter(testCaptureStart, testSessionStart, time.Millisecond, rec.listen)
	defer a.Close()
	a.OnSeekRequest(func(captureMs int64) { seeks = append(seeks, captureMs) })

	a.HandleExternalSeek(15_000)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, []int64{10_000}, seeks)

	// The player reports the position it just seeked to. That report must be
	// absorbed, not converted back into another external update.
	a.HandlePlaybackTimeUpdate(10_000)
	time.Sleep(20 * time.Millisecond)

	updates := rec.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, SourceExternal, updates[0].Source)
	assert.Equal(t, int64(10_000), updates[0].CaptureMs)
	assert.Len(t, seeks, 1, "the echo must not trigger another seek")

	// Subsequent genuine playback reports flow normally.
	a.HandlePlaybackTimeUpdate(11_000)
	time.Sleep(20 * time.Millisecond)

	updates = rec.snapshot()
	require.Len(t, updates, 2)
	assert.Equal(t, SourceVideo, updates[1].Source)
	assert.Equal(t, int64(11_000), updates[1].CaptureMs)
}

func TestAdapter_EventSeek(t *testing.T) {
	rec := &updateRecorder{}
	var seeks []int64
	a := NewAdapter(testCaptureStart, testSessionStart, time.Millisecond, rec.listen)
	defer a.Close()
	a.OnSeekRequest(func(captureMs int64) { seeks = append(seeks, captureMs) })

	a.HandleEventSeek(time.UnixMilli(testCaptureStart + 42_000))
	require.Equal(t, []int64{42_000}, seeks)
	assert.Equal(t, int64(42_000), a.CaptureMs())
}

func TestAdapter_SeekBeforeCaptureStartClamps(t *testing.T) {
	var seeks []int64
	a := NewAdapter(testCaptureStart, testSessionStart, time.Millisecond, nil)
	defer a.Close()
	a.OnSeekRequest(func(captureMs int64) { seeks = append(seeks, captureMs) })

	// 2s into the session is 3s before capture began.
	a.HandleExternalSeek(2_000)
	require.Equal(t, []int64{0}, seeks)
}

func TestAdapter_DebounceKeepsLatest(t *testing.T) {
	rec := &updateRecorder{}
	a := NewAdapter(testCaptureStart, testSessionStart, 50*time.Millisecond, rec.listen)
	defer a.Close()

	// A burst of reports inside one debounce window propagates once, with
	// the final value.
	for _, ms := range []int64{100, 200, 300, 400} {
		a.HandlePlaybackTimeUpdate(ms)
	}
	time.Sleep(100 * time.Millisecond)

	updates := rec.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(400), updates[0].CaptureMs)
}

func TestAdapter_CloseFlushesPending(t *testing.T) {
	rec := &updateRecorder{}
	a := NewAdapter(testCaptureStart, testSessionStart, time.Hour, rec.listen)

	a.HandlePlaybackTimeUpdate(7_000)
	a.Close()

	updates := rec.snapshot()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(7_000), updates[0].CaptureMs)
}
